// mqtt.go
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Acidburn1824/smart-heating/internal/model"
)

// MQTTPublisher publishes climate commands over MQTT for deployments where
// the actuator bridge listens on a broker instead of Kafka.
type MQTTPublisher struct {
	client    mqtt.Client
	topicPref string
	lg        *slog.Logger
}

func NewMQTTPublisher(brokerURL, clientID, topicPref string, lg *slog.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().AddBroker(brokerURL).SetClientID(clientID).SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", brokerURL, token.Error())
	}
	lg.Info("mqtt connected", "broker", brokerURL, "topic_prefix", topicPref)
	return &MQTTPublisher{client: client, topicPref: topicPref, lg: lg}, nil
}

func (p *MQTTPublisher) Publish(_ context.Context, zone string, cmd model.Command) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	token := p.client.Publish(p.topicPref+zone, 0, false, raw)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("mqtt publish %s: %w", zone, token.Error())
	}
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
