// kafka.go
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Acidburn1824/smart-heating/internal/model"
)

// KafkaIO wires one observation reader per zone partition and one command
// writer per zone topic.
type KafkaIO struct {
	brokers          []string
	observationsTop  string
	commandTopicPref string
	replication      int
	lg               *slog.Logger

	zoneReaders map[string]*kafka.Reader
	cmdWriters  map[string]*kafka.Writer
}

func NewKafkaIO(brokers []string, observationsTopic, commandTopicPref string, zones []string, replication int, lg *slog.Logger) (*KafkaIO, error) {
	if len(zones) == 0 {
		return nil, errors.New("no zones configured")
	}
	io := &KafkaIO{
		brokers:          brokers,
		observationsTop:  observationsTopic,
		commandTopicPref: commandTopicPref,
		replication:      replication,
		lg:               lg,
		zoneReaders:      map[string]*kafka.Reader{},
		cmdWriters:       map[string]*kafka.Writer{},
	}
	if err := io.ensureTopics(context.Background(), zones); err != nil {
		lg.Warn("topic ensure failed", "error", err)
	}
	for idx, zone := range zones {
		io.zoneReaders[zone] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:   brokers,
			Topic:     observationsTopic,
			Partition: idx, // one partition per zone (sensor bridge -> engine)
			MinBytes:  1, MaxBytes: 10e6, MaxWait: 200 * time.Millisecond,
		})
		topic := commandTopicPref + zone
		io.cmdWriters[zone] = &kafka.Writer{
			Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}, RequiredAcks: kafka.RequireAll,
		}
		lg.Info("kafka wired", "zone", zone, "obsTopic", observationsTopic, "partition", idx, "cmdTopic", topic)
	}
	return io, nil
}

func (k *KafkaIO) ensureTopics(ctx context.Context, zones []string) error {
	conn, err := kafka.DialContext(ctx, "tcp", k.brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()
	ctrl, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	c, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ctrl.Host, ctrl.Port))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer c.Close()

	cfgs := []kafka.TopicConfig{{Topic: k.observationsTop, NumPartitions: len(zones), ReplicationFactor: k.replication}}
	for _, z := range zones {
		cfgs = append(cfgs, kafka.TopicConfig{Topic: k.commandTopicPref + z, NumPartitions: 1, ReplicationFactor: k.replication})
	}
	if err := c.CreateTopics(cfgs...); err != nil {
		k.lg.Warn("CreateTopics", "error", err)
	}
	k.lg.Info("topics ensured", "zones", zones)
	return nil
}

// Latest drains the zone partition and returns ONLY the most recent
// observation; older queued messages are obsolete snapshots.
func (k *KafkaIO) Latest(ctx context.Context, zone string) (model.Observation, bool, error) {
	r, ok := k.zoneReaders[zone]
	if !ok {
		return model.Observation{}, false, fmt.Errorf("no reader for zone %s", zone)
	}
	var latest model.Observation
	var got bool
	deadline := time.Now().Add(350 * time.Millisecond)
	for {
		ctx2, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
		msg, err := r.FetchMessage(ctx2)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			if !got {
				return model.Observation{}, false, err
			}
			break
		}
		var obs model.Observation
		if err := json.Unmarshal(msg.Value, &obs); err != nil {
			k.lg.Error("bad observation json", "zone", zone, "error", err)
			continue
		}
		latest = obs
		got = true
		if time.Now().After(deadline) {
			break
		}
	}
	return latest, got, nil
}

// Publish sends a command to the zone's actuator topic.
func (k *KafkaIO) Publish(ctx context.Context, zone string, cmd model.Command) error {
	w, ok := k.cmdWriters[zone]
	if !ok {
		return fmt.Errorf("no writer for zone %s", zone)
	}
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(zone), Value: raw})
}

func (k *KafkaIO) Close() {
	for z, r := range k.zoneReaders {
		if err := r.Close(); err != nil {
			k.lg.Warn("reader close", "zone", z, "error", err)
		}
	}
	for z, w := range k.cmdWriters {
		if err := w.Close(); err != nil {
			k.lg.Warn("writer close", "zone", z, "error", err)
		}
	}
}
