// cmd/smart-heating/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Acidburn1824/smart-heating/internal/advisor"
	"github.com/Acidburn1824/smart-heating/internal/config"
	"github.com/Acidburn1824/smart-heating/internal/engine"
	"github.com/Acidburn1824/smart-heating/internal/feedback"
	"github.com/Acidburn1824/smart-heating/internal/httpapi"
	"github.com/Acidburn1824/smart-heating/internal/logging"
	"github.com/Acidburn1824/smart-heating/internal/metrics"
	"github.com/Acidburn1824/smart-heating/internal/store"
	"github.com/Acidburn1824/smart-heating/internal/transport"
)

func main() {
	lg, lf := logging.Init()
	defer func(lf *os.File) {
		err := lf.Close()
		if err != nil {
			lg.Error("log file close", "error", err)
		}
	}(lf)
	lg.Info("smart-heating starting (anticipation, advisor, feedback calibration)")

	cfg, err := config.LoadEnvAndFiles()
	if err != nil {
		lg.Error("config", "error", err)
		os.Exit(1)
	}
	lg.Info("config loaded", "zones", cfg.Zones(), "transport", cfg.CommandTransport, "provider", cfg.AdvisorProvider)

	st, err := store.New(cfg.DataDir, lg)
	if err != nil {
		lg.Error("store", "error", err)
		os.Exit(1)
	}

	var src transport.ObservationSource
	var pub transport.CommandPublisher
	kio, err := transport.NewKafkaIO(cfg.KafkaBrokers, cfg.ObservationsTopic, cfg.CommandTopicPref,
		cfg.Zones(), cfg.TopicReplication, lg)
	if err != nil {
		lg.Error("kafka", "error", err)
		os.Exit(1)
	}
	defer kio.Close()
	src = kio
	pub = kio
	if cfg.CommandTransport == "mqtt" {
		mp, err := transport.NewMQTTPublisher(cfg.MQTTBroker, "smart-heating", cfg.MQTTTopicPref, lg)
		if err != nil {
			lg.Error("mqtt", "error", err)
			os.Exit(1)
		}
		defer mp.Close()
		pub = mp
	}

	advCfg := advisor.Config{
		Provider:      cfg.AdvisorProvider,
		Model:         cfg.AdvisorModel,
		URL:           cfg.AdvisorURL,
		APIKey:        cfg.AdvisorAPIKey,
		Timeout:       cfg.AdvisorTimeout,
		Hours:         cfg.AdvisorHours,
		MinConfidence: cfg.AdvisorMinConfidence,
	}
	gw := advisor.NewGateway(advisor.NewProvider(advCfg), advCfg, lg)
	cal := feedback.New(feedback.DefaultParams(), lg)
	met := metrics.New()

	eng, err := engine.New(cfg, lg, src, pub, cal, gw, st, met)
	if err != nil {
		lg.Error("engine", "error", err)
		os.Exit(1)
	}

	srv := httpapi.NewServer(cfg, eng, met, lg)
	go func() {
		if err := srv.Start(); err != nil {
			lg.Error("http", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
	sh, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	_ = srv.Stop(sh)
	lg.Info("smart-heating stopped")
}
