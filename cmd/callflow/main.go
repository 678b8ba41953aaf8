package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/asterisk-callflow/internal/api"
	"github.com/sweeney/asterisk-callflow/internal/ari"
	"github.com/sweeney/asterisk-callflow/internal/config"
	"github.com/sweeney/asterisk-callflow/internal/correlator"
	"github.com/sweeney/asterisk-callflow/internal/dispatcher"
	"github.com/sweeney/asterisk-callflow/internal/plan"
	"github.com/sweeney/asterisk-callflow/internal/publisher"
)

const shutdownWait = 30 * time.Second

func main() {
	configPath := flag.String("config", "/etc/asterisk-callflow/callflow.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	plans, err := plan.LoadDir(cfg.Plans.Dir)
	if err != nil {
		log.Fatalf("loading plans: %v", err)
	}
	log.Printf("loaded %d plan(s) from %s", len(plans), cfg.Plans.Dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	var pub publisher.Publisher = publisher.Noop{}
	if cfg.MQTT.Broker != "" {
		mp, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         1,
		})
		if err != nil {
			log.Fatalf("connecting to MQTT: %v", err)
		}
		defer mp.Close()
		pub = mp
		log.Printf("connected to MQTT broker %s", cfg.MQTT.Broker)
	}

	client := ari.NewHTTPClient(ari.HTTPOptions{
		BaseURL:  cfg.ARI.RESTURL(),
		App:      cfg.ARI.App,
		Username: cfg.ARI.Username,
		Password: cfg.ARI.Password,
	})

	events := make(chan correlator.TriggerEvent, cfg.Events.QueueSize)
	listener := ari.NewListener(cfg.ARI.EventsURL(), correlator.New(), events)

	disp := dispatcher.New(dispatcher.Options{
		Client:   client,
		Pub:      pub,
		Plans:    plans,
		Events:   events,
		Grace:    time.Duration(cfg.Reaper.GraceSeconds) * time.Second,
		Interval: time.Duration(cfg.Reaper.IntervalSeconds) * time.Second,
	})

	srv := &http.Server{
		Addr:    cfg.API.Bind,
		Handler: api.NewServer(disp, cfg).Handler(),
	}
	go func() {
		log.Printf("api listening on %s", cfg.API.Bind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("api server: %v", err)
			cancel()
		}
	}()

	go listener.Run(ctx)
	disp.Run(ctx)

	// Context cancelled: stop taking requests, then drain live calls.
	shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownWait)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("api shutdown: %v", err)
	}
	disp.Shutdown(shutCtx)

	log.Println("shutdown complete")
}
