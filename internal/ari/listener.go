package ari

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/asterisk-callflow/internal/correlator"
	"github.com/sweeney/asterisk-callflow/internal/metrics"
)

const maxReconnectWait = 60 * time.Second

// Listener owns the ARI event WebSocket: it reads notifications,
// correlates them and pushes the results onto the dispatch queue. The
// queue send blocks when the dispatcher falls behind, which applies
// backpressure to the read loop instead of dropping events.
type Listener struct {
	url   string
	corr  *correlator.Correlator
	queue chan<- correlator.TriggerEvent
}

func NewListener(url string, corr *correlator.Correlator, queue chan<- correlator.TriggerEvent) *Listener {
	return &Listener{url: url, corr: corr, queue: queue}
}

// Run maintains the connection until ctx is cancelled, reconnecting with
// increasing backoff on failure.
func (l *Listener) Run(ctx context.Context) {
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := l.session(ctx)
		if ctx.Err() != nil {
			return
		}
		failures++
		wait := time.Duration(failures) * time.Second
		if wait > maxReconnectWait {
			wait = maxReconnectWait
		}
		log.Printf("ari listener: session ended: %v, reconnecting in %s", err, wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) session(ctx context.Context) error {
	log.Printf("ari listener: connecting to %s", l.url)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock the read when the process shuts down.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	log.Printf("ari listener: connected, processing events")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ev, err := l.corr.Correlate(data)
		if err != nil {
			metrics.EventsDropped.Inc()
			log.Printf("ari listener: dropping event: %v", err)
			continue
		}
		metrics.EventsCorrelated.Inc()

		select {
		case l.queue <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
