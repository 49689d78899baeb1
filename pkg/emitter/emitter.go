// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"
)

// defaultEndpoint is the compile-time Polycorder publish endpoint.
const defaultEndpoint = "https://polycorder.polyverse.com/v1/events"

// Config controls a Polycorder Emitter. It mirrors the Rust
// PolycorderConfig.
type Config struct {
	// AuthKey is the bearer credential presented to the remote sink.
	AuthKey string

	// NodeID attributes every report emitted by this Emitter to a
	// logical node.
	NodeID string

	// FlushTimeout is the maximum idle time before a non-empty batch is
	// flushed.
	FlushTimeout time.Duration

	// FlushEventCount is the pending-event count that forces a flush.
	FlushEventCount int

	// Endpoint overrides the compile-time publish endpoint. Empty means
	// use the built-in default.
	Endpoint string

	// HTTPClient overrides the client used to POST reports. Nil means
	// use http.DefaultClient.
	HTTPClient *http.Client
}

// Emitter accepts events from any number of producers and forwards them to
// the remote endpoint in batches, one dedicated worker goroutine per
// instance.
type Emitter struct {
	cfg      Config
	endpoint string
	client   *http.Client
	queue    *eventQueue
	logger   logr.Logger
	done     chan struct{}
}

// New validates cfg, spawns the worker goroutine, and returns the handle
// producers call Emit on. It fails if the configured (or default) endpoint
// does not parse as a URL, mirroring the Rust implementation's early "live
// test" of the built-in URL, or if FlushEventCount is not positive.
func New(cfg Config, logger logr.Logger) (*Emitter, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("emitter: unable to parse publish endpoint %q: %w", endpoint, err)
	}
	if cfg.FlushEventCount <= 0 {
		return nil, fmt.Errorf("emitter: flush_event_count must be positive, got %d", cfg.FlushEventCount)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	e := &Emitter{
		cfg:      cfg,
		endpoint: endpoint,
		client:   client,
		queue:    newEventQueue(),
		logger:   logger.WithName("polycorder-emitter"),
		done:     make(chan struct{}),
	}

	go e.run()

	return e, nil
}

// Emit enqueues event for background delivery. It never blocks. If the
// emitter is shutting down, the event is logged and dropped.
func (e *Emitter) Emit(event Event) {
	if !e.queue.push(event) {
		e.logger.Info("dropping event: emitter is shutting down")
	}
}

// Shutdown closes the inbound queue, waits for the worker to flush any
// buffered events and complete its final POST (bounded by ctx), then
// returns. Calling Shutdown is optional: without it, buffered and
// in-flight events are lost on process exit.
func (e *Emitter) Shutdown(ctx context.Context) error {
	e.queue.close()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) run() {
	e.logger.Info("emitter worker started", "endpoint", e.endpoint)
	defer close(e.done)

	buffer := make([]Event, 0, e.cfg.FlushEventCount)
	timer := time.NewTimer(e.cfg.FlushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-e.queue.notify:
			drained, closed := e.queue.drain()
			buffer = append(buffer, drained...)

			if len(buffer) >= e.cfg.FlushEventCount {
				buffer = e.flush(buffer)
				resetTimer(timer, e.cfg.FlushTimeout)
			}

			if closed {
				e.flush(buffer)
				return
			}

		case <-timer.C:
			buffer = e.flush(buffer)
			resetTimer(timer, e.cfg.FlushTimeout)
		}
	}
}

// flush POSTs buffer as a Report if it is non-empty and unconditionally
// returns an empty buffer: events are never retried.
func (e *Emitter) flush(buffer []Event) []Event {
	if len(buffer) == 0 {
		return buffer
	}

	report := Report{NodeID: e.cfg.NodeID, Events: buffer}
	body, err := json.Marshal(report)
	if err != nil {
		e.logger.Error(err, "failed to marshal report, dropping batch", "count", len(buffer))
		return buffer[:0]
	}

	req, err := http.NewRequest(http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		e.logger.Error(err, "failed to build request, dropping batch", "count", len(buffer))
		return buffer[:0]
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.AuthKey)

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Error(err, "error publishing events to polycorder", "endpoint", e.endpoint, "count", len(buffer))
		return buffer[:0]
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		e.logger.Info("polycorder rejected batch", "endpoint", e.endpoint, "status", resp.StatusCode, "count", len(buffer))
	} else {
		e.logger.V(1).Info("published events to polycorder", "count", len(buffer), "status", resp.StatusCode)
	}

	return buffer[:0]
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
