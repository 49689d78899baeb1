// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package emitter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/polytect/pkg/emitter"
)

type testEvent struct {
	Message string `json:"message"`
}

func (e testEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Message string `json:"message"`
	}{e.Message})
}

type capturedRequest struct {
	auth string
	body emitter.Report
}

// captureServer records every POST body it receives as a decoded Report
// (Events decoded generically, since the server has no knowledge of the
// concrete Event type).
func captureServer(t *testing.T) (*httptest.Server, *sync.Mutex, *[]capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw struct {
			NodeID string            `json:"node_id"`
			Events []json.RawMessage `json:"events"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))

		mu.Lock()
		reqs = append(reqs, capturedRequest{
			auth: r.Header.Get("Authorization"),
			body: emitter.Report{NodeID: raw.NodeID, Events: make([]emitter.Event, len(raw.Events))},
		})
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))

	return srv, &mu, &reqs
}

func TestEmitter_FlushesOnEventCountThreshold(t *testing.T) {
	srv, mu, reqs := captureServer(t)
	defer srv.Close()

	e, err := emitter.New(emitter.Config{
		AuthKey:         "secret-key",
		NodeID:          "node-a",
		FlushTimeout:    time.Hour,
		FlushEventCount: 3,
		Endpoint:        srv.URL,
	}, logr.Discard())
	require.NoError(t, err)

	e.Emit(testEvent{"one"})
	e.Emit(testEvent{"two"})
	e.Emit(testEvent{"three"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*reqs) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "Bearer secret-key", (*reqs)[0].auth)
	assert.Equal(t, "node-a", (*reqs)[0].body.NodeID)
	assert.Len(t, (*reqs)[0].body.Events, 3)
	mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
}

func TestEmitter_FlushesOnIdleTimeout(t *testing.T) {
	srv, mu, reqs := captureServer(t)
	defer srv.Close()

	e, err := emitter.New(emitter.Config{
		AuthKey:         "secret-key",
		NodeID:          "node-b",
		FlushTimeout:    30 * time.Millisecond,
		FlushEventCount: 100,
		Endpoint:        srv.URL,
	}, logr.Discard())
	require.NoError(t, err)

	e.Emit(testEvent{"only-one"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*reqs) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Len(t, (*reqs)[0].body.Events, 1)
	mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
}

func TestEmitter_NeverFlushesEmptyBatchOnIdleTimeout(t *testing.T) {
	srv, mu, reqs := captureServer(t)
	defer srv.Close()

	e, err := emitter.New(emitter.Config{
		AuthKey:         "secret-key",
		NodeID:          "node-c",
		FlushTimeout:    20 * time.Millisecond,
		FlushEventCount: 100,
		Endpoint:        srv.URL,
	}, logr.Discard())
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	assert.Empty(t, *reqs)
	mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
}

func TestEmitter_ShutdownFlushesBufferedEvents(t *testing.T) {
	srv, mu, reqs := captureServer(t)
	defer srv.Close()

	e, err := emitter.New(emitter.Config{
		AuthKey:         "secret-key",
		NodeID:          "node-d",
		FlushTimeout:    time.Hour,
		FlushEventCount: 100,
		Endpoint:        srv.URL,
	}, logr.Discard())
	require.NoError(t, err)

	e.Emit(testEvent{"buffered-1"})
	e.Emit(testEvent{"buffered-2"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *reqs, 1)
	assert.Len(t, (*reqs)[0].body.Events, 2)
}

func TestEmitter_FailedDeliveryIsNotRetried(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, err := emitter.New(emitter.Config{
		AuthKey:         "secret-key",
		NodeID:          "node-e",
		FlushTimeout:    20 * time.Millisecond,
		FlushEventCount: 100,
		Endpoint:        srv.URL,
	}, logr.Discard())
	require.NoError(t, err)

	e.Emit(testEvent{"will-fail"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 1
	}, time.Second, 5*time.Millisecond)

	// Give the emitter several more idle-timeout cycles: a failed POST must
	// not be retried, so the buffer (already cleared) produces no further
	// requests.
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, attempts)
	mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
}

func TestEmitter_RejectsNonPositiveFlushEventCount(t *testing.T) {
	_, err := emitter.New(emitter.Config{
		AuthKey:         "k",
		NodeID:          "n",
		FlushTimeout:    time.Second,
		FlushEventCount: 0,
	}, logr.Discard())
	assert.Error(t, err)
}

func TestEmitter_RejectsUnparsableEndpoint(t *testing.T) {
	_, err := emitter.New(emitter.Config{
		AuthKey:         "k",
		NodeID:          "n",
		FlushTimeout:    time.Second,
		FlushEventCount: 1,
		Endpoint:        "://not-a-url",
	}, logr.Discard())
	assert.Error(t, err)
}
