// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package emitter implements the bounded, time-or-count-triggered batching
// worker that forwards events to a remote HTTP sink. It is grounded on
// internal/intake/worker.go's batch-then-stream worker, generalized from a
// gRPC delta stream to a single synchronous HTTPS JSON POST per batch.
package emitter

// Event is the unit the Batching Emitter forwards. It is opaque to the
// emitter beyond being JSON-serializable; the upstream analyzer that
// produces events (out of scope here) decides what concrete type
// implements it. Because Go passes interface values by copy and this
// module never mutates an Event after Emit, no explicit Clone method is
// needed to satisfy the "cloneable for hand-off across producer threads"
// requirement.
type Event interface {
	MarshalJSON() ([]byte, error)
}

// Report is the wire payload POSTed to the remote sink: a batch of events
// attributed to a logical node.
type Report struct {
	NodeID string  `json:"node_id"`
	Events []Event `json:"events"`
}
