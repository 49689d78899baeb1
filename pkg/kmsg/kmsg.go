// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package kmsg parses the structured /dev/kmsg wire format into typed
// records.
//
// Reference: https://www.kernel.org/doc/Documentation/ABI/testing/dev-kmsg
//
//	<priority>,<sequence>,<timestamp>,<flags>[,key=value...];<message>
//
// A line beginning with a literal space is a continuation of the previous
// record's message.
package kmsg

import "time"

// KMsg is a single parsed kernel message.
type KMsg struct {
	Facility  Facility
	Level     Level
	Timestamp time.Time
	Message   string
}
