// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kmsg

import "fmt"

// recoverable classifies a /dev/kmsg parsing failure that the parser skips
// past rather than surfaces. Callers of Parser.Next never see these; they
// are folded into "keep looking for the next record."
type recoverable struct {
	kind string
	msg  string
}

func (e *recoverable) Error() string {
	if e.msg == "" {
		return e.kind
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// errEmptyLine classifies an empty or whitespace-only input line.
func errEmptyLine() error {
	return &recoverable{kind: "empty line"}
}

// errSequenceTooOld classifies a record whose sequence number is below the
// configured resume point.
func errSequenceTooOld() error {
	return &recoverable{kind: "sequence number too old"}
}

// errMalformed classifies any record that fails to parse cleanly: missing
// separator, unparsable integer field, or an out-of-range facility/level.
func errMalformed(format string, args ...any) error {
	return &recoverable{kind: "malformed record", msg: fmt.Sprintf(format, args...)}
}

func isEmptyLine(err error) bool {
	r, ok := err.(*recoverable)
	return ok && r.kind == "empty line"
}

func isSequenceTooOld(err error) bool {
	r, ok := err.(*recoverable)
	return ok && r.kind == "sequence number too old"
}
