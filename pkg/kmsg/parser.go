// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kmsg

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// LineSource is the minimal surface the parser needs from a peekable,
// timeout-aware line iterator (see package linesource). It is declared here,
// rather than imported from linesource directly, so the parser can be
// exercised against a trivial in-package fake without an import cycle.
type LineSource interface {
	// Next blocks until the next line is available and returns it. It
	// returns io.EOF once the underlying stream has ended.
	Next(ctx context.Context) (string, error)

	// PeekTimeout looks at the next line without consuming it, waiting at
	// most d. It returns (line, nil) on success, (_, context.DeadlineExceeded)
	// on timeout, or (_, io.EOF) at stream end. A PeekTimeout followed by
	// Next returns the same line; timing out does not consume data.
	PeekTimeout(ctx context.Context, d time.Duration) (string, error)
}

// BootTimeProvider supplies the instant the kernel considers "boot", used to
// reconstruct absolute timestamps from the microseconds-since-boot offsets
// /dev/kmsg reports. It is captured once at Parser construction.
type BootTimeProvider func() (time.Time, error)

// Config controls resume and continuation-line behavior. It mirrors the
// Rust KMsgReaderConfig.
type Config struct {
	// FromSequenceNumber is the lower bound (inclusive) on accepted kernel
	// record sequence numbers; records below it are skipped.
	FromSequenceNumber uint64

	// FlushTimeout bounds how long the parser waits for a possible
	// continuation line before finalizing a record.
	FlushTimeout time.Duration

	// Verbosity controls how much parser diagnostic detail is logged.
	// 0 logs nothing beyond malformed-record warnings; >2 also traces
	// ignored trailing key/value metadata.
	Verbosity uint8
}

// Parser produces a lazy sequence of KMsg records from lines of the
// /dev/kmsg ABI. It is single-threaded internally: Next must not be called
// concurrently from multiple goroutines.
type Parser struct {
	lines    LineSource
	cfg      Config
	bootTime time.Time
	logger   logr.Logger
}

// NewParser constructs a Parser over lines, capturing boot once via
// bootTime so that all emitted timestamps are relative to a single fixed
// instant for the lifetime of the Parser.
func NewParser(lines LineSource, cfg Config, bootTime BootTimeProvider, logger logr.Logger) (*Parser, error) {
	t, err := bootTime()
	if err != nil {
		return nil, err
	}
	return &Parser{
		lines:    lines,
		cfg:      cfg,
		bootTime: t,
		logger:   logger.WithName("kmsg-parser"),
	}, nil
}

// Next returns the next valid KMsg record, skipping past empty lines,
// records below the resume sequence number, and malformed records without
// terminating. It returns io.EOF once the underlying line source is
// exhausted; no other error is ever returned to the caller.
func (p *Parser) Next(ctx context.Context) (KMsg, error) {
	for {
		km, err := p.parseOne(ctx)
		if err == nil {
			return km, nil
		}
		if err == io.EOF {
			return KMsg{}, io.EOF
		}
		if isEmptyLine(err) || isSequenceTooOld(err) {
			continue
		}
		// Generic/malformed: log and keep looking for the next valid record.
		p.logger.Error(err, "skipping malformed kmsg record")
		continue
	}
}

func (p *Parser) parseOne(ctx context.Context) (KMsg, error) {
	line, err := p.nextRecordText(ctx)
	if err != nil {
		return KMsg{}, err
	}

	if strings.TrimSpace(line) == "" {
		return KMsg{}, errEmptyLine()
	}

	meta, message, ok := strings.Cut(line, ";")
	if !ok {
		return KMsg{}, errMalformed("missing ';' separator in line %q", line)
	}

	parts := strings.SplitN(meta, ",", 4)
	if len(parts) < 3 {
		return KMsg{}, errMalformed("expected at least 3 comma-separated header fields, got %d in %q", len(parts), meta)
	}

	faclev, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return KMsg{}, errMalformed("facility/level %q is not a base-10 integer: %v", parts[0], err)
	}
	facility, level, ok := DecodeFacLev(uint32(faclev))
	if !ok {
		return KMsg{}, errMalformed("unable to decode %d into a known facility/level", faclev)
	}

	sequence, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return KMsg{}, errMalformed("sequence number %q is not a base-10 uint64: %v", parts[1], err)
	}
	if sequence < p.cfg.FromSequenceNumber {
		return KMsg{}, errSequenceTooOld()
	}

	usSinceBoot, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil {
		return KMsg{}, errMalformed("timestamp %q is not a base-10 int64: %v", parts[2], err)
	}

	if p.cfg.Verbosity > 2 && len(parts) == 4 {
		p.logger.V(2).Info("ignoring trailing kmsg metadata", "flags_and_kv", parts[3])
	}

	return KMsg{
		Facility:  facility,
		Level:     level,
		Timestamp: p.bootTime.Add(time.Duration(usSinceBoot) * time.Microsecond),
		Message:   strings.TrimSpace(message),
	}, nil
}

// nextRecordText reads one logical record's raw text: the header line plus
// any immediately-following continuation lines (lines beginning with a
// literal space), joined by "\n" with each continuation's leading space
// preserved.
func (p *Parser) nextRecordText(ctx context.Context) (string, error) {
	line, err := p.lines.Next(ctx)
	if err != nil {
		return "", io.EOF
	}

	var b strings.Builder
	b.WriteString(line)

	for {
		peeked, err := p.lines.PeekTimeout(ctx, p.cfg.FlushTimeout)
		if err != nil {
			// Timeout or stream end: finalize the record as-is.
			break
		}
		if !strings.HasPrefix(peeked, " ") {
			break
		}
		b.WriteByte('\n')
		b.WriteString(peeked)
		if _, err := p.lines.Next(ctx); err != nil {
			break
		}
	}

	return b.String(), nil
}
