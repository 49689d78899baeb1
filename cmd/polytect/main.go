// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Command polytect watches /dev/kmsg for kernel-reported side effects of
// attempted exploits and forwards parsed records to Polycorder and/or the
// console. CLI parsing, console rendering, and sysctl toggles are external
// collaborators; this command wires them around the
// ingestion-and-batching core pkg/kmsg, pkg/linesource, and pkg/emitter
// implement.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/antimetal/polytect/pkg/emitter"
	pkgerrors "github.com/antimetal/polytect/pkg/errors"
	"github.com/antimetal/polytect/pkg/kmsg"
	"github.com/antimetal/polytect/pkg/linesource"
	"github.com/antimetal/polytect/pkg/nodeident"
	"github.com/antimetal/polytect/pkg/performance/procutils"
)

const devKMsgPath = "/dev/kmsg"

var (
	fromSeq       = flag.Uint64("from-sequence-number", 0, "Resume parsing from this /dev/kmsg sequence number")
	parserTimeout = flag.Duration("continuation-timeout", time.Second, "Max time to wait for a continuation line before finalizing a record")
	console       = flag.String("console", "", "Print parsed records to stdout: 'text', 'json', or empty to disable")
	polycorder    = flag.String("polycorder", "", "Polyverse account auth key; when set, publishes batches to Polycorder")
	nodeID        = flag.String("node", "", "Attribution label for this node; auto-discovered from EC2 metadata if unset and -polycorder is set")
	flushTimeout  = flag.Duration("flush-timeout", 10*time.Second, "Emitter idle flush timeout")
	flushCount    = flag.Int("flush-event-count", 10, "Emitter flush threshold")
	verbosity     = flag.Uint("v", 0, "Parser diagnostic verbosity")
)

func main() {
	flag.Parse()

	zapLogger, _ := zap.NewProduction()
	logger := zapr.NewLogger(zapLogger).WithName("polytect")

	if os.Geteuid() != 0 {
		logger.Info("warning: not running as root; reading /dev/kmsg typically requires CAP_SYSLOG or root")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	file, err := openKMsgWithRetry(ctx, logger)
	if err != nil {
		logger.Error(err, "unable to open /dev/kmsg")
		os.Exit(1)
	}
	defer file.Close()

	lines := linesource.New(file)
	parser, err := kmsg.NewParser(lines, kmsg.Config{
		FromSequenceNumber: *fromSeq,
		FlushTimeout:       *parserTimeout,
		Verbosity:          uint8(*verbosity),
	}, procutils.New("/proc").GetBootTime, logger)
	if err != nil {
		logger.Error(err, "unable to construct kmsg parser")
		os.Exit(1)
	}

	var emit *emitter.Emitter
	if *polycorder != "" {
		id := *nodeID
		if id == "" {
			if discovered, err := nodeident.Discover(ctx); err == nil {
				id = discovered
			} else {
				logger.V(1).Info("node id auto-discovery unavailable, falling back to 'unidentified'", "error", err.Error())
				id = "unidentified"
			}
		}

		emit, err = emitter.New(emitter.Config{
			AuthKey:         *polycorder,
			NodeID:          id,
			FlushTimeout:    *flushTimeout,
			FlushEventCount: *flushCount,
		}, logger)
		if err != nil {
			logger.Error(err, "unable to construct polycorder emitter")
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := emit.Shutdown(shutdownCtx); err != nil {
				logger.Error(err, "emitter shutdown did not complete cleanly")
			}
		}()
	}

	for {
		msg, err := parser.Next(ctx)
		if err == io.EOF {
			logger.Info("kmsg stream ended")
			return
		}

		if *console != "" {
			printConsole(*console, msg)
		}
		if emit != nil {
			emit.Emit(kmsgEvent(msg))
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// openKMsgWithRetry opens /dev/kmsg, retrying with exponential backoff for
// the case where the device is not yet present (e.g. racing a container's
// device-node setup at startup). Permission and other non-ENOENT failures
// are classified as non-retryable and abort immediately rather than
// exhausting the retry budget on an error retrying cannot fix. This is the
// only use of backoff in this command: event delivery is never retried,
// so this retry never touches the emitter.
func openKMsgWithRetry(ctx context.Context, logger logr.Logger) (*os.File, error) {
	return backoff.Retry(ctx, func() (*os.File, error) {
		f, err := os.Open(devKMsgPath)
		if err == nil {
			return f, nil
		}
		if !os.IsNotExist(err) {
			return nil, backoff.Permanent(err)
		}
		retryable := pkgerrors.NewRetryable(err.Error())
		logger.V(1).Info("retrying /dev/kmsg open", "error", retryable.Error())
		return nil, retryable
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
}

func printConsole(format string, msg kmsg.KMsg) {
	switch format {
	case "json":
		b, err := json.Marshal(map[string]any{
			"facility":  msg.Facility.String(),
			"level":     msg.Level.String(),
			"timestamp": msg.Timestamp,
			"message":   msg.Message,
		})
		if err == nil {
			fmt.Println(string(b))
		}
	default:
		fmt.Printf("[%s] %s %s: %s\n", msg.Timestamp.Format(time.RFC3339), msg.Facility, msg.Level, msg.Message)
	}
}

// kmsgEvent adapts a parsed KMsg into an emitter.Event. The upstream
// analyzer that would normally enrich a KMsg into a richer Event type is
// out of scope here; this is the minimal adapter satisfying
// emitter.Event's contract.
type kmsgEvent kmsg.KMsg

func (e kmsgEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Facility  string    `json:"facility"`
		Level     string    `json:"level"`
		Timestamp time.Time `json:"timestamp"`
		Message   string    `json:"message"`
	}{
		Facility:  e.Facility.String(),
		Level:     e.Level.String(),
		Timestamp: e.Timestamp,
		Message:   e.Message,
	})
}
