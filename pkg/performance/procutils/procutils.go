// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procutils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProcUtils provides common utilities for parsing /proc files
type ProcUtils struct {
	procPath string

	// Cached boot time - this never changes during system runtime
	bootTime     time.Time
	bootTimeOnce sync.Once
	bootTimeErr  error
}

// New creates a new ProcUtils instance
func New(procPath string) *ProcUtils {
	return &ProcUtils{
		procPath: procPath,
	}
}

// GetBootTime returns the system boot time from /proc/stat
// The result of the first read, including any error, is cached
func (p *ProcUtils) GetBootTime() (time.Time, error) {
	p.bootTimeOnce.Do(func() {
		p.bootTime, p.bootTimeErr = p.readBootTime()
	})
	return p.bootTime, p.bootTimeErr
}

// readBootTime reads the boot time from /proc/stat
// Format: btime <seconds_since_epoch>
func (p *ProcUtils) readBootTime() (time.Time, error) {
	statPath := filepath.Join(p.procPath, "stat")
	data, err := os.ReadFile(statPath)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read %s: %w", statPath, err)
	}

	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "btime ") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				btime, err := strconv.ParseInt(parts[1], 10, 64)
				if err != nil {
					return time.Time{}, fmt.Errorf("failed to parse btime: %w", err)
				}
				return time.Unix(btime, 0), nil
			}
		}
	}

	return time.Time{}, fmt.Errorf("btime not found in %s", statPath)
}
