// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal records conversion checkpoints. The pipeline cannot
// roll back destructive partition edits, so the journal exists to tell
// an operator (or a resumed run) which steps already completed. It never
// stores geometry; geometry is re-resolved fresh on every run.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Record is one completed step.
type Record struct {
	Step   string    `json:"step"`
	Device string    `json:"device"`
	At     time.Time `json:"at"`
}

// Journal is an append-only checkpoint log, one JSON object per line.
type Journal struct {
	path    string
	records []Record
	done    map[string]bool
}

// Open loads the journal at path, creating parent directories so the
// first Record call cannot fail on a missing directory.
func Open(path string) (*Journal, error) {
	j := &Journal{path: path, done: map[string]bool{}}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return j, nil
		}
		return nil, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("corrupt journal %s: %w", path, err)
		}
		j.records = append(j.records, rec)
		j.done[rec.Step] = true
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return j, nil
}

// Done reports whether step has a completion record.
func (j *Journal) Done(step string) bool {
	return j.done[step]
}

// Empty reports whether the journal holds no records.
func (j *Journal) Empty() bool {
	return len(j.records) == 0
}

// Records returns the completed steps in order.
func (j *Journal) Records() []Record {
	return j.records
}

// Record appends a completion record and syncs it to disk before
// returning, so an interruption right after a destructive step still
// finds the step journaled.
func (j *Journal) Record(step, device string) error {
	rec := Record{Step: step, Device: device, At: time.Now().UTC()}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	j.records = append(j.records, rec)
	j.done[step] = true
	return nil
}

// Rotate moves a completed journal aside so a new run starts clean.
func (j *Journal) Rotate() error {
	if j.Empty() {
		return nil
	}
	dst := fmt.Sprintf("%s.%s", j.path, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.Rename(j.path, dst); err != nil {
		return err
	}
	j.records = nil
	j.done = map[string]bool{}
	return nil
}
