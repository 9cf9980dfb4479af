package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
	"github.com/galileoChr/ai-model-builder-app/internal/ledger"
)

// LogStorage is the progress log: one JSON-lines file per job under
// <base>/logs, each line a hash-chained ledger.Record.
//
// A record is appended with a single write of a newline-terminated line, so a
// crash leaves at most one trailing partial line. Readers ignore it and the
// next append truncates it away.
type LogStorage struct {
	BaseDir string

	mu   sync.Mutex
	jobs map[string]*jobLog
}

// jobLog is the cached tail of one job's log, guarded by its own mutex so
// appends are serialized per job and independent across jobs.
type jobLog struct {
	mu       sync.Mutex
	loaded   bool
	next     int
	lastHash string
	last     core.ProgressEntry
	hasLast  bool
}

// NewLogStorage creates the log directory under baseDir.
func NewLogStorage(baseDir string) (*LogStorage, error) {
	dir := filepath.Join(baseDir, logsDirName)
	if err := mkdir(dir); err != nil {
		return nil, err
	}
	return &LogStorage{
		BaseDir: dir,
		jobs:    make(map[string]*jobLog),
	}, nil
}

func (ls *LogStorage) path(jobID string) string {
	return filepath.Join(ls.BaseDir, jobID+".log")
}

func (ls *LogStorage) jobLog(jobID string) *jobLog {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	jl, ok := ls.jobs[jobID]
	if !ok {
		jl = &jobLog{}
		ls.jobs[jobID] = jl
	}
	return jl
}

// Append adds one entry to the job's log. Timestamps are clamped so they never
// go backwards; progress may not decrease except to the failure sentinel; nothing
// may follow a terminal entry.
func (ls *LogStorage) Append(_ context.Context, jobID string, entry core.ProgressEntry) error {
	if err := checkID(jobID); err != nil {
		return err
	}
	if entry.Progress > 1.0 {
		return fmt.Errorf("progress %.2f out of range", entry.Progress)
	}

	jl := ls.jobLog(jobID)
	jl.mu.Lock()
	defer jl.mu.Unlock()

	if !jl.loaded {
		if err := ls.load(jobID, jl); err != nil {
			return err
		}
	}
	if jl.hasLast {
		if jl.last.Terminal() {
			return fmt.Errorf("append to %s: %w", jobID, core.ErrLogClosed)
		}
		if !entry.Failed() && entry.Progress < jl.last.Progress {
			return fmt.Errorf("append to %s: %w (%.2f < %.2f)",
				jobID, core.ErrProgressRegression, entry.Progress, jl.last.Progress)
		}
		if entry.Timestamp.Before(jl.last.Timestamp) {
			entry.Timestamp = jl.last.Timestamp
		}
	}

	rec, err := ledger.NewRecord(jl.next, jl.lastHash, entry)
	if err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record for %s: %w", jobID, err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(ls.path(jobID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file for %s: %w", jobID, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		jl.loaded = false // reload and trim whatever made it to disk
		return fmt.Errorf("write log file for %s: %w", jobID, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		jl.loaded = false
		return fmt.Errorf("sync log file for %s: %w", jobID, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close log file for %s: %w", jobID, err)
	}

	jl.next++
	jl.lastHash = rec.Hash
	jl.last = rec.Entry()
	jl.hasLast = true
	return nil
}

// load reads the tail state from disk and cuts off a partial trailing record.
func (ls *LogStorage) load(jobID string, jl *jobLog) error {
	path := ls.path(jobID)
	records, complete, size, err := readRecords(path)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	if complete < size {
		if err := os.Truncate(path, complete); err != nil {
			return fmt.Errorf("truncate partial record in %s: %w", path, err)
		}
	}
	// jl.mu is held by the caller; only the tail fields are reset.
	jl.loaded = true
	jl.next = len(records)
	jl.lastHash, jl.last, jl.hasLast = "", core.ProgressEntry{}, false
	if n := len(records); n > 0 {
		jl.lastHash = records[n-1].Hash
		jl.last = records[n-1].Entry()
		jl.hasLast = true
	}
	return nil
}

// ReadAll returns a sequence over the job's entries. Each iteration reopens
// the file, so the sequence can be ranged over again to see newer entries.
func (ls *LogStorage) ReadAll(_ context.Context, jobID string) (iter.Seq2[core.ProgressEntry, error], error) {
	if err := checkID(jobID); err != nil {
		return nil, err
	}
	path := ls.path(jobID)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("log for job %s: %w", jobID, core.ErrNotFound)
		}
		return nil, fmt.Errorf("stat log file %s: %w", path, err)
	}

	return func(yield func(core.ProgressEntry, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(core.ProgressEntry{}, fmt.Errorf("open log file %s: %w", path, err))
			return
		}
		defer f.Close()

		r := bufio.NewReader(f)
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					yield(core.ProgressEntry{}, fmt.Errorf("read log file %s: %w", path, err))
				}
				// io.EOF: anything read without a newline is a partial record.
				return
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			var rec ledger.Record
			if err := json.Unmarshal(line, &rec); err != nil {
				yield(core.ProgressEntry{}, fmt.Errorf("decode log record in %s: %w", path, err))
				return
			}
			if !yield(rec.Entry(), nil) {
				return
			}
		}
	}, nil
}

// Verify checks the hash chain of the job's log.
func (ls *LogStorage) Verify(_ context.Context, jobID string) error {
	if err := checkID(jobID); err != nil {
		return err
	}
	records, _, _, err := readRecords(ls.path(jobID))
	if err != nil {
		return err
	}
	if err := ledger.VerifyChain(records); err != nil {
		return fmt.Errorf("log for job %s: %w", jobID, err)
	}
	return nil
}

// readRecords decodes every complete line of path. It also returns the byte
// length of the complete lines and the file size; they differ only when the
// file ends in a partial record.
func readRecords(path string) ([]ledger.Record, int64, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, 0, fmt.Errorf("log file %s: %w", path, core.ErrNotFound)
		}
		return nil, 0, 0, fmt.Errorf("read log file %s: %w", path, err)
	}

	records := make([]ledger.Record, 0)
	var complete int64
	rest := data
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(rest[:i])
		if len(line) > 0 {
			var rec ledger.Record
			if err := json.Unmarshal(line, &rec); err != nil {
				return nil, 0, 0, fmt.Errorf("decode log record %d in %s: %w", len(records), path, err)
			}
			records = append(records, rec)
		}
		complete += int64(i + 1)
		rest = rest[i+1:]
	}
	return records, complete, int64(len(data)), nil
}
