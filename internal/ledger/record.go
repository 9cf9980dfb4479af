package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
	"github.com/galileoChr/ai-model-builder-app/pkg/utils"
)

// Record is a tamper-evident progress entry, one JSON line in a job log.
type Record struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Progress  float64   `json:"progress"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// canonicalData returns the JSON bytes used to compute the record hash.
// It excludes Hash itself.
func (r *Record) canonicalData() ([]byte, error) {
	view := struct {
		Seq       int     `json:"seq"`
		Timestamp string  `json:"timestamp"`
		Progress  float64 `json:"progress"`
		Stage     string  `json:"stage"`
		Message   string  `json:"message"`
		PrevHash  string  `json:"prev_hash"`
	}{
		Seq:       r.Seq,
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
		Progress:  r.Progress,
		Stage:     r.Stage,
		Message:   r.Message,
		PrevHash:  r.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash calculates SHA256 over canonicalData
func (r *Record) ComputeHash() (string, error) {
	data, err := r.canonicalData()
	if err != nil {
		return "", err
	}
	return utils.HashBytes(data), nil
}

// NewRecord wraps entry as record number seq, chained to prevHash.
func NewRecord(seq int, prevHash string, entry core.ProgressEntry) (Record, error) {
	r := Record{
		Seq:       seq,
		Timestamp: entry.Timestamp.UTC(),
		Progress:  entry.Progress,
		Stage:     entry.Stage,
		Message:   entry.Message,
		PrevHash:  prevHash,
	}
	h, err := r.ComputeHash()
	if err != nil {
		return Record{}, fmt.Errorf("compute record hash: %w", err)
	}
	r.Hash = h
	return r, nil
}

// Entry strips the chain fields.
func (r Record) Entry() core.ProgressEntry {
	return core.ProgressEntry{
		Timestamp: r.Timestamp,
		Progress:  r.Progress,
		Stage:     r.Stage,
		Message:   r.Message,
	}
}
