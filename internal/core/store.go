package core

import (
	"context"
	"iter"
)

// JobStore is the durable mapping from job id to job record and artifact.
type JobStore interface {
	// Create fails with ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	// UpdateState applies a state transition and returns the updated record.
	UpdateState(ctx context.Context, id string, state State, reason string) (Job, error)
	// SaveArtifact overwrites any previous artifact for id. Fails with ErrNotFound for unknown jobs.
	SaveArtifact(ctx context.Context, id string, artifact Artifact) error
	// DeleteArtifact removes the artifact of id, if any. Missing artifacts are not an error.
	DeleteArtifact(ctx context.Context, id string) error
	// GetArtifact fails with ErrNotFound until a successful run has stored one.
	GetArtifact(ctx context.Context, id string) (Artifact, error)
	// List returns all jobs, newest first.
	List(ctx context.Context) ([]Job, error)
}

// ProgressLog is the append-only per-job record of pipeline progress.
type ProgressLog interface {
	Append(ctx context.Context, jobID string, entry ProgressEntry) error
	// ReadAll returns a restartable sequence over every entry written so far.
	// It fails with ErrNotFound if the job never logged.
	ReadAll(ctx context.Context, jobID string) (iter.Seq2[ProgressEntry, error], error)
	// Verify checks the integrity of the job's log.
	Verify(ctx context.Context, jobID string) error
}

// Notifier is told about every job state change. Failures are logged, never fatal.
type Notifier interface {
	JobChanged(ctx context.Context, job Job) error
}

// Signer signs artifact digests.
type Signer interface {
	Sign(digest string) (signature string, publicKey string, err error)
	Verify(digest, signature, publicKey string) bool
}

// Collect drains a progress sequence into a slice.
func Collect(seq iter.Seq2[ProgressEntry, error]) ([]ProgressEntry, error) {
	entries := make([]ProgressEntry, 0)
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
