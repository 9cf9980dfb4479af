package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

const (
	jobsDirName      = "jobs"
	artifactsDirName = "generated"
	logsDirName      = "logs"
)

// FileStore keeps one JSON record per job under <base>/jobs and one artifact
// per succeeded job under <base>/generated. Every write is temp file + rename.
type FileStore struct {
	jobsDir      string
	artifactsDir string
	now          func() time.Time

	locks keyedMutex
}

// NewFileStore creates the directory layout under baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	s := &FileStore{
		jobsDir:      filepath.Join(baseDir, jobsDirName),
		artifactsDir: filepath.Join(baseDir, artifactsDirName),
		now:          time.Now,
	}
	for _, dir := range []string{s.jobsDir, s.artifactsDir} {
		if err := mkdir(dir); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileStore) jobPath(id string) string {
	return filepath.Join(s.jobsDir, id+".json")
}

func (s *FileStore) artifactPath(id string) string {
	return filepath.Join(s.artifactsDir, id+".json")
}

func (s *FileStore) Create(_ context.Context, job core.Job) error {
	if err := checkID(job.ID); err != nil {
		return err
	}
	if !core.IsKnownState(job.State) {
		return fmt.Errorf("create job %s: unknown state %q", job.ID, job.State)
	}
	if err := CreateJSON(s.jobPath(job.ID), job); err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, id string) (core.Job, error) {
	if err := checkID(id); err != nil {
		return core.Job{}, err
	}
	var job core.Job
	if err := ReadJSON(s.jobPath(id), &job); err != nil {
		return core.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (s *FileStore) UpdateState(ctx context.Context, id string, state core.State, reason string) (core.Job, error) {
	if err := checkID(id); err != nil {
		return core.Job{}, err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	job, err := s.Get(ctx, id)
	if err != nil {
		return core.Job{}, err
	}
	if err := job.Transition(state, reason, s.now().UTC()); err != nil {
		return core.Job{}, err
	}
	if err := WriteJSON(s.jobPath(id), job); err != nil {
		return core.Job{}, fmt.Errorf("update job %s: %w", id, err)
	}
	return job, nil
}

func (s *FileStore) SaveArtifact(ctx context.Context, id string, artifact core.Artifact) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := WriteJSON(s.artifactPath(id), artifact); err != nil {
		return fmt.Errorf("save artifact %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) DeleteArtifact(_ context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := os.Remove(s.artifactPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) GetArtifact(_ context.Context, id string) (core.Artifact, error) {
	if err := checkID(id); err != nil {
		return core.Artifact{}, err
	}
	var a core.Artifact
	if err := ReadJSON(s.artifactPath(id), &a); err != nil {
		return core.Artifact{}, fmt.Errorf("get artifact %s: %w", id, err)
	}
	return a, nil
}

// List reads a snapshot of the jobs directory. Files that disappear or are
// still being written while it scans are skipped.
func (s *FileStore) List(ctx context.Context) ([]core.Job, error) {
	entries, err := os.ReadDir(s.jobsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []core.Job{}, nil
		}
		return nil, fmt.Errorf("read jobs directory %s: %w", s.jobsDir, err)
	}

	jobs := make([]core.Job, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || isTemp(name) || !strings.HasSuffix(name, ".json") {
			continue
		}
		job, err := s.Get(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			if !errors.Is(err, core.ErrNotFound) {
				slog.Warn("skipping unreadable job record", "file", name, "error", err)
			}
			continue
		}
		jobs = append(jobs, job)
	}
	SortJobs(jobs)
	return jobs, nil
}

// SortJobs orders jobs newest first, breaking ties by id so the order is stable.
func SortJobs(jobs []core.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

func (k *keyedMutex) lock(key string) func() {
	m := k.get(key)
	m.Lock()
	return m.Unlock
}
