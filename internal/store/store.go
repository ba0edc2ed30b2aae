package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/cockroachdb/pebble/v2"

	"github.com/mediaget/media-downloader/internal/model"
)

// Key schema:
// - job:<id>        -> Job JSON
// - schema:version  -> format version marker
const (
	jobKeyPrefix = "job:"
	versionKey   = "schema:version"
	version      = "1"
)

// Store persists jobs across process restarts in a Pebble database.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the job database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open job database: %w", err)
	}

	if _, closer, err := db.Get([]byte(versionKey)); errors.Is(err, pebble.ErrNotFound) {
		if err := db.Set([]byte(versionKey), []byte(version), pebble.Sync); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize job database: %w", err)
		}
	} else if err == nil {
		closer.Close()
	} else {
		db.Close()
		return nil, fmt.Errorf("failed to read job database version: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func jobKey(id string) []byte {
	return []byte(jobKeyPrefix + id)
}

// SaveJob writes the job's current state. Called on every transition, so a
// crash loses at most the in-flight byte counter.
func (s *Store) SaveJob(job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	if err := s.db.Set(jobKey(job.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// DeleteJob removes a job record. Deleting a missing job is not an error.
func (s *Store) DeleteJob(id string) error {
	if err := s.db.Delete(jobKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every persisted job ordered by creation time. Jobs that were
// mid-flight when the process died come back as Paused so their staging bytes
// can be resumed. Records that fail to decode are skipped with a warning
// rather than blocking startup.
func (s *Store) LoadAll() ([]*model.Job, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(jobKeyPrefix),
		UpperBound: []byte(jobKeyPrefix + "\xff"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan job database: %w", err)
	}
	defer iter.Close()

	var jobs []*model.Job
	for iter.First(); iter.Valid(); iter.Next() {
		var job model.Job
		if err := json.Unmarshal(iter.Value(), &job); err != nil || job.ID == "" {
			log.Printf("Warning: skipping corrupt job record %q: %v", iter.Key(), err)
			continue
		}
		demoteInterrupted(&job)
		jobs = append(jobs, &job)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan job database: %w", err)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return jobs, nil
}

// demoteInterrupted rewrites states that cannot survive a restart. A job that
// was downloading or resolving has no live worker anymore; Paused keeps its
// partial bytes resumable. A queued job stays queued.
func demoteInterrupted(job *model.Job) {
	switch job.Status {
	case model.StatusDownloading, model.StatusResolving:
		job.Status = model.StatusPaused
	}
}
