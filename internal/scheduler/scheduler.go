package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediaget/media-downloader/internal/events"
	"github.com/mediaget/media-downloader/internal/fsutil"
	"github.com/mediaget/media-downloader/internal/metadata"
	"github.com/mediaget/media-downloader/internal/model"
	"github.com/mediaget/media-downloader/internal/resolve"
	"github.com/mediaget/media-downloader/internal/store"
	"github.com/mediaget/media-downloader/internal/transfer"
)

// Default tuning values
const (
	DefaultMaxConcurrency  = 3
	DefaultMaxRetries      = 3
	DefaultRetryBackoff    = 2 * time.Second
	DefaultRetryMaxBackoff = time.Minute
)

// TransferRunner moves a descriptor's bytes to disk. Satisfied by
// *transfer.Engine; tests substitute fakes.
type TransferRunner interface {
	Transfer(ctx context.Context, req transfer.Request) (*transfer.Result, error)
}

// Options configures a scheduler
type Options struct {
	// MaxConcurrency caps simultaneously active workers. Values below 1 are
	// raised to 1.
	MaxConcurrency int

	// MaxRetries is how many automatic re-enqueues a network failure gets
	// before the job goes to Failed.
	MaxRetries int

	// RetryBackoff is the base delay before the first automatic retry,
	// doubled per attempt up to RetryMaxBackoff.
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration

	// DownloadDir is the destination for submissions that do not name one.
	DownloadDir string
}

// SubmitRequest describes one download to enqueue.
type SubmitRequest struct {
	URL string

	// VariantSelector picks among resolved variants: empty or "best" for the
	// first, "worst" for the last, anything else matches a format ID.
	VariantSelector string

	// DestinationDir overrides the scheduler's download directory.
	DestinationDir string

	Priority model.Priority
}

// entry is the scheduler-private runtime state attached to a job
type entry struct {
	job      *model.Job
	seq      uint64
	selector string
	destDir  string

	ctl        *transfer.Control // non-nil while a worker is bound
	retryTimer *time.Timer
	retryWait  bool // queued but held back by retry backoff
}

// Scheduler owns the job table and runs one worker per admitted job.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*entry
	nextSeq  uint64
	active   int
	maxConc  int
	closed   bool
	opts     Options
	registry *resolve.Registry
	runner   TransferRunner
	bus      *events.Bus
	store    *store.Store // nil disables persistence
	wg       sync.WaitGroup
}

// New creates a scheduler. A nil bus gets a fresh one; a nil store disables
// persistence.
func New(opts Options, registry *resolve.Registry, runner TransferRunner, bus *events.Bus, st *store.Store) *Scheduler {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = DefaultRetryMaxBackoff
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Scheduler{
		jobs:     make(map[string]*entry),
		maxConc:  opts.MaxConcurrency,
		opts:     opts,
		registry: registry,
		runner:   runner,
		bus:      bus,
		store:    st,
	}
}

// Bus returns the event bus observers subscribe on.
func (s *Scheduler) Bus() *events.Bus {
	return s.bus
}

// Restore loads previously persisted jobs into the table and admits any that
// are still queued. Jobs arrive already demoted by the store.
func (s *Scheduler) Restore(jobs []*model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range jobs {
		if _, exists := s.jobs[job.ID]; exists {
			continue
		}
		destDir := s.opts.DownloadDir
		if job.DestinationPath != "" {
			destDir = filepath.Dir(job.DestinationPath)
		}
		s.nextSeq++
		s.jobs[job.ID] = &entry{
			job:      job,
			seq:      s.nextSeq,
			selector: "",
			destDir:  destDir,
		}
	}
	s.admitLocked()
}

// Submit enqueues a download and returns its job ID. An unwritable
// destination fails the job at admission time without consuming a worker
// slot; the ID is still returned so the failure is inspectable.
func (s *Scheduler) Submit(req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return "", fmt.Errorf("empty URL")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrShuttingDown
	}
	for _, e := range s.jobs {
		if e.job.SourceURL == req.URL && !e.job.Status.IsTerminal() {
			return "", fmt.Errorf("%w: %s", ErrDuplicateSubmission, req.URL)
		}
	}

	destDir := req.DestinationDir
	if destDir == "" {
		destDir = s.opts.DownloadDir
	}

	now := time.Now()
	job := &model.Job{
		ID:        uuid.NewString(),
		SourceURL: req.URL,
		Status:    model.StatusQueued,
		Priority:  req.Priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nextSeq++
	e := &entry{job: job, seq: s.nextSeq, selector: req.VariantSelector, destDir: destDir}
	s.jobs[job.ID] = e

	if err := checkDestination(destDir); err != nil {
		// Admission failure: the job exists but never takes a slot.
		s.setStatusLocked(e, model.StatusFailed, "destination not writable: "+err.Error())
		return job.ID, nil
	}

	s.persistLocked(job)
	s.publishStatusLocked(job, "")
	s.admitLocked()
	return job.ID, nil
}

// Pause suspends a job. A running transfer stops at chunk granularity and
// keeps its staging bytes; a queued job is parked directly.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	switch e.job.Status {
	case model.StatusResolving, model.StatusDownloading:
		e.ctl.Pause()
		return nil
	case model.StatusQueued:
		s.stopRetryTimerLocked(e)
		s.setStatusLocked(e, model.StatusPaused, "")
		return nil
	case model.StatusPaused:
		return nil
	default:
		return ErrJobFinished
	}
}

// Resume re-enqueues a paused job with its partial bytes preserved.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if e.job.Status != model.StatusPaused {
		return ErrJobNotPaused
	}
	s.setStatusLocked(e, model.StatusQueued, "")
	s.admitLocked()
	return nil
}

// Cancel stops a job for good. Running workers observe the signal at chunk
// granularity; queued and paused jobs cancel immediately and any staging file
// is removed.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if e.job.Status.IsTerminal() {
		return ErrJobFinished
	}
	if e.job.Status.IsActive() {
		e.ctl.Cancel()
		return nil
	}

	s.stopRetryTimerLocked(e)
	if e.job.DestinationPath != "" {
		if err := transfer.DiscardStaging(e.job.DestinationPath); err != nil {
			log.Printf("Failed to remove staging for job %s: %v", id, err)
		}
	}
	s.setStatusLocked(e, model.StatusCancelled, "")
	s.bus.Forget(id)
	return nil
}

// Retry re-enqueues a failed job.
func (s *Scheduler) Retry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if e.job.Status != model.StatusFailed {
		return ErrJobNotFailed
	}
	e.job.RetryCount++
	s.setStatusLocked(e, model.StatusQueued, "")
	s.admitLocked()
	return nil
}

// Remove drops a finished job from the table and from persistence.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !e.job.Status.IsTerminal() {
		return ErrJobStillActive
	}
	delete(s.jobs, id)
	s.bus.Forget(id)
	if s.store != nil {
		if err := s.store.DeleteJob(id); err != nil {
			log.Printf("Failed to delete persisted job %s: %v", id, err)
		}
	}
	return nil
}

// SetConcurrency changes the admission cap. Raising it admits queued jobs
// immediately; lowering it never preempts running workers, it only blocks
// new admissions until the active count drops below the new limit.
func (s *Scheduler) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxConc = n
	s.admitLocked()
}

// Get returns a read-only copy of one job.
func (s *Scheduler) Get(id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return e.job.Clone(), nil
}

// Snapshot returns read-only copies of all jobs in submission order.
func (s *Scheduler) Snapshot() []*model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].seq < entries[k].seq })

	jobs := make([]*model.Job, len(entries))
	for i, e := range entries {
		jobs[i] = e.job.Clone()
	}
	return jobs
}

// WaitIdle blocks until no worker is running and nothing is admissible, or
// the context expires. Retry backoff timers count as pending work.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		idle := s.active == 0
		if idle {
			for _, e := range s.jobs {
				if e.job.Status == model.StatusQueued {
					idle = false
					break
				}
			}
		}
		s.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown stops admission, pauses running transfers and waits for workers
// to finish persisting their state.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, e := range s.jobs {
		s.stopRetryTimerLocked(e)
		if e.job.Status.IsActive() {
			e.ctl.Pause()
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// admitLocked fills free slots with the highest-priority, oldest queued jobs.
// Caller holds s.mu.
func (s *Scheduler) admitLocked() {
	if s.closed {
		return
	}
	for s.active < s.maxConc {
		e := s.nextQueuedLocked()
		if e == nil {
			return
		}
		s.active++
		e.ctl = transfer.NewControl()
		start := model.StatusDownloading
		if e.job.Variant == nil {
			start = model.StatusResolving
		}
		s.setStatusLocked(e, start, "")
		s.wg.Add(1)
		go s.run(e)
	}
}

// nextQueuedLocked picks by priority, then enqueue order. Deterministic so
// equal submissions always admit in the same sequence.
func (s *Scheduler) nextQueuedLocked() *entry {
	var best *entry
	for _, e := range s.jobs {
		if e.job.Status != model.StatusQueued || e.retryWait {
			continue
		}
		if best == nil ||
			e.job.Priority > best.job.Priority ||
			(e.job.Priority == best.job.Priority && e.seq < best.seq) {
			best = e
		}
	}
	return best
}

// run is the per-job worker: resolve if needed, then transfer.
func (s *Scheduler) run(e *entry) {
	defer s.wg.Done()

	s.mu.Lock()
	ctl := e.ctl // stable for this worker's lifetime; e.ctl is rebound on re-admission
	job := e.job
	needsResolve := job.Variant == nil
	sourceURL := job.SourceURL
	selector := e.selector
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-ctl.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if needsResolve {
		variants, err := s.registry.Resolve(ctx, sourceURL)
		if err != nil {
			s.finishStopped(e, ctl, err)
			return
		}
		variant, err := resolve.SelectVariant(variants, selector)
		if err != nil {
			s.finishStopped(e, ctl, err)
			return
		}

		s.mu.Lock()
		job.Variant = variant
		if job.BytesTotal == 0 && variant.EstimatedSize > 0 {
			job.BytesTotal = variant.EstimatedSize
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	if job.DestinationPath == "" {
		dest, err := fsutil.UniquePath(e.destDir, variantFilename(job.Variant, sourceURL))
		if err != nil {
			s.releaseLocked(e)
			s.setStatusLocked(e, model.StatusFailed, "cannot place destination file: "+err.Error())
			s.admitLocked()
			s.mu.Unlock()
			return
		}
		job.DestinationPath = dest
	}
	if job.Status == model.StatusResolving {
		s.setStatusLocked(e, model.StatusDownloading, "")
	}
	dest := job.DestinationPath
	descriptor := job.Variant.Descriptor
	s.mu.Unlock()

	offset := transfer.VerifyStaging(dest)
	s.mu.Lock()
	job.BytesDownloaded = offset
	s.mu.Unlock()

	result, err := s.runner.Transfer(ctx, transfer.Request{
		Descriptor:      descriptor,
		DestinationPath: dest,
		ResumeOffset:    offset,
		Control:         ctl,
		Sink: func(downloaded, total int64, speed float64) {
			s.onProgress(e, downloaded, total, speed)
		},
	})
	s.completeTransfer(e, result, err)
}

// finishStopped ends a worker that never reached the transfer stage,
// classifying the exit by the control signal first.
func (s *Scheduler) finishStopped(e *entry, ctl *transfer.Control, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(e)

	switch ctl.Mode() {
	case transfer.ModeCancel:
		s.setStatusLocked(e, model.StatusCancelled, "")
		s.bus.Forget(e.job.ID)
	case transfer.ModePause:
		s.setStatusLocked(e, model.StatusPaused, "")
	default:
		s.setStatusLocked(e, model.StatusFailed, failureReason(err))
	}
	s.admitLocked()
}

// completeTransfer applies the engine's verdict to the job table.
func (s *Scheduler) completeTransfer(e *entry, result *transfer.Result, err error) {
	s.mu.Lock()
	s.releaseLocked(e)
	job := e.job

	if err != nil {
		var terr *transfer.Error
		retryable := errors.As(err, &terr) && terr.Retryable()
		if retryable && job.RetryCount < s.opts.MaxRetries {
			job.RetryCount++
			delay := s.retryDelay(job.RetryCount)
			log.Printf("Job %s failed (%s), retry %d/%d in %s",
				job.ID, failureReason(err), job.RetryCount, s.opts.MaxRetries, delay)
			e.retryWait = true
			s.setStatusLocked(e, model.StatusQueued, "")
			e.retryTimer = time.AfterFunc(delay, func() {
				s.mu.Lock()
				e.retryTimer = nil
				e.retryWait = false
				s.admitLocked()
				s.mu.Unlock()
			})
		} else {
			s.setStatusLocked(e, model.StatusFailed, failureReason(err))
		}
		s.admitLocked()
		s.mu.Unlock()
		return
	}

	switch result.Outcome {
	case transfer.OutcomeCompleted:
		job.BytesDownloaded = result.BytesDownloaded
		if job.BytesTotal == 0 && result.BytesTotal > 0 {
			job.BytesTotal = result.BytesTotal
		}
		s.setStatusLocked(e, model.StatusCompleted, "")
		finalPath := result.FinalPath
		jobCopy := job.Clone()
		s.admitLocked()
		s.mu.Unlock()

		if err := metadata.Write(finalPath, jobCopy); err != nil {
			log.Printf("Failed to write metadata for job %s: %v", jobCopy.ID, err)
		}
		return
	case transfer.OutcomePaused:
		job.BytesDownloaded = result.BytesDownloaded
		s.setStatusLocked(e, model.StatusPaused, "")
	case transfer.OutcomeCancelled:
		s.setStatusLocked(e, model.StatusCancelled, "")
		s.bus.Forget(job.ID)
	}
	s.admitLocked()
	s.mu.Unlock()
}

// releaseLocked frees the worker slot. Caller holds s.mu.
func (s *Scheduler) releaseLocked(e *entry) {
	s.active--
	e.ctl = nil
}

func (s *Scheduler) stopRetryTimerLocked(e *entry) {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.retryWait = false
}

// setStatusLocked applies a transition, persists it and publishes the status
// event. Caller holds s.mu.
func (s *Scheduler) setStatusLocked(e *entry, to model.Status, reason string) {
	job := e.job
	if !job.Status.CanTransition(to) {
		log.Printf("Ignoring illegal transition %s -> %s for job %s", job.Status, to, job.ID)
		return
	}
	job.Status = to
	job.UpdatedAt = time.Now()
	if reason != "" {
		job.LastError = reason
	}
	s.persistLocked(job)
	s.publishStatusLocked(job, reason)
}

func (s *Scheduler) persistLocked(job *model.Job) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveJob(job); err != nil {
		log.Printf("Failed to persist job %s: %v", job.ID, err)
	}
}

func (s *Scheduler) publishStatusLocked(job *model.Job, reason string) {
	s.bus.Publish(events.Event{
		Kind:   events.KindStatus,
		JobID:  job.ID,
		Status: job.Status,
		Bytes:  job.BytesDownloaded,
		Total:  job.BytesTotal,
		Reason: reason,
		At:     time.Now(),
	})
}

func (s *Scheduler) onProgress(e *entry, downloaded, total int64, speed float64) {
	s.mu.Lock()
	e.job.BytesDownloaded = downloaded
	if e.job.BytesTotal == 0 && total > 0 {
		e.job.BytesTotal = total
	}
	id := e.job.ID
	s.mu.Unlock()

	s.bus.Publish(events.Event{
		Kind:   events.KindProgress,
		JobID:  id,
		Status: model.StatusDownloading,
		Bytes:  downloaded,
		Total:  total,
		Speed:  speed,
		At:     time.Now(),
	})
}

// retryDelay doubles the base per attempt up to the cap.
func (s *Scheduler) retryDelay(attempt int) time.Duration {
	d := s.opts.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.opts.RetryMaxBackoff {
			return s.opts.RetryMaxBackoff
		}
	}
	if d > s.opts.RetryMaxBackoff {
		d = s.opts.RetryMaxBackoff
	}
	return d
}

func checkDestination(dir string) error {
	if err := fsutil.EnsureDir(dir); err != nil {
		return err
	}
	return fsutil.CheckWritable(dir)
}

// variantFilename builds the destination filename from the variant title,
// falling back to the URL path.
func variantFilename(v *model.MediaVariant, sourceURL string) string {
	name := strings.TrimSpace(v.Title)
	if name == "" {
		if u, err := url.Parse(sourceURL); err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	name = fsutil.SanitizeFilename(name)
	if v.Container != "" && !strings.HasSuffix(strings.ToLower(name), "."+strings.ToLower(v.Container)) {
		name += "." + v.Container
	}
	return name
}

// failureReason extracts the human-readable reason from typed errors.
func failureReason(err error) string {
	var rerr *resolve.Error
	if errors.As(err, &rerr) {
		return rerr.Reason()
	}
	var terr *transfer.Error
	if errors.As(err, &terr) {
		return terr.Reason()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
