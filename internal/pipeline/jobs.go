package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/docmd/internal/assemble"
	"github.com/dgallion1/docmd/internal/dispatch"
)

// JobStatus represents the state of a conversion job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusParsing    JobStatus = "parsing"
	StatusConverting JobStatus = "converting"
	StatusWriting    JobStatus = "writing"
	StatusCompleted  JobStatus = "completed"
	StatusPartial    JobStatus = "partial"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further updates follow.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job tracks the state of a single document conversion.
type Job struct {
	mu sync.Mutex

	ID      string `json:"job_id"`
	BatchID string `json:"batch_id,omitempty"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`
	Engine   string    `json:"engine"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	Location    string    `json:"location,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData []byte
	result   *assemble.Result
	errors   []string
	subs     []chan JobSnapshot
}

// Progress tracks chunk-level progress.
type Progress struct {
	TotalChunks  int      `json:"total_chunks"`
	ChunksDone   int      `json:"chunks_done"`
	ChunksFailed int      `json:"chunks_failed"`
	Errors       []string `json:"errors"`
}

// NewJob returns a queued job holding data.
func NewJob(filename, engineName string, data []byte) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Phase:     "queued",
		Filename:  filename,
		Engine:    engineName,
		CreatedAt: now,
		UpdatedAt: now,
		fileData:  data,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Batch returns the jobs submitted under batchID.
func (s *JobStore) Batch(batchID string) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.jobs {
		if j.BatchID == batchID {
			out = append(out, j)
		}
	}
	return out
}

// Cleanup removes finished jobs not updated within the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Terminal() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.touchLocked()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.touchLocked()
}

// SetTotalChunks records the planned chunk count.
func (j *Job) SetTotalChunks(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalChunks = n
	j.touchLocked()
}

// RecordOutcome counts one resolved chunk.
func (j *Job) RecordOutcome(o dispatch.Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.ChunksDone++
	if o.Failure != nil {
		j.Progress.ChunksFailed++
		j.errors = append(j.errors, fmt.Sprintf("chunk %d: %s", o.ChunkIndex, o.Failure))
	}
	j.touchLocked()
}

// SetFileData sets the raw file bytes for processing.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// Finish stores the result, drops the upload and moves to a terminal status.
func (j *Job) Finish(res *assemble.Result, status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = res
	j.fileData = nil
	j.Status = status
	j.Phase = phase
	j.touchLocked()
}

// Result returns the assembled document, or nil before completion.
func (j *Job) Result() *assemble.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// SetContentHash records the hash of the uploaded bytes.
func (j *Job) SetContentHash(h string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ContentHash = h
	j.touchLocked()
}

// SetLocation records where the sink wrote the result.
func (j *Job) SetLocation(loc string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Location = loc
	j.touchLocked()
}

// Subscribe returns a channel of snapshots taken after every update. The
// channel is closed once the job reaches a terminal status; slow readers
// miss intermediate snapshots, never the close.
func (j *Job) Subscribe() (<-chan JobSnapshot, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	ch := make(chan JobSnapshot, 16)
	ch <- j.snapshotLocked()
	if j.Status.Terminal() {
		close(ch)
		return ch, func() {}
	}
	j.subs = append(j.subs, ch)
	return ch, func() { j.unsubscribe(ch) }
}

func (j *Job) unsubscribe(ch chan JobSnapshot) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, s := range j.subs {
		if s == ch {
			j.subs = append(j.subs[:i], j.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (j *Job) touchLocked() {
	j.UpdatedAt = time.Now()
	if len(j.subs) == 0 {
		return
	}
	snap := j.snapshotLocked()
	for _, ch := range j.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	if j.Status.Terminal() {
		for _, ch := range j.subs {
			close(ch)
		}
		j.subs = nil
	}
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	BatchID     string    `json:"batch_id,omitempty"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Filename    string    `json:"filename"`
	Engine      string    `json:"engine"`
	ContentHash string    `json:"content_hash,omitempty"`
	Location    string    `json:"location,omitempty"`
	Progress    Progress  `json:"progress"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() JobSnapshot {
	errs := make([]string, len(j.errors))
	copy(errs, j.errors)
	p := j.Progress
	p.Errors = errs
	return JobSnapshot{
		ID:          j.ID,
		BatchID:     j.BatchID,
		Status:      j.Status,
		Phase:       j.Phase,
		Filename:    j.Filename,
		Engine:      j.Engine,
		ContentHash: j.ContentHash,
		Location:    j.Location,
		Progress:    p,
		UpdatedAt:   j.UpdatedAt,
	}
}
