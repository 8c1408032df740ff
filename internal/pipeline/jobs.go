package pipeline

import (
	"sync"
	"time"

	"github.com/hward/sn2n/internal/validate"
)

// JobStatus represents the state of a migration job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusConverting JobStatus = "converting"
	StatusCreating   JobStatus = "creating"
	StatusPlacing    JobStatus = "placing"
	StatusDeduping   JobStatus = "deduping"
	StatusValidating JobStatus = "validating"
	StatusCompleted  JobStatus = "completed"
	StatusPartial    JobStatus = "partial"
	StatusFailed     JobStatus = "failed"
)

// Job tracks the state of a single page migration.
type Job struct {
	mu sync.Mutex

	ID         string `json:"job_id"`
	Title      string `json:"title"`
	DatabaseID string `json:"database_id"`
	SourceURL  string `json:"source_url,omitempty"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	PageID  string `json:"page_id,omitempty"`
	PageURL string `json:"page_url,omitempty"`

	Progress Progress         `json:"progress"`
	Report   *validate.Report `json:"validation,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	contentHTML     string
	contentMarkdown string
	properties      map[string]string
	errors          []string
}

// Progress tracks placement progress.
type Progress struct {
	TotalBlocks       int      `json:"total_blocks"`
	Markers           int      `json:"markers"`
	Placed            int      `json:"placed"`
	Orphaned          int      `json:"orphaned"`
	BlocksAppended    int      `json:"blocks_appended"`
	TokensSwept       int      `json:"tokens_swept"`
	DuplicatesRemoved int      `json:"duplicates_removed"`
	Errors            []string `json:"errors,omitempty"`
}

// SetContent stores the raw source content for the worker.
func (j *Job) SetContent(html, markdown string, properties map[string]string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.contentHTML = html
	j.contentMarkdown = markdown
	j.properties = properties
}

// ContentSnapshot returns the raw source content.
func (j *Job) ContentSnapshot() (html, markdown string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.contentHTML, j.contentMarkdown
}

// PropertiesSnapshot returns a copy of the extra page properties.
func (j *Job) PropertiesSnapshot() map[string]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.properties == nil {
		return nil
	}
	out := make(map[string]string, len(j.properties))
	for k, v := range j.properties {
		out[k] = v
	}
	return out
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// SetPage records the created remote page.
func (j *Job) SetPage(id, url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.PageID = id
	j.PageURL = url
	j.UpdatedAt = time.Now()
}

// AddError records an error without failing the job.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// UpdateProgress applies fn under the job lock.
func (j *Job) UpdateProgress(fn func(*Progress)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.Progress)
	j.UpdatedAt = time.Now()
}

// SetReport records the validation report.
func (j *Job) SetReport(r *validate.Report) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Report = r
	j.UpdatedAt = time.Now()
}

// Snapshot returns a copy safe to serialize.
func (j *Job) Snapshot() Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Job{
		ID:         j.ID,
		Title:      j.Title,
		DatabaseID: j.DatabaseID,
		SourceURL:  j.SourceURL,
		Status:     j.Status,
		Phase:      j.Phase,
		PageID:     j.PageID,
		PageURL:    j.PageURL,
		Progress:   j.Progress,
		Report:     j.Report,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

// HadErrors reports whether any phase recorded an error.
func (j *Job) HadErrors() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.errors) > 0
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

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}
