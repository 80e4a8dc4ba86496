// Package job runs the conversion pipelines. Every pipeline has the same
// shape: acquire input, transform, persist a temp artifact, deliver, clean up.
package job

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediabot/internal/domain"
)

// Kind names a pipeline. Values match the intent that selects it.
type Kind string

const (
	KindWordToPDF  Kind = Kind(domain.IntentWordToPDF)
	KindImageToPDF Kind = Kind(domain.IntentImageToPDF)
	KindCombine    Kind = Kind(domain.IntentCombineToPDF)
	KindYouTubeMP3 Kind = Kind(domain.IntentYouTubeMP3)
	KindYouTubeMP4 Kind = Kind(domain.IntentYouTubeMP4)
)

// Status is a job's position in pending → fetching → transforming →
// writing → delivering → done, with failed reachable from any
// non-terminal state. Stages may be skipped but never revisited.
type Status string

const (
	StatusPending      Status = "pending"
	StatusFetching     Status = "fetching"
	StatusTransforming Status = "transforming"
	StatusWriting      Status = "writing"
	StatusDelivering   Status = "delivering"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:      0,
	StatusFetching:     1,
	StatusTransforming: 2,
	StatusWriting:      3,
	StatusDelivering:   4,
	StatusDone:         5,
}

func (s Status) Terminal() bool { return s == StatusDone || s == StatusFailed }

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	return ok1 && ok2 && tr > fr
}

// Job is the ephemeral record of one pipeline run. It owns the temp files
// created during the run and removes them on Cleanup.
type Job struct {
	ID           string
	Kind         Kind
	Conversation string
	Channel      string
	StartedAt    time.Time

	mu     sync.Mutex
	status Status
	stage  Status // last non-terminal status
	temps  []string
	dir    string
	logger *slog.Logger
}

func newJob(kind Kind, msg domain.InboundMessage, dir string, logger *slog.Logger) *Job {
	id := uuid.NewString()
	return &Job{
		ID:           id,
		Kind:         kind,
		Conversation: msg.ConversationID,
		Channel:      msg.Channel,
		StartedAt:    time.Now(),
		status:       StatusPending,
		stage:        StatusPending,
		dir:          dir,
		logger:       logger.With("job", id, "kind", kind, "conversation", msg.ConversationID),
	}
}

// Advance moves the job to s. Illegal moves are errors and leave the job
// unchanged.
func (j *Job) Advance(s Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !CanTransition(j.status, s) {
		return fmt.Errorf("job %s: illegal transition %s → %s", j.ID, j.status, s)
	}
	j.status = s
	if !s.Terminal() {
		j.stage = s
	}
	j.logger.Debug("job stage", "status", s)
	return nil
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Stage is the last non-terminal status the job reached.
func (j *Job) Stage() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stage
}

func (j *Job) Logger() *slog.Logger { return j.logger }

// TempPath reserves a job-scoped artifact path and registers it for cleanup.
func (j *Job) TempPath(prefix, ext string) string {
	p := TempName(j.dir, prefix, ext, time.Now())
	j.mu.Lock()
	j.temps = append(j.temps, p)
	j.mu.Unlock()
	return p
}

// Cleanup removes every registered temp file. It is safe to call more than
// once.
func (j *Job) Cleanup() {
	j.mu.Lock()
	temps := j.temps
	j.temps = nil
	j.mu.Unlock()

	for _, p := range temps {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			j.logger.Warn("temp cleanup failed", "path", p, "err", err)
		}
	}
}

// Rejection is an input problem reported to the user verbatim, without retry.
type Rejection struct {
	Text string
	Err  error // optional cause
}

func (r *Rejection) Error() string { return r.Text }
func (r *Rejection) Unwrap() error { return r.Err }

func reject(text string) error { return &Rejection{Text: text} }

// publicError carries a short user-facing description over its cause.
type publicError struct {
	msg string
	err error
}

func (e *publicError) Error() string { return e.msg }
func (e *publicError) Unwrap() error { return e.err }

func public(msg string, err error) error { return &publicError{msg: msg, err: err} }

// describe returns the user-facing text of err.
func describe(err error) string {
	var pe *publicError
	if errors.As(err, &pe) {
		return pe.msg
	}
	return err.Error()
}

// detail returns the full error chain, including hidden causes.
func detail(err error) string {
	var pe *publicError
	if errors.As(err, &pe) && pe.err != nil {
		return pe.msg + ": " + pe.err.Error()
	}
	return err.Error()
}

var (
	ErrFileTooLarge = errors.New("artifact exceeds size limit")
	ErrNoImages     = errors.New("no images")
)
