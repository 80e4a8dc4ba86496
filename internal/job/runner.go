package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"mediabot/internal/domain"
	"mediabot/internal/ledger"
	"mediabot/internal/metrics"
	"mediabot/internal/state"
)

// Recorder persists finished jobs. *ledger.Ledger implements it.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Request is what a pipeline runs against.
type Request struct {
	Message   domain.InboundMessage
	Transport domain.Transport
	// Current is the trigger message's own image when it was collected
	// successfully; nil otherwise.
	Current *domain.DecodedImage
}

// Artifact describes what a successful pipeline delivered.
type Artifact struct {
	Filename string
	Size     int64
	Pages    int
}

// Pipeline is one conversion. Run reports input problems as *Rejection and
// everything else as a plain error; it must not send failure text itself.
type Pipeline interface {
	Kind() Kind
	Run(ctx context.Context, j *Job, req Request) (Artifact, error)
	// FailureText renders a non-rejection error for the user.
	FailureText(err error) string
}

// Env bundles the collaborators shared by every pipeline.
type Env struct {
	Store   state.Store
	Fetcher *Fetcher
	WorkDir string
	Logger  *slog.Logger
}

// Outcome is the runner's summary of one job.
type Outcome struct {
	JobID    string
	Kind     Kind
	Status   Status
	Stage    Status
	Artifact Artifact
	Err      error
	Reply    string // failure text sent to the user, if any
}

// Runner executes pipelines and converts every failure into exactly one
// outbound text message. A panicking pipeline fails its job only.
type Runner struct {
	workDir  string
	recorder Recorder
	logger   *slog.Logger
}

type RunnerConfig struct {
	WorkDir  string
	Recorder Recorder // optional
	Logger   *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{workDir: cfg.WorkDir, recorder: cfg.Recorder, logger: cfg.Logger}
}

func (r *Runner) Run(ctx context.Context, p Pipeline, req Request) (out Outcome) {
	j := newJob(p.Kind(), req.Message, r.workDir, r.logger)
	out = Outcome{JobID: j.ID, Kind: j.Kind}
	j.Logger().Info("job started")

	defer func() {
		j.Cleanup()
		out.Status, out.Stage = j.Status(), j.Stage()
		r.finish(ctx, j, out)
	}()

	art, err := safeRun(ctx, p, j, req)
	if err == nil {
		if aerr := j.Advance(StatusDone); aerr != nil {
			err = aerr
		}
	}
	if err == nil {
		out.Artifact = art
		j.Logger().Info("job done", "file", art.Filename, "size", art.Size, "pages", art.Pages,
			"duration", time.Since(j.StartedAt))
		return out
	}

	j.Advance(StatusFailed)
	out.Err = err

	var rej *Rejection
	if errors.As(err, &rej) {
		out.Reply = rej.Text
		j.Logger().Info("job rejected", "reason", rej.Text, "stage", j.Stage())
	} else {
		out.Reply = p.FailureText(err)
		j.Logger().Error("job failed", "stage", j.Stage(), "err", detail(err))
	}
	if serr := req.Transport.SendText(ctx, req.Message.ConversationID, out.Reply); serr != nil {
		j.Logger().Warn("failure notice not delivered", "err", serr)
	}
	return out
}

func safeRun(ctx context.Context, p Pipeline, j *Job, req Request) (art Artifact, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			j.Logger().Error("job panicked", "panic", rec, "stack", string(debug.Stack()))
			err = public("unexpected error", fmt.Errorf("panic: %v", rec))
		}
	}()
	return p.Run(ctx, j, req)
}

func (r *Runner) finish(ctx context.Context, j *Job, out Outcome) {
	metrics.JobsTotal(string(j.Kind), string(out.Status)).Inc()
	metrics.JobLatency(string(j.Kind)).ObserveSince(j.StartedAt)

	if r.recorder == nil {
		return
	}
	e := ledger.Entry{
		ID:           j.ID,
		Conversation: j.Conversation,
		Channel:      j.Channel,
		Kind:         string(j.Kind),
		Status:       string(out.Status),
		Stage:        string(out.Stage),
		ArtifactSize: out.Artifact.Size,
		Pages:        out.Artifact.Pages,
		StartedAt:    j.StartedAt,
		FinishedAt:   time.Now(),
	}
	if out.Err != nil {
		e.Error = detail(out.Err)
	}
	// The ledger must not depend on the caller's cancellation.
	if err := r.recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		r.logger.Warn("ledger write failed", "job", j.ID, "err", err)
	}
}

// notify sends a progress or courtesy message; failures are logged only.
func notify(ctx context.Context, j *Job, req Request, text string) {
	if err := req.Transport.SendText(ctx, req.Message.ConversationID, text); err != nil {
		j.Logger().Warn("notice not delivered", "text", text, "err", err)
	}
}
