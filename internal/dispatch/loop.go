package dispatch

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"mediabot/internal/domain"
	"mediabot/internal/metrics"
)

const defaultConcurrency = 8

// Loop consumes the bus and dispatches messages with bounded concurrency.
// Messages of the same conversation are not serialized.
type Loop struct {
	dispatcher  *Dispatcher
	bus         domain.MessageBus
	concurrency int
	logger      *slog.Logger
	wg          sync.WaitGroup
}

type LoopConfig struct {
	Dispatcher  *Dispatcher
	Bus         domain.MessageBus
	Concurrency int // max in-flight messages (default 8)
	Logger      *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		dispatcher:  cfg.Dispatcher,
		bus:         cfg.Bus,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Run blocks until ctx is done or the bus closes, then waits for in-flight
// messages to finish.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("dispatch loop started", "concurrency", l.concurrency)
	defer l.wg.Wait()

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("dispatch loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, dispatch loop stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			l.wg.Add(1)
			go func(m domain.InboundMessage) {
				defer l.wg.Done()
				defer func() { <-sem }()
				l.handle(ctx, m)
			}(msg)
		}
	}
}

// handle isolates one message: a panic is logged and swallowed.
func (l *Loop) handle(ctx context.Context, msg domain.InboundMessage) {
	metrics.MessagesTotal.Inc()
	metrics.InflightMessages.Inc()
	defer metrics.InflightMessages.Dec()
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("message handler panicked",
				"channel", msg.Channel,
				"conversation", msg.ConversationID,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()

	t, ok := l.bus.Transport(msg.Channel)
	if !ok {
		l.logger.Warn("no transport registered for channel", "channel", msg.Channel)
		return
	}
	l.dispatcher.Dispatch(ctx, t, msg)
}
