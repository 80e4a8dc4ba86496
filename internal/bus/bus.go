package bus

import (
	"log/slog"
	"sync"
	"time"

	"mediabot/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based message bus for in-process communication.
// It also keeps the transport registry the dispatcher replies through.
type InMemoryBus struct {
	inbound    chan domain.InboundMessage
	transports map[string]domain.Transport
	mu         sync.RWMutex
	closed     bool
	logger     *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:    make(chan domain.InboundMessage, bufferSize),
		transports: make(map[string]domain.Transport),
		logger:     logger,
	}
}

// Blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound bus full, waiting...", "channel", msg.Channel, "conversation", msg.ConversationID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("message delivered after wait", "channel", msg.Channel)
		case <-timer.C:
			b.logger.Error("message dropped: bus full for 10s",
				"channel", msg.Channel,
				"conversation", msg.ConversationID,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// RegisterTransport makes t the reply path for messages from t.Name().
func (b *InMemoryBus) RegisterTransport(t domain.Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transports[t.Name()] = t
	b.logger.Debug("registered transport", "channel", t.Name())
}

func (b *InMemoryBus) Transport(channel string) (domain.Transport, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.transports[channel]
	return t, ok
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
