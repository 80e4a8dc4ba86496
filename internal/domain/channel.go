package domain

import "context"

// Transport is the outbound half of a chat client. Every call may fail.
type Transport interface {
	Name() string
	// FetchMedia retrieves (and, where the platform encrypts, decrypts) the
	// payload attached to msg.
	FetchMedia(ctx context.Context, msg InboundMessage) (Payload, error)
	SendText(ctx context.Context, conversationID, text string) error
	SendFile(ctx context.Context, conversationID, path, filename, caption string) error
	SimulateTyping(ctx context.Context, conversationID string, on bool) error
}

// Channel is a Transport that also produces inbound messages.
type Channel interface {
	Transport
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
