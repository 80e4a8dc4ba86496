package domain

// MessageBus routes inbound messages from channels to the dispatcher and
// resolves the transport that answers them.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	RegisterTransport(t Transport)
	Transport(channel string) (Transport, bool)
	Close()
}
