package domain

import "context"

// ChatMessage is one message sent to a chat-completion service.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a single request/response exchange with a model.
type CompletionRequest struct {
	Model    string
	Messages []ChatMessage
}

// Completer is the external text service used for both intent
// classification and conversational replies.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
