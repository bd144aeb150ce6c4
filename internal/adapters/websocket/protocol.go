package websocket

import (
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// Message types of the json.v1 subprotocol. The stream is server to client only.
const (
	MessageTypeStatus = "status"
	MessageTypeError  = "error"
)

// BaseMessage is the envelope of every frame written to the client.
type BaseMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// NewStatusMessage wraps a job status transition.
func NewStatusMessage(event domain.JobEvent) BaseMessage {
	return BaseMessage{Type: MessageTypeStatus, Payload: event}
}

// NewErrorMessage wraps an error sent right before the server closes the stream.
func NewErrorMessage(errResp domain.ErrorResponse) BaseMessage {
	return BaseMessage{Type: MessageTypeError, Payload: errResp}
}
