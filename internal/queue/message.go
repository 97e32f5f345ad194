package queue

import (
	"encoding/json"
	"time"
)

// MessageVersion is the current batch message layout.
const MessageVersion = 1

// FileRef points at one staged upload of a batch.
type FileRef struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MimeType   string `json:"mimeType"`
	SizeBytes  int64  `json:"sizeBytes"`
	StorageKey string `json:"storageKey"`
}

// Message asks a worker to process one batch. File order is processing order.
type Message struct {
	BatchID    string    `json:"batchId"`
	UserID     string    `json:"userId"`
	RequestID  string    `json:"requestId,omitempty"`
	Files      []FileRef `json:"files"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Version    int       `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
