package queue

import (
	"encoding/json"
	"time"
)

// MessageVersion is the current payload version.
const MessageVersion = 2

// Message is the pipeline job payload carried by the queue.
type Message struct {
	AnalysisID   string `json:"analysisId"`
	RunID        string `json:"runId"`
	RequestID    string `json:"requestId"`
	URL          string `json:"url,omitempty"`
	BusinessName string `json:"businessName,omitempty"`
	EnqueuedAt   string `json:"enqueuedAt"`
	Version      int    `json:"version"`
}

// NewMessage stamps the enqueue time and version.
func NewMessage(analysisID, runID, requestID string) Message {
	return Message{
		AnalysisID: analysisID,
		RunID:      runID,
		RequestID:  requestID,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	}
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
