// Package models defines the core data structures shared across AckPipe modules.
package models

import "time"

// InboundMessage is a chat message received from a messaging transport.
type InboundMessage struct {
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	Time      time.Time `json:"time"`
}

// APIStatus is the status field of every API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
