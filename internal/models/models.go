// Package models defines the core data structures for SkyRelay.
//
// It includes the reconciliation state persisted per Bluesky post, the post and notification
// shapes read from Bluesky, the webhook payloads received from Genesys Cloud, and the
// ingestion/receipt messages sent back to it. These types are shared across modules.
package models

// Reply is the JSON body SkyRelay returns from its own HTTP endpoints.
type Reply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success is an "ok" reply carrying an optional result.
func Success(result any) Reply {
	return Reply{Status: "ok", Result: result}
}

// Error is an "error" reply with a message for the caller.
func Error(message string) Reply {
	return Reply{Status: "error", Message: message}
}
