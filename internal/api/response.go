package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/SkyRelay/internal/models"
)

// internalErrorBody is written when a reply cannot be encoded.
var internalErrorBody = []byte(`{"status":"error","message":"Internal server error"}`)

func writeReply(w http.ResponseWriter, statusCode int, reply models.Reply) {
	body, err := json.Marshal(reply)
	if err != nil {
		slog.Error("Server.writeReply: encode failed", "status", statusCode, "error", err)
		body, statusCode = internalErrorBody, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Debug("Server.writeReply: client went away", "error", err)
	}
}
