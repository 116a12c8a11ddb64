// Package api exposes the Genesys Cloud webhook endpoint and runs SkyRelay's
// HTTP server alongside its polling loops.
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/models"
	"github.com/BTreeMap/SkyRelay/internal/outbound"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SignatureHeader carries the webhook body signature.
const SignatureHeader = "X-Hub-Signature-256"

const (
	signaturePrefix = "sha256="
	// maxWebhookBody bounds the payload read before verification.
	maxWebhookBody = 1 << 20
)

// WebhookHandler processes a verified webhook payload.
type WebhookHandler interface {
	Handle(ctx context.Context, msg models.OutboundMessage) outbound.Result
}

var _ WebhookHandler = (*outbound.Interpreter)(nil)

// Server serves the webhook and health endpoints.
type Server struct {
	secret  []byte
	handler WebhookHandler
	router  chi.Router
}

// NewServer builds the router. secret must be non-empty.
func NewServer(secret string, handler WebhookHandler) *Server {
	s := &Server{secret: []byte(secret), handler: handler}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Post("/webhook", s.webhookHandler)
	r.Post("/webhook/", s.webhookHandler)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("Server.webhookHandler: failed to read body", "error", err)
		writeReply(w, http.StatusUnauthorized, models.Error("Invalid signature"))
		return
	}

	if !VerifySignature(s.secret, body, r.Header.Get(SignatureHeader)) {
		slog.Warn("Server.webhookHandler: invalid signature", "remote_addr", r.RemoteAddr)
		writeReply(w, http.StatusUnauthorized, models.Error("Invalid signature"))
		return
	}

	var msg models.OutboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		// Only signature failures are rejected.
		slog.Error("Server.webhookHandler: failed to decode payload", "error", err)
		writeReply(w, http.StatusOK, models.Success(nil))
		return
	}

	// The action outlives the request connection.
	res := s.handler.Handle(context.WithoutCancel(r.Context()), msg)
	slog.Debug("Server.webhookHandler: payload handled",
		"delivery_id", msg.ID, "duplicate", res.Duplicate, "route", res.Route.Kind.String())
	writeReply(w, http.StatusOK, models.Success(nil))
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeReply(w, http.StatusOK, models.Success(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}))
}

// VerifySignature reports whether header is the base64 HMAC-SHA256 of body under secret.
func VerifySignature(secret, body []byte, header string) bool {
	encoded, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok || encoded == "" || len(secret) == 0 {
		return false
	}
	given, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), given)
}
