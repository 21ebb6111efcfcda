// internal/webhook/server.go
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/user/larkflow/internal/config"
	"github.com/user/larkflow/internal/dedup"
	"github.com/user/larkflow/internal/types"
)

// maxBodyBytes caps a webhook body; Lark events are a few KB.
const maxBodyBytes = 1 << 20

const (
	msgEncryption = "Encryption is enabled, please disable it."
	msgDuplicate  = "Duplicate event"
)

// Handler processes one received chat message. It never reports failure:
// the platform is acknowledged regardless of the outcome.
type Handler interface {
	HandleMessage(ctx context.Context, ev *types.MessageReceiveEvent)
}

// Credentials are the Lark app credentials checked by the self-check probe.
type Credentials struct {
	AppID     string
	AppSecret string
}

// Server is the HTTP surface Lark delivers events to.
type Server struct {
	creds   Credentials
	seen    dedup.Store
	handler Handler
	mux     *http.ServeMux
}

// NewServer creates a Server that dedups events through seen and hands
// message events to handler.
func NewServer(creds Credentials, seen dedup.Store, handler Handler) *Server {
	s := &Server{
		creds:   creds,
		seen:    seen,
		handler: handler,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /hello", s.handleHello)
	s.mux.HandleFunc("POST /webhook", s.handleWebhook)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// result is the {code, message} acknowledgement body.
type result struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"message": "Hello, World!"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := types.NewRequestID()
	log := slog.With("request_id", string(requestID))
	w.Header().Set("X-Request-Id", string(requestID))

	var env types.Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&env); err != nil {
		log.Warn("invalid webhook body", "error", err)
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	switch {
	case env.Type == types.TypeURLVerification:
		log.Info("url verification")
		writeJSON(w, map[string]string{"challenge": env.Challenge})

	case env.Encrypt != "":
		log.Warn("encrypted event rejected")
		writeJSON(w, result{Code: 1, Message: msgEncryption})

	case env.Header == nil:
		check := config.ValidateApp(s.creds.AppID, s.creds.AppSecret)
		log.Info("configuration self-check", "code", check.Code)
		writeJSON(w, check)

	case env.Header.EventType == types.EventMessageReceiveV1:
		// Lark stops waiting after a few seconds; the reply must still go out.
		ctx := context.WithoutCancel(r.Context())
		writeJSON(w, s.handleMessageEvent(ctx, log, env.Header, env.Event))

	default:
		log.Debug("ignored event", "event_type", env.Header.EventType, "event_id", string(env.Header.EventID))
		writeJSON(w, result{Code: 2})
	}
}

// handleMessageEvent marks the event before handling it so a redelivery
// that arrives mid-processing is already a duplicate.
func (s *Server) handleMessageEvent(ctx context.Context, log *slog.Logger, hdr *types.EventHeader, raw json.RawMessage) result {
	eventID := string(hdr.EventID)
	log = log.With("event_id", eventID)

	if s.seen != nil {
		dup, err := s.seen.Mark(ctx, eventID)
		if err != nil {
			// Fail open.
			log.Error("dedup mark failed", "error", err)
		} else if dup {
			log.Info("duplicate event")
			return result{Code: 0, Message: msgDuplicate}
		}
	}

	var ev types.MessageReceiveEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Warn("malformed message event", "error", err)
		return result{Code: 0}
	}
	if ev.Message.MessageID == "" {
		log.Warn("message event without message_id")
		return result{Code: 0}
	}

	log.Info("message received",
		"message_id", string(ev.Message.MessageID),
		"chat_id", ev.Message.ChatID,
		"message_type", ev.Message.MessageType,
	)
	s.handler.HandleMessage(ctx, &ev)
	return result{Code: 0}
}
