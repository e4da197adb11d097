package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/cache"
	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/repo"
	"github.com/LeventeLantos/whatsapp-relay/internal/service"
	"github.com/LeventeLantos/whatsapp-relay/internal/verify"
)

const maxBodyBytes = 4 << 20

type Ingestor interface {
	Ingest(ctx context.Context, raw []byte) service.Report
}

// ReplyLookup returns the cached outcome of a sent reply.
type ReplyLookup interface {
	Replied(ctx context.Context, providerMessageID string) (cache.Replied, error)
}

type Handler struct {
	gate     *verify.Gate
	signer   *verify.Signer
	ingestor Ingestor
	repo     repo.MessageRepository
	replies  ReplyLookup
	log      *slog.Logger

	listMax int

	inflight sync.WaitGroup
}

func NewHandler(gate *verify.Gate, ingestor Ingestor, r repo.MessageRepository) *Handler {
	return &Handler{
		gate:     gate,
		signer:   verify.NewSigner(""),
		ingestor: ingestor,
		repo:     r,
		log:      slog.Default(),
		listMax:  repo.MaxListLimit,
	}
}

func (h *Handler) WithSigner(s *verify.Signer) *Handler {
	if s != nil {
		h.signer = s
	}
	return h
}

func (h *Handler) WithLogger(l *slog.Logger) *Handler {
	if l != nil {
		h.log = l
	}
	return h
}

// WithReplyLookup adds the cached outbound message id to GetMessage.
func (h *Handler) WithReplyLookup(l ReplyLookup) *Handler {
	h.replies = l
	return h
}

func (h *Handler) WithListMax(n int) *Handler {
	if n > 0 {
		h.listMax = n
	}
	return h
}

// Wait blocks until every accepted delivery has been processed.
func (h *Handler) Wait() {
	h.inflight.Wait()
}

// Verify answers the provider's subscription handshake.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")

	challenge, err := h.gate.Verify(mode, q.Get("hub.challenge"), q.Get("hub.verify_token"))
	if err != nil {
		h.log.Warn("webhook verification failed", "mode", mode)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	h.log.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// Receive acknowledges a delivery with an empty 200 and processes it in the
// background. Only a bad signature is refused.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.log.Warn("read webhook body", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.signer.Check(body, r.Header.Get(verify.SignatureHeader)); err != nil {
		h.log.Warn("webhook signature rejected")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)

	// The pipeline bounds each message on its own.
	ctx := context.WithoutCancel(r.Context())
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				h.log.Error("webhook ingestion panic recovered", "panic", rec)
			}
		}()

		h.ingestor.Ingest(ctx, body)
	}()
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		h.log.Error("health check: store unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "db": true})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit := repo.ClampLimit(parseInt(r.URL.Query().Get("limit"), repo.DefaultListLimit), h.listMax)
	sender := r.URL.Query().Get("sender")

	items, err := h.repo.List(r.Context(), limit, sender)
	if err != nil {
		h.log.Error("list messages", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []model.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	m, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "message not found"})
		return
	}
	if err != nil {
		h.log.Error("get message", "provider_message_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	view := messageView{Message: m}
	if h.replies != nil && m.Status == model.Replied {
		view.Reply = h.lookupReply(r.Context(), id)
	}
	writeJSON(w, http.StatusOK, view)
}

type messageView struct {
	model.Message
	Reply *cache.Replied `json:"reply,omitempty"`
}

func (h *Handler) lookupReply(ctx context.Context, id string) *cache.Replied {
	rep, err := h.replies.Replied(ctx, id)
	if errors.Is(err, cache.ErrMiss) {
		return nil
	}
	if err != nil {
		h.log.Warn("reply cache lookup", "provider_message_id", id, "error", err)
		return nil
	}
	return &rep
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
