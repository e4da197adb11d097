package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/cache"
	"github.com/LeventeLantos/whatsapp-relay/internal/client"
	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/repo"
	"github.com/LeventeLantos/whatsapp-relay/internal/webhook"
)

const (
	DefaultMessageTimeout  = 30 * time.Second
	DefaultFinalizeTimeout = 5 * time.Second
)

type Dispatcher interface {
	SendReply(ctx context.Context, recipient, text string) (outboundMessageID string, err error)
}

type Outcome string

const (
	OutcomeReplied     Outcome = "replied"
	OutcomeFailed      Outcome = "failed"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeStoreFailed Outcome = "store_failed"
)

// Report summarizes one webhook delivery.
type Report struct {
	Malformed   bool
	Skipped     int
	Replied     int
	Failed      int
	Duplicates  int
	StoreErrors int
}

func (r *Report) add(o Outcome) {
	switch o {
	case OutcomeReplied:
		r.Replied++
	case OutcomeFailed:
		r.Failed++
	case OutcomeDuplicate:
		r.Duplicates++
	case OutcomeStoreFailed:
		r.StoreErrors++
	}
}

// Pipeline turns webhook deliveries into stored messages and replies:
// parse, persist, dispatch, finalize. It is the only place that logs
// failures from the store and the dispatcher.
type Pipeline struct {
	store      repo.MessageRepository
	dispatcher Dispatcher
	reply      ReplyFunc
	cache      cache.ReplyCache
	log        *slog.Logger
	now        func() time.Time

	messageTimeout  time.Duration
	finalizeTimeout time.Duration
}

func NewPipeline(store repo.MessageRepository, dispatcher Dispatcher, reply ReplyFunc) *Pipeline {
	return &Pipeline{
		store:      store,
		dispatcher: dispatcher,
		reply:      reply,
		cache:      cache.Noop{},
		log:        slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },

		messageTimeout:  DefaultMessageTimeout,
		finalizeTimeout: DefaultFinalizeTimeout,
	}
}

func (p *Pipeline) WithCache(c cache.ReplyCache) *Pipeline {
	if c != nil {
		p.cache = c
	}
	return p
}

func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	if l != nil {
		p.log = l
	}
	return p
}

// WithMessageTimeout bounds persist and dispatch of a single message.
func (p *Pipeline) WithMessageTimeout(d time.Duration) *Pipeline {
	if d > 0 {
		p.messageTimeout = d
	}
	return p
}

// WithFinalizeTimeout bounds the status write and cache update that follow a
// dispatch. They run on a context detached from the dispatch deadline.
func (p *Pipeline) WithFinalizeTimeout(d time.Duration) *Pipeline {
	if d > 0 {
		p.finalizeTimeout = d
	}
	return p
}

// Ingest processes one raw webhook body. It never fails: every problem is
// logged and reflected in the stored status.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte) Report {
	var rep Report

	res, err := webhook.Parse(raw)
	if err != nil {
		rep.Malformed = true
		p.log.Warn("malformed webhook payload", "error", err, "bytes", len(raw))
		return rep
	}
	if res.Object != webhook.ObjectWhatsApp {
		p.log.Info("ignoring webhook for unsupported object", "object", res.Object)
		return rep
	}

	for _, s := range res.Skipped {
		rep.Skipped++
		p.log.Warn("malformed inbound message",
			"provider_message_id", s.ProviderMessageID,
			"type", s.Type,
			"reason", s.Reason,
		)
	}
	for _, st := range res.Statuses {
		p.log.Debug("delivery status received",
			"outbound_message_id", st.ID,
			"status", st.Status,
			"recipient", st.RecipientID,
		)
	}

	// Messages in one delivery do not share a deadline: a stalled reply
	// must not starve the ones after it.
	base := context.WithoutCancel(ctx)
	for _, in := range res.Messages {
		mctx, cancel := context.WithTimeout(base, p.messageTimeout)
		rep.add(p.Process(mctx, in, raw))
		cancel()
	}
	return rep
}

// Process runs persist, dispatch and finalize for a single inbound message.
func (p *Pipeline) Process(ctx context.Context, in webhook.Inbound, raw []byte) Outcome {
	log := p.log.With("provider_message_id", in.ProviderMessageID, "sender", in.Sender)

	_, err := p.store.InsertIfAbsent(ctx, model.Message{
		ProviderMessageID: in.ProviderMessageID,
		Sender:            in.Sender,
		Body:              in.Body,
		ProviderTimestamp: in.Timestamp,
		RawPayload:        raw,
	})
	if errors.Is(err, repo.ErrAlreadyExists) {
		log.Info("duplicate delivery ignored")
		return OutcomeDuplicate
	}
	if err != nil {
		log.Error("store inbound message", "error", err)
		return OutcomeStoreFailed
	}
	log.Info("message received", "type", in.Type, "sender_name", in.SenderName)

	text := p.reply(in.Body)
	start := time.Now()
	outID, err := p.dispatcher.SendReply(ctx, in.Sender, text)
	if err != nil {
		kind := "transport"
		if errors.Is(err, client.ErrMisconfigured) {
			kind = "misconfigured"
		}
		log.Error("reply dispatch failed",
			"kind", kind,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		p.finalize(ctx, log, in.ProviderMessageID, nil, model.Failed)
		return OutcomeFailed
	}

	log.Info("reply sent",
		"outbound_message_id", outID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	p.finalize(ctx, log, in.ProviderMessageID, &text, model.Replied)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.finalizeTimeout)
	defer cancel()
	if err := p.cache.StoreReplied(cctx, in.ProviderMessageID, outID, p.now()); err != nil {
		log.Warn("cache reply outcome", "error", err)
	}
	return OutcomeReplied
}

// finalize is best effort: a lost update leaves the message received, which
// the stale monitor reports. A dispatch that used up ctx does not cancel it.
func (p *Pipeline) finalize(ctx context.Context, log *slog.Logger, id string, response *string, status model.Status) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.finalizeTimeout)
	defer cancel()

	if err := p.store.UpdateStatus(ctx, id, response, status); err != nil {
		log.Error("update message status", "status", string(status), "error", err)
	}
}
