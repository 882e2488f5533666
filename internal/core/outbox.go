package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"invoicehub/internal/docstore"
	"invoicehub/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OutboxKind string

const (
	OutboxMirrorPayments     OutboxKind = "invoice.mirror_payments"
	OutboxStockApplyOnCreate OutboxKind = "stock.apply_on_create"
	OutboxStockApplyOnDelete OutboxKind = "stock.apply_on_delete"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxSucceeded OutboxStatus = "succeeded"
	OutboxFailed    OutboxStatus = "failed"
	OutboxDead      OutboxStatus = "dead"
)

// OutboxRecord is a side effect committed atomically with its cause and applied later.
type OutboxRecord struct {
	ID            string          `json:"id"`
	CompanyID     string          `json:"companyId"`
	Kind          OutboxKind      `json:"kind"`
	AggregateID   string          `json:"aggregateId"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Status        OutboxStatus    `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"lastError,omitempty"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
	CreatedAt     time.Time       `json:"createdAt"`
	ProcessedAt   *time.Time      `json:"processedAt,omitempty"`
}

// StockPayload is the payload of the stock.* kinds.
type StockPayload struct {
	LineItems []LineItem `json:"lineItems"`
}

// enqueueOutbox writes a pending record through w, normally the caller's transaction.
func enqueueOutbox(ctx context.Context, w docstore.Writer, companyID string, kind OutboxKind, aggregateID string, payload any, now time.Time) (OutboxRecord, error) {
	rec := OutboxRecord{
		ID:            uuid.NewString(),
		CompanyID:     companyID,
		Kind:          kind,
		AggregateID:   aggregateID,
		Status:        OutboxPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return OutboxRecord{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		rec.Payload = raw
	}
	if err := w.Set(ctx, CollOutbox, rec.ID, rec); err != nil {
		return OutboxRecord{}, fmt.Errorf("failed to enqueue %s: %w", kind, err)
	}
	return rec, nil
}

// OutboxHandler applies one record inside the transaction that marks it succeeded, so a
// handler's writes and the status change commit together.
type OutboxHandler func(ctx context.Context, tx docstore.Tx, rec OutboxRecord) error

// OutboxDispatcher applies a freshly committed record without waiting for the next poll.
type OutboxDispatcher interface {
	Process(ctx context.Context, id string) error
}

// OutboxOptions tunes polling and retry.
type OutboxOptions struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (o *OutboxOptions) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 5 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Minute
	}
}

// OutboxBackoff is base * 2^(attempt-1), capped at maxDelay.
func OutboxBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if delay > maxDelay || delay <= 0 {
		return maxDelay
	}
	return delay
}

// OutboxProcessor polls due records and runs the handler registered for their kind.
type OutboxProcessor struct {
	store docstore.Store
	opts  OutboxOptions
	clock Clock
	log   *zap.Logger

	mu       sync.RWMutex
	handlers map[OutboxKind]OutboxHandler
}

func NewOutboxProcessor(store docstore.Store, opts OutboxOptions, clock Clock, log *zap.Logger) *OutboxProcessor {
	opts.setDefaults()
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboxProcessor{
		store:    store,
		opts:     opts,
		clock:    clock,
		log:      log,
		handlers: make(map[OutboxKind]OutboxHandler),
	}
}

// Handle registers h for kind, replacing any previous handler.
func (p *OutboxProcessor) Handle(kind OutboxKind, h OutboxHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

func (p *OutboxProcessor) handler(kind OutboxKind) (OutboxHandler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[kind]
	return h, ok
}

// Run polls until ctx is done.
func (p *OutboxProcessor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := p.ProcessDue(ctx); err != nil && ctx.Err() == nil {
			p.log.Error("outbox poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessDue applies up to BatchSize pending or failed records whose next attempt is due,
// oldest first. It returns how many succeeded.
func (p *OutboxProcessor) ProcessDue(ctx context.Context) (int, error) {
	due, err := p.Due(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, rec := range due {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := p.Process(ctx, rec.ID); err == nil {
			done++
		}
	}
	return done, nil
}

// Due lists the records ProcessDue would pick up next.
func (p *OutboxProcessor) Due(ctx context.Context) ([]OutboxRecord, error) {
	now := p.clock()
	var due []OutboxRecord
	for _, st := range []OutboxStatus{OutboxPending, OutboxFailed} {
		recs, err := list[OutboxRecord](ctx, p.store, CollOutbox, docstore.Where("status", st))
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if !r.NextAttemptAt.After(now) {
				due = append(due, r)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > p.opts.BatchSize {
		due = due[:p.opts.BatchSize]
	}
	return due, nil
}

// Process applies one record. Records already succeeded or dead are skipped, which makes
// repeated processing of the same record safe.
func (p *OutboxProcessor) Process(ctx context.Context, id string) error {
	var kind OutboxKind
	var missing bool
	err := p.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		rec, err := load[OutboxRecord](ctx, tx, CollOutbox, id)
		if err != nil {
			missing = errors.Is(err, ErrNotFound)
			return err
		}
		kind = rec.Kind
		if rec.Status == OutboxSucceeded || rec.Status == OutboxDead {
			return nil
		}
		h, ok := p.handler(rec.Kind)
		if !ok {
			return fmt.Errorf("no handler for outbox kind %q", rec.Kind)
		}
		if err := h(ctx, tx, *rec); err != nil {
			return err
		}
		now := p.clock().UTC()
		return tx.Update(ctx, CollOutbox, id, docstore.Fields{
			"status":      OutboxSucceeded,
			"attempts":    rec.Attempts + 1,
			"lastError":   "",
			"processedAt": now,
		})
	})
	if err == nil {
		metrics.OutboxOutcomes.WithLabelValues(string(kind), "succeeded").Inc()
		return nil
	}
	if missing {
		return err
	}
	dead := p.markFailure(ctx, id, err)
	outcome := "failed"
	if dead {
		outcome = "dead"
	}
	metrics.OutboxOutcomes.WithLabelValues(string(kind), outcome).Inc()
	p.log.Warn("outbox record failed",
		zap.String("record_id", id),
		zap.String("kind", string(kind)),
		zap.Bool("dead", dead),
		zap.Error(err))
	return err
}

// markFailure records the error and schedules the next attempt. It reports whether the
// record is now dead.
func (p *OutboxProcessor) markFailure(ctx context.Context, id string, cause error) bool {
	var dead bool
	err := p.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		rec, err := load[OutboxRecord](ctx, tx, CollOutbox, id)
		if err != nil {
			return err
		}
		attempts := rec.Attempts + 1
		fields := docstore.Fields{"attempts": attempts, "lastError": cause.Error()}
		if attempts >= p.opts.MaxAttempts {
			dead = true
			fields["status"] = OutboxDead
		} else {
			fields["status"] = OutboxFailed
			fields["nextAttemptAt"] = p.clock().UTC().Add(OutboxBackoff(attempts, p.opts.BaseBackoff, p.opts.MaxBackoff))
		}
		return tx.Update(ctx, CollOutbox, id, fields)
	})
	if err != nil {
		p.log.Error("failed to record outbox failure", zap.String("record_id", id), zap.Error(err))
	}
	return dead
}

// Requeue resets a dead record so it is retried on the next poll.
func (p *OutboxProcessor) Requeue(ctx context.Context, id string) error {
	return p.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		rec, err := load[OutboxRecord](ctx, tx, CollOutbox, id)
		if err != nil {
			return err
		}
		if rec.Status != OutboxDead {
			return invalid("status", "only dead records can be requeued")
		}
		return tx.Update(ctx, CollOutbox, id, docstore.Fields{
			"status":        OutboxPending,
			"attempts":      0,
			"nextAttemptAt": p.clock().UTC(),
		})
	})
}

// ListDead returns dead records of one company.
func (p *OutboxProcessor) ListDead(ctx context.Context, companyID string) ([]OutboxRecord, error) {
	return list[OutboxRecord](ctx, p.store, CollOutbox, byCompany(companyID), docstore.Where("status", OutboxDead))
}

// dispatch applies rec immediately when a dispatcher is configured. Failures are left for
// the background processor.
func dispatch(ctx context.Context, d OutboxDispatcher, log *zap.Logger, rec OutboxRecord) {
	if d == nil || rec.ID == "" {
		return
	}
	if err := d.Process(ctx, rec.ID); err != nil {
		log.Warn("deferred outbox record to background processing",
			zap.String("record_id", rec.ID),
			zap.String("kind", string(rec.Kind)),
			zap.Error(err))
	}
}

// StockOutboxHandler applies stock.apply_on_create or stock.apply_on_delete records.
func StockOutboxHandler(stock StockService, kind OutboxKind) OutboxHandler {
	return func(ctx context.Context, tx docstore.Tx, rec OutboxRecord) error {
		var payload StockPayload
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return fmt.Errorf("decode stock payload: %w", err)
		}
		switch kind {
		case OutboxStockApplyOnCreate:
			return stock.ApplyOnCreateTx(ctx, tx, rec.CompanyID, payload.LineItems)
		case OutboxStockApplyOnDelete:
			return stock.ApplyOnDeleteTx(ctx, tx, rec.CompanyID, payload.LineItems)
		default:
			return fmt.Errorf("unsupported stock outbox kind %q", kind)
		}
	}
}

// MirrorPaymentsHandler copies the authoritative ledger totals onto the invoice. It is
// idempotent: it always mirrors the ledger's current state. A missing invoice or ledger
// (for example after the invoice was deleted) leaves nothing to do.
func MirrorPaymentsHandler(clock Clock) OutboxHandler {
	if clock == nil {
		clock = time.Now
	}
	return func(ctx context.Context, tx docstore.Tx, rec OutboxRecord) error {
		inv, err := load[Invoice](ctx, tx, CollInvoices, rec.AggregateID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		led, err := readLedger(ctx, tx, rec.AggregateID)
		if errors.Is(err, ErrLedgerNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		fields := paymentFields(inv, led, clock())
		fields["partialPayments"] = led.PartialPayments
		return tx.Update(ctx, CollInvoices, inv.ID, fields)
	}
}
