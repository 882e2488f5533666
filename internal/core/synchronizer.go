package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"invoicehub/internal/docstore"
	"invoicehub/internal/metrics"

	"go.uber.org/zap"
)

// PassLocker takes a lock shared between replicas. ok is false when another holder has it.
type PassLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// SyncOptions tunes the Synchronizer. Locker may be nil for a single replica.
type SyncOptions struct {
	Debounce time.Duration
	LockTTL  time.Duration
	Locker   PassLocker
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Checked   int  `json:"checked"`
	Unchanged int  `json:"unchanged"`
	Rewritten int  `json:"rewritten"`
	Skipped   bool `json:"skipped"`
}

// Synchronizer heals drift between payment ledgers and the payment fields mirrored onto
// invoices. It reacts to changes in either collection after a quiet period, and never runs
// two passes at once: a pass requested while one is running is queued and run by the
// caller that holds the pass, widest scope first.
type Synchronizer struct {
	store docstore.Store
	opts  SyncOptions
	clock Clock
	log   *zap.Logger

	mu               sync.Mutex
	running          bool
	pendingAll       bool
	pendingCompanies map[string]bool

	seenMu sync.Mutex
	seen   map[string]string // invoice id -> last reconciled key
}

func NewSynchronizer(store docstore.Store, opts SyncOptions, clock Clock, log *zap.Logger) *Synchronizer {
	if opts.Debounce <= 0 {
		opts.Debounce = 750 * time.Millisecond
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{store: store, opts: opts, clock: clock, log: log, seen: make(map[string]string)}
}

// Run reconciles once, then on every burst of changes, until ctx is done. A lost watch is
// re-established after a short pause.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.pass(ctx)
	for {
		changes, err := s.store.Watch(ctx, CollInvoices, CollPayments)
		if err != nil {
			s.log.Error("synchronizer watch failed", zap.Error(err))
		} else {
			s.consume(ctx, changes)
		}
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
		// Changes may have been missed while the watch was down.
		s.pass(ctx)
	}
}

// consume debounces changes until the channel closes.
func (s *Synchronizer) consume(ctx context.Context, changes <-chan docstore.Change) {
	timer := time.NewTimer(s.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				if pending {
					s.pass(ctx)
				}
				return
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.opts.Debounce)
			pending = true
		case <-timer.C:
			pending = false
			s.pass(ctx)
		}
	}
}

func (s *Synchronizer) pass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.ReconcileAll(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("reconcile pass failed", zap.Error(err))
	}
}

// ReconcileAll runs a pass over every company. If a pass is already running it returns
// immediately with Skipped set, and the running caller repeats it once its own pass ends.
func (s *Synchronizer) ReconcileAll(ctx context.Context) (PassResult, error) {
	return s.guarded(ctx, passScope{all: true})
}

// ReconcileCompany runs a pass over one company's ledgers. Skipping works as for ReconcileAll.
func (s *Synchronizer) ReconcileCompany(ctx context.Context, companyID string) (PassResult, error) {
	return s.guarded(ctx, passScope{companyID: companyID})
}

// passScope is either every company or one.
type passScope struct {
	all       bool
	companyID string
}

func (p passScope) lockKey() string {
	if p.all {
		return "reconcile:all"
	}
	return "reconcile:" + p.companyID
}

// queue records a pass requested while another runs. A queued all-companies pass absorbs
// every company pass. Callers hold s.mu.
func (s *Synchronizer) queue(p passScope) {
	if p.all {
		s.pendingAll = true
		s.pendingCompanies = nil
		return
	}
	if s.pendingAll {
		return
	}
	if s.pendingCompanies == nil {
		s.pendingCompanies = make(map[string]bool)
	}
	s.pendingCompanies[p.companyID] = true
}

// next pops the widest queued pass. Callers hold s.mu.
func (s *Synchronizer) next() (passScope, bool) {
	if s.pendingAll {
		s.pendingAll = false
		return passScope{all: true}, true
	}
	for id := range s.pendingCompanies {
		delete(s.pendingCompanies, id)
		return passScope{companyID: id}, true
	}
	return passScope{}, false
}

// guarded runs p unless a pass is already in flight, in which case p is queued for the
// running caller. The running caller drains the queue before it returns; the check for more
// work and the release of the running flag happen under one lock, so no request is lost.
func (s *Synchronizer) guarded(ctx context.Context, p passScope) (PassResult, error) {
	s.mu.Lock()
	if s.running {
		s.queue(p)
		s.mu.Unlock()
		metrics.ReconcilePasses.WithLabelValues("skipped").Inc()
		return PassResult{Skipped: true}, nil
	}
	s.running = true
	s.mu.Unlock()

	res, err := s.runPass(ctx, p)
	for {
		s.mu.Lock()
		queued, ok := s.next()
		if !ok || ctx.Err() != nil {
			if ok {
				// Left for the next caller.
				s.queue(queued)
			}
			s.running = false
			s.mu.Unlock()
			return res, err
		}
		s.mu.Unlock()

		if _, qerr := s.runPass(ctx, queued); qerr != nil && ctx.Err() == nil {
			s.log.Error("queued reconcile pass failed", zap.String("scope", queued.lockKey()), zap.Error(qerr))
		}
	}
}

// runPass takes the cross-replica lock when configured and reconciles one scope.
func (s *Synchronizer) runPass(ctx context.Context, p passScope) (PassResult, error) {
	if s.opts.Locker != nil {
		release, ok, err := s.opts.Locker.TryLock(ctx, p.lockKey(), s.opts.LockTTL)
		if err != nil {
			metrics.ReconcilePasses.WithLabelValues("failed").Inc()
			return PassResult{}, fmt.Errorf("failed to take reconcile lock: %w", err)
		}
		if !ok {
			metrics.ReconcilePasses.WithLabelValues("skipped").Inc()
			return PassResult{Skipped: true}, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("failed to release reconcile lock", zap.Error(err))
			}
		}()
	}

	var filters []docstore.Filter
	if !p.all {
		filters = append(filters, byCompany(p.companyID))
	}
	res, err := s.reconcile(ctx, filters...)
	if err != nil {
		metrics.ReconcilePasses.WithLabelValues("failed").Inc()
		return res, err
	}
	metrics.ReconcilePasses.WithLabelValues("ran").Inc()
	return res, nil
}

func (s *Synchronizer) reconcile(ctx context.Context, filters ...docstore.Filter) (PassResult, error) {
	var res PassResult
	ledgers, err := s.store.Query(ctx, CollPayments, filters...)
	if err != nil {
		return res, fmt.Errorf("failed to list ledgers: %w", err)
	}
	now := s.clock().UTC()
	for _, snap := range ledgers {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		stored, err := decodeLedger(snap)
		if err != nil {
			s.log.Warn("skipping undecodable ledger", zap.String("invoice_id", snap.ID), zap.Error(err))
			continue
		}
		led := stored.entry(snap.UpdatedAt)
		inv, err := load[Invoice](ctx, s.store, CollInvoices, snap.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return res, err
		}
		res.Checked++

		key := reconcileKey(inv, led, snap.UpdatedAt, now)
		if s.lastKey(inv.ID) == key {
			res.Unchanged++
			continue
		}
		if !needsRewrite(inv, led, now) {
			s.remember(inv.ID, key)
			res.Unchanged++
			continue
		}

		rewritten, err := s.rewrite(ctx, inv.ID, now)
		if err != nil {
			s.log.Warn("failed to rewrite invoice payment fields", zap.String("invoice_id", inv.ID), zap.Error(err))
			continue
		}
		if rewritten {
			res.Rewritten++
			metrics.InvoicesRewritten.Inc()
			s.log.Info("reconciled invoice payment fields",
				zap.String("invoice_id", inv.ID),
				zap.String("company_id", inv.CompanyID))
		}
	}
	return res, nil
}

// rewrite re-reads both documents in a transaction and mirrors the ledger if they still
// disagree.
func (s *Synchronizer) rewrite(ctx context.Context, invoiceID string, now time.Time) (bool, error) {
	var rewritten bool
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		inv, err := load[Invoice](ctx, tx, CollInvoices, invoiceID)
		if err != nil {
			return err
		}
		led, err := readLedger(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if !needsRewrite(inv, led, now) {
			return nil
		}
		fields := paymentFields(inv, led, now)
		fields["partialPayments"] = led.PartialPayments
		rewritten = true
		return tx.Update(ctx, CollInvoices, invoiceID, fields)
	})
	return rewritten, err
}

// needsRewrite compares the invoice's mirrored payment fields against the ledger.
func needsRewrite(inv *Invoice, led *LedgerEntry, now time.Time) bool {
	if drifted(inv.PaidUSD, led.TotalPaidUSD) ||
		drifted(inv.PaidINR, led.TotalPaidINR) ||
		drifted(inv.PendingINR, led.PendingINR) ||
		drifted(inv.AmountPaidByClient, led.TotalPaidUSD) {
		return true
	}
	// Unpaid drafts keep their status.
	if inv.Status == InvoiceDraft && !led.TotalPaidUSD.IsPositive() {
		return false
	}
	st := DeriveInvoiceStatus(inv, led.TotalPaidUSD, now)
	return st.Status != inv.Status || st.DaysOverdue != inv.DaysOverdue || st.IsPartialOverdue != inv.IsPartialOverdue
}

// reconcileKey changes whenever a pass could reach a different decision for the invoice:
// either document's payment figures moved, the ledger was written, or the day rolled over.
func reconcileKey(inv *Invoice, led *LedgerEntry, ledgerUpdated, now time.Time) string {
	return strings.Join([]string{
		inv.ID,
		round2(led.TotalPaidUSD).StringFixed(2),
		round2(led.TotalPaidINR).StringFixed(2),
		round2(led.PendingINR).StringFixed(2),
		strconv.FormatInt(ledgerUpdated.UnixNano(), 10),
		round2(inv.PaidUSD).StringFixed(2),
		round2(inv.PaidINR).StringFixed(2),
		round2(inv.PendingINR).StringFixed(2),
		string(inv.Status),
		now.Format(time.DateOnly),
	}, "|")
}

func (s *Synchronizer) lastKey(invoiceID string) string {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	return s.seen[invoiceID]
}

func (s *Synchronizer) remember(invoiceID, key string) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	s.seen[invoiceID] = key
}
