package app

import (
	"net/http"
	"time"

	"invoicehub/internal/config"
	"invoicehub/internal/core"
	"invoicehub/internal/docstore"
	"invoicehub/internal/mail"
	"invoicehub/internal/rates"

	"go.uber.org/zap"
)

// Services is the set of core services behind an ApplicationService. The background
// Synchronizer and Outbox must be started by the caller.
type Services struct {
	Store          docstore.Store
	Currency       core.CurrencyService
	Companies      core.CompanyService
	Stock          core.StockService
	Ledger         core.PaymentLedger
	Invoices       core.InvoiceService
	PurchaseOrders core.PurchaseOrderService
	Definitions    core.DefinitionService
	Identity       core.IdentityService
	Reporting      core.ReportingService
	Synchronizer   *core.Synchronizer
	Outbox         *core.OutboxProcessor
	Mailer         mail.Sender
	Clock          core.Clock
}

// Options supplies the collaborators that depend on the runtime environment. Nil fields get
// defaults: rates from cfg.Rates.URL, no snapshot store, no cross-process lock, SMTP mail.
type Options struct {
	Rates     core.RateSource
	Snapshots core.RateSnapshotStore
	Locker    core.PassLocker
	Mailer    mail.Sender
	Clock     core.Clock
}

// NewServices wires every core service over store.
func NewServices(store docstore.Store, cfg *config.Config, opts Options, log *zap.Logger) *Services {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	source := opts.Rates
	if source == nil {
		source = rates.NewHTTPSource(cfg.Rates.URL, &http.Client{Timeout: cfg.Rates.Timeout})
	}
	mailer := opts.Mailer
	if mailer == nil {
		mailer = mail.NewSMTPSender(mail.Config{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
	}

	currency := core.NewCurrencyService(source, opts.Snapshots, cfg.Rates.RefreshInterval, cfg.Rates.Timeout, clock, log.Named("currency"))
	companies := core.NewCompanyService(store, cfg.Cache.Size, cfg.Cache.TTL, clock)
	stock := core.NewStockService(store, clock)

	outbox := core.NewOutboxProcessor(store, core.OutboxOptions{
		Interval:    cfg.Outbox.Interval,
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		BaseBackoff: cfg.Outbox.BaseBackoff,
		MaxBackoff:  cfg.Outbox.MaxBackoff,
	}, clock, log.Named("outbox"))
	outbox.Handle(core.OutboxMirrorPayments, core.MirrorPaymentsHandler(clock))
	outbox.Handle(core.OutboxStockApplyOnCreate, core.StockOutboxHandler(stock, core.OutboxStockApplyOnCreate))
	outbox.Handle(core.OutboxStockApplyOnDelete, core.StockOutboxHandler(stock, core.OutboxStockApplyOnDelete))

	// With direct apply off, writers only enqueue and the background processor does the rest.
	var dispatcher core.OutboxDispatcher
	if cfg.Outbox.DirectApply {
		dispatcher = outbox
	}

	return &Services{
		Store:          store,
		Currency:       currency,
		Companies:      companies,
		Stock:          stock,
		Ledger:         core.NewPaymentLedger(store, currency, dispatcher, clock, log.Named("ledger")),
		Invoices:       core.NewInvoiceService(store, companies, stock, currency, dispatcher, clock, log.Named("invoices")),
		PurchaseOrders: core.NewPurchaseOrderService(store, clock),
		Definitions:    core.NewDefinitionService(store, clock),
		Identity:       core.NewIdentityService(store, companies, mailer, clock),
		Reporting:      core.NewReportingService(store, clock),
		Synchronizer: core.NewSynchronizer(store, core.SyncOptions{
			Debounce: cfg.Sync.Debounce,
			LockTTL:  cfg.Sync.LockTTL,
			Locker:   opts.Locker,
		}, clock, log.Named("sync")),
		Outbox: outbox,
		Mailer: mailer,
		Clock:  clock,
	}
}
