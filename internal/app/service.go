package app

import (
	"context"
	"time"

	"invoicehub/internal/core"
)

// ApplicationService is the single interface all adapters (CLI, Web) call.
// Every tenant-scoped method takes the resolved Principal and works on its company only.
// Implementations contain no transport or display logic.
type ApplicationService interface {
	// Resolve maps an authenticated uid (and the token's email) to a Principal.
	Resolve(ctx context.Context, uid, email string) (*core.Principal, error)

	// RegisterCompany creates a company with uid as its admin.
	RegisterCompany(ctx context.Context, uid, email string, req CompanyRequest) (*CompanyResult, error)
	GetCompany(ctx context.Context, p *core.Principal) (*CompanyResult, error)
	// UpdateCompany edits the profile. Admin only.
	UpdateCompany(ctx context.Context, p *core.Principal, req CompanyRequest) (*CompanyResult, error)

	ListClients(ctx context.Context, p *core.Principal) (*ClientListResult, error)
	GetClient(ctx context.Context, p *core.Principal, clientID string) (*core.Client, error)
	CreateClient(ctx context.Context, p *core.Principal, req ClientRequest) (*core.Client, error)
	UpdateClient(ctx context.Context, p *core.Principal, clientID string, req ClientRequest) (*core.Client, error)

	ListInvoices(ctx context.Context, p *core.Principal, status, clientID string) (*InvoiceListResult, error)
	GetInvoice(ctx context.Context, p *core.Principal, invoiceID string) (*InvoiceResult, error)
	// CreateInvoice numbers and stores a new invoice. Stock lines are validated first unless
	// the request allows a shortage.
	CreateInvoice(ctx context.Context, p *core.Principal, req CreateInvoiceRequest) (*InvoiceResult, error)
	UpdateInvoice(ctx context.Context, p *core.Principal, invoiceID string, req UpdateInvoiceRequest) (*InvoiceResult, error)
	DeleteInvoice(ctx context.Context, p *core.Principal, invoiceID string) error
	RecomputeInvoiceStatus(ctx context.Context, p *core.Principal, invoiceID string) (*InvoiceResult, error)
	// ExportInvoice renders one invoice as an XLSX workbook.
	ExportInvoice(ctx context.Context, p *core.Principal, invoiceID string) (*FileResult, error)

	RecordPayment(ctx context.Context, p *core.Principal, invoiceID string, req PaymentRequest) (*LedgerResult, error)
	DeletePayment(ctx context.Context, p *core.Principal, invoiceID string, index int) (*LedgerResult, error)
	GetLedger(ctx context.Context, p *core.Principal, invoiceID string) (*LedgerResult, error)

	ListStock(ctx context.Context, p *core.Principal) (*StockListResult, error)
	UpsertStock(ctx context.Context, p *core.Principal, req core.StockDetailInput) (*core.StockView, error)
	ValidateStock(ctx context.Context, p *core.Principal, lines []LineItemRequest) (*core.AvailabilityResult, error)

	CreatePurchaseRequest(ctx context.Context, p *core.Principal, req core.PurchaseRequestInput) (*core.PurchaseRequest, error)
	// ReviewPurchaseRequest approves or rejects a pending request. Admin only.
	ReviewPurchaseRequest(ctx context.Context, p *core.Principal, requestID string, approve bool) (*core.PurchaseRequest, error)
	ListPurchaseRequests(ctx context.Context, p *core.Principal, status string) ([]core.PurchaseRequest, error)
	CreatePurchaseOrder(ctx context.Context, p *core.Principal, req CreatePurchaseOrderRequest) (*core.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, p *core.Principal, orderID string) (*core.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, p *core.Principal) ([]core.PurchaseOrder, error)
	// DeletePurchaseOrder removes an order and returns its requests and stock markers to approved.
	DeletePurchaseOrder(ctx context.Context, p *core.Principal, orderID string) error

	CreateDefinition(ctx context.Context, p *core.Principal, kind string, req core.DefinitionInput) (*core.Definition, error)
	ListDefinitions(ctx context.Context, p *core.Principal, kind string) ([]core.Definition, error)
	DeleteCategory(ctx context.Context, p *core.Principal, category string) (*core.DeleteCategoryResult, error)

	Rates(ctx context.Context) *RatesResult
	Convert(ctx context.Context, req ConvertRequest) (*ConversionResult, error)

	InviteEmployee(ctx context.Context, p *core.Principal, req InviteRequest) (*core.Employee, error)
	ListEmployees(ctx context.Context, p *core.Principal) ([]core.Employee, error)
	// SendInvite delivers an invitation email without recording an employee.
	SendInvite(ctx context.Context, req SendInviteRequest) error

	// Receivables ages outstanding invoices. A zero asOf means now.
	Receivables(ctx context.Context, p *core.Principal, asOf time.Time) (*core.ReceivablesReport, error)
	ExportReceivables(ctx context.Context, p *core.Principal, asOf time.Time) (*FileResult, error)

	// Schemas returns the JSON schema of every stored document type, keyed by collection.
	Schemas() map[string]any

	// Operator methods used by the CLI. An empty companyID means every company.

	Reconcile(ctx context.Context, companyID string) (core.PassResult, error)
	MigrateLegacyLedgers(ctx context.Context, companyID string) ([]string, error)
	ListDeadOutbox(ctx context.Context, companyID string) ([]core.OutboxRecord, error)
	RequeueOutbox(ctx context.Context, id string) error
	ProcessOutbox(ctx context.Context) (int, error)
}
