package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"invoicehub/internal/core"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type appService struct {
	svc *Services
	log *zap.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(svc *Services, log *zap.Logger) ApplicationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &appService{svc: svc, log: log}
}

// OperatorPrincipal is the identity the CLI acts as: an admin of companyID.
func OperatorPrincipal(companyID string) *core.Principal {
	return &core.Principal{UserID: "operator", Role: core.RoleAdmin, CompanyID: companyID}
}

func tenant(p *core.Principal) (string, error) {
	if p == nil || p.CompanyID == "" {
		return "", fmt.Errorf("no company for caller: %w", core.ErrForbidden)
	}
	return p.CompanyID, nil
}

func requireAdmin(p *core.Principal) (string, error) {
	companyID, err := tenant(p)
	if err != nil {
		return "", err
	}
	if !p.IsAdmin() {
		return "", fmt.Errorf("admin role required: %w", core.ErrForbidden)
	}
	return companyID, nil
}

func (s *appService) today() time.Time {
	return s.svc.Clock().UTC().Truncate(24 * time.Hour)
}

// ── Identity and company ──────────────────────────────────────────────────────

func (s *appService) Resolve(ctx context.Context, uid, email string) (*core.Principal, error) {
	return s.svc.Identity.Resolve(ctx, uid, email)
}

func (s *appService) RegisterCompany(ctx context.Context, uid, email string, req CompanyRequest) (*CompanyResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	c, err := s.svc.Companies.CreateCompany(ctx, uid, email, req.input())
	if err != nil {
		return nil, err
	}
	s.log.Info("company registered", zap.String("company_id", c.ID), zap.String("admin_uid", uid))
	return &CompanyResult{Company: c}, nil
}

func (s *appService) GetCompany(ctx context.Context, p *core.Principal) (*CompanyResult, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	c, err := s.svc.Companies.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return &CompanyResult{Company: c}, nil
}

func (s *appService) UpdateCompany(ctx context.Context, p *core.Principal, req CompanyRequest) (*CompanyResult, error) {
	if _, err := requireAdmin(p); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	c, err := s.svc.Companies.UpdateCompany(ctx, p, req.input())
	if err != nil {
		return nil, err
	}
	return &CompanyResult{Company: c}, nil
}

func (s *appService) ListClients(ctx context.Context, p *core.Principal) (*ClientListResult, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	clients, err := s.svc.Companies.ListClients(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return &ClientListResult{CompanyID: companyID, Clients: clients}, nil
}

func (s *appService) GetClient(ctx context.Context, p *core.Principal, clientID string) (*core.Client, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	return s.svc.Companies.GetClient(ctx, companyID, clientID)
}

func (s *appService) CreateClient(ctx context.Context, p *core.Principal, req ClientRequest) (*core.Client, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.svc.Companies.CreateClient(ctx, companyID, req.input())
}

func (s *appService) UpdateClient(ctx context.Context, p *core.Principal, clientID string, req ClientRequest) (*core.Client, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.svc.Companies.UpdateClient(ctx, companyID, clientID, req.input())
}

// ── Invoices ──────────────────────────────────────────────────────────────────

func (s *appService) ListInvoices(ctx context.Context, p *core.Principal, status, clientID string) (*InvoiceListResult, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	invoices, err := s.svc.Invoices.List(ctx, companyID, core.InvoiceFilter{Status: core.InvoiceStatus(status), ClientID: clientID})
	if err != nil {
		return nil, err
	}
	pending := decimal.Zero
	for _, inv := range invoices {
		if inv.Status != core.InvoiceDraft {
			pending = pending.Add(inv.PendingINR)
		}
	}
	return &InvoiceListResult{Invoices: invoices, PendingINR: pending}, nil
}

func (s *appService) GetInvoice(ctx context.Context, p *core.Principal, invoiceID string) (*InvoiceResult, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	inv, err := s.svc.Invoices.Get(ctx, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) CreateInvoice(ctx context.Context, p *core.Principal, req CreateInvoiceRequest) (*InvoiceResult, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	issue := req.IssueDate
	if issue.IsZero() {
		issue = s.today()
	}

	res := &InvoiceResult{}
	if req.AllowInsufficientStock {
		avail, err := s.svc.Stock.ValidateAvailability(ctx, companyID, lineItems(req.LineItems))
		if err != nil {
			return nil, err
		}
		res.Shortages = avail.Insufficient
	}

	inv, err := s.svc.Invoices.Create(ctx, companyID, core.CreateInvoiceInput{
		ClientID:               req.ClientID,
		LineItems:              lineInputs(req.LineItems),
		ExchangeRate:           req.ExchangeRate,
		IssueDate:              issue,
		DueDate:                req.DueDate,
		Notes:                  req.Notes,
		Send:                   req.Send,
		AllowInsufficientStock: req.AllowInsufficientStock,
	})
	if err != nil {
		return nil, err
	}
	res.Invoice = inv
	return res, nil
}

func (s *appService) UpdateInvoice(ctx context.Context, p *core.Principal, invoiceID string, req UpdateInvoiceRequest) (*InvoiceResult, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	in := core.UpdateInvoiceInput{Notes: req.Notes, DueDate: req.DueDate}
	if req.Status != nil {
		st := core.InvoiceStatus(*req.Status)
		in.Status = &st
	}
	inv, err := s.svc.Invoices.Update(ctx, companyID, invoiceID, in)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) DeleteInvoice(ctx context.Context, p *core.Principal, invoiceID string) error {
	companyID, err := tenant(p)
	if err != nil {
		return err
	}
	return s.svc.Invoices.Delete(ctx, companyID, invoiceID)
}

func (s *appService) RecomputeInvoiceStatus(ctx context.Context, p *core.Principal, invoiceID string) (*InvoiceResult, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	inv, err := s.svc.Invoices.RecomputeStatus(ctx, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) ExportInvoice(ctx context.Context, p *core.Principal, invoiceID string) (*FileResult, error) {
	res, err := s.GetInvoice(ctx, p, invoiceID)
	if err != nil {
		return nil, err
	}
	return invoiceWorkbook(res.Invoice)
}

// ── Payments ──────────────────────────────────────────────────────────────────

func (s *appService) RecordPayment(ctx context.Context, p *core.Principal, invoiceID string, req PaymentRequest) (*LedgerResult, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	paid := req.PaymentDate
	if paid.IsZero() {
		paid = s.today()
	}
	led, err := s.svc.Ledger.RecordPartialPayment(ctx, companyID, invoiceID, core.PaymentInput{
		Amount:         req.Amount,
		ConversionRate: req.ConversionRate,
		PendingINR:     req.PendingINR,
		PaymentDate:    paid,
		Method:         req.Method,
		Reference:      req.Reference,
	})
	if err != nil {
		return nil, err
	}
	return &LedgerResult{Ledger: led}, nil
}

func (s *appService) DeletePayment(ctx context.Context, p *core.Principal, invoiceID string, index int) (*LedgerResult, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	led, err := s.svc.Ledger.DeletePartialPayment(ctx, companyID, invoiceID, index)
	if err != nil {
		return nil, err
	}
	return &LedgerResult{Ledger: led}, nil
}

func (s *appService) GetLedger(ctx context.Context, p *core.Principal, invoiceID string) (*LedgerResult, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	led, err := s.svc.Ledger.GetLedger(ctx, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	return &LedgerResult{Ledger: led}, nil
}

// ── Stock and purchasing ──────────────────────────────────────────────────────

func (s *appService) ListStock(ctx context.Context, p *core.Principal) (*StockListResult, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	items, err := s.svc.Stock.ListStock(ctx, companyID)
	if err != nil {
		return nil, err
	}
	res := &StockListResult{Items: items}
	for _, it := range items {
		if it.Status != core.StockNormal {
			res.Low++
		}
	}
	return res, nil
}

func (s *appService) UpsertStock(ctx context.Context, p *core.Principal, req core.StockDetailInput) (*core.StockView, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.svc.Stock.UpsertStockDetail(ctx, companyID, req)
}

func lineItems(reqs []LineItemRequest) []core.LineItem {
	out := make([]core.LineItem, len(reqs))
	for i, r := range reqs {
		out[i] = core.LineItem{
			Description:     r.Description,
			Quantity:        r.Quantity,
			UnitPrice:       r.UnitPrice,
			Amount:          r.Quantity.Mul(r.UnitPrice),
			FromStock:       r.FromStock,
			ProductCategory: r.ProductCategory,
			ItemName:        r.ItemName,
			ProductVersion:  r.ProductVersion,
		}
	}
	return out
}

func (s *appService) ValidateStock(ctx context.Context, p *core.Principal, lines []LineItemRequest) (*core.AvailabilityResult, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	avail, err := s.svc.Stock.ValidateAvailability(ctx, companyID, lineItems(lines))
	if err != nil {
		return nil, err
	}
	return &avail, nil
}

func (s *appService) CreatePurchaseRequest(ctx context.Context, p *core.Principal, req core.PurchaseRequestInput) (*core.PurchaseRequest, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.svc.PurchaseOrders.CreateRequest(ctx, companyID, p.UserID, req)
}

func (s *appService) ReviewPurchaseRequest(ctx context.Context, p *core.Principal, requestID string, approve bool) (*core.PurchaseRequest, error) {
	if _, err := tenant(p); err != nil {
		return nil, err
	}
	return s.svc.PurchaseOrders.ReviewRequest(ctx, p, requestID, approve)
}

func (s *appService) ListPurchaseRequests(ctx context.Context, p *core.Principal, status string) ([]core.PurchaseRequest, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	return s.svc.PurchaseOrders.ListRequests(ctx, companyID, core.RequestStatus(status))
}

func (s *appService) CreatePurchaseOrder(ctx context.Context, p *core.Principal, req CreatePurchaseOrderRequest) (*core.PurchaseOrder, error) {
	companyID, err := requireAdmin(p)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	po, err := s.svc.PurchaseOrders.CreateFromRequests(ctx, companyID, core.CreateOrderInput{
		VendorName: req.VendorName,
		RequestIDs: req.RequestIDs,
		UnitCosts:  req.UnitCosts,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("purchase order created", zap.String("company_id", companyID), zap.String("order_number", po.OrderNumber))
	return po, nil
}

func (s *appService) GetPurchaseOrder(ctx context.Context, p *core.Principal, orderID string) (*core.PurchaseOrder, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	return s.svc.PurchaseOrders.Get(ctx, companyID, orderID)
}

func (s *appService) ListPurchaseOrders(ctx context.Context, p *core.Principal) ([]core.PurchaseOrder, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	return s.svc.PurchaseOrders.List(ctx, companyID)
}

func (s *appService) DeletePurchaseOrder(ctx context.Context, p *core.Principal, orderID string) error {
	companyID, err := requireAdmin(p)
	if err != nil {
		return err
	}
	return s.svc.PurchaseOrders.DeleteWithRollback(ctx, companyID, orderID)
}

// ── Definitions ───────────────────────────────────────────────────────────────

func (s *appService) CreateDefinition(ctx context.Context, p *core.Principal, kind string, req core.DefinitionInput) (*core.Definition, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.svc.Definitions.Create(ctx, companyID, core.DefinitionKind(kind), req)
}

func (s *appService) ListDefinitions(ctx context.Context, p *core.Principal, kind string) ([]core.Definition, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	return s.svc.Definitions.List(ctx, companyID, core.DefinitionKind(kind))
}

func (s *appService) DeleteCategory(ctx context.Context, p *core.Principal, category string) (*core.DeleteCategoryResult, error) {
	companyID, err := requireAdmin(p)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Definitions.DeleteCategory(ctx, companyID, category)
	if err != nil {
		return nil, err
	}
	if len(res.Failed) > 0 {
		s.log.Warn("category delete incomplete",
			zap.String("company_id", companyID),
			zap.String("category", category),
			zap.Int("failed", len(res.Failed)))
	}
	return res, nil
}

// ── Currency ──────────────────────────────────────────────────────────────────

func (s *appService) Rates(ctx context.Context) *RatesResult {
	snap := s.svc.Currency.Snapshot(ctx)
	return &RatesResult{
		Base:      "USD",
		Source:    snap.Source,
		FetchedAt: snap.FetchedAt,
		Rates:     snap.Rates,
		USDToINR:  snap.ToINR(decimal.NewFromInt(1), "USD"),
	}
}

func (s *appService) Convert(ctx context.Context, req ConvertRequest) (*ConversionResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	from, to := strings.ToUpper(req.From), strings.ToUpper(req.To)
	snap := s.svc.Currency.Snapshot(ctx)
	converted := snap.FromINR(snap.ToINR(req.Amount, from), to)
	return &ConversionResult{
		Amount:    req.Amount,
		From:      from,
		To:        to,
		Converted: converted.Round(2),
		Source:    snap.Source,
	}, nil
}

// ── Employees ─────────────────────────────────────────────────────────────────

func (s *appService) InviteEmployee(ctx context.Context, p *core.Principal, req InviteRequest) (*core.Employee, error) {
	if _, err := requireAdmin(p); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	emp, err := s.svc.Identity.InviteEmployee(ctx, p, core.InviteInput{
		Name:            req.Name,
		Email:           req.Email,
		Role:            req.Role,
		RegistrationURL: req.RegistrationURL,
	})
	if err != nil {
		return emp, err
	}
	s.log.Info("employee invited", zap.String("company_id", p.CompanyID), zap.String("employee_id", emp.ID))
	return emp, nil
}

func (s *appService) ListEmployees(ctx context.Context, p *core.Principal) ([]core.Employee, error) {
	companyID, err := requireAdmin(p)
	if err != nil {
		return nil, err
	}
	return s.svc.Identity.ListEmployees(ctx, companyID)
}

func (s *appService) SendInvite(ctx context.Context, req SendInviteRequest) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	return s.svc.Mailer.SendEmployeeInvite(ctx, req.invite())
}

// ── Reporting ─────────────────────────────────────────────────────────────────

func (s *appService) Receivables(ctx context.Context, p *core.Principal, asOf time.Time) (*core.ReceivablesReport, error) {
	companyID, err := tenant(p)
	if err != nil {
		return nil, err
	}
	return s.svc.Reporting.Receivables(ctx, companyID, asOf)
}

func (s *appService) ExportReceivables(ctx context.Context, p *core.Principal, asOf time.Time) (*FileResult, error) {
	report, err := s.Receivables(ctx, p, asOf)
	if err != nil {
		return nil, err
	}
	return receivablesWorkbook(report)
}

func (s *appService) Schemas() map[string]any {
	return documentSchemas()
}

// ── Operator ──────────────────────────────────────────────────────────────────

func (s *appService) Reconcile(ctx context.Context, companyID string) (core.PassResult, error) {
	if companyID == "" {
		return s.svc.Synchronizer.ReconcileAll(ctx)
	}
	return s.svc.Synchronizer.ReconcileCompany(ctx, companyID)
}

func (s *appService) MigrateLegacyLedgers(ctx context.Context, companyID string) ([]string, error) {
	if companyID == "" {
		return nil, &core.ValidationError{Field: "companyId", Reason: "is required"}
	}
	return s.svc.Ledger.MigrateLegacyLedgers(ctx, companyID)
}

func (s *appService) ListDeadOutbox(ctx context.Context, companyID string) ([]core.OutboxRecord, error) {
	if companyID == "" {
		return nil, &core.ValidationError{Field: "companyId", Reason: "is required"}
	}
	return s.svc.Outbox.ListDead(ctx, companyID)
}

func (s *appService) RequeueOutbox(ctx context.Context, id string) error {
	return s.svc.Outbox.Requeue(ctx, id)
}

func (s *appService) ProcessOutbox(ctx context.Context) (int, error) {
	return s.svc.Outbox.ProcessDue(ctx)
}
