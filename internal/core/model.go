package core

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Monetary fields are stored as JSON numbers so document filters and other readers see
	// plain numeric values.
	decimal.MarshalJSONWithoutQuotes = true
}

// Collection names. Other collaborators query these by name.
const (
	CollCompanies            = "companies"
	CollClients              = "clients"
	CollInvoices             = "invoices"
	CollPayments             = "payments"
	CollStockDetails         = "stock_details"
	CollProductDefinitions   = "product_definitions"
	CollInventoryDefinitions = "inventory_definitions"
	CollPurchaseOrders       = "purchase_orders"
	CollPurchaseRequests     = "purchase_requests"
	CollUsers                = "users"
	CollEmployees            = "employees"
	CollOutbox               = "outbox"
)

// ReferenceCurrency is the currency every invoice total is also expressed in.
const ReferenceCurrency = "INR"

// Clock returns the current time. Services take one so tests can pin time.
type Clock func() time.Time

type TaxIdentifiers struct {
	GSTIN     string `json:"gstin,omitempty"`
	PAN       string `json:"pan,omitempty"`
	VATNumber string `json:"vatNumber,omitempty"`
}

type Banking struct {
	AccountName   string `json:"accountName,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	BankName      string `json:"bankName,omitempty"`
	IFSC          string `json:"ifsc,omitempty"`
	SWIFT         string `json:"swift,omitempty"`
	IBAN          string `json:"iban,omitempty"`
}

// InvoiceSettings controls invoice numbering: Prefix followed by NextNumber left-padded with
// zeros to Padding digits.
type InvoiceSettings struct {
	Prefix     string `json:"prefix"`
	NextNumber int    `json:"nextNumber"`
	Padding    int    `json:"padding"`
}

// Company is the tenant root.
type Company struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Address         string          `json:"address,omitempty"`
	Country         string          `json:"country"`
	Currency        string          `json:"currency"`
	TaxIdentifiers  TaxIdentifiers  `json:"taxIdentifiers"`
	Banking         Banking         `json:"banking"`
	InvoiceSettings InvoiceSettings `json:"invoiceSettings"`
	// DefaultTaxRate is a percentage applied to domestic invoices.
	DefaultTaxRate decimal.Decimal `json:"defaultTaxRate"`
	AdminUserID    string          `json:"adminUserId"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type Client struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	Country   string    `json:"country"`
	Currency  string    `json:"currency,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoiceSent          InvoiceStatus = "sent"
	InvoicePending       InvoiceStatus = "pending"
	InvoicePartiallyPaid InvoiceStatus = "partially-paid"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceOverdue       InvoiceStatus = "overdue"
	InvoicePaidAfterDue  InvoiceStatus = "paid-after-due"
)

// StockKey identifies a tracked item within a company.
type StockKey struct {
	ProductCategory string `json:"productCategory"`
	ItemName        string `json:"itemName"`
	ProductVersion  string `json:"productVersion"`
}

func (k StockKey) String() string {
	return k.ProductCategory + "/" + k.ItemName + "/" + k.ProductVersion
}

// LineItem is one invoice line. FromStock lines reference a Stock Detail by their StockKey.
type LineItem struct {
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	Amount          decimal.Decimal `json:"amount"`
	FromStock       bool            `json:"fromStock"`
	ProductCategory string          `json:"productCategory,omitempty"`
	ItemName        string          `json:"itemName,omitempty"`
	ProductVersion  string          `json:"productVersion,omitempty"`
}

func (li LineItem) StockKey() StockKey {
	return StockKey{ProductCategory: li.ProductCategory, ItemName: li.ItemName, ProductVersion: li.ProductVersion}
}

// PartialPayment is one payment event. ConversionRate is frozen at recording time.
type PartialPayment struct {
	Amount         decimal.Decimal `json:"amount"`
	ConversionRate decimal.Decimal `json:"conversionRate"`
	AmountINR      decimal.Decimal `json:"amountINR"`
	PendingINR     decimal.Decimal `json:"pendingINR"`
	PaymentDate    time.Time       `json:"paymentDate"`
	Method         string          `json:"method,omitempty"`
	Reference      string          `json:"reference,omitempty"`
	RecordedAt     time.Time       `json:"recordedAt"`
}

// ClientSnapshot and CompanySnapshot are copied into the invoice at creation so later
// profile edits do not alter issued invoices.
type ClientSnapshot struct {
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Address  string `json:"address,omitempty"`
	Country  string `json:"country"`
	Currency string `json:"currency,omitempty"`
}

type CompanySnapshot struct {
	Name           string         `json:"name"`
	Address        string         `json:"address,omitempty"`
	Country        string         `json:"country"`
	Currency       string         `json:"currency"`
	TaxIdentifiers TaxIdentifiers `json:"taxIdentifiers"`
	Banking        Banking        `json:"banking"`
}

type Invoice struct {
	ID            string          `json:"id"`
	CompanyID     string          `json:"companyId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	ClientID      string          `json:"clientId"`
	Client        ClientSnapshot  `json:"client"`
	Company       CompanySnapshot `json:"company"`
	LineItems     []LineItem      `json:"lineItems"`
	Currency      string          `json:"currency"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxRate       decimal.Decimal `json:"taxRate"`
	TaxAmount     decimal.Decimal `json:"taxAmount"`
	Total         decimal.Decimal `json:"total"`
	ExchangeRate  decimal.Decimal `json:"exchangeRate"`
	TotalINR      decimal.Decimal `json:"totalINR"`
	IssueDate     time.Time       `json:"issueDate"`
	DueDate       time.Time       `json:"dueDate"`
	Status        InvoiceStatus   `json:"status"`
	DaysOverdue   int             `json:"daysOverdue"`

	IsPartialOverdue   bool             `json:"isPartialOverdue"`
	PaidUSD            decimal.Decimal  `json:"paidUSD"`
	PaidINR            decimal.Decimal  `json:"paidINR"`
	PendingINR         decimal.Decimal  `json:"pendingINR"`
	AmountPaidByClient decimal.Decimal  `json:"amountPaidByClient"`
	PartialPayments    []PartialPayment `json:"partialPayments"`

	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StockLines returns the line items fulfilled from tracked inventory.
func (inv *Invoice) StockLines() []LineItem {
	var out []LineItem
	for _, li := range inv.LineItems {
		if li.FromStock {
			out = append(out, li)
		}
	}
	return out
}

type LedgerStatus string

const (
	LedgerPartial   LedgerStatus = "partial"
	LedgerCompleted LedgerStatus = "completed"
)

// LedgerShapePartial marks ledgers holding a partialPayments list. Documents without it are
// the legacy flat single-payment shape.
const LedgerShapePartial = "partial"

// LedgerEntry is the payments/{invoiceId} document.
type LedgerEntry struct {
	InvoiceID       string           `json:"invoiceId"`
	CompanyID       string           `json:"companyId"`
	Shape           string           `json:"shape"`
	PartialPayments []PartialPayment `json:"partialPayments"`
	TotalPaidUSD    decimal.Decimal  `json:"totalPaidUSD"`
	TotalPaidINR    decimal.Decimal  `json:"totalPaidINR"`
	PendingINR      decimal.Decimal  `json:"pendingINR"`
	Status          LedgerStatus     `json:"status"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

type StockStatus string

const (
	StockNormal   StockStatus = "normal"
	StockLow      StockStatus = "low"
	StockCritical StockStatus = "critical"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestPOCreated RequestStatus = "po-created"
	RequestRejected  RequestStatus = "rejected"
)

// StockDetail tracks current quantity of one item. Its status is derived on read.
type StockDetail struct {
	ID                string          `json:"id"`
	CompanyID         string          `json:"companyId"`
	ProductCategory   string          `json:"productCategory"`
	ItemName          string          `json:"itemName"`
	ProductVersion    string          `json:"productVersion"`
	CurrentStock      decimal.Decimal `json:"currentStock"`
	MinRequired       decimal.Decimal `json:"minRequired"`
	SafeQuantityLimit decimal.Decimal `json:"safeQuantityLimit"`
	LastRequestStatus RequestStatus   `json:"lastRequestStatus,omitempty"`
	POCreatedQuantity decimal.Decimal `json:"poCreatedQuantity"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func (sd StockDetail) Key() StockKey {
	return StockKey{ProductCategory: sd.ProductCategory, ItemName: sd.ItemName, ProductVersion: sd.ProductVersion}
}

type PurchaseRequest struct {
	ID              string          `json:"id"`
	CompanyID       string          `json:"companyId"`
	ProductCategory string          `json:"productCategory"`
	ItemName        string          `json:"itemName"`
	ProductVersion  string          `json:"productVersion"`
	Quantity        decimal.Decimal `json:"quantity"`
	Status          RequestStatus   `json:"status"`
	RequestedBy     string          `json:"requestedBy,omitempty"`
	PurchaseOrderID string          `json:"purchaseOrderId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (pr PurchaseRequest) Key() StockKey {
	return StockKey{ProductCategory: pr.ProductCategory, ItemName: pr.ItemName, ProductVersion: pr.ProductVersion}
}

type PurchaseOrderItem struct {
	ProductCategory string          `json:"productCategory"`
	ItemName        string          `json:"itemName"`
	ProductVersion  string          `json:"productVersion"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unitCost"`
}

func (it PurchaseOrderItem) Key() StockKey {
	return StockKey{ProductCategory: it.ProductCategory, ItemName: it.ItemName, ProductVersion: it.ProductVersion}
}

type PurchaseOrder struct {
	ID          string              `json:"id"`
	CompanyID   string              `json:"companyId"`
	OrderNumber string              `json:"orderNumber"`
	VendorName  string              `json:"vendorName"`
	Items       []PurchaseOrderItem `json:"items"`
	RequestIDs  []string            `json:"requestIds,omitempty"`
	Status      string              `json:"status"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// Definition is a product or inventory catalog entry.
type Definition struct {
	ID              string    `json:"id"`
	CompanyID       string    `json:"companyId"`
	ProductCategory string    `json:"productCategory"`
	Name            string    `json:"name"`
	Versions        []string  `json:"versions"`
	CreatedAt       time.Time `json:"createdAt"`
}

const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CompanyID string `json:"companyId"`
}

type EmployeeStatus string

const (
	EmployeeInvited EmployeeStatus = "invited"
	EmployeeActive  EmployeeStatus = "active"
)

type Employee struct {
	ID        string         `json:"id"`
	CompanyID string         `json:"companyId"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Role      string         `json:"role"`
	Status    EmployeeStatus `json:"status"`
	InvitedAt time.Time      `json:"invitedAt"`
}

// Principal is the resolved identity of a request.
type Principal struct {
	UserID    string
	Email     string
	Role      string
	CompanyID string
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}
