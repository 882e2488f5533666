package app

import (
	"time"

	"invoicehub/internal/core"
	"invoicehub/internal/mail"

	"github.com/shopspring/decimal"
)

// CompanyRequest is the input for registering or editing a company.
type CompanyRequest struct {
	Name            string                `json:"name" validate:"required"`
	Address         string                `json:"address"`
	Country         string                `json:"country" validate:"required,alpha,len=2"`
	Currency        string                `json:"currency" validate:"required,alpha,len=3"`
	TaxIdentifiers  core.TaxIdentifiers   `json:"taxIdentifiers"`
	Banking         core.Banking          `json:"banking"`
	InvoiceSettings *core.InvoiceSettings `json:"invoiceSettings"`
	DefaultTaxRate  decimal.Decimal       `json:"defaultTaxRate"`
}

func (r CompanyRequest) input() core.CompanyInput {
	return core.CompanyInput{
		Name:            r.Name,
		Address:         r.Address,
		Country:         r.Country,
		Currency:        r.Currency,
		TaxIdentifiers:  r.TaxIdentifiers,
		Banking:         r.Banking,
		InvoiceSettings: r.InvoiceSettings,
		DefaultTaxRate:  r.DefaultTaxRate,
	}
}

// ClientRequest is the input for creating or editing a client.
type ClientRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	Address  string `json:"address"`
	Country  string `json:"country" validate:"required,alpha,len=2"`
	Currency string `json:"currency" validate:"omitempty,alpha,len=3"`
}

func (r ClientRequest) input() core.ClientInput {
	return core.ClientInput{Name: r.Name, Email: r.Email, Address: r.Address, Country: r.Country, Currency: r.Currency}
}

// LineItemRequest is a single line within a CreateInvoiceRequest.
type LineItemRequest struct {
	Description     string          `json:"description" validate:"required"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	FromStock       bool            `json:"fromStock"`
	ProductCategory string          `json:"productCategory" validate:"required_if=FromStock true"`
	ItemName        string          `json:"itemName" validate:"required_if=FromStock true"`
	ProductVersion  string          `json:"productVersion"`
}

func (r LineItemRequest) input() core.LineItemInput {
	return core.LineItemInput{
		Description:     r.Description,
		Quantity:        r.Quantity,
		UnitPrice:       r.UnitPrice,
		FromStock:       r.FromStock,
		ProductCategory: r.ProductCategory,
		ItemName:        r.ItemName,
		ProductVersion:  r.ProductVersion,
	}
}

func lineInputs(lines []LineItemRequest) []core.LineItemInput {
	out := make([]core.LineItemInput, len(lines))
	for i, l := range lines {
		out[i] = l.input()
	}
	return out
}

// CreateInvoiceRequest is the input for creating an invoice. A zero IssueDate means today.
type CreateInvoiceRequest struct {
	ClientID               string            `json:"clientId" validate:"required"`
	LineItems              []LineItemRequest `json:"lineItems" validate:"required,min=1,dive"`
	ExchangeRate           decimal.Decimal   `json:"exchangeRate"`
	IssueDate              time.Time         `json:"issueDate"`
	DueDate                time.Time         `json:"dueDate"`
	Notes                  string            `json:"notes"`
	Send                   bool              `json:"send"`
	AllowInsufficientStock bool              `json:"allowInsufficientStock"`
}

// UpdateInvoiceRequest carries the editable invoice fields. Nil fields are unchanged.
type UpdateInvoiceRequest struct {
	Notes   *string    `json:"notes"`
	DueDate *time.Time `json:"dueDate"`
	Status  *string    `json:"status" validate:"omitempty,oneof=draft sent"`
}

// PaymentRequest is one partial payment. A zero PaymentDate means today and a zero
// ConversionRate uses the current rate.
type PaymentRequest struct {
	Amount         decimal.Decimal  `json:"amount"`
	ConversionRate decimal.Decimal  `json:"conversionRate"`
	PendingINR     *decimal.Decimal `json:"pendingINR"`
	PaymentDate    time.Time        `json:"paymentDate"`
	Method         string           `json:"method" validate:"omitempty,max=64"`
	Reference      string           `json:"reference" validate:"omitempty,max=128"`
}

// CreatePurchaseOrderRequest raises an order from approved purchase requests.
type CreatePurchaseOrderRequest struct {
	VendorName string                     `json:"vendorName" validate:"required"`
	RequestIDs []string                   `json:"requestIds" validate:"required,min=1,dive,required"`
	UnitCosts  map[string]decimal.Decimal `json:"unitCosts"`
}

// ConvertRequest converts Amount between From and To using the current rates.
type ConvertRequest struct {
	Amount decimal.Decimal `json:"amount"`
	From   string          `json:"from" validate:"required,alpha,len=3"`
	To     string          `json:"to" validate:"required,alpha,len=3"`
}

// SendInviteRequest is the body of the public invitation mail endpoint. Every field lands
// in a mail header or link, so each must be a single line.
type SendInviteRequest struct {
	EmployeeName    string `json:"employeeName" validate:"required,singleline,max=200"`
	Email           string `json:"email" validate:"required,singleline,email"`
	CompanyName     string `json:"companyName" validate:"required,singleline,max=200"`
	RegistrationURL string `json:"registrationUrl" validate:"required,singleline,url"`
}

func (r SendInviteRequest) invite() mail.Invite {
	return mail.Invite{
		EmployeeName:    r.EmployeeName,
		Email:           r.Email,
		CompanyName:     r.CompanyName,
		RegistrationURL: r.RegistrationURL,
	}
}

// InviteRequest invites an employee into the caller's company.
type InviteRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email" validate:"required,email"`
	Role            string `json:"role" validate:"omitempty,oneof=admin employee"`
	RegistrationURL string `json:"registrationUrl" validate:"required,url"`
}
