package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"invoicehub/internal/docstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CompanyService reads and maintains tenant profiles and their clients. Reads go through a
// TTL cache; local writes invalidate it. Edits made elsewhere may be served stale until the
// entry expires, which invoices tolerate because they snapshot profile data.
type CompanyService interface {
	// CreateCompany registers a new tenant and its admin user in one transaction.
	CreateCompany(ctx context.Context, adminUID, adminEmail string, in CompanyInput) (*Company, error)
	GetCompany(ctx context.Context, companyID string) (*Company, error)
	// UpdateCompany requires an admin principal of the same company.
	UpdateCompany(ctx context.Context, p *Principal, in CompanyInput) (*Company, error)

	GetClient(ctx context.Context, companyID, clientID string) (*Client, error)
	ListClients(ctx context.Context, companyID string) ([]Client, error)
	CreateClient(ctx context.Context, companyID string, in ClientInput) (*Client, error)
	UpdateClient(ctx context.Context, companyID, clientID string, in ClientInput) (*Client, error)

	// InvalidateCompany drops a cached company, e.g. after its counter moved in a transaction.
	InvalidateCompany(companyID string)
}

// CompanyInput carries editable company attributes.
type CompanyInput struct {
	Name            string
	Address         string
	Country         string
	Currency        string
	TaxIdentifiers  TaxIdentifiers
	Banking         Banking
	InvoiceSettings *InvoiceSettings
	DefaultTaxRate  decimal.Decimal
}

type ClientInput struct {
	Name     string
	Email    string
	Address  string
	Country  string
	Currency string
}

type companyService struct {
	store     docstore.Store
	companies *TTLCache[string, Company]
	clients   *TTLCache[string, Client]
	clock     Clock
}

// NewCompanyService constructs a CompanyService with caches of the given size and TTL.
func NewCompanyService(store docstore.Store, cacheSize int, ttl time.Duration, clock Clock) CompanyService {
	if clock == nil {
		clock = time.Now
	}
	return &companyService{
		store:     store,
		companies: NewTTLCache[string, Company](cacheSize, ttl, clock),
		clients:   NewTTLCache[string, Client](cacheSize, ttl, clock),
		clock:     clock,
	}
}

func (in CompanyInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name", "is required")
	}
	if strings.TrimSpace(in.Country) == "" {
		return invalid("country", "is required")
	}
	if strings.TrimSpace(in.Currency) == "" {
		return invalid("currency", "is required")
	}
	if in.DefaultTaxRate.IsNegative() {
		return invalid("defaultTaxRate", "must not be negative")
	}
	if s := in.InvoiceSettings; s != nil && (s.NextNumber < 1 || s.Padding < 0) {
		return invalid("invoiceSettings", "nextNumber must be >= 1 and padding >= 0")
	}
	return nil
}

func (s *companyService) CreateCompany(ctx context.Context, adminUID, adminEmail string, in CompanyInput) (*Company, error) {
	if adminUID == "" {
		return nil, invalid("adminUserId", "is required")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	c := Company{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(in.Name),
		Address:         in.Address,
		Country:         strings.ToUpper(in.Country),
		Currency:        strings.ToUpper(in.Currency),
		TaxIdentifiers:  in.TaxIdentifiers,
		Banking:         in.Banking,
		InvoiceSettings: InvoiceSettings{Prefix: "INV-", NextNumber: 1, Padding: 4},
		DefaultTaxRate:  in.DefaultTaxRate,
		AdminUserID:     adminUID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.InvoiceSettings != nil {
		c.InvoiceSettings = *in.InvoiceSettings
	}

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, CollUsers, adminUID); err == nil {
			return invalid("adminUserId", "already belongs to a company")
		}
		if err := tx.Set(ctx, CollCompanies, c.ID, c); err != nil {
			return err
		}
		return tx.Set(ctx, CollUsers, adminUID, User{ID: adminUID, Email: adminEmail, Role: RoleAdmin, CompanyID: c.ID})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create company: %w", err)
	}
	s.companies.Set(c.ID, c)
	return &c, nil
}

func (s *companyService) GetCompany(ctx context.Context, companyID string) (*Company, error) {
	if c, ok := s.companies.Get(companyID); ok {
		return &c, nil
	}
	c, err := load[Company](ctx, s.store, CollCompanies, companyID)
	if err != nil {
		return nil, err
	}
	s.companies.Set(companyID, *c)
	return c, nil
}

func (s *companyService) UpdateCompany(ctx context.Context, p *Principal, in CompanyInput) (*Company, error) {
	if !p.IsAdmin() {
		return nil, fmt.Errorf("update company: %w", ErrForbidden)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	var updated Company
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		c, err := load[Company](ctx, tx, CollCompanies, p.CompanyID)
		if err != nil {
			return err
		}
		c.Name = strings.TrimSpace(in.Name)
		c.Address = in.Address
		c.Country = strings.ToUpper(in.Country)
		c.Currency = strings.ToUpper(in.Currency)
		c.TaxIdentifiers = in.TaxIdentifiers
		c.Banking = in.Banking
		c.DefaultTaxRate = in.DefaultTaxRate
		if in.InvoiceSettings != nil {
			c.InvoiceSettings = *in.InvoiceSettings
		}
		c.UpdatedAt = s.clock().UTC()
		updated = *c
		return tx.Set(ctx, CollCompanies, c.ID, c)
	})
	s.companies.Invalidate(p.CompanyID)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *companyService) InvalidateCompany(companyID string) {
	s.companies.Invalidate(companyID)
}

func (s *companyService) GetClient(ctx context.Context, companyID, clientID string) (*Client, error) {
	if c, ok := s.clients.Get(clientID); ok {
		if c.CompanyID != companyID {
			return nil, fmt.Errorf("client %s: %w", clientID, ErrNotFound)
		}
		return &c, nil
	}
	c, err := load[Client](ctx, s.store, CollClients, clientID)
	if err != nil {
		return nil, err
	}
	s.clients.Set(clientID, *c)
	if c.CompanyID != companyID {
		return nil, fmt.Errorf("client %s: %w", clientID, ErrNotFound)
	}
	return c, nil
}

func (s *companyService) ListClients(ctx context.Context, companyID string) ([]Client, error) {
	return list[Client](ctx, s.store, CollClients, byCompany(companyID))
}

func (in ClientInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name", "is required")
	}
	if strings.TrimSpace(in.Country) == "" {
		return invalid("country", "is required")
	}
	return nil
}

func (s *companyService) CreateClient(ctx context.Context, companyID string, in ClientInput) (*Client, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	c := Client{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		Name:      strings.TrimSpace(in.Name),
		Email:     in.Email,
		Address:   in.Address,
		Country:   strings.ToUpper(in.Country),
		Currency:  strings.ToUpper(in.Currency),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Set(ctx, CollClients, c.ID, c); err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	s.clients.Set(c.ID, c)
	return &c, nil
}

func (s *companyService) UpdateClient(ctx context.Context, companyID, clientID string, in ClientInput) (*Client, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var updated Client
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		c, err := load[Client](ctx, tx, CollClients, clientID)
		if err != nil {
			return err
		}
		if c.CompanyID != companyID {
			return fmt.Errorf("client %s: %w", clientID, ErrNotFound)
		}
		c.Name = strings.TrimSpace(in.Name)
		c.Email = in.Email
		c.Address = in.Address
		c.Country = strings.ToUpper(in.Country)
		c.Currency = strings.ToUpper(in.Currency)
		c.UpdatedAt = s.clock().UTC()
		updated = *c
		return tx.Set(ctx, CollClients, c.ID, c)
	})
	s.clients.Invalidate(clientID)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
