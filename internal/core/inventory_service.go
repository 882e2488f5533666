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

// StockService manages Stock Detail quantities for stock-sourced invoice lines.
type StockService interface {
	// ValidateAvailability is a pure read. Lines without a matching Stock Detail are reported
	// with zero available.
	ValidateAvailability(ctx context.Context, companyID string, lines []LineItem) (AvailabilityResult, error)
	ListStock(ctx context.Context, companyID string) ([]StockView, error)
	UpsertStockDetail(ctx context.Context, companyID string, in StockDetailInput) (*StockView, error)

	// Standalone operations (run their own transaction).
	ApplyOnCreate(ctx context.Context, companyID string, lines []LineItem) error
	ApplyOnDelete(ctx context.Context, companyID string, lines []LineItem) error

	// TX-scoped operations: work within a caller-provided transaction.
	// Used by the outbox so the stock change commits with the record's status.

	// ApplyOnCreateTx decrements matching stock, floored at zero. Lines without a Stock
	// Detail are silently skipped.
	ApplyOnCreateTx(ctx context.Context, tx docstore.Tx, companyID string, lines []LineItem) error
	// ApplyOnDeleteTx restores matching stock. There is no upper bound.
	ApplyOnDeleteTx(ctx context.Context, tx docstore.Tx, companyID string, lines []LineItem) error
}

type stockService struct {
	store docstore.Store
	clock Clock
}

func NewStockService(store docstore.Store, clock Clock) StockService {
	if clock == nil {
		clock = time.Now
	}
	return &stockService{store: store, clock: clock}
}

// findStock returns the first Stock Detail matching key, or nil.
func findStock(ctx context.Context, r docstore.Reader, companyID string, key StockKey) (*StockDetail, error) {
	filters := append([]docstore.Filter{byCompany(companyID)}, byStockKey(key)...)
	found, err := list[StockDetail](ctx, r, CollStockDetails, filters...)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (s *stockService) ValidateAvailability(ctx context.Context, companyID string, lines []LineItem) (AvailabilityResult, error) {
	// Lines referencing the same item draw from one Stock Detail, so requirements add up.
	var order []StockKey
	required := map[StockKey]decimal.Decimal{}
	for _, li := range lines {
		if !li.FromStock {
			continue
		}
		k := li.StockKey()
		if _, seen := required[k]; !seen {
			order = append(order, k)
		}
		required[k] = required[k].Add(li.Quantity)
	}

	res := AvailabilityResult{Valid: true, Insufficient: []InsufficientItem{}}
	for _, k := range order {
		sd, err := findStock(ctx, s.store, companyID, k)
		if err != nil {
			return AvailabilityResult{}, fmt.Errorf("failed to look up stock %s: %w", k, err)
		}
		available := decimal.Zero
		if sd != nil {
			available = sd.CurrentStock
		}
		if available.LessThan(required[k]) {
			res.Valid = false
			res.Insufficient = append(res.Insufficient, InsufficientItem{Key: k, Required: required[k], Available: available})
		}
	}
	return res, nil
}

func (s *stockService) ListStock(ctx context.Context, companyID string) ([]StockView, error) {
	details, err := list[StockDetail](ctx, s.store, CollStockDetails, byCompany(companyID))
	if err != nil {
		return nil, err
	}
	views := make([]StockView, 0, len(details))
	for _, sd := range details {
		views = append(views, StockView{StockDetail: sd, Status: DeriveStockStatus(sd)})
	}
	return views, nil
}

func (s *stockService) UpsertStockDetail(ctx context.Context, companyID string, in StockDetailInput) (*StockView, error) {
	in.ProductCategory = strings.TrimSpace(in.ProductCategory)
	in.ItemName = strings.TrimSpace(in.ItemName)
	in.ProductVersion = strings.TrimSpace(in.ProductVersion)
	switch {
	case in.ProductCategory == "":
		return nil, invalid("productCategory", "is required")
	case in.ItemName == "":
		return nil, invalid("itemName", "is required")
	case in.CurrentStock.IsNegative(), in.MinRequired.IsNegative(), in.SafeQuantityLimit.IsNegative():
		return nil, invalid("quantities", "must not be negative")
	}

	var out StockDetail
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		existing, err := findStock(ctx, tx, companyID, in.key())
		if err != nil {
			return err
		}
		if existing != nil {
			out = *existing
		} else {
			out = StockDetail{
				ID:              uuid.NewString(),
				CompanyID:       companyID,
				ProductCategory: in.ProductCategory,
				ItemName:        in.ItemName,
				ProductVersion:  in.ProductVersion,
			}
		}
		out.CurrentStock = in.CurrentStock
		out.MinRequired = in.MinRequired
		out.SafeQuantityLimit = in.SafeQuantityLimit
		out.UpdatedAt = s.clock().UTC()
		return tx.Set(ctx, CollStockDetails, out.ID, out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save stock detail %s: %w", in.key(), err)
	}
	return &StockView{StockDetail: out, Status: DeriveStockStatus(out)}, nil
}

func (s *stockService) ApplyOnCreate(ctx context.Context, companyID string, lines []LineItem) error {
	return s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return s.ApplyOnCreateTx(ctx, tx, companyID, lines)
	})
}

func (s *stockService) ApplyOnDelete(ctx context.Context, companyID string, lines []LineItem) error {
	return s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return s.ApplyOnDeleteTx(ctx, tx, companyID, lines)
	})
}

func (s *stockService) ApplyOnCreateTx(ctx context.Context, tx docstore.Tx, companyID string, lines []LineItem) error {
	return s.adjustTx(ctx, tx, companyID, lines, func(current, qty decimal.Decimal) decimal.Decimal {
		return decimal.Max(current.Sub(qty), decimal.Zero)
	})
}

func (s *stockService) ApplyOnDeleteTx(ctx context.Context, tx docstore.Tx, companyID string, lines []LineItem) error {
	return s.adjustTx(ctx, tx, companyID, lines, func(current, qty decimal.Decimal) decimal.Decimal {
		return current.Add(qty)
	})
}

func (s *stockService) adjustTx(ctx context.Context, tx docstore.Tx, companyID string, lines []LineItem, next func(current, qty decimal.Decimal) decimal.Decimal) error {
	now := s.clock().UTC()
	for _, li := range lines {
		if !li.FromStock {
			continue
		}
		sd, err := findStock(ctx, tx, companyID, li.StockKey())
		if err != nil {
			return fmt.Errorf("failed to look up stock %s: %w", li.StockKey(), err)
		}
		if sd == nil {
			// No Stock Detail for this item, skip
			continue
		}
		err = tx.Update(ctx, CollStockDetails, sd.ID, docstore.Fields{
			"currentStock": next(sd.CurrentStock, li.Quantity),
			"updatedAt":    now,
		})
		if err != nil {
			return fmt.Errorf("failed to adjust stock %s: %w", li.StockKey(), err)
		}
	}
	return nil
}
