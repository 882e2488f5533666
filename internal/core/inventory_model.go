package core

import (
	"github.com/shopspring/decimal"
)

// AvailabilityResult reports whether every stock-sourced line can be fulfilled.
type AvailabilityResult struct {
	Valid        bool               `json:"valid"`
	Insufficient []InsufficientItem `json:"insufficient"`
}

// StockView is a Stock Detail with its derived status.
type StockView struct {
	StockDetail
	Status StockStatus `json:"status"`
}

// StockDetailInput creates or replaces the quantities of one tracked item.
type StockDetailInput struct {
	ProductCategory   string          `json:"productCategory" validate:"required"`
	ItemName          string          `json:"itemName" validate:"required"`
	ProductVersion    string          `json:"productVersion"`
	CurrentStock      decimal.Decimal `json:"currentStock"`
	MinRequired       decimal.Decimal `json:"minRequired"`
	SafeQuantityLimit decimal.Decimal `json:"safeQuantityLimit"`
}

func (in StockDetailInput) key() StockKey {
	return StockKey{ProductCategory: in.ProductCategory, ItemName: in.ItemName, ProductVersion: in.ProductVersion}
}
