package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// PurchaseOrderService manages purchase requests and the orders raised from them.
type PurchaseOrderService interface {
	// Requests
	CreateRequest(ctx context.Context, companyID, requestedBy string, in PurchaseRequestInput) (*PurchaseRequest, error)
	// ReviewRequest approves or rejects a pending request. Admin only.
	ReviewRequest(ctx context.Context, p *Principal, requestID string, approve bool) (*PurchaseRequest, error)
	ListRequests(ctx context.Context, companyID string, status RequestStatus) ([]PurchaseRequest, error)

	// Orders
	// CreateFromRequests raises one order from approved requests and marks them po-created.
	CreateFromRequests(ctx context.Context, companyID string, in CreateOrderInput) (*PurchaseOrder, error)
	// DeleteWithRollback deletes the order and, in the same atomic batch, returns matching
	// purchase requests to approved and clears the stock po markers.
	DeleteWithRollback(ctx context.Context, companyID, orderID string) error
	Get(ctx context.Context, companyID, orderID string) (*PurchaseOrder, error)
	List(ctx context.Context, companyID string) ([]PurchaseOrder, error)
}

type PurchaseRequestInput struct {
	ProductCategory string          `json:"productCategory" validate:"required"`
	ItemName        string          `json:"itemName" validate:"required"`
	ProductVersion  string          `json:"productVersion"`
	Quantity        decimal.Decimal `json:"quantity"`
}

func (in PurchaseRequestInput) key() StockKey {
	return StockKey{ProductCategory: in.ProductCategory, ItemName: in.ItemName, ProductVersion: in.ProductVersion}
}

// CreateOrderInput lists the approved requests to order. UnitCosts is keyed by request id;
// requests without an entry are ordered at zero cost.
type CreateOrderInput struct {
	VendorName string
	RequestIDs []string
	UnitCosts  map[string]decimal.Decimal
}

// PurchaseOrderCreated is the status of an order raised from requests.
const PurchaseOrderCreated = "created"
