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

type purchaseOrderService struct {
	store docstore.Store
	clock Clock
}

// NewPurchaseOrderService constructs a PurchaseOrderService backed by the document store.
func NewPurchaseOrderService(store docstore.Store, clock Clock) PurchaseOrderService {
	if clock == nil {
		clock = time.Now
	}
	return &purchaseOrderService{store: store, clock: clock}
}

// markStockTx sets the request marker on the Stock Detail for key, if one exists.
func markStockTx(ctx context.Context, tx docstore.Tx, companyID string, key StockKey, fields docstore.Fields) error {
	sd, err := findStock(ctx, tx, companyID, key)
	if err != nil || sd == nil {
		return err
	}
	return tx.Update(ctx, CollStockDetails, sd.ID, fields)
}

func (s *purchaseOrderService) CreateRequest(ctx context.Context, companyID, requestedBy string, in PurchaseRequestInput) (*PurchaseRequest, error) {
	in.ProductCategory = strings.TrimSpace(in.ProductCategory)
	in.ItemName = strings.TrimSpace(in.ItemName)
	in.ProductVersion = strings.TrimSpace(in.ProductVersion)
	if in.ProductCategory == "" || in.ItemName == "" {
		return nil, invalid("item", "productCategory and itemName are required")
	}
	if !in.Quantity.IsPositive() {
		return nil, invalid("quantity", "must be greater than zero")
	}

	now := s.clock().UTC()
	req := PurchaseRequest{
		ID:              uuid.NewString(),
		CompanyID:       companyID,
		ProductCategory: in.ProductCategory,
		ItemName:        in.ItemName,
		ProductVersion:  in.ProductVersion,
		Quantity:        in.Quantity,
		Status:          RequestPending,
		RequestedBy:     requestedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if err := tx.Set(ctx, CollPurchaseRequests, req.ID, req); err != nil {
			return err
		}
		return markStockTx(ctx, tx, companyID, in.key(), docstore.Fields{
			"lastRequestStatus": RequestPending,
			"updatedAt":         now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create purchase request: %w", err)
	}
	return &req, nil
}

func (s *purchaseOrderService) ReviewRequest(ctx context.Context, p *Principal, requestID string, approve bool) (*PurchaseRequest, error) {
	if !p.IsAdmin() {
		return nil, fmt.Errorf("review purchase request: %w", ErrForbidden)
	}
	status := RequestRejected
	if approve {
		status = RequestApproved
	}

	var out PurchaseRequest
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		req, err := load[PurchaseRequest](ctx, tx, CollPurchaseRequests, requestID)
		if err != nil {
			return err
		}
		if req.CompanyID != p.CompanyID {
			return fmt.Errorf("purchase request %s: %w", requestID, ErrNotFound)
		}
		if req.Status != RequestPending {
			return invalid("status", fmt.Sprintf("request is %s, only pending requests can be reviewed", req.Status))
		}
		now := s.clock().UTC()
		req.Status = status
		req.UpdatedAt = now
		if err := tx.Set(ctx, CollPurchaseRequests, req.ID, req); err != nil {
			return err
		}
		out = *req
		return markStockTx(ctx, tx, req.CompanyID, req.Key(), docstore.Fields{
			"lastRequestStatus": status,
			"updatedAt":         now,
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *purchaseOrderService) ListRequests(ctx context.Context, companyID string, status RequestStatus) ([]PurchaseRequest, error) {
	filters := []docstore.Filter{byCompany(companyID)}
	if status != "" {
		filters = append(filters, docstore.Where("status", status))
	}
	return list[PurchaseRequest](ctx, s.store, CollPurchaseRequests, filters...)
}

func (s *purchaseOrderService) CreateFromRequests(ctx context.Context, companyID string, in CreateOrderInput) (*PurchaseOrder, error) {
	if strings.TrimSpace(in.VendorName) == "" {
		return nil, invalid("vendorName", "is required")
	}
	if len(in.RequestIDs) == 0 {
		return nil, invalid("requestIds", "at least one request is required")
	}

	var order PurchaseOrder
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		now := s.clock().UTC()
		order = PurchaseOrder{
			ID:          uuid.NewString(),
			CompanyID:   companyID,
			OrderNumber: fmt.Sprintf("PO-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.NewString()[:6])),
			VendorName:  strings.TrimSpace(in.VendorName),
			Status:      PurchaseOrderCreated,
			CreatedAt:   now,
		}

		seen := map[string]bool{}
		for _, id := range in.RequestIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			req, err := load[PurchaseRequest](ctx, tx, CollPurchaseRequests, id)
			if err != nil {
				return err
			}
			if req.CompanyID != companyID {
				return fmt.Errorf("purchase request %s: %w", id, ErrNotFound)
			}
			if req.Status != RequestApproved {
				return invalid("requestIds", fmt.Sprintf("request %s is %s, not approved", id, req.Status))
			}
			order.Items = append(order.Items, PurchaseOrderItem{
				ProductCategory: req.ProductCategory,
				ItemName:        req.ItemName,
				ProductVersion:  req.ProductVersion,
				Quantity:        req.Quantity,
				UnitCost:        in.UnitCosts[id],
			})
			order.RequestIDs = append(order.RequestIDs, id)

			if err := tx.Update(ctx, CollPurchaseRequests, id, docstore.Fields{
				"status":          RequestPOCreated,
				"purchaseOrderId": order.ID,
				"updatedAt":       now,
			}); err != nil {
				return err
			}
			sd, err := findStock(ctx, tx, companyID, req.Key())
			if err != nil {
				return err
			}
			if sd != nil {
				if err := tx.Update(ctx, CollStockDetails, sd.ID, docstore.Fields{
					"lastRequestStatus": RequestPOCreated,
					"poCreatedQuantity": sd.POCreatedQuantity.Add(req.Quantity),
					"updatedAt":         now,
				}); err != nil {
					return err
				}
			}
		}
		return tx.Set(ctx, CollPurchaseOrders, order.ID, order)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create purchase order: %w", err)
	}
	return &order, nil
}

func (s *purchaseOrderService) DeleteWithRollback(ctx context.Context, companyID, orderID string) error {
	order, err := s.Get(ctx, companyID, orderID)
	if err != nil {
		return err
	}

	now := s.clock().UTC()
	batch := docstore.NewBatch()
	requests := map[string]bool{}
	stock := map[string]bool{}
	for _, it := range order.Items {
		filters := append([]docstore.Filter{byCompany(companyID)}, byStockKey(it.Key())...)

		reqs, err := list[PurchaseRequest](ctx, s.store, CollPurchaseRequests, filters...)
		if err != nil {
			return err
		}
		for _, r := range reqs {
			if requests[r.ID] {
				continue
			}
			requests[r.ID] = true
			batch.Update(CollPurchaseRequests, r.ID, docstore.Fields{
				"status":          RequestApproved,
				"purchaseOrderId": "",
				"updatedAt":       now,
			})
		}

		details, err := list[StockDetail](ctx, s.store, CollStockDetails, filters...)
		if err != nil {
			return err
		}
		for _, sd := range details {
			if stock[sd.ID] {
				continue
			}
			stock[sd.ID] = true
			batch.Update(CollStockDetails, sd.ID, docstore.Fields{
				"lastRequestStatus": RequestApproved,
				"poCreatedQuantity": decimal.Zero,
				"updatedAt":         now,
			})
		}
	}
	batch.Delete(CollPurchaseOrders, order.ID)

	if err := s.store.Commit(ctx, batch); err != nil {
		return fmt.Errorf("failed to roll back purchase order %s: %w", order.OrderNumber, err)
	}
	return nil
}

func (s *purchaseOrderService) Get(ctx context.Context, companyID, orderID string) (*PurchaseOrder, error) {
	order, err := load[PurchaseOrder](ctx, s.store, CollPurchaseOrders, orderID)
	if err != nil {
		return nil, err
	}
	if order.CompanyID != companyID {
		return nil, fmt.Errorf("purchase order %s: %w", orderID, ErrNotFound)
	}
	return order, nil
}

func (s *purchaseOrderService) List(ctx context.Context, companyID string) ([]PurchaseOrder, error) {
	return list[PurchaseOrder](ctx, s.store, CollPurchaseOrders, byCompany(companyID))
}
