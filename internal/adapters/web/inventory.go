package web

import (
	"net/http"

	"invoicehub/internal/app"
	"invoicehub/internal/core"

	"github.com/go-chi/chi/v5"
)

// apiListStock handles GET /api/v1/stock.
func (h *Handler) apiListStock(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListStock(r.Context(), principalFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiUpsertStock handles PUT /api/v1/stock.
func (h *Handler) apiUpsertStock(w http.ResponseWriter, r *http.Request) {
	var req core.StockDetailInput
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := h.svc.UpsertStock(r.Context(), principalFromContext(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, view)
}

// apiValidateStock handles POST /api/v1/stock/validate.
func (h *Handler) apiValidateStock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LineItems []app.LineItemRequest `json:"lineItems"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	result, err := h.svc.ValidateStock(r.Context(), principalFromContext(r.Context()), body.LineItems)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// ── Purchase requests ─────────────────────────────────────────────────────────

// apiListPurchaseRequests handles GET /api/v1/purchase-requests?status=.
func (h *Handler) apiListPurchaseRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.ListPurchaseRequests(r.Context(), principalFromContext(r.Context()), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"requests": reqs})
}

// apiCreatePurchaseRequest handles POST /api/v1/purchase-requests.
func (h *Handler) apiCreatePurchaseRequest(w http.ResponseWriter, r *http.Request) {
	var req core.PurchaseRequestInput
	if !decodeJSON(w, r, &req) {
		return
	}
	pr, err := h.svc.CreatePurchaseRequest(r.Context(), principalFromContext(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, pr)
}

// apiReviewPurchaseRequest handles POST /api/v1/purchase-requests/{id}/approve and /reject.
func (h *Handler) apiReviewPurchaseRequest(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr, err := h.svc.ReviewPurchaseRequest(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"), approve)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, pr)
	}
}

// ── Purchase orders ───────────────────────────────────────────────────────────

// apiListPurchaseOrders handles GET /api/v1/purchase-orders.
func (h *Handler) apiListPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListPurchaseOrders(r.Context(), principalFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"orders": orders})
}

// apiCreatePurchaseOrder handles POST /api/v1/purchase-orders.
func (h *Handler) apiCreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req app.CreatePurchaseOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	po, err := h.svc.CreatePurchaseOrder(r.Context(), principalFromContext(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, po)
}

// apiGetPurchaseOrder handles GET /api/v1/purchase-orders/{id}.
func (h *Handler) apiGetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	po, err := h.svc.GetPurchaseOrder(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, po)
}

// apiDeletePurchaseOrder handles DELETE /api/v1/purchase-orders/{id}.
// The order's requests and stock markers roll back to approved in the same transaction.
func (h *Handler) apiDeletePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeletePurchaseOrder(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Definitions ───────────────────────────────────────────────────────────────

func (h *Handler) apiListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.svc.ListDefinitions(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "kind"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"definitions": defs})
}

func (h *Handler) apiCreateDefinition(w http.ResponseWriter, r *http.Request) {
	var req core.DefinitionInput
	if !decodeJSON(w, r, &req) {
		return
	}
	def, err := h.svc.CreateDefinition(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "kind"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, def)
}

// apiDeleteCategory handles DELETE /api/v1/categories/{category}. Partial failures are
// reported in the body with status 207.
func (h *Handler) apiDeleteCategory(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.DeleteCategory(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "category"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if len(res.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSONStatus(w, status, res)
}
