package web

import (
	"net/http"

	"invoicehub/internal/app"

	"github.com/go-chi/chi/v5"
)

// ── Clients ───────────────────────────────────────────────────────────────────

// apiListClients handles GET /api/v1/clients.
func (h *Handler) apiListClients(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListClients(r.Context(), principalFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiGetClient handles GET /api/v1/clients/{id}.
func (h *Handler) apiGetClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.svc.GetClient(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, client)
}

// apiCreateClient handles POST /api/v1/clients.
func (h *Handler) apiCreateClient(w http.ResponseWriter, r *http.Request) {
	var req app.ClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, err := h.svc.CreateClient(r.Context(), principalFromContext(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, client)
}

// apiUpdateClient handles PUT /api/v1/clients/{id}.
func (h *Handler) apiUpdateClient(w http.ResponseWriter, r *http.Request) {
	var req app.ClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, err := h.svc.UpdateClient(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, client)
}

// ── Invoices ──────────────────────────────────────────────────────────────────

// apiListInvoices handles GET /api/v1/invoices?status=&clientId=.
func (h *Handler) apiListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.svc.ListInvoices(r.Context(), principalFromContext(r.Context()), q.Get("status"), q.Get("clientId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiCreateInvoice handles POST /api/v1/invoices.
func (h *Handler) apiCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req app.CreateInvoiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.CreateInvoice(r.Context(), principalFromContext(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiGetInvoice handles GET /api/v1/invoices/{id}.
func (h *Handler) apiGetInvoice(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetInvoice(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiUpdateInvoice handles PATCH /api/v1/invoices/{id}.
func (h *Handler) apiUpdateInvoice(w http.ResponseWriter, r *http.Request) {
	var req app.UpdateInvoiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.UpdateInvoice(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiDeleteInvoice handles DELETE /api/v1/invoices/{id}.
func (h *Handler) apiDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteInvoice(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apiRecomputeStatus handles POST /api/v1/invoices/{id}/recompute-status.
func (h *Handler) apiRecomputeStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.RecomputeInvoiceStatus(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiExportInvoice handles GET /api/v1/invoices/{id}/export.xlsx.
func (h *Handler) apiExportInvoice(w http.ResponseWriter, r *http.Request) {
	file, err := h.svc.ExportInvoice(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeFile(w, file)
}

// ── Payments ──────────────────────────────────────────────────────────────────

// apiGetLedger handles GET /api/v1/invoices/{id}/payments.
func (h *Handler) apiGetLedger(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetLedger(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiRecordPayment handles POST /api/v1/invoices/{id}/payments.
func (h *Handler) apiRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req app.PaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.RecordPayment(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// apiDeletePayment handles DELETE /api/v1/invoices/{id}/payments/{index}.
func (h *Handler) apiDeletePayment(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(r, "index")
	if !ok {
		writeError(w, r, "payment index must be an integer", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.DeletePayment(r.Context(), principalFromContext(r.Context()), chi.URLParam(r, "id"), index)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
