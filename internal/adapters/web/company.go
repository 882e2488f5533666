package web

import (
	"errors"
	"net/http"

	"invoicehub/internal/app"
	"invoicehub/internal/core"
	"invoicehub/internal/logger"

	"go.uber.org/zap"
)

// apiRegisterCompany handles POST /api/v1/companies. The caller becomes the admin.
func (h *Handler) apiRegisterCompany(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	var req app.CompanyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.RegisterCompany(r.Context(), id.UID, id.Email, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

func (h *Handler) apiGetCompany(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetCompany(r.Context(), principalFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) apiUpdateCompany(w http.ResponseWriter, r *http.Request) {
	var req app.CompanyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.UpdateCompany(r.Context(), principalFromContext(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// ── Employees ─────────────────────────────────────────────────────────────────

func (h *Handler) apiListEmployees(w http.ResponseWriter, r *http.Request) {
	emps, err := h.svc.ListEmployees(r.Context(), principalFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"employees": emps})
}

// apiInviteEmployee handles POST /api/v1/employees/invite.
func (h *Handler) apiInviteEmployee(w http.ResponseWriter, r *http.Request) {
	var req app.InviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	emp, err := h.svc.InviteEmployee(r.Context(), principalFromContext(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, emp)
}

// sendEmployeeInvite handles POST /api/send-employee-invite. The body is validated before any
// mail is built; delivery is attempted once.
func (h *Handler) sendEmployeeInvite(w http.ResponseWriter, r *http.Request) {
	var req app.SendInviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.svc.SendInvite(r.Context(), req)
	type response struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	if errors.Is(err, core.ErrValidation) {
		writeJSONStatus(w, http.StatusBadRequest, response{Success: false, Error: err.Error()})
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("invite email failed", zap.Error(err))
		writeJSONStatus(w, http.StatusInternalServerError, response{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, response{Success: true})
}

// ── Currency ──────────────────────────────────────────────────────────────────

func (h *Handler) apiRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.svc.Rates(r.Context()))
}

func (h *Handler) apiConvert(w http.ResponseWriter, r *http.Request) {
	var req app.ConvertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.Convert(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// ── Reports ───────────────────────────────────────────────────────────────────

// apiReceivables handles GET /api/v1/reports/receivables?asOf=.
func (h *Handler) apiReceivables(w http.ResponseWriter, r *http.Request) {
	asOf, err := queryTime(r, "asOf")
	if err != nil {
		writeError(w, r, "asOf must be RFC 3339 or YYYY-MM-DD", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	report, err := h.svc.Receivables(r.Context(), principalFromContext(r.Context()), asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, report)
}

func (h *Handler) apiExportReceivables(w http.ResponseWriter, r *http.Request) {
	asOf, err := queryTime(r, "asOf")
	if err != nil {
		writeError(w, r, "asOf must be RFC 3339 or YYYY-MM-DD", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	file, err := h.svc.ExportReceivables(r.Context(), principalFromContext(r.Context()), asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeFile(w, file)
}

// apiSchemas handles GET /api/v1/schemas.
func (h *Handler) apiSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.svc.Schemas())
}
