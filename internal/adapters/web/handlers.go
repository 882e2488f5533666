package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"invoicehub/internal/app"
	"invoicehub/internal/metrics"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Config holds the HTTP adapter settings.
type Config struct {
	AllowedOrigins string
	SigningKey     string
	Issuer         string
	BodyLimit      int64
}

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc    app.ApplicationService
	cfg    Config
	log    *zap.Logger
	router chi.Router
	now    func() time.Time
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, cfg Config, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 1 << 20
	}
	h := &Handler{svc: svc, cfg: cfg, log: log, now: time.Now}

	r := chi.NewRouter()
	r.Use(RequestID(log))
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(metrics.Middleware)
	r.Use(CORS(cfg.AllowedOrigins))

	// ── Public ────────────────────────────────────────────────────────────────
	r.Get("/health", h.health)
	r.Get("/api/health", h.health)
	r.Handle("/metrics", metrics.Handler())
	r.With(RequestBodyLimit(cfg.BodyLimit)).Post("/api/send-employee-invite", h.sendEmployeeInvite)

	// ── Authenticated API ─────────────────────────────────────────────────────
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequestBodyLimit(cfg.BodyLimit))
		r.Use(h.RequireToken)

		// Registration needs a verified token but no company yet.
		r.Post("/companies", h.apiRegisterCompany)

		r.Group(func(r chi.Router) {
			r.Use(h.RequirePrincipal)

			r.Get("/me", h.me)
			r.Get("/company", h.apiGetCompany)
			r.Put("/company", h.apiUpdateCompany)

			r.Get("/clients", h.apiListClients)
			r.Post("/clients", h.apiCreateClient)
			r.Get("/clients/{id}", h.apiGetClient)
			r.Put("/clients/{id}", h.apiUpdateClient)

			r.Get("/invoices", h.apiListInvoices)
			r.Post("/invoices", h.apiCreateInvoice)
			r.Get("/invoices/{id}", h.apiGetInvoice)
			r.Patch("/invoices/{id}", h.apiUpdateInvoice)
			r.Delete("/invoices/{id}", h.apiDeleteInvoice)
			r.Post("/invoices/{id}/recompute-status", h.apiRecomputeStatus)
			r.Get("/invoices/{id}/export.xlsx", h.apiExportInvoice)

			r.Get("/invoices/{id}/payments", h.apiGetLedger)
			r.Post("/invoices/{id}/payments", h.apiRecordPayment)
			r.Delete("/invoices/{id}/payments/{index}", h.apiDeletePayment)

			r.Get("/stock", h.apiListStock)
			r.Put("/stock", h.apiUpsertStock)
			r.Post("/stock/validate", h.apiValidateStock)

			r.Get("/purchase-requests", h.apiListPurchaseRequests)
			r.Post("/purchase-requests", h.apiCreatePurchaseRequest)
			r.Post("/purchase-requests/{id}/approve", h.apiReviewPurchaseRequest(true))
			r.Post("/purchase-requests/{id}/reject", h.apiReviewPurchaseRequest(false))

			r.Get("/purchase-orders", h.apiListPurchaseOrders)
			r.Post("/purchase-orders", h.apiCreatePurchaseOrder)
			r.Get("/purchase-orders/{id}", h.apiGetPurchaseOrder)
			r.Delete("/purchase-orders/{id}", h.apiDeletePurchaseOrder)

			r.Get("/definitions/{kind}", h.apiListDefinitions)
			r.Post("/definitions/{kind}", h.apiCreateDefinition)
			r.Delete("/categories/{category}", h.apiDeleteCategory)

			r.Get("/currency/rates", h.apiRates)
			r.Post("/currency/convert", h.apiConvert)

			r.Get("/employees", h.apiListEmployees)
			r.Post("/employees/invite", h.apiInviteEmployee)

			r.Get("/reports/receivables", h.apiReceivables)
			r.Get("/reports/receivables.xlsx", h.apiExportReceivables)

			r.Get("/schemas", h.apiSchemas)
		})
	})

	h.router = r
	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}
	writeJSON(w, response{Status: "ok", Timestamp: h.now().UTC()})
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// queryTime parses an optional RFC 3339 or YYYY-MM-DD query parameter.
func queryTime(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	// A bare date means the end of that day.
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(24*time.Hour - time.Nanosecond), nil
}

func pathIndex(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	return n, err == nil
}

func writeFile(w http.ResponseWriter, f *app.FileResult) {
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+f.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	_, _ = w.Write(f.Data)
}
