package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"invoicehub/internal/adapters/web"
	"invoicehub/internal/app"
	"invoicehub/internal/config"
	"invoicehub/internal/core"
	"invoicehub/internal/docstore"
	"invoicehub/internal/mail"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	signingKey = "test-signing-key"
	issuer     = "https://auth.invoicehub.test"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type staticRates core.RateTable

func (r staticRates) FetchRates(ctx context.Context) (core.RateTable, error) {
	out := core.RateTable{}
	for k, v := range r {
		out[k] = v
	}
	return out, nil
}

type switchMailer struct {
	mu   sync.Mutex
	sent []mail.Invite
	err  error
}

func (m *switchMailer) SendEmployeeInvite(ctx context.Context, inv mail.Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, inv)
	return nil
}

func (m *switchMailer) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type server struct {
	t      *testing.T
	srv    *httptest.Server
	mailer *switchMailer
}

func newServer(t *testing.T, bodyLimit int64) *server {
	t.Helper()
	mailer := &switchMailer{}
	cfg := &config.Config{
		Rates:  config.RatesConfig{RefreshInterval: time.Hour, Timeout: time.Second},
		Outbox: config.OutboxConfig{BatchSize: 10, MaxAttempts: 3, DirectApply: true},
		Cache:  config.CacheConfig{Size: 16, TTL: time.Minute},
	}
	services := app.NewServices(docstore.NewMemoryStore(), cfg, app.Options{
		Rates:  staticRates{"USD": decimal.NewFromInt(1), "INR": decimal.NewFromInt(80)},
		Mailer: mailer,
		Clock:  func() time.Time { return now },
	}, zap.NewNop())

	h := web.NewHandler(app.NewAppService(services, zap.NewNop()), web.Config{
		SigningKey: signingKey,
		Issuer:     issuer,
		BodyLimit:  bodyLimit,
	}, zap.NewNop())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &server{t: t, srv: srv, mailer: mailer}
}

func token(t *testing.T, uid, email, iss string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   uid,
		"email": email,
		"iss":   iss,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	require.NoError(t, err)
	return signed
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, v), string(r.body))
}

func (r response) errorCode(t *testing.T) string {
	t.Helper()
	var e struct {
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	}
	r.decode(t, &e)
	assert.NotEmpty(t, e.RequestID)
	return e.Code
}

func (s *server) do(method, path, bearer string, body any, headers ...string) response {
	s.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(s.t, err)
	return response{status: resp.StatusCode, header: resp.Header, body: buf.Bytes()}
}

// register creates a company for uid and returns the admin token.
func (s *server) register(uid string) string {
	s.t.Helper()
	tok := token(s.t, uid, uid+"@acme.test", issuer)
	resp := s.do(http.MethodPost, "/api/v1/companies", tok, map[string]any{
		"name":     "Acme",
		"country":  "IN",
		"currency": "USD",
	})
	require.Equal(s.t, http.StatusCreated, resp.status, string(resp.body))
	return tok
}

func TestHealthAndRequestID(t *testing.T) {
	s := newServer(t, 0)

	resp := s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.status)
	var body struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}
	resp.decode(t, &body)
	assert.Equal(t, "ok", body.Status)
	assert.False(t, body.Timestamp.IsZero())
	assert.NotEmpty(t, resp.header.Get("X-Request-ID"))

	resp = s.do(http.MethodGet, "/api/health", "", nil, "X-Request-ID", "abc-123")
	assert.Equal(t, "abc-123", resp.header.Get("X-Request-ID"))

	resp = s.do(http.MethodGet, "/api/health", "", nil, "X-Request-ID", "bad id!")
	assert.NotEqual(t, "bad id!", resp.header.Get("X-Request-ID"))

	resp = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.status)
}

func TestAuthentication(t *testing.T) {
	s := newServer(t, 0)

	resp := s.do(http.MethodGet, "/api/v1/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "UNAUTHORIZED", resp.errorCode(t))

	resp = s.do(http.MethodGet, "/api/v1/me", token(t, "u1", "", "https://evil.test"), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status, "issuer is checked")

	resp = s.do(http.MethodGet, "/api/v1/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	newcomer := token(t, "u1", "u1@acme.test", issuer)
	resp = s.do(http.MethodGet, "/api/v1/company", newcomer, nil)
	require.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, "NO_COMPANY", resp.errorCode(t))

	admin := s.register("u1")
	resp = s.do(http.MethodGet, "/api/v1/me", admin, nil)
	require.Equal(t, http.StatusOK, resp.status)
	var me struct {
		Role      string `json:"role"`
		CompanyID string `json:"companyId"`
	}
	resp.decode(t, &me)
	assert.Equal(t, core.RoleAdmin, me.Role)
	assert.NotEmpty(t, me.CompanyID)
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	s := newServer(t, 0)
	admin := s.register("admin")

	resp := s.do(http.MethodPost, "/api/v1/clients", admin, map[string]any{"name": "Globex", "country": "US"})
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))
	var client core.Client
	resp.decode(t, &client)

	resp = s.do(http.MethodPost, "/api/v1/invoices", admin, map[string]any{"clientId": client.ID})
	require.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "VALIDATION_FAILED", resp.errorCode(t))

	resp = s.do(http.MethodPost, "/api/v1/invoices", admin, map[string]any{
		"clientId":  client.ID,
		"send":      true,
		"dueDate":   now.Add(30 * 24 * time.Hour),
		"lineItems": []map[string]any{{"description": "Consulting", "quantity": 2, "unitPrice": 50}},
	})
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))
	var created app.InvoiceResult
	resp.decode(t, &created)
	inv := created.Invoice
	assert.Equal(t, "INV-0001", inv.InvoiceNumber)
	assert.True(t, decimal.NewFromInt(8000).Equal(inv.TotalINR))

	resp = s.do(http.MethodPost, "/api/v1/invoices/"+inv.ID+"/payments", admin, map[string]any{"amount": 25})
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))

	resp = s.do(http.MethodGet, "/api/v1/invoices/"+inv.ID, admin, nil)
	require.Equal(t, http.StatusOK, resp.status)
	var got app.InvoiceResult
	resp.decode(t, &got)
	assert.Equal(t, core.InvoicePartiallyPaid, got.Invoice.Status)
	assert.True(t, decimal.NewFromInt(6000).Equal(got.Invoice.PendingINR), "got %s", got.Invoice.PendingINR)

	resp = s.do(http.MethodDelete, "/api/v1/invoices/"+inv.ID+"/payments/5", admin, nil)
	require.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "PAYMENT_INDEX_OUT_OF_RANGE", resp.errorCode(t))
	resp = s.do(http.MethodDelete, "/api/v1/invoices/"+inv.ID+"/payments/first", admin, nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	resp = s.do(http.MethodDelete, "/api/v1/invoices/"+inv.ID+"/payments/0", admin, nil)
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))

	resp = s.do(http.MethodGet, "/api/v1/invoices/"+inv.ID+"/export.xlsx", admin, nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.header.Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, resp.header.Get("Content-Disposition"), "invoice-INV-0001.xlsx")
	assert.True(t, bytes.HasPrefix(resp.body, []byte("PK")), "xlsx is a zip archive")

	resp = s.do(http.MethodGet, "/api/v1/invoices/missing", admin, nil)
	require.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, "NOT_FOUND", resp.errorCode(t))

	resp = s.do(http.MethodGet, "/api/v1/reports/receivables?asOf=2026-05-01", admin, nil)
	require.Equal(t, http.StatusOK, resp.status)
	resp = s.do(http.MethodGet, "/api/v1/reports/receivables?asOf=yesterday", admin, nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	// Another company cannot see the invoice.
	other := s.register("other-admin")
	resp = s.do(http.MethodGet, "/api/v1/invoices/"+inv.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestInsufficientStockIsConflict(t *testing.T) {
	s := newServer(t, 0)
	admin := s.register("admin")

	resp := s.do(http.MethodPost, "/api/v1/clients", admin, map[string]any{"name": "Globex", "country": "US"})
	require.Equal(t, http.StatusCreated, resp.status)
	var client core.Client
	resp.decode(t, &client)

	resp = s.do(http.MethodPut, "/api/v1/stock", admin, map[string]any{
		"productCategory": "hardware",
		"itemName":        "router",
		"currentStock":    1,
		"minRequired":     5,
	})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))

	resp = s.do(http.MethodPost, "/api/v1/invoices", admin, map[string]any{
		"clientId": client.ID,
		"lineItems": []map[string]any{{
			"description": "router", "quantity": 3, "unitPrice": 10,
			"fromStock": true, "productCategory": "hardware", "itemName": "router",
		}},
	})
	require.Equal(t, http.StatusConflict, resp.status)
	var body struct {
		Code    string                  `json:"code"`
		Details []core.InsufficientItem `json:"details"`
	}
	resp.decode(t, &body)
	assert.Equal(t, "INSUFFICIENT_STOCK", body.Code)
	require.Len(t, body.Details, 1)
	assert.True(t, decimal.NewFromInt(3).Equal(body.Details[0].Required))
}

func TestRolesAndInvites(t *testing.T) {
	s := newServer(t, 0)
	admin := s.register("admin")

	resp := s.do(http.MethodPost, "/api/v1/employees/invite", admin, map[string]any{
		"name":            "Dana",
		"email":           "dana@acme.test",
		"registrationUrl": "https://app.invoicehub.test/register",
	})
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))
	require.Len(t, s.mailer.sent, 1)

	employee := token(t, "uid-dana", "dana@acme.test", issuer)
	resp = s.do(http.MethodGet, "/api/v1/me", employee, nil)
	require.Equal(t, http.StatusOK, resp.status)

	resp = s.do(http.MethodGet, "/api/v1/employees", employee, nil)
	require.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, "FORBIDDEN", resp.errorCode(t))

	resp = s.do(http.MethodPut, "/api/v1/company", employee, map[string]any{"name": "Hijack", "country": "IN", "currency": "USD"})
	assert.Equal(t, http.StatusForbidden, resp.status)
}

func TestSendEmployeeInvite(t *testing.T) {
	s := newServer(t, 0)
	invite := map[string]any{
		"employeeName":    "Eve",
		"email":           "eve@acme.test",
		"companyName":     "Acme",
		"registrationUrl": "https://app.invoicehub.test/register",
	}

	resp := s.do(http.MethodPost, "/api/send-employee-invite", "", invite)
	require.Equal(t, http.StatusOK, resp.status)
	assert.JSONEq(t, `{"success":true}`, string(resp.body))

	s.mailer.fail(errors.New("relay refused"))
	resp = s.do(http.MethodPost, "/api/send-employee-invite", "", invite)
	require.Equal(t, http.StatusInternalServerError, resp.status)
	assert.JSONEq(t, `{"success":false,"error":"relay refused"}`, string(resp.body))
	assert.Len(t, s.mailer.sent, 1, "failures are not retried")
}

func TestSendEmployeeInviteRejectsMultilineFields(t *testing.T) {
	s := newServer(t, 0)
	base := map[string]any{
		"employeeName":    "Eve",
		"email":           "eve@acme.test",
		"companyName":     "Acme",
		"registrationUrl": "https://app.invoicehub.test/register",
	}
	cases := map[string]any{
		"companyName":     "Acme\r\nBcc: victim@evil.test",
		"employeeName":    "Eve\nReply-To: x@evil.test",
		"email":           "not-an-email",
		"registrationUrl": "",
	}
	for field, bad := range cases {
		t.Run(field, func(t *testing.T) {
			body := map[string]any{}
			for k, v := range base {
				body[k] = v
			}
			body[field] = bad
			resp := s.do(http.MethodPost, "/api/send-employee-invite", "", body)
			require.Equal(t, http.StatusBadRequest, resp.status, string(resp.body))
			var out struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}
			resp.decode(t, &out)
			assert.False(t, out.Success)
			assert.Contains(t, out.Error, field)
		})
	}
	assert.Empty(t, s.mailer.sent)
}

func TestBodyLimit(t *testing.T) {
	s := newServer(t, 256)
	admin := s.register("admin")

	resp := s.do(http.MethodPost, "/api/v1/clients", admin, `{"name":"`+strings.Repeat("x", 1024)+`","country":"US"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.status)
	assert.Equal(t, "REQUEST_TOO_LARGE", resp.errorCode(t))

	resp = s.do(http.MethodPost, "/api/v1/clients", admin, `{"name":`)
	require.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "BAD_REQUEST", resp.errorCode(t))
}
