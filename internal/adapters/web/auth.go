package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"invoicehub/internal/core"
	"invoicehub/internal/logger"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type identityKey struct{}
type principalKey struct{}

// Identity is the verified token subject. It exists before the user belongs to a company.
type Identity struct {
	UID   string
	Email string
}

// identityFromContext returns the verified identity stored in ctx, or nil.
func identityFromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey{}).(*Identity)
	return v
}

// principalFromContext returns the resolved principal stored in ctx, or nil.
func principalFromContext(ctx context.Context) *core.Principal {
	v, _ := ctx.Value(principalKey{}).(*core.Principal)
	return v
}

// tokenClaims is the payload issued by the auth provider.
type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (h *Handler) parseToken(raw string) (*tokenClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if h.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(h.cfg.Issuer))
	}
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(h.cfg.SigningKey), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// RequireToken is chi middleware that validates the bearer token and injects the Identity
// into the request context. Returns 401 if the token is absent or invalid.
func (h *Handler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		claims, err := h.parseToken(raw)
		if err != nil {
			logger.FromContext(r.Context()).Debug("rejected token", zap.Error(err))
			writeError(w, r, "invalid or expired token", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		id := &Identity{UID: claims.Subject, Email: claims.Email}
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(zap.String("uid", id.UID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePrincipal resolves the token identity to a company member. It must run after
// RequireToken. Users without a company get 403 NO_COMPANY.
func (h *Handler) RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identityFromContext(r.Context())
		if id == nil {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		p, err := h.svc.Resolve(r.Context(), id.UID, id.Email)
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, r, "user does not belong to a company", "NO_COMPANY", http.StatusForbidden)
			return
		}
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(zap.String("company_id", p.CompanyID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// me handles GET /api/v1/me.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	type meResponse struct {
		UserID    string `json:"userId"`
		Email     string `json:"email"`
		Role      string `json:"role"`
		CompanyID string `json:"companyId"`
	}
	writeJSON(w, meResponse{UserID: p.UserID, Email: p.Email, Role: p.Role, CompanyID: p.CompanyID})
}
