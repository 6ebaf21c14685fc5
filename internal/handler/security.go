package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/auth"
	"github.com/xenking/oolio-orders/pkg/httpmiddleware"
)

const apiKeyHeader = "api_key"

// SecurityHandler authenticates admin requests with HMAC-SHA256 hashed API
// keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Require rejects requests without a valid API key (401) or whose key lacks
// scope (403). The accepted key is stored in the request context.
func (s *SecurityHandler) Require(scope string) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := s.authenticate(r)
			if err != nil {
				if !errors.Is(err, auth.ErrKeyNotFound) {
					zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
				}
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "unauthorized", "fix_input")
				return
			}
			if !info.Allows(scope) {
				httpmiddleware.WriteError(w, http.StatusForbidden, "api key lacks scope "+scope, "fix_input")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithKey(r.Context(), info)))
		})
	}
}

func (s *SecurityHandler) authenticate(r *http.Request) (*auth.APIKeyInfo, error) {
	key := r.Header.Get(apiKeyHeader)
	if key == "" {
		return nil, auth.ErrKeyNotFound
	}
	hash := auth.HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(r.Context(), hash)
	if err != nil {
		return nil, err
	}
	// The repository may return a row that does not match exactly.
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
		return nil, auth.ErrKeyNotFound
	}
	return info, nil
}
