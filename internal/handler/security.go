package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mercadochaco/storefront/internal/domain/auth"
)

// Request headers understood by the API.
const (
	APIKeyHeader   = "apikey"
	DeviceIDHeader = "X-Device-ID"
)

type (
	buyerKey  struct{}
	deviceKey struct{}
)

// BuyerFromContext returns the authenticated buyer id, or "" for anonymous
// requests.
func BuyerFromContext(ctx context.Context) string {
	id, _ := ctx.Value(buyerKey{}).(string)
	return id
}

// DeviceFromContext returns the device id chosen by Device.
func DeviceFromContext(ctx context.Context) string {
	id, _ := ctx.Value(deviceKey{}).(string)
	return id
}

// SecurityHandler authenticates client applications by api key and buyers by
// bearer token.
type SecurityHandler struct {
	keys   *auth.KeyChecker
	tokens *auth.TokenVerifier
}

// NewSecurityHandler creates a SecurityHandler.
func NewSecurityHandler(keys *auth.KeyChecker, tokens *auth.TokenVerifier) *SecurityHandler {
	return &SecurityHandler{keys: keys, tokens: tokens}
}

// Authenticate requires a valid api key. A bearer token is optional, but
// when present it must verify; its subject becomes the buyer id.
func (s *SecurityHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		client, err := s.keys.Check(ctx, r.Header.Get(APIKeyHeader))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx = zctx.With(ctx, zap.String("client", client.Name))

		if authz := r.Header.Get("Authorization"); authz != "" {
			token, ok := strings.CutPrefix(authz, "Bearer ")
			if !ok {
				writeError(w, r, auth.ErrUnauthorized)
				return
			}
			buyerID, err := s.tokens.Verify(token)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx = context.WithValue(ctx, buyerKey{}, buyerID)
			ctx = zctx.With(ctx, zap.String("buyer_id", buyerID))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Device picks the device session for the request. A missing X-Device-ID
// gets a fresh id; the chosen id is always echoed back so clients can keep
// it.
func Device(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(DeviceIDHeader)
		switch {
		case id == "":
			id = uuid.NewString()
		case !validDeviceID(id):
			writeError(w, r, badRequest("invalid "+DeviceIDHeader, nil))
			return
		}
		w.Header().Set(DeviceIDHeader, id)

		ctx := context.WithValue(r.Context(), deviceKey{}, id)
		ctx = zctx.With(ctx, zap.String("device_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validDeviceID accepts up to 64 characters of [A-Za-z0-9_-].
func validDeviceID(id string) bool {
	if len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
