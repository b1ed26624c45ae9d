package httputil

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	xlog "github.com/reelfeed/reelfeed/internal/log"
)

type contextKey string

const nonceKey contextKey = "csp-nonce"

// GenerateNonce returns a random CSP nonce, or "" if the system RNG fails.
func GenerateNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		l := xlog.WithComponent("http")
		l.Error().Err(err).Msg("failed to generate CSP nonce")
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func ContextWithNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, nonceKey, nonce)
}

func NonceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(nonceKey).(string); ok {
		return v
	}
	return ""
}
