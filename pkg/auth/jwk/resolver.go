package jwk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"

	"github.com/policystore/policystore/pkg/auth"
)

const bearerPrefix = "Bearer "

// hmacMethods are the signing algorithms octet keys can verify.
var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// Resolver authenticates requests carrying a bearer JWT. The token's
// signature is checked with the key its header names, using the
// algorithm its header declares, and the identity id is read from the
// configured claim.
type Resolver struct {
	// IdentityClaim is the claim holding the identity id. String and
	// numeric claim values are accepted.
	IdentityClaim string
	// Keys resolves the verification key for a token header.
	Keys auth.KeyResolver

	logger *slog.Logger
}

// NewResolver returns a Resolver reading the identity id from the given
// claim. A nil logger falls back to slog.Default().
func NewResolver(identityClaim string, keys auth.KeyResolver, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{IdentityClaim: identityClaim, Keys: keys, logger: logger}
}

// Authorize implements auth.Resolver.
func (r *Resolver) Authorize(ctx context.Context, headers http.Header) (auth.Identity, *auth.Fault, error) {
	raw := headers.Get("Authorization")
	switch {
	case raw == "":
		return auth.Identity{}, auth.Faultf(http.StatusBadRequest, "no Authorization header found"), nil
	case !utf8.ValidString(raw):
		return auth.Identity{}, auth.Faultf(http.StatusBadRequest, "Authorization header is not valid UTF-8"), nil
	case !strings.HasPrefix(raw, bearerPrefix):
		return auth.Identity{}, auth.Faultf(http.StatusBadRequest, `Authorization header does not start with "Bearer "`), nil
	}
	tokenString := raw[len(bearerPrefix):]

	// Decode the header without verifying, to learn which key and
	// algorithm the verification itself needs.
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return auth.Identity{}, auth.Faultf(http.StatusBadRequest, "malformed token: %v", err), nil
	}
	tokenHeader := auth.TokenHeader{Algorithm: unverified.Method.Alg()}
	if kid, ok := unverified.Header["kid"].(string); ok {
		tokenHeader.KeyID = kid
	}

	key, fault, err := r.Keys.ResolveKey(ctx, tokenHeader)
	if err != nil {
		return auth.Identity{}, nil, fmt.Errorf("resolve key for token: %w", err)
	}
	if fault != nil {
		return auth.Identity{}, fault, nil
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithValidMethods(hmacMethods))
	if err != nil {
		r.logger.Debug("token validation failed", "error", err)
		return auth.Identity{}, auth.Faultf(http.StatusUnauthorized, "token validation failed: %v", err), nil
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return auth.Identity{}, nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}

	value, ok := claims[r.IdentityClaim]
	if !ok {
		return auth.Identity{}, auth.Faultf(http.StatusBadRequest, "token carries no %q claim", r.IdentityClaim), nil
	}
	var id string
	switch v := value.(type) {
	case string:
		id = v
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return auth.Identity{}, auth.Faultf(http.StatusBadRequest, "claim %q has illegal type %T, expected string or number", r.IdentityClaim, value), nil
	}

	return auth.Identity{ID: id, Name: auth.DefaultDisplayName}, nil, nil
}
