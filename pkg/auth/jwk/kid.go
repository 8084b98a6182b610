package jwk

import (
	"context"
	"net/http"

	"github.com/policystore/policystore/pkg/auth"
)

// KIDResolver resolves verification keys by the key id named in the
// token header, against a pre-validated KeySet.
type KIDResolver struct {
	Keys *KeySet
}

// ResolveKey looks up the token's key id. The set was validated when it
// was loaded, so lookups never produce a server fault.
func (r *KIDResolver) ResolveKey(_ context.Context, header auth.TokenHeader) ([]byte, *auth.Fault, error) {
	if header.KeyID == "" {
		return nil, auth.Faultf(http.StatusBadRequest, "token header carries no key id"), nil
	}
	key, ok := r.Keys.Key(header.KeyID)
	if !ok {
		return nil, auth.Faultf(http.StatusNotFound, "unknown key id %q", header.KeyID), nil
	}
	return key, nil, nil
}
