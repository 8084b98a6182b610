// Package auth defines how inbound requests are resolved to the identity
// performing them.
//
// Every resolution returns a two-level outcome. A non-nil error is a
// server fault: something the caller cannot fix, reported upstream as a
// generic internal error with the detail kept in the logs. A non-nil
// *Fault is a client fault: it carries the HTTP status code and message
// the boundary answers with. Only when both are nil is the returned
// value valid.
package auth

import (
	"context"
	"fmt"
	"net/http"
)

// Fault describes a failure caused by the request itself.
type Fault struct {
	Status  int
	Message string
}

// Error implements error so faults can be logged and asserted on.
func (f *Fault) Error() string { return f.Message }

// Faultf builds a Fault with a formatted message.
func Faultf(status int, format string, args ...any) *Fault {
	return &Fault{Status: status, Message: fmt.Sprintf(format, args...)}
}

// TokenHeader is the decoded, still unverified header of an inbound
// token.
type TokenHeader struct {
	Algorithm string
	KeyID     string
}

// Resolver authenticates a request from its headers.
type Resolver interface {
	// Authorize resolves the request headers to an Identity, a client
	// Fault, or a server error.
	Authorize(ctx context.Context, headers http.Header) (Identity, *Fault, error)
}

// KeyResolver maps a token header to the key that verifies its
// signature.
type KeyResolver interface {
	// ResolveKey returns the key material for the key id named by the
	// token header, a client Fault, or a server error.
	ResolveKey(ctx context.Context, header TokenHeader) ([]byte, *Fault, error)
}
