// Package policy defines the contracts for versioned policy storage.
//
// A Connector opens Connections scoped to one identity; the Connection
// carries the mutation and query operations over one backing store. The
// content type parameter is opaque to the store: implementations
// round-trip it through serialization without inspecting its shape.
//
// The activation ledger is append-only. Which version is active is
// always derived from the ledger, never kept as a separate pointer that
// could drift from it.
package policy

import (
	"context"
	"time"

	"github.com/policystore/policystore/pkg/auth"
)

// AttachedMetadata is the caller-supplied description of a policy
// version. None of the fields need to be unique.
type AttachedMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Language    string `json:"language"`
}

// Metadata describes a stored policy version: the attached metadata plus
// the fields the store stamps when the version is created.
type Metadata struct {
	Attached AttachedMetadata `json:"attached"`
	Version  uint64           `json:"version"`
	Creator  auth.Identity    `json:"creator"`
	Created  time.Time        `json:"created"`
}

// Connector opens identity-scoped connections to a policy store. One
// Connector is shared by all request handlers and must be safe for
// concurrent use.
type Connector[C any] interface {
	// Connect opens a Connection acting on behalf of the given identity.
	Connect(ctx context.Context, identity auth.Identity) (Connection[C], error)
}

// Connection exposes the policy store operations, attributed to the
// identity it was opened with.
//
// Every returned error is a server fault. A version that does not exist
// is reported as a nil result, never as an error. Each mutation runs
// inside exactly one exclusive transaction; no transaction spans calls.
type Connection[C any] interface {
	// AddVersion appends a new policy version and returns the number the
	// ledger assigned to it. Version numbers start at 1 and increase by
	// one per stored version, with no gaps even under concurrent calls.
	AddVersion(ctx context.Context, metadata AttachedMetadata, content C) (uint64, error)

	// Activate marks the given version as the enforced one. Activating
	// the version that is already active is a no-op. The version is not
	// required to exist among the stored policies.
	Activate(ctx context.Context, version uint64) error

	// Deactivate retires the currently enforced version. A no-op when
	// nothing is active.
	Deactivate(ctx context.Context) error

	// GetVersions lists every stored version with its metadata.
	GetVersions(ctx context.Context) (map[uint64]Metadata, error)

	// GetActiveVersion reports the enforced version, or nil if none is.
	GetActiveVersion(ctx context.Context) (*uint64, error)

	// GetActivator reports who activated the enforced version, or nil if
	// none is active.
	GetActivator(ctx context.Context) (*auth.Identity, error)

	// GetVersionMetadata fetches one version's metadata, or nil if the
	// version was never stored.
	GetVersionMetadata(ctx context.Context, version uint64) (*Metadata, error)

	// GetVersionContent fetches one version's content, or nil if the
	// version was never stored.
	GetVersionContent(ctx context.Context, version uint64) (*C, error)
}
