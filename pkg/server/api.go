package server

import (
	"encoding/json"

	"github.com/policystore/policystore/pkg/auth"
	"github.com/policystore/policystore/pkg/policy"
)

// AddVersionRequest is the body of POST /v2/policies.
type AddVersionRequest struct {
	// The metadata for this policy.
	Metadata policy.AttachedMetadata `json:"metadata"`
	// The contents of the policy itself.
	Contents json.RawMessage `json:"contents"`
}

// AddVersionResponse is replied when adding a new version.
type AddVersionResponse struct {
	// The newly assigned number of the version.
	Version uint64 `json:"version"`
}

// ActivateRequest is the body of PUT /v2/policies/active.
type ActivateRequest struct {
	// The version to activate.
	Version uint64 `json:"version"`
}

// GetVersionsResponse is replied when listing all versions.
type GetVersionsResponse struct {
	Versions map[uint64]policy.Metadata `json:"versions"`
}

// GetActiveVersionResponse is replied when retrieving the active
// version. Version is null when no version is active.
type GetActiveVersionResponse struct {
	Version *uint64 `json:"version"`
}

// GetActivatorResponse is replied when retrieving the identity that
// activated the current version. User is null when nothing is active.
type GetActivatorResponse struct {
	User *auth.Identity `json:"user"`
}

// GetVersionMetadataResponse is replied when retrieving the metadata of
// one version.
type GetVersionMetadataResponse struct {
	Metadata policy.Metadata `json:"metadata"`
}

// GetVersionContentResponse is replied when retrieving the content of
// one version.
type GetVersionContentResponse struct {
	Content json.RawMessage `json:"content"`
}
