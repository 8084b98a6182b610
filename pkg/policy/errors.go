package policy

import "fmt"

// ContentError reports policy content that could not be serialized for
// storage, or deserialized back out of it. It is kept distinct from
// plain storage errors so a corrupt stored payload can be told apart
// from an unreachable database.
//
// Version is 0 when the failure happened before the ledger assigned a
// number, which only occurs while serializing new content.
type ContentError struct {
	Name    string
	Version uint64
	Err     error
}

func (e *ContentError) Error() string {
	if e.Version == 0 {
		return fmt.Sprintf("serialize content of policy %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("deserialize content of policy %q (version %d): %v", e.Name, e.Version, e.Err)
}

func (e *ContentError) Unwrap() error { return e.Err }
