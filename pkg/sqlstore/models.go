package sqlstore

import (
	"time"

	"github.com/policystore/policystore/pkg/auth"
	"github.com/policystore/policystore/pkg/policy"
)

// PolicyRecord is a GORM model for one immutable policy version. The
// version number is assigned by AddVersion, not by the database.
type PolicyRecord struct {
	Version     int64     `gorm:"primaryKey;autoIncrement:false;column:version"`
	Name        string    `gorm:"column:name;not null"`
	Description string    `gorm:"column:description;not null"`
	Language    string    `gorm:"column:language;not null"`
	Creator     string    `gorm:"column:creator;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
	Content     string    `gorm:"column:content;not null"`
}

// TableName returns the GORM table name.
func (PolicyRecord) TableName() string { return "policies" }

// metadata converts the stored row into the contract shape. Only the
// creator's id is stored, so the display name is the placeholder.
func (r PolicyRecord) metadata() policy.Metadata {
	return policy.Metadata{
		Attached: policy.AttachedMetadata{Name: r.Name, Description: r.Description, Language: r.Language},
		Version:  uint64(r.Version),
		Creator:  auth.Identity{ID: r.Creator, Name: auth.DefaultDisplayName},
		Created:  r.CreatedAt.UTC(),
	}
}

// ActivationRecord is a GORM model for one row of the activation ledger.
// Rows are appended by Activate and amended at most once, when
// Deactivate stamps the deactivation columns; they are never deleted.
type ActivationRecord struct {
	ID            int64      `gorm:"primaryKey;autoIncrement;column:id"`
	Version       int64      `gorm:"column:version;not null;index:idx_activation_version"`
	ActivatedAt   time.Time  `gorm:"column:activated_at;not null"`
	ActivatedBy   string     `gorm:"column:activated_by;not null"`
	DeactivatedAt *time.Time `gorm:"column:deactivated_at"`
	DeactivatedBy *string    `gorm:"column:deactivated_by"`
}

// TableName returns the GORM table name.
func (ActivationRecord) TableName() string { return "activation_events" }
