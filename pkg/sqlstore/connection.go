package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/policystore/policystore/pkg/auth"
	"github.com/policystore/policystore/pkg/policy"
)

// Connection is an identity-scoped view of the store. Every mutation it
// performs is attributed to the identity it was opened with.
type Connection[C any] struct {
	db       *gorm.DB
	identity auth.Identity
	logger   *slog.Logger
}

// exclusive runs fn inside one serializable transaction, so the
// read-then-decide-then-write sequences of the mutations cannot
// interleave.
func (c *Connection[C]) exclusive(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.db.WithContext(ctx).Transaction(fn, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// activeRow derives the enforced ledger row: the one with the latest
// activation time, and only while its deactivation fields are unset.
// Returns nil without error when nothing is active. Older rows that were
// never deactivated are inert history; only the most recent row counts.
func activeRow(db *gorm.DB) (*ActivationRecord, error) {
	var rec ActivationRecord
	err := db.Order("activated_at DESC, id DESC").First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active version: %w", err)
	}
	if rec.DeactivatedAt != nil {
		return nil, nil
	}
	return &rec, nil
}

// AddVersion implements policy.Connection. The next version number is
// read and the row inserted inside the same transaction, so concurrent
// submissions cannot be assigned the same number.
func (c *Connection[C]) AddVersion(ctx context.Context, metadata policy.AttachedMetadata, content C) (uint64, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return 0, &policy.ContentError{Name: metadata.Name, Err: err}
	}

	var assigned uint64
	err = c.exclusive(ctx, func(tx *gorm.DB) error {
		var latest int64
		if err := tx.Model(&PolicyRecord{}).Select("version").Order("created_at DESC").Limit(1).Scan(&latest).Error; err != nil {
			return fmt.Errorf("get latest version: %w", err)
		}

		record := PolicyRecord{
			Version:     latest + 1,
			Name:        metadata.Name,
			Description: metadata.Description,
			Language:    metadata.Language,
			Creator:     c.identity.ID,
			CreatedAt:   time.Now().UTC(),
			Content:     string(raw),
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("add version %d: %w", record.Version, err)
		}
		assigned = uint64(record.Version)
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.logger.Info("added policy version", "version", assigned, "name", metadata.Name, "creator", c.identity.ID)
	return assigned, nil
}

// Activate implements policy.Connection. Activating the version that is
// already active appends nothing. The version is not required to exist
// among the stored policies; the ledger is independent of them.
func (c *Connection[C]) Activate(ctx context.Context, version uint64) error {
	return c.exclusive(ctx, func(tx *gorm.DB) error {
		current, err := activeRow(tx)
		if err != nil {
			return err
		}
		if current != nil && uint64(current.Version) == version {
			c.logger.Info("activated already-active version", "version", version)
			return nil
		}

		record := ActivationRecord{
			Version:     int64(version),
			ActivatedAt: time.Now().UTC(),
			ActivatedBy: c.identity.ID,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("activate version %d: %w", version, err)
		}
		c.logger.Info("activated policy version", "version", version, "by", c.identity.ID)
		return nil
	})
}

// Deactivate implements policy.Connection. A no-op when nothing is
// active; otherwise the enforced row is stamped, never removed.
func (c *Connection[C]) Deactivate(ctx context.Context) error {
	return c.exclusive(ctx, func(tx *gorm.DB) error {
		current, err := activeRow(tx)
		if err != nil {
			return err
		}
		if current == nil {
			c.logger.Info("deactivated while no version was active")
			return nil
		}

		updates := map[string]any{
			"deactivated_at": time.Now().UTC(),
			"deactivated_by": c.identity.ID,
		}
		if err := tx.Model(&ActivationRecord{}).Where("id = ?", current.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("deactivate version %d: %w", current.Version, err)
		}
		c.logger.Info("deactivated policy version", "version", current.Version, "by", c.identity.ID)
		return nil
	})
}

// GetVersions implements policy.Connection.
func (c *Connection[C]) GetVersions(ctx context.Context) (map[uint64]policy.Metadata, error) {
	var records []PolicyRecord
	if err := c.db.WithContext(ctx).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("get versions: %w", err)
	}

	versions := make(map[uint64]policy.Metadata, len(records))
	for _, rec := range records {
		versions[uint64(rec.Version)] = rec.metadata()
	}
	return versions, nil
}

// GetActiveVersion implements policy.Connection.
func (c *Connection[C]) GetActiveVersion(ctx context.Context) (*uint64, error) {
	row, err := activeRow(c.db.WithContext(ctx))
	if err != nil || row == nil {
		return nil, err
	}
	version := uint64(row.Version)
	return &version, nil
}

// GetActivator implements policy.Connection. Only the activator's id is
// stored on the ledger row; the display name is the placeholder.
func (c *Connection[C]) GetActivator(ctx context.Context) (*auth.Identity, error) {
	row, err := activeRow(c.db.WithContext(ctx))
	if err != nil || row == nil {
		return nil, err
	}
	return &auth.Identity{ID: row.ActivatedBy, Name: auth.DefaultDisplayName}, nil
}

// GetVersionMetadata implements policy.Connection. An unknown version is
// a nil result, not an error.
func (c *Connection[C]) GetVersionMetadata(ctx context.Context, version uint64) (*policy.Metadata, error) {
	var rec PolicyRecord
	err := c.db.WithContext(ctx).Where("version = ?", int64(version)).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get version %d: %w", version, err)
	}
	meta := rec.metadata()
	return &meta, nil
}

// GetVersionContent implements policy.Connection. An unknown version is
// a nil result, not an error; stored content that no longer deserializes
// is a ContentError.
func (c *Connection[C]) GetVersionContent(ctx context.Context, version uint64) (*C, error) {
	var rec PolicyRecord
	err := c.db.WithContext(ctx).Where("version = ?", int64(version)).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get version %d: %w", version, err)
	}

	var content C
	if err := json.Unmarshal([]byte(rec.Content), &content); err != nil {
		return nil, &policy.ContentError{Name: rec.Name, Version: version, Err: err}
	}
	return &content, nil
}
