// Package ha holds the coordination pieces for running several policy
// server replicas against one database.
package ha

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// lockKey names the advisory lock shared by every replica. Changing it
// orphans locks held by older builds.
const lockKey = "policystore-migration"

// MigrationLocker serializes schema migrations so that replicas booting
// at the same time do not run AutoMigrate concurrently.
type MigrationLocker interface {
	// WithLock runs fn while holding the migration lock. It blocks until
	// the lock is acquired and releases it when fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker picks a locking strategy for the database dialect.
// PostgreSQL gets a session advisory lock; everything else falls back to
// a lock table with insert-or-fail semantics.
func NewMigrationLocker(db *gorm.DB) MigrationLocker {
	if db == nil {
		return noopLock{}
	}
	if db.Dialector.Name() == "postgres" {
		return &advisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte(lockKey))),
		}
	}
	// The lock table must exist before the first WithLock call, or two
	// replicas could both fail on a missing table instead of contending.
	_ = db.AutoMigrate(&lockRecord{})
	return &tableLock{db: db}
}

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error { return fn() }

// advisoryLock serializes through pg_advisory_lock, which PostgreSQL
// releases automatically if the session dies.
type advisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *advisoryLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
	}()
	return fn()
}

type lockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (lockRecord) TableName() string { return "migration_lock" }

// tableLock holds the lock by owning the single row in the lock table.
// Rows older than staleLockAge are treated as leftovers from a crashed
// replica and swept before each attempt.
type tableLock struct {
	db *gorm.DB
}

const (
	lockRetries   = 30
	lockRetryWait = time.Second
	staleLockAge  = 5 * time.Minute
)

func (l *tableLock) WithLock(ctx context.Context, fn func() error) error {
	holder, _ := os.Hostname()
	if holder == "" {
		holder = "unknown"
	}

	var acquired bool
	for attempt := 0; attempt < lockRetries; attempt++ {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", lockKey, time.Now().Add(-staleLockAge)).
			Delete(&lockRecord{})

		row := lockRecord{ID: lockKey, LockedAt: time.Now(), LockedBy: holder}
		if err := l.db.WithContext(ctx).Create(&row).Error; err == nil {
			acquired = true
			break
		} else if attempt == lockRetries-1 {
			return fmt.Errorf("acquire migration lock after %d attempts: %w", lockRetries, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryWait):
		}
	}
	if !acquired {
		return fmt.Errorf("acquire migration lock")
	}

	defer func() {
		l.db.Where("id = ?", lockKey).Delete(&lockRecord{})
	}()
	return fn()
}
