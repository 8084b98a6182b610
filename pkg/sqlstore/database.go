// Package sqlstore implements the policy storage contracts on top of a
// relational database through GORM. SQLite, PostgreSQL and MySQL are
// supported; tests run on an in-memory SQLite database.
package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/policystore/policystore/pkg/auth"
	"github.com/policystore/policystore/pkg/ha"
	"github.com/policystore/policystore/pkg/policy"
)

// DefaultSQLiteDSN opens a local database file next to the server. The
// immediate transaction lock makes writers take the write lock when the
// transaction begins rather than at the first write.
const DefaultSQLiteDSN = "./policies.db?_pragma=busy_timeout(10000)&_txlock=immediate"

// Open dials the given database engine and returns a GORM handle with a
// bounded connection pool.
func Open(dbType, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbType {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q (want sqlite, postgres or mysql)", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dbType, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve sql db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s database: %w", dbType, err)
	}
	return db, nil
}

// Database hands out identity-scoped connections over one shared GORM
// handle. It is safe for concurrent use; the pool underneath bounds the
// number of live database sessions.
type Database[C any] struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New migrates the schema and wraps the handle. A nil logger falls back
// to slog.Default(). Replicas booting at the same time serialize their
// migrations through a shared lock.
func New[C any](db *gorm.DB, logger *slog.Logger) (*Database[C], error) {
	if logger == nil {
		logger = slog.Default()
	}
	err := ha.NewMigrationLocker(db).WithLock(context.Background(), func() error {
		return db.AutoMigrate(&PolicyRecord{}, &ActivationRecord{})
	})
	if err != nil {
		return nil, fmt.Errorf("auto-migrate policy store: %w", err)
	}
	return &Database[C]{db: db, logger: logger}, nil
}

// Connect implements policy.Connector. Acquiring a session is verified
// here, so an exhausted pool or an unreachable backend surfaces when the
// connection is opened instead of halfway through an operation.
func (d *Database[C]) Connect(ctx context.Context, identity auth.Identity) (policy.Connection[C], error) {
	sqlDB, err := d.db.DB()
	if err != nil {
		return nil, fmt.Errorf("connect to policy store: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connect to policy store: %w", err)
	}
	return &Connection[C]{db: d.db, identity: identity, logger: d.logger}, nil
}

// Close releases the underlying connection pool.
func (d *Database[C]) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
