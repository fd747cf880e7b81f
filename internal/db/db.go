// Package db opens the journal database and applies its schema.
// It supports two drivers: "sqlite" (pure-Go, no external process) and
// "postgres" (PostgreSQL via pgx/v5).
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/d9705996/statusbridge/internal/config"
	"github.com/d9705996/statusbridge/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrJournalSchema is returned when the journal tables are missing after
// migrations ran.
var ErrJournalSchema = errors.New("journal schema incomplete")

// journalModels are the tables the store reads and writes. SQLite creates
// them with AutoMigrate; on Postgres they come from migrations/.
func journalModels() []any {
	return []any{&model.ActionRecord{}, &model.MappingSnapshot{}}
}

// New opens the journal database and makes sure its tables exist. It
// returns the *gorm.DB for the store and, only for Driver=="postgres", the
// pgxpool.Pool River runs on.
func New(ctx context.Context, cfg *config.DBConfig) (*gorm.DB, *pgxpool.Pool, error) {
	var (
		gormDB *gorm.DB
		pool   *pgxpool.Pool
		err    error
	)
	switch cfg.Driver {
	case "postgres":
		gormDB, pool, err = openPostgres(ctx, cfg)
	default:
		gormDB, err = openSQLite(cfg)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := checkJournal(gormDB.WithContext(ctx)); err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, nil, err
	}
	return gormDB, pool, nil
}

func checkJournal(db *gorm.DB) error {
	m := db.Migrator()
	for _, t := range journalModels() {
		if !m.HasTable(t) {
			return fmt.Errorf("%w: missing table for %T", ErrJournalSchema, t)
		}
	}
	return nil
}

// openSQLite opens the journal file, creating it and its directory when
// needed.
func openSQLite(cfg *config.DBConfig) (*gorm.DB, error) {
	if dir := filepath.Dir(cfg.File); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(cfg.File), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite journal %s: %w", cfg.File, err)
	}
	// The engine writes while the admin API reads.
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := db.AutoMigrate(journalModels()...); err != nil {
		return nil, fmt.Errorf("sqlite automigrate: %w", err)
	}
	return db, nil
}

// openPostgres applies the journal migrations and opens GORM on top of the
// same pgxpool.Pool that River uses.
func openPostgres(ctx context.Context, cfg *config.DBConfig) (*gorm.DB, *pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse db dsn: %w", err)
	}
	if cfg.MaxConns > math.MaxInt32 {
		return nil, nil, fmt.Errorf("DB_MAX_CONNS %d exceeds maximum value (%d)", cfg.MaxConns, math.MaxInt32)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := runPostgresMigrations(cfg.DSN); err != nil {
		pool.Close()
		return nil, nil, err
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("open postgres journal: %w", err)
	}

	return gormDB, pool, nil
}

// runPostgresMigrations brings the journal tables up to date.
func runPostgresMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse dsn for migrations: %w", err)
	}
	sqlDB := stdlib.OpenDB(*poolCfg.ConnConfig)
	defer func() { _ = sqlDB.Close() }()

	driver, err := migratepostgres.WithInstance(sqlDB, &migratepostgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// DBPinger reports whether the journal is reachable.
type DBPinger struct {
	db *gorm.DB
}

// NewPinger returns a DBPinger that can be passed to health.New.
func NewPinger(db *gorm.DB) *DBPinger {
	return &DBPinger{db: db}
}

// Ping checks connectivity and that the actions table is still readable.
func (p *DBPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return err
	}
	if err := p.db.WithContext(ctx).Exec("SELECT 1 FROM actions LIMIT 1").Error; err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	return nil
}
