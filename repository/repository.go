package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgreSQL error codes as constants
const (
	// Class 23 - Integrity Constraint Violation
	PgErrUniqueViolation = "23505" // unique_violation
	PgErrCheckViolation  = "23514" // check_violation

	// Class 08 - Connection Exception
	PgErrConnectionException = "08000" // connection_exception
	PgErrConnectionFailure   = "08006" // connection_failure

	// Class 40 - Transaction Rollback
	PgErrSerializationFailure = "40001" // serialization_failure
)

// Repository error codes that are not SQLSTATEs
const (
	CodeDatabaseError  = "DATABASE_ERROR"
	CodeEntityNotFound = "ENTITY_NOT_FOUND"
	CodeUpdateFailed   = "UPDATE_FAILED"
	CodeCommitFailed   = "COMMIT_FAILED"
	CodeStoreError     = "STORE_ERROR"
)

var (
	// ErrTransactionNotFound is returned when no transaction carries the requested key
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrSessionNotFound is returned when a session id is unknown to the store
	ErrSessionNotFound = errors.New("session not found")
)

// RepositoryError represent an error in the repository layer
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
	Err     error
}

func (e *RepositoryError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// toRepositoryError maps driver errors onto RepositoryError, keeping SQLSTATE codes when present
func toRepositoryError(message string, err error) *RepositoryError {
	var repoErr *RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case PgErrConnectionException, PgErrConnectionFailure:
			return &RepositoryError{
				Code:    CodeDatabaseError,
				Message: message + ": database connection lost",
				Detail:  pgErr.Message,
				Err:     err,
			}
		case PgErrSerializationFailure:
			return &RepositoryError{
				Code:    CodeCommitFailed,
				Message: message + ": concurrent update, retry the request",
				Detail:  pgErr.Message,
				Err:     err,
			}
		}
		return &RepositoryError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
			Err:     err,
		}
	}
	return &RepositoryError{
		Code:    CodeDatabaseError,
		Message: message,
		Detail:  err.Error(),
		Err:     err,
	}
}

// isUniqueViolation reports whether err is a duplicate key on insert
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == PgErrUniqueViolation
}

// Repository owns the relational store: the transaction ledger, the price table
// and the retrieval audit log
type Repository struct {
	db     *gorm.DB
	logger cmtlog.Logger
}

// NewRepository wraps an already opened gorm handle
func NewRepository(db *gorm.DB, logger cmtlog.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying handle for stores sharing the connection
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Open connects to the configured database, retrying while it comes up
func Open(driver, dsn string, attempts int, logger cmtlog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "":
		dialector = postgres.Open(dsn)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if attempts < 1 {
		attempts = 1
	}

	gormConfig := &gorm.Config{
		TranslateError: true,
		// Sessions may live in badger, so transactions cannot carry a hard FK to them
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormlogger.New(gormWriter{logger}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	var lastErr error
	for i := range attempts {
		logger.Info("Connecting to database", "driver", driver, "attempt", i+1)
		db, err := gorm.Open(dialector, gormConfig)
		if err == nil {
			logger.Info("Connected to database", "driver", driver)
			return db, nil
		}
		lastErr = err
		logger.Error("Database connection failed", "attempt", i+1, "err", err)
		if i < attempts-1 {
			time.Sleep(2 * time.Second)
		}
	}
	return nil, fmt.Errorf("connect %s: %w", driver, lastErr)
}

// Migrate creates or updates every table this service owns
func (r *Repository) Migrate() error {
	err := r.db.AutoMigrate(
		&models.Session{},
		&models.Transaction{},
		&models.RetrievalRequest{},
		&models.Price{},
	)
	if err != nil {
		return toRepositoryError("Migration failed", err)
	}
	r.logger.Info("Database migration completed successfully")
	return nil
}

// Seed inserts the default checker price when no price row exists yet
func (r *Repository) Seed() error {
	var priceCount int64
	if err := r.db.Model(&models.Price{}).Count(&priceCount).Error; err != nil {
		return toRepositoryError("Failed to count prices", err)
	}
	if priceCount > 0 {
		r.logger.Info("Seed data already exists, skipping...")
		return nil
	}

	price := models.Price{
		ItemCode:   WassceItemCode,
		PriceCents: DefaultPriceCents,
		Active:     true,
	}
	if err := r.db.Create(&price).Error; err != nil {
		return toRepositoryError("Failed to seed price", err)
	}
	r.logger.Info("Database seeding completed successfully", "price", price.String())
	return nil
}

// gormWriter routes gorm's own logging through the service logger
type gormWriter struct {
	logger cmtlog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)), "module", "gorm")
}
