package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository/models"
)

const sessionKeyPrefix = "session:"

// BadgerSessionStore keeps USSD sessions in an embedded badger database.
// Sessions are short lived and hot, so they do not need to share the ledger's database.
type BadgerSessionStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadger opens (or creates) the badger directory. An empty path opens an in-memory store.
func OpenBadger(path string, logger cmtlog.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{logger.With("module", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", path, err)
	}
	return db, nil
}

// NewBadgerSessionStore wraps an open badger handle
func NewBadgerSessionStore(db *badger.DB) *BadgerSessionStore {
	return &BadgerSessionStore{
		db:  db,
		now: time.Now,
	}
}

// GetOrCreate loads the session or stores defaults under id in one badger transaction
func (s *BadgerSessionStore) GetOrCreate(
	ctx context.Context,
	id string,
	defaults models.Session,
) (*models.Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var session models.Session
	created := false
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err == nil {
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, &session)
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		session = defaults
		session.ID = id
		now := s.now().UTC()
		session.CreatedAt = now
		session.UpdatedAt = now
		created = true
		return setSession(txn, &session)
	})
	if err != nil {
		return nil, false, &RepositoryError{
			Code:    CodeStoreError,
			Message: "Failed to load or create session",
			Detail:  err.Error(),
			Err:     err,
		}
	}
	return &session, created, nil
}

// Get loads a session by id
func (s *BadgerSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var session models.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, &RepositoryError{
				Code:    CodeEntityNotFound,
				Message: "Session does not exist",
				Detail:  fmt.Sprintf("Session with id %s does not exist", id),
				Err:     ErrSessionNotFound,
			}
		}
		return nil, &RepositoryError{
			Code:    CodeStoreError,
			Message: "Failed to read session",
			Detail:  err.Error(),
			Err:     err,
		}
	}
	return &session, nil
}

// Save overwrites the stored session
func (s *BadgerSessionStore) Save(ctx context.Context, session *models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now().UTC()
	}
	session.UpdatedAt = s.now().UTC()
	err := s.db.Update(func(txn *badger.Txn) error {
		return setSession(txn, session)
	})
	if err != nil {
		return &RepositoryError{
			Code:    CodeUpdateFailed,
			Message: "Failed to update session",
			Detail:  err.Error(),
			Err:     err,
		}
	}
	return nil
}

func setSession(txn *badger.Txn, session *models.Session) error {
	val, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", session.ID, err)
	}
	return txn.Set(sessionKey(session.ID), val)
}

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

// badgerLogger adapts the service logger to badger's printf-style interface
type badgerLogger struct {
	logger cmtlog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...), "level", "warn")
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
