package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository/models"
	"gorm.io/gorm"
)

// GormSessionStore keeps USSD sessions in the relational database
type GormSessionStore struct {
	db *gorm.DB
}

// NewGormSessionStore shares the repository's connection
func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

// GetOrCreate loads the session or inserts defaults under id.
// A concurrent insert of the same id is resolved by re-reading the winner.
func (s *GormSessionStore) GetOrCreate(
	ctx context.Context,
	id string,
	defaults models.Session,
) (*models.Session, bool, error) {
	session, err := s.Get(ctx, id)
	if err == nil {
		return session, false, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, false, err
	}

	created := defaults
	created.ID = id
	err = s.db.WithContext(ctx).Create(&created).Error
	if err != nil {
		if isUniqueViolation(err) {
			session, err := s.Get(ctx, id)
			if err != nil {
				return nil, false, err
			}
			return session, false, nil
		}
		return nil, false, toRepositoryError("Failed to create session", err)
	}
	return &created, true, nil
}

// Get loads a session by id
func (s *GormSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Where("session_id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    CodeEntityNotFound,
				Message: "Session does not exist",
				Detail:  fmt.Sprintf("Session with id %s does not exist", id),
				Err:     ErrSessionNotFound,
			}
		}
		return nil, toRepositoryError("Database error", err)
	}
	return &session, nil
}

// Save persists every field of the session
func (s *GormSessionStore) Save(ctx context.Context, session *models.Session) error {
	err := s.db.WithContext(ctx).Omit("Transactions").Save(session).Error
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
