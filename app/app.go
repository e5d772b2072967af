package app

import (
	"context"
	"errors"

	"github.com/honuKdestine/kingflex-programmable-ussd-app/gateway"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository/models"
)

var (
	// ErrInvalidUserInput marks input the current step cannot accept; the step is re-prompted
	ErrInvalidUserInput = errors.New("invalid user input")
	// ErrUnknownState marks a session whose step has no handler for the event
	ErrUnknownState = errors.New("unknown session state")
)

// SessionStore persists USSD sessions keyed by the aggregator's session id
type SessionStore interface {
	GetOrCreate(ctx context.Context, id string, defaults models.Session) (*models.Session, bool, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Save(ctx context.Context, session *models.Session) error
}

// Ledger is the transaction and retrieval record store
type Ledger interface {
	CreatePending(ctx context.Context, session *models.Session, amountCents int64) (*models.Transaction, error)
	GetTransaction(ctx context.Context, id uint) (*models.Transaction, error)
	AttachInitiator(ctx context.Context, id uint, mobile string) (*models.Transaction, error)
	MarkSuccess(ctx context.Context, tx *models.Transaction, orderID string, payload models.GatewayPayload) error
	MarkFailed(ctx context.Context, tx *models.Transaction, payload models.GatewayPayload) error
	FindMostRecentByClientReference(ctx context.Context, ref string) (*models.Transaction, error)
	RecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error)
	RecordRetrieval(ctx context.Context, req *models.RetrievalRequest) error
}

// PriceSource returns the active unit price of the checker in minor units
type PriceSource interface {
	UnitPriceCents(ctx context.Context) (int64, error)
}

// Acknowledger delivers one fulfillment acknowledgement to the gateway
type Acknowledger interface {
	Acknowledge(ctx context.Context, ack gateway.Acknowledgement) error
}
