package app

import (
	"context"
	"fmt"
	"testing"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository/models"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo     *repository.Repository
	sessions *repository.GormSessionStore
	prices   *repository.PriceSource
	machine  *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := repository.Open("sqlite", dsn, 1, cmtlog.NewNopLogger())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := repository.NewRepository(db, cmtlog.NewNopLogger())
	require.NoError(t, repo.Migrate())

	prices, err := repository.NewPriceSource(repo, repository.WassceItemCode, repository.DefaultPriceCents, 0)
	require.NoError(t, err)
	t.Cleanup(prices.Close)

	sessions := repository.NewGormSessionStore(repo.DB())
	matcher := NewMatcher(repo, 0, cmtlog.NewNopLogger())

	return &fixture{
		repo:     repo,
		sessions: sessions,
		prices:   prices,
		machine:  NewMachine(sessions, repo, prices, matcher, cmtlog.NewNopLogger()),
	}
}

// seed stores a session at the given step
func (f *fixture) seed(t *testing.T, id string, step int, data models.PurchaseData) *models.Session {
	t.Helper()
	session, _, err := f.sessions.GetOrCreate(context.Background(), id, models.Session{Mobile: "233551234567"})
	require.NoError(t, err)
	session.Step = step
	session.Data = data
	require.NoError(t, f.sessions.Save(context.Background(), session))
	return session
}

func (f *fixture) respond(t *testing.T, id, message string) *Directive {
	t.Helper()
	d, err := f.machine.Handle(context.Background(), Event{
		SessionID: id,
		Type:      EventResponse,
		Message:   message,
		Mobile:    "233551234567",
		Sequence:  2,
	})
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

func (f *fixture) session(t *testing.T, id string) *models.Session {
	t.Helper()
	session, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	return session
}

func (f *fixture) transactions(t *testing.T) []models.Transaction {
	t.Helper()
	txs, err := f.repo.RecentTransactions(context.Background(), 0)
	require.NoError(t, err)
	return txs
}
