package repository

import (
	"context"
	"errors"
	"testing"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionStore interface {
	GetOrCreate(ctx context.Context, id string, defaults models.Session) (*models.Session, bool, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Save(ctx context.Context, session *models.Session) error
}

func sessionStores(t *testing.T) map[string]sessionStore {
	t.Helper()

	repo := newTestRepository(t)

	badgerDB, err := OpenBadger("", cmtlog.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { badgerDB.Close() })

	return map[string]sessionStore{
		"gorm":   NewGormSessionStore(repo.DB()),
		"badger": NewBadgerSessionStore(badgerDB),
	}
}

func TestSessionStores(t *testing.T) {
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			session, created, err := store.GetOrCreate(ctx, "sess-1", models.Session{
				Mobile:      "233551234567",
				Sequence:    1,
				ClientState: "a",
			})
			require.NoError(t, err)
			assert.True(t, created)
			assert.Equal(t, "sess-1", session.ID)
			assert.Equal(t, 0, session.Step)

			session.Step = 5
			session.Sequence = 6
			session.Data = models.PurchaseData{
				Quantity:      3,
				Name:          "Jane Doe",
				ReceiverPhone: "0551234567",
				TransactionID: 42,
			}
			require.NoError(t, store.Save(ctx, session))

			again, created, err := store.GetOrCreate(ctx, "sess-1", models.Session{Mobile: "other"})
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, 5, again.Step)
			assert.Equal(t, 6, again.Sequence)
			assert.Equal(t, "233551234567", again.Mobile)
			assert.Equal(t, session.Data, again.Data)

			loaded, err := store.Get(ctx, "sess-1")
			require.NoError(t, err)
			assert.Equal(t, uint(42), loaded.Data.TransactionID)
		})
	}
}

func TestSessionStoresGetMissing(t *testing.T) {
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "nope")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSessionNotFound))
		})
	}
}

func TestSessionStoresResetData(t *testing.T) {
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			session, _, err := store.GetOrCreate(ctx, "sess-reset", models.Session{})
			require.NoError(t, err)
			session.Data = models.PurchaseData{Quantity: 2, RecoveryName: "Kofi"}
			require.NoError(t, store.Save(ctx, session))

			session.Data = models.PurchaseData{}
			session.Step = 1
			require.NoError(t, store.Save(ctx, session))

			loaded, err := store.Get(ctx, "sess-reset")
			require.NoError(t, err)
			assert.Equal(t, models.PurchaseData{}, loaded.Data)
			assert.Equal(t, 1, loaded.Step)
		})
	}
}
