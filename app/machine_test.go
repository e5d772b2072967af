package app

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name      string
		step      int
		data      models.PurchaseData
		message   string
		wantStep  int
		wantKind  DirectiveKind
		wantLabel string
	}{
		{"main menu buy", StepMainMenu, models.PurchaseData{}, "1", StepQuantity, KindPrompt, "Quantity"},
		{"main menu recover", StepMainMenu, models.PurchaseData{}, "2", StepRecoveryName, KindPrompt, "Voucher Name"},
		{"main menu exit", StepMainMenu, models.PurchaseData{}, "9", StepIdle, KindRelease, "Exit"},
		{"quantity", StepQuantity, models.PurchaseData{}, "3", StepName, KindPrompt, "Name"},
		{"name", StepName, models.PurchaseData{Quantity: 3}, "Jane Doe", StepReceiverPhone, KindPrompt, "Phone"},
		{"empty name", StepName, models.PurchaseData{Quantity: 3}, "   ", StepName, KindPrompt, "Name"},
		{"receiver phone", StepReceiverPhone, models.PurchaseData{Quantity: 3, Name: "Jane Doe"}, "0551234567", StepConfirm, KindPrompt, "Confirm Purchase"},
		{"cancel", StepConfirm, models.PurchaseData{Quantity: 1, TransactionID: 1}, "2", StepIdle, KindRelease, "Cancelled"},
		{"recovery name", StepRecoveryName, models.PurchaseData{}, "Jane Doe", StepRecoveryPhone, KindPrompt, "Voucher Phone"},
		{"recovery phone", StepRecoveryPhone, models.PurchaseData{RecoveryName: "Jane Doe"}, "0551234567", StepRecoveryDone, KindRelease, "No Record Found"},
		{"response without initiation", StepIdle, models.PurchaseData{}, "1", StepIdle, KindRelease, "Error"},
		{"finished recovery", StepRecoveryDone, models.PurchaseData{}, "1", StepRecoveryDone, KindRelease, "Error"},
		{"unknown step", 77, models.PurchaseData{}, "1", 77, KindRelease, "Error"},
	}

	f := newFixture(t)
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := fmt.Sprintf("table-%d", i)
			f.seed(t, id, tt.step, tt.data)

			d := f.respond(t, id, tt.message)
			assert.Equal(t, tt.wantKind, d.Kind)
			assert.Equal(t, tt.wantLabel, d.Label)
			assert.Equal(t, tt.wantStep, f.session(t, id).Step)
		})
	}
}

func TestTransitionsAreDeterministic(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("det-%d", i)
		f.seed(t, id, StepMainMenu, models.PurchaseData{})
		d := f.respond(t, id, "1")
		assert.Equal(t, quantityPrompt(), d)
		assert.Equal(t, StepQuantity, f.session(t, id).Step)
	}
}

func TestInitiationResetsSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sess-init", StepConfirm, models.PurchaseData{Quantity: 2, Name: "Jane Doe", TransactionID: 9})

	d, err := f.machine.Handle(context.Background(), Event{
		SessionID: "sess-init",
		Type:      EventInitiation,
		Mobile:    "233551234567",
		Sequence:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Main Menu", d.Label)
	assert.Equal(t, KindPrompt, d.Kind)
	assert.Equal(t, DataTypeInput, d.DataType)

	session := f.session(t, "sess-init")
	assert.Equal(t, StepMainMenu, session.Step)
	assert.Equal(t, models.PurchaseData{}, session.Data)
}

func TestTimeoutReleasesFromAnyStep(t *testing.T) {
	f := newFixture(t)

	for _, step := range []int{StepIdle, StepMainMenu, StepQuantity, StepConfirm, StepRecoveryPhone} {
		id := fmt.Sprintf("timeout-%d", step)
		f.seed(t, id, step, models.PurchaseData{Quantity: 1})

		d, err := f.machine.Handle(context.Background(), Event{SessionID: id, Type: EventTimeout})
		require.NoError(t, err)
		assert.Equal(t, KindRelease, d.Kind)
		assert.Equal(t, "Session timed out.", d.Message)
		assert.Equal(t, StepIdle, f.session(t, id).Step)
	}
}

func TestInvalidQuantityReprompts(t *testing.T) {
	f := newFixture(t)

	for _, input := range []string{"0", "-1", "abc", "1.5", "", "1001", "4000000000000000", "99999999999999999999"} {
		t.Run(fmt.Sprintf("%q", input), func(t *testing.T) {
			id := "qty-" + input
			f.seed(t, id, StepQuantity, models.PurchaseData{Name: "kept"})

			d := f.respond(t, id, input)
			assert.Equal(t, KindPrompt, d.Kind)
			assert.Equal(t, "Invalid quantity. Enter a number (e.g., 1)", d.Message)
			assert.Equal(t, FieldTypeNumber, d.FieldType)

			session := f.session(t, id)
			assert.Equal(t, StepQuantity, session.Step)
			assert.Equal(t, models.PurchaseData{Name: "kept"}, session.Data)
		})
	}
	assert.Empty(t, f.transactions(t))
}

func TestPassthroughFieldsAlwaysPersist(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sess-pass", StepQuantity, models.PurchaseData{})

	_, err := f.machine.Handle(context.Background(), Event{
		SessionID:   "sess-pass",
		Type:        EventResponse,
		Message:     "abc",
		Sequence:    7,
		ClientState: "opaque",
	})
	require.NoError(t, err)

	session := f.session(t, "sess-pass")
	assert.Equal(t, 7, session.Sequence)
	assert.Equal(t, "opaque", session.ClientState)
	assert.Equal(t, StepQuantity, session.Step)
}

func TestPurchaseEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := "sess-e2e"

	d, err := f.machine.Handle(ctx, Event{SessionID: id, Type: EventInitiation, Mobile: "233551234567", Sequence: 1})
	require.NoError(t, err)
	assert.Equal(t, "Main Menu", d.Label)

	assert.Equal(t, "Quantity", f.respond(t, id, "1").Label)
	assert.Equal(t, "Name", f.respond(t, id, "3").Label)
	assert.Equal(t, "Phone", f.respond(t, id, "Jane Doe").Label)

	confirm := f.respond(t, id, "0551234567")
	assert.Equal(t, "Confirm Purchase", confirm.Label)
	assert.Equal(t, "Confirm purchase of 3 WASSCE checker(s) for GHS 72.00\n1. Confirm\n2. Cancel", confirm.Message)
	assert.Contains(t, confirm.Message, "GHS 72.00")

	txs := f.transactions(t)
	require.Len(t, txs, 1)
	tx := txs[0]
	assert.Equal(t, int64(3*2400), tx.AmountCents)
	assert.Equal(t, models.StatusPending, tx.Status)
	assert.Equal(t, id, tx.ClientReference)
	assert.Equal(t, "Jane Doe", tx.PurchaserName)
	assert.Equal(t, "0551234567", tx.ReceiverPhone)

	session := f.session(t, id)
	assert.Equal(t, StepConfirm, session.Step)
	assert.Equal(t, tx.ID, session.Data.TransactionID)

	cart := f.respond(t, id, "1")
	assert.Equal(t, KindAddToCart, cart.Kind)
	assert.Equal(t, "Proceed to payment", cart.Label)
	require.NotNil(t, cart.Item)
	assert.Equal(t, ItemName, cart.Item.Name)
	assert.Equal(t, 3, cart.Item.Qty)
	assert.True(t, cart.Item.Price.Equal(decimal.NewFromInt(72)), "price %s", cart.Item.Price)

	stored, err := f.repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, "233551234567", stored.Extra.InitiatedBy)
	assert.Len(t, f.transactions(t), 1)
}

func TestConfirmUsesActivePrice(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.SetPrice(context.Background(), "wassce_checker", 2550, true)
	require.NoError(t, err)

	f.seed(t, "sess-price", StepReceiverPhone, models.PurchaseData{Quantity: 2, Name: "Ama"})
	d := f.respond(t, "sess-price", "0201234567")
	assert.Contains(t, d.Message, "GHS 51.00")

	txs := f.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(5100), txs[0].AmountCents)
}

func TestCheckoutRejectsUnpriceableQuantity(t *testing.T) {
	f := newFixture(t)
	qty := int(math.MaxInt64/repository.DefaultPriceCents) + 1
	f.seed(t, "sess-huge", StepReceiverPhone, models.PurchaseData{Quantity: qty, Name: "Jane Doe"})

	d := f.respond(t, "sess-huge", "0551234567")
	assert.Equal(t, errorRelease(), d)

	session := f.session(t, "sess-huge")
	assert.Equal(t, StepReceiverPhone, session.Step)
	assert.Zero(t, session.Data.TransactionID)
	assert.Empty(t, f.transactions(t))
}

func TestConfirmWithoutTransactionIsAnError(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sess-notx", StepConfirm, models.PurchaseData{Quantity: 1, TransactionID: 404})

	d := f.respond(t, "sess-notx", "1")
	assert.Equal(t, errorRelease(), d)
}

func TestRecoveryFlowMatchesPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buyer := f.seed(t, "sess-buyer", StepReceiverPhone, models.PurchaseData{Quantity: 1, Name: "jane doe"})
	buyer.Data.ReceiverPhone = "+233551234567"
	_, err := f.repo.CreatePending(ctx, buyer, 2400)
	require.NoError(t, err)

	id := "sess-lost"
	_, err = f.machine.Handle(ctx, Event{SessionID: id, Type: EventInitiation, Sequence: 1})
	require.NoError(t, err)
	assert.Equal(t, "Voucher Name", f.respond(t, id, "2").Label)
	assert.Equal(t, "Voucher Phone", f.respond(t, id, "Jane Doe").Label)

	d := f.respond(t, id, "0551234567")
	assert.Equal(t, KindRelease, d.Kind)
	assert.Equal(t, "Voucher Request Received", d.Label)

	session := f.session(t, id)
	assert.Equal(t, StepRecoveryDone, session.Step)
	assert.Equal(t, "Jane Doe", session.Data.RecoveryName)
	assert.Equal(t, "0551234567", session.Data.RecoveryPhone)

	reqs, err := f.repo.RetrievalRequestsBySession(ctx, id)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, models.RetrievalMatched, reqs[0].Status)
	assert.Equal(t, models.StatusPending, reqs[0].Notes.MatchedTxStatus)
}

func TestParseQuantity(t *testing.T) {
	qty, err := parseQuantity("12")
	require.NoError(t, err)
	assert.Equal(t, 12, qty)

	qty, err = parseQuantity("1000")
	require.NoError(t, err)
	assert.Equal(t, MaxQuantity, qty)

	for _, bad := range []string{"0", "-3", "two", "2.0", "", "1001", "4000000000000000"} {
		_, err := parseQuantity(bad)
		assert.ErrorIs(t, err, ErrInvalidUserInput, bad)
	}
}
