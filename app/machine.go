package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository/models"
	"github.com/shopspring/decimal"
)

// EventType is the aggregator's classification of an inbound event
type EventType string

const (
	EventInitiation EventType = "Initiation"
	EventResponse   EventType = "Response"
	EventTimeout    EventType = "Timeout"
)

// Menu positions persisted in Session.Step
const (
	StepIdle          = 0
	StepMainMenu      = 1
	StepQuantity      = 2
	StepName          = 3
	StepReceiverPhone = 4
	StepConfirm       = 5

	StepRecoveryName  = 101
	StepRecoveryPhone = 102
	StepRecoveryDone  = 103
)

// MaxQuantity is the largest number of checkers one session can order
const MaxQuantity = 1000

// Event is one inbound step of a USSD conversation
type Event struct {
	SessionID   string
	Type        EventType
	Message     string
	Mobile      string
	Sequence    int
	ClientState string
}

// Machine drives the USSD menu. The next step depends only on the persisted
// step, the event type and the message.
type Machine struct {
	sessions SessionStore
	ledger   Ledger
	prices   PriceSource
	matcher  *Matcher
	logger   cmtlog.Logger
}

// NewMachine creates the interaction state machine
func NewMachine(sessions SessionStore, ledger Ledger, prices PriceSource, matcher *Matcher, logger cmtlog.Logger) *Machine {
	return &Machine{
		sessions: sessions,
		ledger:   ledger,
		prices:   prices,
		matcher:  matcher,
		logger:   logger,
	}
}

// Handle applies one event to its session and returns what to send back.
// A non-nil error means a store failed; the caller answers with ErrorDirective.
func (m *Machine) Handle(ctx context.Context, ev Event) (*Directive, error) {
	m.logger.Info("INCOMING",
		"session", ev.SessionID,
		"type", ev.Type,
		"message", ev.Message,
		"mobile", ev.Mobile,
		"sequence", ev.Sequence,
	)

	d, err := m.handle(ctx, ev)
	if err != nil {
		m.logger.Error("Failed to handle interaction", "session", ev.SessionID, "err", err)
		return nil, err
	}

	m.logger.Info("OUTGOING",
		"session", ev.SessionID,
		"type", d.Kind,
		"label", d.Label,
		"message", d.Message,
	)
	return d, nil
}

func (m *Machine) handle(ctx context.Context, ev Event) (*Directive, error) {
	if ev.SessionID == "" {
		m.logger.Error("Interaction without session id")
		return errorRelease(), nil
	}

	session, created, err := m.sessions.GetOrCreate(ctx, ev.SessionID, models.Session{
		Mobile:      ev.Mobile,
		Sequence:    ev.Sequence,
		ClientState: ev.ClientState,
		Step:        StepIdle,
	})
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", ev.SessionID, err)
	}

	// Aggregators re-deliver events; the passthrough fields are always refreshed
	if !created {
		session.Sequence = ev.Sequence
		session.ClientState = ev.ClientState
		if err := m.sessions.Save(ctx, session); err != nil {
			return nil, fmt.Errorf("saving session %s: %w", session.ID, err)
		}
	}

	switch normalizeEventType(ev.Type) {
	case EventInitiation:
		session.Data = models.PurchaseData{}
		return m.advance(ctx, session, StepMainMenu, mainMenuPrompt())

	case EventTimeout:
		return m.advance(ctx, session, StepIdle, timeoutRelease())

	case EventResponse:
		step := session.Step
		d, err := m.respond(ctx, session, ev)
		switch {
		case errors.Is(err, ErrInvalidUserInput):
			m.logger.Debug("Re-prompting", "session", session.ID, "step", step, "reason", err)
			return reprompt(step), nil
		case errors.Is(err, ErrUnknownState):
			m.logger.Error("No handler for session state", "session", session.ID, "step", step, "err", err)
			return errorRelease(), nil
		case err != nil:
			return nil, err
		}
		return d, nil
	}

	m.logger.Error("Unknown event type", "session", session.ID, "type", ev.Type)
	return errorRelease(), nil
}

func (m *Machine) respond(ctx context.Context, session *models.Session, ev Event) (*Directive, error) {
	text := strings.TrimSpace(ev.Message)

	switch session.Step {
	case StepMainMenu:
		switch text {
		case "1":
			return m.advance(ctx, session, StepQuantity, quantityPrompt())
		case "2":
			return m.advance(ctx, session, StepRecoveryName, recoveryNamePrompt())
		default:
			return m.advance(ctx, session, StepIdle, exitRelease())
		}

	case StepQuantity:
		qty, err := parseQuantity(text)
		if err != nil {
			return nil, err
		}
		session.Data.Quantity = qty
		return m.advance(ctx, session, StepName, namePrompt())

	case StepName:
		if text == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidUserInput)
		}
		session.Data.Name = text
		return m.advance(ctx, session, StepReceiverPhone, phonePrompt())

	case StepReceiverPhone:
		return m.checkout(ctx, session, text)

	case StepConfirm:
		if text == "1" {
			mobile := ev.Mobile
			if mobile == "" {
				mobile = session.Mobile
			}
			return m.confirm(ctx, session, mobile)
		}
		// The pending transaction is left as it is
		return m.advance(ctx, session, StepIdle, cancelRelease())

	case StepRecoveryName:
		session.Data.RecoveryName = text
		return m.advance(ctx, session, StepRecoveryPhone, recoveryPhonePrompt())

	case StepRecoveryPhone:
		session.Data.RecoveryPhone = text
		if _, err := m.advance(ctx, session, StepRecoveryDone, nil); err != nil {
			return nil, err
		}
		outcome, err := m.matcher.Recover(ctx, session, session.Data.RecoveryName, text)
		if err != nil {
			return nil, err
		}
		if outcome.Matched() {
			return matchedRelease(), nil
		}
		return noRecordRelease(), nil
	}

	return nil, fmt.Errorf("%w: step %d", ErrUnknownState, session.Step)
}

// checkout prices the order and opens a pending transaction keyed by the session id
func (m *Machine) checkout(ctx context.Context, session *models.Session, receiverPhone string) (*Directive, error) {
	qty := session.Data.Quantity
	if qty <= 0 {
		return nil, fmt.Errorf("%w: no quantity recorded", ErrUnknownState)
	}

	unitCents, err := m.prices.UnitPriceCents(ctx)
	if err != nil {
		return nil, fmt.Errorf("looking up unit price: %w", err)
	}
	if unitCents <= 0 || int64(qty) > math.MaxInt64/unitCents {
		return nil, fmt.Errorf("%w: %d x %d cents cannot be priced", ErrInvalidUserInput, qty, unitCents)
	}
	totalCents := unitCents * int64(qty)

	session.Data.ReceiverPhone = receiverPhone
	tx, err := m.ledger.CreatePending(ctx, session, totalCents)
	if err != nil {
		return nil, fmt.Errorf("creating pending transaction: %w", err)
	}
	session.Data.TransactionID = tx.ID

	return m.advance(ctx, session, StepConfirm, confirmPrompt(qty, totalCents))
}

// confirm hands the stored order to the gateway checkout. The step stays at
// confirm so a re-delivered "1" yields the same cart.
func (m *Machine) confirm(ctx context.Context, session *models.Session, mobile string) (*Directive, error) {
	if session.Data.TransactionID == 0 {
		return nil, fmt.Errorf("%w: no transaction recorded", ErrUnknownState)
	}

	tx, err := m.ledger.AttachInitiator(ctx, session.Data.TransactionID, mobile)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, fmt.Errorf("%w: transaction %d is gone", ErrUnknownState, session.Data.TransactionID)
		}
		return nil, fmt.Errorf("attaching initiator: %w", err)
	}
	return addToCart(session.Data.Quantity, tx.AmountGHS()), nil
}

func (m *Machine) advance(ctx context.Context, session *models.Session, step int, d *Directive) (*Directive, error) {
	session.Step = step
	if err := m.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("saving session %s: %w", session.ID, err)
	}
	return d, nil
}

func reprompt(step int) *Directive {
	switch step {
	case StepQuantity:
		return invalidQuantityPrompt()
	case StepName:
		return namePrompt()
	}
	return errorRelease()
}

func confirmPrompt(qty int, totalCents int64) *Directive {
	total := decimal.New(totalCents, -2)
	return prompt("Confirm Purchase",
		fmt.Sprintf("Confirm purchase of %d WASSCE checker(s) for GHS %s\n1. Confirm\n2. Cancel", qty, total.StringFixed(2)),
		FieldTypeNumber,
	)
}

// parseQuantity accepts integers from 1 to MaxQuantity
func parseQuantity(text string) (int, error) {
	qty, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%w: quantity %q is not a number", ErrInvalidUserInput, text)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("%w: quantity %d is not positive", ErrInvalidUserInput, qty)
	}
	if qty > MaxQuantity {
		return 0, fmt.Errorf("%w: quantity %d exceeds %d", ErrInvalidUserInput, qty, MaxQuantity)
	}
	return qty, nil
}

func normalizeEventType(t EventType) EventType {
	for _, known := range []EventType{EventInitiation, EventResponse, EventTimeout} {
		if strings.EqualFold(string(t), string(known)) {
			return known
		}
	}
	return t
}
