package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/gateway"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository/models"
)

const paidStatus = "paid"

// Webhook is a payment outcome pushed by the gateway
type Webhook struct {
	SessionID     string
	OrderID       string
	OrderStatus   string // OrderInfo.Status
	ServiceStatus string
	OrderInfo     json.RawMessage
	Raw           json.RawMessage
}

// Status is the lowercased order status, falling back to the service status
func (w Webhook) Status() string {
	status := w.OrderStatus
	if status == "" {
		status = w.ServiceStatus
	}
	return strings.ToLower(strings.TrimSpace(status))
}

// Paid reports whether the gateway collected the money
func (w Webhook) Paid() bool {
	return w.Status() == paidStatus
}

// AckResult describes what reconciliation did
type AckResult struct {
	TransactionID uint
	Status        models.TransactionStatus
	Delivered     bool // acknowledgement accepted by the gateway
	Attempts      int
}

// Reconciler applies payment webhooks to the ledger and acknowledges them
type Reconciler struct {
	ledger Ledger
	acker  Acknowledger
	retry  gateway.RetryPolicy
	logger cmtlog.Logger
}

// NewReconciler creates a fulfillment reconciler
func NewReconciler(ledger Ledger, acker Acknowledger, retry gateway.RetryPolicy, logger cmtlog.Logger) *Reconciler {
	return &Reconciler{
		ledger: ledger,
		acker:  acker,
		retry:  retry,
		logger: logger,
	}
}

// Reconcile updates the newest transaction of the webhook's session. Only a
// missing transaction is reported as repository.ErrTransactionNotFound; a failed
// acknowledgement is logged and reported through AckResult.Delivered.
func (r *Reconciler) Reconcile(ctx context.Context, wh Webhook) (*AckResult, error) {
	r.logger.Info("Fulfillment webhook received",
		"session", wh.SessionID,
		"order_id", wh.OrderID,
		"status", wh.Status(),
	)

	tx, err := r.ledger.FindMostRecentByClientReference(ctx, wh.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			r.logger.Error("Transaction not found for client reference", "client_reference", wh.SessionID)
		}
		return nil, err
	}

	payload := models.GatewayPayload{Raw: wh.Raw, OrderInfo: wh.OrderInfo}
	// Acknowledgements must not be cut short by the webhook caller hanging up
	ackCtx := context.WithoutCancel(ctx)

	if wh.Paid() {
		if err := r.ledger.MarkSuccess(ctx, tx, wh.OrderID, payload); err != nil {
			return nil, fmt.Errorf("marking transaction %d paid: %w", tx.ID, err)
		}
		r.logger.Info("Transaction marked success", "tx", tx.ID, "order_id", wh.OrderID)

		attempts, err := r.retry.Do(ackCtx, func(ctx context.Context, attempt int) error {
			err := r.acker.Acknowledge(ctx, gateway.SuccessAcknowledgement(wh.OrderID))
			if err != nil {
				r.logger.Error("Error sending success callback", "attempt", attempt, "order_id", wh.OrderID, "err", err)
			}
			return err
		})
		if err != nil {
			r.logger.Error("Failed to send success callback after retries",
				"severity", "critical",
				"order_id", wh.OrderID,
				"tx", tx.ID,
				"attempts", attempts,
				"err", err,
			)
		}
		return &AckResult{
			TransactionID: tx.ID,
			Status:        tx.Status,
			Delivered:     err == nil,
			Attempts:      attempts,
		}, nil
	}

	if err := r.ledger.MarkFailed(ctx, tx, payload); err != nil {
		return nil, fmt.Errorf("marking transaction %d failed: %w", tx.ID, err)
	}
	r.logger.Info("Transaction marked failed", "tx", tx.ID, "status", wh.Status())

	// One best effort attempt; the outcome never reaches the webhook caller
	once := gateway.RetryPolicy{Attempts: 1, AttemptTimeout: r.retry.AttemptTimeout}
	attempts, err := once.Do(ackCtx, func(ctx context.Context, _ int) error {
		return r.acker.Acknowledge(ctx, gateway.FailureAcknowledgement(wh.OrderID))
	})
	if err != nil {
		r.logger.Error("Error sending failure callback", "order_id", wh.OrderID, "err", err)
	}
	return &AckResult{
		TransactionID: tx.ID,
		Status:        tx.Status,
		Delivered:     err == nil,
		Attempts:      attempts,
	}, nil
}
