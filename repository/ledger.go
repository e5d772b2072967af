package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository/models"
	"gorm.io/gorm"
)

// CreatePending records a new unpaid checkout for the session. The session id
// becomes the client reference the payment webhook will be matched on.
func (r *Repository) CreatePending(
	ctx context.Context,
	session *models.Session,
	amountCents int64,
) (*models.Transaction, error) {
	tx := models.Transaction{
		SessionID:       session.ID,
		ClientReference: session.ID,
		AmountCents:     amountCents,
		Status:          models.StatusPending,
		Mobile:          session.Mobile,
		PurchaserName:   session.Data.Name,
		ReceiverPhone:   session.Data.ReceiverPhone,
	}

	dbTx := r.db.WithContext(ctx).Begin()
	if dbTx.Error != nil {
		return nil, toRepositoryError("Failed to start transaction", dbTx.Error)
	}
	if err := dbTx.Create(&tx).Error; err != nil {
		dbTx.Rollback()
		return nil, toRepositoryError("Failed to create transaction", err)
	}
	if err := dbTx.Commit().Error; err != nil {
		return nil, &RepositoryError{
			Code:    CodeCommitFailed,
			Message: "Failed to commit transaction",
			Detail:  err.Error(),
			Err:     err,
		}
	}

	r.logger.Info("Pending transaction created",
		"tx", tx.ID,
		"client_reference", tx.ClientReference,
		"amount_cents", tx.AmountCents,
	)
	return &tx, nil
}

// GetTransaction loads a transaction by its primary key
func (r *Repository) GetTransaction(ctx context.Context, id uint) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    CodeEntityNotFound,
				Message: "Transaction not found",
				Detail:  fmt.Sprintf("Transaction with id %d does not exist", id),
				Err:     ErrTransactionNotFound,
			}
		}
		return nil, toRepositoryError("Database error", err)
	}
	return &tx, nil
}

// FindMostRecentByClientReference returns the newest transaction for ref.
// A session that restarted checkout can own several; the latest one wins.
func (r *Repository) FindMostRecentByClientReference(ctx context.Context, ref string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		Where("client_reference = ?", ref).
		Order("created_at DESC").
		Order("id DESC").
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    CodeEntityNotFound,
				Message: "Transaction not found",
				Detail:  fmt.Sprintf("No transaction with client reference %s", ref),
				Err:     ErrTransactionNotFound,
			}
		}
		return nil, toRepositoryError("Database error", err)
	}
	return &tx, nil
}

// AttachInitiator notes which handset confirmed the checkout. Status is untouched.
func (r *Repository) AttachInitiator(ctx context.Context, id uint, mobile string) (*models.Transaction, error) {
	tx, err := r.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	tx.Extra.InitiatedBy = mobile
	if err := r.updateColumns(ctx, tx, "extra"); err != nil {
		return nil, err
	}
	return tx, nil
}

// MarkSuccess records the gateway order id and flips the transaction to success
func (r *Repository) MarkSuccess(
	ctx context.Context,
	tx *models.Transaction,
	orderID string,
	payload models.GatewayPayload,
) error {
	tx.OrderID = &orderID
	tx.Status = models.StatusSuccess
	tx.Extra.Merge(payload)
	return r.updateColumns(ctx, tx, "order_id", "status", "extra")
}

// MarkFailed flips the transaction to failed and keeps the payload for audit
func (r *Repository) MarkFailed(
	ctx context.Context,
	tx *models.Transaction,
	payload models.GatewayPayload,
) error {
	tx.Status = models.StatusFailed
	tx.Extra.Merge(payload)
	return r.updateColumns(ctx, tx, "status", "extra")
}

// RecentTransactions lists transactions newest first. limit <= 0 means no limit.
func (r *Repository) RecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	query := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&txs).Error; err != nil {
		return nil, toRepositoryError("Failed to list transactions", err)
	}
	return txs, nil
}

// RecordRetrieval appends a voucher recovery attempt to the audit log
func (r *Repository) RecordRetrieval(ctx context.Context, req *models.RetrievalRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return toRepositoryError("Failed to record retrieval request", err)
	}
	return nil
}

// RetrievalRequestsBySession lists the recovery attempts made from a session
func (r *Repository) RetrievalRequestsBySession(ctx context.Context, sessionID string) ([]models.RetrievalRequest, error) {
	var reqs []models.RetrievalRequest
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&reqs).Error
	if err != nil {
		return nil, toRepositoryError("Failed to list retrieval requests", err)
	}
	return reqs, nil
}

func (r *Repository) updateColumns(ctx context.Context, tx *models.Transaction, columns ...string) error {
	dbTx := r.db.WithContext(ctx).Begin()
	if dbTx.Error != nil {
		return toRepositoryError("Failed to start transaction", dbTx.Error)
	}

	result := dbTx.Model(tx).Select(columns).Updates(tx)
	if result.Error != nil {
		dbTx.Rollback()
		return &RepositoryError{
			Code:    CodeUpdateFailed,
			Message: "Failed to update transaction",
			Detail:  result.Error.Error(),
			Err:     result.Error,
		}
	}
	if result.RowsAffected == 0 {
		dbTx.Rollback()
		return &RepositoryError{
			Code:    CodeEntityNotFound,
			Message: "Transaction not found",
			Detail:  fmt.Sprintf("Transaction with id %d does not exist", tx.ID),
			Err:     ErrTransactionNotFound,
		}
	}

	if err := dbTx.Commit().Error; err != nil {
		return &RepositoryError{
			Code:    CodeCommitFailed,
			Message: "Failed to commit transaction",
			Detail:  err.Error(),
			Err:     err,
		}
	}
	return nil
}
