package app

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository/models"
)

// RecoveryOutcome is the result of one lost voucher lookup
type RecoveryOutcome struct {
	Request     *models.RetrievalRequest
	Transaction *models.Transaction // nil when nothing matched
}

// Matched reports whether a transaction was found
func (o *RecoveryOutcome) Matched() bool {
	return o.Transaction != nil
}

// Matcher reunites a user who lost a voucher with a past transaction
type Matcher struct {
	ledger         Ledger
	candidateLimit int // <= 0 scans the whole ledger
	logger         cmtlog.Logger
}

// NewMatcher creates a retrieval matcher over the ledger
func NewMatcher(ledger Ledger, candidateLimit int, logger cmtlog.Logger) *Matcher {
	return &Matcher{
		ledger:         ledger,
		candidateLimit: candidateLimit,
		logger:         logger,
	}
}

// Match returns the first candidate whose purchaser name equals name (case
// insensitive) and whose receiver phone ends with the digits of phone.
// Leading trunk zeros are ignored on both sides, so 0551234567 matches
// +233551234567. Candidates are expected newest first. Status is not considered.
func Match(name, phone string, candidates []models.Transaction) *models.Transaction {
	wantName := strings.ToLower(strings.TrimSpace(name))
	wantPhone := significantDigits(phone)
	if wantName == "" || wantPhone == "" {
		return nil
	}

	for i := range candidates {
		tx := &candidates[i]
		gotName := strings.ToLower(strings.TrimSpace(tx.PurchaserName))
		if gotName == "" || gotName != wantName {
			continue
		}
		receiver := tx.ReceiverPhone
		if receiver == "" {
			receiver = tx.Mobile
		}
		if strings.HasSuffix(significantDigits(receiver), wantPhone) {
			return tx
		}
	}
	return nil
}

// NormalizePhone drops everything but digits
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
}

func significantDigits(phone string) string {
	return strings.TrimLeft(NormalizePhone(phone), "0")
}

// Recover runs Match against the ledger and records the attempt
func (m *Matcher) Recover(ctx context.Context, session *models.Session, name, phone string) (*RecoveryOutcome, error) {
	candidates, err := m.ledger.RecentTransactions(ctx, m.candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("loading match candidates: %w", err)
	}

	req := &models.RetrievalRequest{
		Name:  strings.TrimSpace(name),
		Phone: phone,
	}
	if session != nil {
		sessionID := session.ID
		req.SessionID = &sessionID
	}

	found := Match(name, phone, candidates)
	if found != nil {
		txID := found.ID
		req.MatchedTransactionID = &txID
		req.Status = models.RetrievalMatched
		req.Notes = models.RetrievalNotes{MatchedTxStatus: found.Status}
	} else {
		req.Status = models.RetrievalNoRecord
		req.Notes = models.RetrievalNotes{Info: "no matching transaction found"}
	}

	if err := m.ledger.RecordRetrieval(ctx, req); err != nil {
		return nil, fmt.Errorf("recording retrieval request: %w", err)
	}

	if found != nil {
		m.logger.Info("Voucher retrieval logged (matched)", "id", req.ID, "tx", found.ID, "tx_status", found.Status)
	} else {
		m.logger.Info("Voucher retrieval logged (no match)", "id", req.ID, "name", req.Name, "phone", phone)
	}
	return &RecoveryOutcome{Request: req, Transaction: found}, nil
}
