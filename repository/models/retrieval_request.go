package models

import "time"

// RetrievalStatus is the outcome of a lost voucher lookup
type RetrievalStatus string

const (
	RetrievalPending  RetrievalStatus = "pending"
	RetrievalMatched  RetrievalStatus = "matched"
	RetrievalNoRecord RetrievalStatus = "no_record"
)

// RetrievalRequest is an audit row for one voucher recovery attempt.
// The session and transaction references are lookups only and may dangle.
type RetrievalRequest struct {
	ID                   string          `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	SessionID            *string         `gorm:"column:session_id;type:varchar(128);index" json:"session_id"`
	Name                 string          `gorm:"column:name;type:varchar(256)" json:"name"`
	Phone                string          `gorm:"column:phone;type:varchar(64)" json:"phone"`
	MatchedTransactionID *uint           `gorm:"column:matched_transaction_id;index" json:"matched_transaction_id"`
	Status               RetrievalStatus `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Notes                RetrievalNotes  `gorm:"column:notes;serializer:json" json:"notes"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// RetrievalNotes carries free-form detail for the admin following up
type RetrievalNotes struct {
	MatchedTxStatus TransactionStatus `json:"matched_tx_status,omitempty"`
	Info            string            `json:"info,omitempty"`
}
