package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the payment state of a checkout
type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
)

// Transaction represents one checkout started from a USSD session.
// ClientReference and AmountCents are written on create only.
type Transaction struct {
	ID              uint              `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SessionID       string            `gorm:"column:session_id;type:varchar(128);index;not null" json:"session_id"`
	Session         *Session          `gorm:"foreignKey:SessionID" json:"-"`
	OrderID         *string           `gorm:"column:order_id;type:varchar(128)" json:"order_id"` // Null until paid
	ClientReference string            `gorm:"<-:create;column:client_reference;type:varchar(128);index" json:"client_reference"`
	AmountCents     int64             `gorm:"<-:create;column:amount_cents;not null" json:"amount_cents"`
	Status          TransactionStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Mobile          string            `gorm:"column:mobile;type:varchar(32)" json:"mobile"`
	PurchaserName   string            `gorm:"column:purchaser_name;type:varchar(256)" json:"purchaser_name"`
	ReceiverPhone   string            `gorm:"column:receiver_phone;type:varchar(64)" json:"receiver_phone"`
	Extra           TransactionAudit  `gorm:"column:extra;serializer:json" json:"extra"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TransactionAudit accumulates what the gateway sent us about a transaction
type TransactionAudit struct {
	InitiatedBy string            `json:"initiated_by,omitempty"`
	OrderInfo   json.RawMessage   `json:"order_info,omitempty"`
	Payloads    []json.RawMessage `json:"payloads,omitempty"`
}

// AmountGHS converts the stored pesewas into cedis for display
func (t *Transaction) AmountGHS() decimal.Decimal {
	return decimal.New(t.AmountCents, -2)
}

// GatewayPayload is a webhook body as received, plus the order info block it carried
type GatewayPayload struct {
	Raw       json.RawMessage
	OrderInfo json.RawMessage
}

// Merge records a gateway payload in the audit trail
func (a *TransactionAudit) Merge(p GatewayPayload) {
	if len(p.OrderInfo) > 0 {
		a.OrderInfo = p.OrderInfo
	}
	if len(p.Raw) > 0 {
		a.Payloads = append(a.Payloads, p.Raw)
	}
}
