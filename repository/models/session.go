package models

import "time"

// Session represents one USSD conversation, keyed by the aggregator's session id
type Session struct {
	ID          string       `gorm:"column:session_id;primaryKey;type:varchar(128)" json:"session_id"`
	Mobile      string       `gorm:"column:mobile;type:varchar(32)" json:"mobile"`
	Sequence    int          `gorm:"column:sequence" json:"sequence"`
	ClientState string       `gorm:"column:client_state;type:varchar(256)" json:"client_state"`
	Step        int          `gorm:"column:step;not null" json:"step"`
	Data        PurchaseData `gorm:"column:data;serializer:json" json:"data"`
	CreatedAt   time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	// Relationships
	Transactions []Transaction `gorm:"foreignKey:SessionID" json:"-"`
}

// PurchaseData holds the in-progress fields collected by the menu
type PurchaseData struct {
	Quantity      int    `json:"qty,omitempty"`
	Name          string `json:"name,omitempty"`
	ReceiverPhone string `json:"receiver_phone,omitempty"`
	TransactionID uint   `json:"transaction_id,omitempty"`
	RecoveryName  string `json:"rv_name,omitempty"`
	RecoveryPhone string `json:"rv_phone,omitempty"`
}
