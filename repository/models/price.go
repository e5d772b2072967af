package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Price is the configured unit price of a sellable item, in pesewas
type Price struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement"`
	ItemCode   string `gorm:"column:item_code;type:varchar(64);uniqueIndex;not null"`
	PriceCents int64  `gorm:"column:price_cents;not null"`
	Active     bool   `gorm:"column:active;not null"`
}

// PriceGHS converts the unit price into cedis
func (p *Price) PriceGHS() decimal.Decimal {
	return decimal.New(p.PriceCents, -2)
}

func (p *Price) String() string {
	return fmt.Sprintf("%s @ %s GHS", p.ItemCode, p.PriceGHS().StringFixed(2))
}
