package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Offer is energy put up for sale in a single market. Price is the total
// price for Energy, not a rate.
type Offer struct {
	ID     string          `json:"id"`
	Price  decimal.Decimal `json:"price"`
	Energy decimal.Decimal `json:"energy"`
	Seller string          `json:"seller"`
}

// Rate returns price per unit of energy.
func (o Offer) Rate() decimal.Decimal {
	if o.Energy.IsZero() {
		return decimal.Zero
	}
	return o.Price.Div(o.Energy)
}

func (o Offer) String() string {
	return fmt.Sprintf("{%s} [%s]: %s kWh @ %s", shortID(o.ID), o.Seller, o.Energy.StringFixed(4), o.Price.StringFixed(4))
}

// Trade is the result of accepting (part of) an offer. Offer holds the
// accepted portion under the original offer id; Residual, when set, is the
// remainder that stays on the market under a new id.
type Trade struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Offer    Offer     `json:"offer"`
	Seller   string    `json:"seller"`
	Buyer    string    `json:"buyer"`
	Residual *Offer    `json:"residual,omitempty"`
}

func (t Trade) String() string {
	return fmt.Sprintf("{%s} [%s -> %s] %s kWh @ %s", shortID(t.ID), t.Seller, t.Buyer,
		t.Offer.Energy.StringFixed(4), t.Offer.Price.StringFixed(4))
}

func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}
