package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketRecord is the persisted summary of a market once it has rotated
// into the past.
type MarketRecord struct {
	ID           string          `gorm:"primaryKey" json:"id"`
	Area         string          `gorm:"index" json:"area"`
	Kind         string          `gorm:"index" json:"kind"`
	TimeSlot     time.Time       `gorm:"index" json:"time_slot"`
	OfferCount   int             `json:"offer_count"`
	TradeCount   int             `json:"trade_count"`
	MinTradeRate decimal.Decimal `gorm:"type:text" json:"min_trade_rate"`
	AvgTradeRate decimal.Decimal `gorm:"type:text" json:"avg_trade_rate"`
	MaxTradeRate decimal.Decimal `gorm:"type:text" json:"max_trade_rate"`
	TradedEnergy decimal.Decimal `gorm:"type:text" json:"traded_energy"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TradeRecord is one persisted trade of a past market.
type TradeRecord struct {
	ID       string          `gorm:"primaryKey" json:"id"`
	MarketID string          `gorm:"index" json:"market_id"`
	Seller   string          `gorm:"index" json:"seller"`
	Buyer    string          `gorm:"index" json:"buyer"`
	Energy   decimal.Decimal `gorm:"type:text" json:"energy"`
	Price    decimal.Decimal `gorm:"type:text" json:"price"`
	Time     time.Time       `json:"time"`
}

// MarketSummary is what statistics consumers see after each market cycle.
type MarketSummary struct {
	Area         string          `json:"area"`
	Slug         string          `json:"slug"`
	MarketID     string          `json:"market_id"`
	Kind         string          `json:"kind"`
	TimeSlot     time.Time       `json:"time_slot"`
	OfferCount   int             `json:"offer_count"`
	TradeCount   int             `json:"trade_count"`
	MinTradeRate decimal.Decimal `json:"min_trade_rate"`
	AvgTradeRate decimal.Decimal `json:"avg_trade_rate"`
	MaxTradeRate decimal.Decimal `json:"max_trade_rate"`
	TradedEnergy decimal.Decimal `json:"traded_energy"`
}

// Record converts the summary into its persisted form.
func (s MarketSummary) Record() MarketRecord {
	return MarketRecord{
		ID:           s.MarketID,
		Area:         s.Area,
		Kind:         s.Kind,
		TimeSlot:     s.TimeSlot,
		OfferCount:   s.OfferCount,
		TradeCount:   s.TradeCount,
		MinTradeRate: s.MinTradeRate,
		AvgTradeRate: s.AvgTradeRate,
		MaxTradeRate: s.MaxTradeRate,
		TradedEnergy: s.TradedEnergy,
	}
}
