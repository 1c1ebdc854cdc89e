package strategy

import (
	"fmt"
	"log/slog"

	"gridsim/internal/domain"
	"gridsim/internal/event"
	"gridsim/internal/market"

	"github.com/shopspring/decimal"
)

// CommercialProducer sells a fixed amount of energy at a fixed rate into
// every open market of its host. Supply is unlimited: a fully accepted offer
// is replaced right away.
type CommercialProducer struct {
	host  Host
	owner Host

	rate   decimal.Decimal // per kWh
	energy decimal.Decimal // per offer

	offered map[string]string // market id -> open offer id
}

// NewCommercialProducer creates a producer offering energy kWh at rate.
func NewCommercialProducer(rate, energy decimal.Decimal) *CommercialProducer {
	return &CommercialProducer{
		rate:    rate,
		energy:  energy,
		offered: make(map[string]string),
	}
}

func (s *CommercialProducer) Bind(host, owner Host) {
	s.host = host
	s.owner = owner
}

func (s *CommercialProducer) OnEvent(ev event.Event) {
	if s.host == nil {
		return
	}
	switch ev.Type {
	case event.EvActivate, event.EvMarketCycle:
		for _, m := range s.host.Markets() {
			if _, ok := s.offered[m.ID()]; !ok {
				s.place(m)
			}
		}
	case event.EvTrade:
		tr := ev.Args.Trade
		if tr == nil || tr.Seller != s.owner.Name() {
			return
		}
		if s.offered[ev.Args.MarketID] != tr.Offer.ID {
			return
		}
		if tr.Residual != nil {
			s.offered[ev.Args.MarketID] = tr.Residual.ID
			return
		}
		for _, m := range s.host.Markets() {
			if m.ID() == ev.Args.MarketID {
				s.place(m)
				return
			}
		}
	}
}

func (s *CommercialProducer) place(m *market.Market) {
	o, err := m.PlaceOffer(s.rate.Mul(s.energy), s.energy, s.owner.Name())
	if err != nil {
		slog.Debug("Commercial offer rejected",
			slog.String("area", s.owner.Name()),
			slog.String("market", m.String()),
			slog.Any("error", err))
		return
	}
	s.offered[m.ID()] = o.ID
}

// Rate returns the current selling rate.
func (s *CommercialProducer) Rate() decimal.Decimal {
	return s.rate
}

func (s *CommercialProducer) Triggers() []Trigger {
	return []Trigger{{Name: "set_rate", Params: map[string]string{"rate": "selling rate per kWh"}}}
}

// FireTrigger applies set_rate to offers placed from now on.
func (s *CommercialProducer) FireTrigger(name string, params map[string]string) error {
	if name != "set_rate" {
		return fmt.Errorf("%w: %s", domain.ErrUnknownTrigger, name)
	}
	rate, err := decimal.NewFromString(params["rate"])
	if err != nil || rate.IsNegative() {
		return fmt.Errorf("set_rate: invalid rate %q", params["rate"])
	}
	s.rate = rate
	return nil
}
