package strategy

import (
	"fmt"
	"log/slog"

	"gridsim/internal/domain"
	"gridsim/internal/event"

	"github.com/shopspring/decimal"
)

// Load buys a fixed amount of energy per slot from the cheapest offers of
// the host's next market, never paying more than maxRate.
type Load struct {
	host  Host
	owner Host

	energy  decimal.Decimal // per slot
	maxRate decimal.Decimal

	bought map[string]decimal.Decimal // market id -> energy
}

// NewLoad creates a load that needs energy kWh per slot.
func NewLoad(energy, maxRate decimal.Decimal) *Load {
	return &Load{
		energy:  energy,
		maxRate: maxRate,
		bought:  make(map[string]decimal.Decimal),
	}
}

func (s *Load) Bind(host, owner Host) {
	s.host = host
	s.owner = owner
}

func (s *Load) OnEvent(ev event.Event) {
	if s.host == nil || ev.Type != event.EvTick {
		return
	}
	s.buy()
}

func (s *Load) buy() {
	m := s.host.NextMarket()
	if m == nil {
		return
	}
	need := s.energy.Sub(s.bought[m.ID()])
	for _, o := range m.SortedOffers() {
		if !need.IsPositive() {
			return
		}
		if o.Seller == s.owner.Name() {
			continue
		}
		if o.Rate().GreaterThan(s.maxRate) {
			return
		}
		amount := decimal.Min(need, o.Energy)
		if _, err := m.AcceptOffer(o.ID, s.owner.Name(), amount, s.host.Now()); err != nil {
			// Offers can disappear while earlier acceptances propagate.
			slog.Debug("Load could not accept offer",
				slog.String("area", s.owner.Name()),
				slog.String("offer", o.ID),
				slog.Any("error", err))
			continue
		}
		s.bought[m.ID()] = s.bought[m.ID()].Add(amount)
		need = need.Sub(amount)
	}
}

// Bought returns the energy bought in market id.
func (s *Load) Bought(marketID string) decimal.Decimal {
	return s.bought[marketID]
}

// TotalBought sums energy bought across all markets.
func (s *Load) TotalBought() decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.bought {
		total = total.Add(e)
	}
	return total
}

func (s *Load) Triggers() []Trigger {
	return []Trigger{{Name: "set_energy", Params: map[string]string{"energy": "energy needed per slot in kWh"}}}
}

// FireTrigger applies set_energy starting with the next buying attempt.
func (s *Load) FireTrigger(name string, params map[string]string) error {
	if name != "set_energy" {
		return fmt.Errorf("%w: %s", domain.ErrUnknownTrigger, name)
	}
	energy, err := decimal.NewFromString(params["energy"])
	if err != nil || energy.IsNegative() {
		return fmt.Errorf("set_energy: invalid energy %q", params["energy"])
	}
	s.energy = energy
	return nil
}
