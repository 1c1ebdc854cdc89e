package area

import (
	"testing"
	"time"

	"gridsim/internal/domain"
	"gridsim/internal/event"
	"gridsim/internal/market"
	"gridsim/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plantAndHouse builds Grid -> {Plant, Street -> House}. The plant sells
// 5 kWh at 30 into the grid markets, the house needs 3 kWh per slot.
func plantAndHouse(streetOpts ...Option) (grid, street *Area, load *strategy.Load) {
	load = strategy.NewLoad(d("3"), d("40"))
	house := New("House", WithStrategy(load))
	street = New("Street", append([]Option{WithChildren(house)}, streetOpts...)...)
	plant := New("Plant", WithStrategy(strategy.NewCommercialProducer(d("30"), d("5"))))
	grid = New("Grid", WithConfig(testConfig()), WithChildren(plant, street))
	return grid, street, load
}

func TestTradePropagation(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []Option
	}{
		{"local", nil},
		{"offloaded", []Option{WithOffload()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			grid, street, load := plantAndHouse(tc.opts...)
			require.NoError(t, grid.Activate())
			assert.Equal(t, tc.opts != nil, street.Offloaded())

			tickN(grid, 4)

			g0 := grid.NextMarket()
			s0 := street.NextMarket()
			require.Equal(t, g0.TimeSlot(), s0.TimeSlot())

			require.Len(t, s0.Trades(), 1)
			local := s0.Trades()[0]
			assert.Equal(t, "IAA Street", local.Seller)
			assert.Equal(t, "House", local.Buyer)
			assert.True(t, local.Offer.Energy.Equal(d("3")))
			assert.True(t, local.Offer.Rate().Equal(d("30.3")), local.Offer.Rate().String())

			require.Len(t, g0.Trades(), 1)
			upstream := g0.Trades()[0]
			assert.Equal(t, "Plant", upstream.Seller)
			assert.Equal(t, "IAA Street", upstream.Buyer)
			assert.True(t, upstream.Offer.Energy.Equal(d("3")))
			assert.True(t, g0.TradedEnergy("IAA Street").Equal(d("-3")))
			assert.True(t, s0.TradedEnergy("House").Equal(d("-3")))

			// The residual 2 kWh stay mirrored.
			ag := street.AgentsFor(s0)[0]
			_, down := ag.Forwarded()
			assert.Equal(t, 1, down)
			require.Len(t, s0.Offers(), 1)
			assert.True(t, s0.Offers()[0].Energy.Equal(d("2")))

			grid.Close()
			assert.True(t, load.TotalBought().Equal(d("3")), load.TotalBought().String())
		})
	}
}

func TestOffload_SameMarketWindows(t *testing.T) {
	gridA, streetA, _ := plantAndHouse()
	gridB, streetB, _ := plantAndHouse(WithOffload())
	require.NoError(t, gridA.Activate())
	require.NoError(t, gridB.Activate())
	defer gridA.Close()
	defer gridB.Close()

	assert.Empty(t, streetB.Children(), "children move into the worker")

	for i := 0; i < 40; i++ {
		gridA.Tick()
		gridB.Tick()
		require.Equal(t, slots(streetA.Markets()), slots(streetB.Markets()), "tick %d", i)
		require.Equal(t, slots(streetA.PastMarkets()), slots(streetB.PastMarkets()), "tick %d", i)
		require.Equal(t, slots(streetA.BalancingMarkets()), slots(streetB.BalancingMarkets()), "tick %d", i)
	}
	for i, m := range streetB.PastMarkets() {
		assert.Equal(t, streetA.PastMarkets()[i].TradeCount(), m.TradeCount(), m.String())
	}
}

func TestOffload_RelaysMarketEventsToListeners(t *testing.T) {
	grid, street, _ := plantAndHouse(WithOffload())
	var trades int
	street.AddListener(ListenerFunc(func(ev event.Event) {
		if ev.Type == event.EvTrade {
			trades++
		}
	}))
	require.NoError(t, grid.Activate())
	tickN(grid, 4)
	grid.Close()

	assert.Equal(t, 1, trades)
}

func TestMergeSnapshots_UnknownSlotIsDesync(t *testing.T) {
	a := New("Street")
	stray := market.New(day.Add(time.Hour), market.Spot, "Street", nil)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		var desync *domain.DesyncError
		assert.ErrorAs(t, err, &desync)
		assert.True(t, domain.IsFatal(err))
	}()
	a.mergeSnapshots([]market.Snapshot{stray.Snapshot()})
}

func TestWorker_AdoptRotatesUnlistedMarkets(t *testing.T) {
	cfg := testConfig()
	shadow := &Area{
		name:      "Street",
		config:    &cfg,
		spot:      newBook(market.Spot),
		balancing: newBook(market.Balancing),
	}
	w := newWorker(shadow)

	m0 := market.New(day, market.Spot, "Street", nil)
	m1 := market.New(day.Add(15*time.Minute), market.Spot, "Street", nil)
	w.adopt(0, []market.Snapshot{m0.Snapshot(), m1.Snapshot()})
	require.Len(t, shadow.Markets(), 2)
	adopted := shadow.Markets()[1]
	assert.Equal(t, m1.ID(), adopted.ID())

	m2 := market.New(day.Add(30*time.Minute), market.Spot, "Street", nil)
	w.adopt(15, []market.Snapshot{m1.Snapshot(), m2.Snapshot()})

	assert.Equal(t, 15, shadow.CurrentTick())
	assert.Equal(t, []time.Time{day.Add(15 * time.Minute), day.Add(30 * time.Minute)}, slots(shadow.Markets()))
	require.Len(t, shadow.PastMarkets(), 1)
	assert.True(t, shadow.PastMarkets()[0].ReadOnly())
	assert.Same(t, adopted, shadow.Markets()[0], "known markets are updated in place")
}

func TestWorker_ProcessReportsErrors(t *testing.T) {
	cfg := testConfig()
	shadow := &Area{
		name:      "Street",
		config:    &cfg,
		spot:      newBook(market.Spot),
		balancing: newBook(market.Balancing),
	}
	shadow.seed(1)
	w := newWorker(shadow)

	raw := w.process([]byte("not json"))
	var resp workerResponse
	require.NoError(t, event.Decode(raw, &resp))
	assert.Contains(t, resp.Err, "decode request")

	raw = w.process([]byte(`{"tick":0,"event":{"type":99,"args":{}},"snapshots":[]}`))
	resp = workerResponse{}
	require.NoError(t, event.Decode(raw, &resp))
	assert.Contains(t, resp.Err, "unknown event type")

	raw = w.process([]byte(`{"tick":3,"event":{"type":2,"args":{}},"snapshots":[]}`))
	resp = workerResponse{}
	require.NoError(t, event.Decode(raw, &resp))
	assert.Empty(t, resp.Err)
	assert.Equal(t, 3, shadow.CurrentTick())
}

// siblingStreets builds Grid -> {Plant, Street 1, Street 2}, each street
// with two houses needing 0.8 kWh per slot.
func siblingStreets(streetOpts ...Option) (grid *Area, streets []*Area) {
	plant := New("Plant", WithStrategy(strategy.NewCommercialProducer(d("30"), d("5"))))
	children := []*Area{plant}
	for _, n := range []string{"1", "2"} {
		houses := []*Area{
			New("House "+n+"a", WithStrategy(strategy.NewLoad(d("0.8"), d("40")))),
			New("House "+n+"b", WithStrategy(strategy.NewLoad(d("0.8"), d("40")))),
		}
		street := New("Street "+n, append([]Option{WithChildren(houses...)}, streetOpts...)...)
		streets = append(streets, street)
		children = append(children, street)
	}
	grid = New("Grid", WithConfig(testConfig()), WithChildren(children...))
	return grid, streets
}

// traded sums what participant traded over the open and past spot markets.
func traded(a *Area, participant string) decimal.Decimal {
	sum := decimal.Zero
	for _, m := range append(a.PastMarkets(), a.Markets()...) {
		sum = sum.Add(m.TradedEnergy(participant))
	}
	return sum
}

func TestOffload_SiblingStreetsBuyWhatTheySell(t *testing.T) {
	sold := map[string][]decimal.Decimal{}
	for _, tc := range []struct {
		name string
		opts []Option
	}{
		{"local", nil},
		{"offloaded", []Option{WithOffload()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			grid, streets := siblingStreets(tc.opts...)
			require.NoError(t, grid.Activate())
			tickN(grid, 60)
			defer grid.Close()

			for _, street := range streets {
				agent := agentName(street)
				down := traded(street, agent)
				up := traded(grid, agent).Neg()
				assert.True(t, down.IsPositive(), "%s sold nothing", agent)
				assert.True(t, down.Equal(up), "%s sold %s downstream but bought %s upstream", agent, down, up)
				sold[tc.name] = append(sold[tc.name], down)
			}
		})
	}

	require.Len(t, sold["offloaded"], 2)
	for i := range sold["local"] {
		assert.True(t, sold["local"][i].Equal(sold["offloaded"][i]),
			"street %d: local %s, offloaded %s", i+1, sold["local"][i], sold["offloaded"][i])
	}
}

// deepStreet builds Grid -> {Plant, Street -> Building -> House}.
func deepStreet(streetOpts ...Option) (grid, street *Area) {
	house := New("House", WithStrategy(strategy.NewLoad(d("3"), d("40"))))
	building := New("Building", WithChildren(house))
	street = New("Street", append([]Option{WithChildren(building)}, streetOpts...)...)
	plant := New("Plant", WithStrategy(strategy.NewCommercialProducer(d("30"), d("5"))))
	grid = New("Grid", WithConfig(testConfig()), WithChildren(plant, street))
	return grid, street
}

func TestOffload_PastMarketReportsReachCoordinator(t *testing.T) {
	localGrid, localStreet := deepStreet()
	grid, street := deepStreet(WithOffload())
	require.NoError(t, localGrid.Activate())
	require.NoError(t, grid.Activate())
	defer localGrid.Close()
	defer grid.Close()

	tickN(localGrid, 31)
	tickN(grid, 31)

	want := localStreet.PastMarkets()
	got := street.PastMarkets()
	require.Len(t, want, 2)
	require.Len(t, got, 2)

	first := want[0]
	assert.True(t, first.ActualEnergy("Building").Equal(d("-3")), first.ActualEnergy("Building").String())
	assert.True(t, first.ActualEnergy("Building").Equal(first.TradedEnergy("IAA Building")))

	for i := range want {
		assert.True(t, got[i].TradedEnergy("IAA Building").Equal(want[i].TradedEnergy("IAA Building")),
			"%s traded %s, local %s", got[i], got[i].TradedEnergy("IAA Building"), want[i].TradedEnergy("IAA Building"))
		assert.True(t, got[i].ActualEnergy("Building").Equal(want[i].ActualEnergy("Building")),
			"%s reported %s, local %s", got[i], got[i].ActualEnergy("Building"), want[i].ActualEnergy("Building"))
	}
}

func TestMergePast_UnknownSlotIsDesync(t *testing.T) {
	a := New("Street")
	stray := market.New(day, market.Spot, "Street", nil)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		var desync *domain.DesyncError
		assert.ErrorAs(t, err, &desync)
	}()
	a.mergePast([]market.Snapshot{stray.Snapshot()})
}

func TestFireTriggerAt_ReachesOffloadedSubtree(t *testing.T) {
	grid, street, load := plantAndHouse(WithOffload())
	require.NoError(t, grid.Activate())
	require.True(t, street.Offloaded())
	require.Nil(t, grid.ChildBySlug("house"), "the house lives in the worker")

	require.NoError(t, grid.FireTriggerAt("house", "set_energy", map[string]string{"energy": "0"}))
	assert.ErrorIs(t, grid.FireTriggerAt("house", "explode", nil), domain.ErrUnknownTrigger)
	assert.ErrorIs(t, grid.FireTriggerAt("nowhere", "set_energy", nil), domain.ErrAreaNotFound)

	err := grid.FireTriggerAt("house", "set_energy", map[string]string{"energy": "lots"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrAreaNotFound)
	assert.NotErrorIs(t, err, domain.ErrUnknownTrigger)

	// Coordinator-side areas are fired directly.
	assert.ErrorIs(t, grid.FireTriggerAt("street", "set_energy", nil), domain.ErrUnknownTrigger)

	tickN(grid, 20)
	grid.Close()
	assert.True(t, load.TotalBought().IsZero(), load.TotalBought().String())
}
