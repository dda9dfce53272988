package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/speedfox3/Space-Explorer/internal/market"
	"github.com/speedfox3/Space-Explorer/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, logger, nil), store
}

func seedPlayer(t *testing.T, store *storage.MemoryStore, balance int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if err := store.CreatePlayer(context.Background(), id, decimal.NewFromInt(balance)); err != nil {
		t.Fatalf("seed player: %v", err)
	}
	return id
}

func submit(t *testing.T, store *storage.MemoryStore, playerID uuid.UUID, resourceType string, side market.Side, price, quantity int64) *market.Order {
	t.Helper()
	order, err := store.SubmitOrder(context.Background(), market.Order{
		PlayerID:     playerID,
		ResourceType: resourceType,
		Side:         side,
		Price:        decimal.NewFromInt(price),
		Quantity:     quantity,
	})
	if err != nil {
		t.Fatalf("submit order: %v", err)
	}
	return order
}

func TestRunMatchingCycleConservesValue(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)

	buyer := seedPlayer(t, store, 1000)
	seller := seedPlayer(t, store, 0)

	submit(t, store, seller, "ore", market.SideSell, 10, 5)
	submit(t, store, buyer, "ore", market.SideBuy, 12, 5)

	trades, err := eng.RunMatchingCycle(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if trades != 1 {
		t.Fatalf("expected 1 trade, got %d", trades)
	}

	buyerBalance, _ := store.GetBalance(ctx, buyer)
	sellerBalance, _ := store.GetBalance(ctx, seller)
	if buyerBalance.String() != "945" {
		t.Fatalf("expected buyer balance 945, got %s", buyerBalance.String())
	}
	if sellerBalance.String() != "55" {
		t.Fatalf("expected seller balance 55, got %s", sellerBalance.String())
	}
	if buyerBalance.Add(sellerBalance).String() != "1000" {
		t.Fatalf("currency not conserved: sum %s", buyerBalance.Add(sellerBalance).String())
	}

	inv, _ := store.GetInventory(ctx, buyer)
	if inv["ore"] != 5 {
		t.Fatalf("expected buyer to hold 5 ore, got %d", inv["ore"])
	}

	recorded, _ := store.ListTrades(ctx, storage.TradeFilter{})
	if len(recorded) != 1 {
		t.Fatalf("expected 1 recorded trade, got %d", len(recorded))
	}
	if recorded[0].Price.String() != "11" {
		t.Fatalf("expected trade at midpoint 11, got %s", recorded[0].Price.String())
	}
}

func TestRunMatchingCycleNoCrossHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)

	buyer := seedPlayer(t, store, 1000)
	seller := seedPlayer(t, store, 0)

	submit(t, store, buyer, "ore", market.SideBuy, 9, 5)
	submit(t, store, seller, "ore", market.SideSell, 10, 5)

	trades, err := eng.RunMatchingCycle(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if trades != 0 {
		t.Fatalf("expected 0 trades, got %d", trades)
	}

	buyerBalance, _ := store.GetBalance(ctx, buyer)
	if buyerBalance.String() != "1000" {
		t.Fatalf("expected untouched buyer balance, got %s", buyerBalance.String())
	}
	for _, side := range []market.Side{market.SideBuy, market.SideSell} {
		open, _ := store.ListOpenOrders(ctx, "ore", side)
		if len(open) != 1 || open[0].Filled != 0 {
			t.Fatalf("expected one untouched open %s order", side)
		}
	}
}

func TestRunMatchingCycleSecondRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)

	buyer := seedPlayer(t, store, 1000)
	seller := seedPlayer(t, store, 0)

	submit(t, store, seller, "ore", market.SideSell, 10, 5)
	submit(t, store, buyer, "ore", market.SideBuy, 12, 5)

	if _, err := eng.RunMatchingCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	trades, err := eng.RunMatchingCycle(ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if trades != 0 {
		t.Fatalf("expected no trades on second cycle, got %d", trades)
	}

	buyerBalance, _ := store.GetBalance(ctx, buyer)
	if buyerBalance.String() != "945" {
		t.Fatalf("expected buyer balance unchanged at 945, got %s", buyerBalance.String())
	}
}

func TestRunMatchingCyclePriceBeatsSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)

	buyer := seedPlayer(t, store, 1000)
	seller := seedPlayer(t, store, 0)

	expensive := submit(t, store, seller, "ore", market.SideSell, 10, 5)
	cheap := submit(t, store, seller, "ore", market.SideSell, 9, 5)
	submit(t, store, buyer, "ore", market.SideBuy, 10, 5)

	trades, err := eng.RunMatchingCycle(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if trades != 1 {
		t.Fatalf("expected 1 trade, got %d", trades)
	}

	open, _ := store.ListOpenOrders(ctx, "ore", market.SideSell)
	if len(open) != 1 {
		t.Fatalf("expected one sell still open, got %d", len(open))
	}
	if open[0].ID != expensive.ID {
		t.Fatalf("expected the price-10 sell to remain open")
	}
	if open[0].ID == cheap.ID {
		t.Fatalf("cheapest sell should have been consumed first")
	}

	recorded, _ := store.ListTrades(ctx, storage.TradeFilter{})
	if recorded[0].Price.String() != "9.5" {
		t.Fatalf("expected midpoint 9.5, got %s", recorded[0].Price.String())
	}
}

func TestRunMatchingCyclePartialFillStaysOpen(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)

	buyer := seedPlayer(t, store, 1000)
	seller := seedPlayer(t, store, 0)

	buy := submit(t, store, buyer, "ore", market.SideBuy, 10, 10)
	submit(t, store, seller, "ore", market.SideSell, 10, 4)

	trades, err := eng.RunMatchingCycle(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if trades != 1 {
		t.Fatalf("expected 1 trade, got %d", trades)
	}

	open, _ := store.ListOpenOrders(ctx, "ore", market.SideBuy)
	if len(open) != 1 {
		t.Fatalf("expected buy to remain open, got %d open buys", len(open))
	}
	if open[0].ID != buy.ID || open[0].Filled != 4 || open[0].Remaining() != 6 {
		t.Fatalf("expected buy filled 4 of 10, got filled %d", open[0].Filled)
	}

	sells, _ := store.ListOpenOrders(ctx, "ore", market.SideSell)
	if len(sells) != 0 {
		t.Fatalf("expected sell fully filled, got %d open sells", len(sells))
	}
}

func TestRunMatchingCycleSkipsInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)

	buyer := seedPlayer(t, store, 10)
	seller := seedPlayer(t, store, 0)

	submit(t, store, seller, "ore", market.SideSell, 10, 5)
	submit(t, store, buyer, "ore", market.SideBuy, 12, 5)

	trades, err := eng.RunMatchingCycle(ctx)
	if err != nil {
		t.Fatalf("expected ledger fault to be absorbed, got %v", err)
	}
	if trades != 0 {
		t.Fatalf("expected 0 trades, got %d", trades)
	}

	buyerBalance, _ := store.GetBalance(ctx, buyer)
	if buyerBalance.String() != "10" {
		t.Fatalf("expected buyer balance untouched, got %s", buyerBalance.String())
	}
	for _, side := range []market.Side{market.SideBuy, market.SideSell} {
		open, _ := store.ListOpenOrders(ctx, "ore", side)
		if len(open) != 1 || open[0].Filled != 0 {
			t.Fatalf("expected %s order to keep its pre-event state", side)
		}
	}
}

func TestRunMatchingCycleSkipsMissingAccount(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)

	// buyer never registered with the ledger
	buyer := uuid.New()
	seller := seedPlayer(t, store, 0)

	submit(t, store, seller, "ore", market.SideSell, 10, 5)
	submit(t, store, buyer, "ore", market.SideBuy, 12, 5)

	trades, err := eng.RunMatchingCycle(ctx)
	if err != nil {
		t.Fatalf("expected ledger fault to be absorbed, got %v", err)
	}
	if trades != 0 {
		t.Fatalf("expected 0 trades, got %d", trades)
	}
	recorded, _ := store.ListTrades(ctx, storage.TradeFilter{})
	if len(recorded) != 0 {
		t.Fatalf("expected no recorded trades, got %d", len(recorded))
	}
}

func TestRunMatchingCycleFaultDoesNotBlockOtherEvents(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)

	broke := seedPlayer(t, store, 0)
	funded := seedPlayer(t, store, 1000)
	seller := seedPlayer(t, store, 0)

	submit(t, store, seller, "ore", market.SideSell, 10, 10)
	// the broke buyer bids higher, so its event is generated first and rejected
	submit(t, store, broke, "ore", market.SideBuy, 14, 5)
	submit(t, store, funded, "ore", market.SideBuy, 12, 5)

	trades, err := eng.RunMatchingCycle(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if trades != 1 {
		t.Fatalf("expected the funded buyer's event to settle, got %d trades", trades)
	}

	inv, _ := store.GetInventory(ctx, funded)
	if inv["ore"] != 5 {
		t.Fatalf("expected funded buyer to receive 5 ore, got %d", inv["ore"])
	}
	brokeInv, _ := store.GetInventory(ctx, broke)
	if brokeInv["ore"] != 0 {
		t.Fatalf("expected broke buyer to receive nothing, got %d", brokeInv["ore"])
	}
}

func TestRunMatchingCycleMatchesResourceTypesIndependently(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(t)

	buyer := seedPlayer(t, store, 1000)
	seller := seedPlayer(t, store, 0)

	submit(t, store, seller, "ore", market.SideSell, 10, 5)
	submit(t, store, buyer, "ore", market.SideBuy, 10, 5)
	submit(t, store, seller, "crystal", market.SideSell, 20, 2)
	submit(t, store, buyer, "crystal", market.SideBuy, 20, 2)
	// this fuel sell has no counterparty and must not leak across books
	submit(t, store, seller, "fuel", market.SideSell, 5, 1)

	trades, err := eng.RunMatchingCycle(ctx)
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if trades != 2 {
		t.Fatalf("expected 2 trades across books, got %d", trades)
	}

	inv, _ := store.GetInventory(ctx, buyer)
	if inv["ore"] != 5 || inv["crystal"] != 2 || inv["fuel"] != 0 {
		t.Fatalf("unexpected buyer inventory: %v", inv)
	}
}
