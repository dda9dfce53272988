package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/speedfox3/Space-Explorer/internal/market"
)

func newPlayer(t *testing.T, store *MemoryStore, balance int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if err := store.CreatePlayer(context.Background(), id, decimal.NewFromInt(balance)); err != nil {
		t.Fatalf("create player: %v", err)
	}
	return id
}

func placeOrder(t *testing.T, store *MemoryStore, playerID uuid.UUID, resourceType string, side market.Side, price, quantity int64) *market.Order {
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

func TestSubmitOrderAssignsIdentityAndSequence(t *testing.T) {
	store := NewMemory()
	player := newPlayer(t, store, 100)

	first := placeOrder(t, store, player, "ore", market.SideSell, 10, 5)
	second := placeOrder(t, store, player, "ore", market.SideSell, 10, 5)

	if first.ID == uuid.Nil || second.ID == uuid.Nil {
		t.Fatalf("expected ids to be assigned")
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct order ids")
	}
	if second.Seq <= first.Seq {
		t.Fatalf("expected strictly increasing seq, got %d then %d", first.Seq, second.Seq)
	}
	if first.Status != market.StatusOpen || first.Filled != 0 {
		t.Fatalf("expected fresh orders to be open and unfilled")
	}
}

func TestListOpenOrdersSortsBySideAndSeq(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	player := newPlayer(t, store, 100)

	placeOrder(t, store, player, "ore", market.SideBuy, 10, 1)
	tiedEarly := placeOrder(t, store, player, "ore", market.SideBuy, 12, 1)
	tiedLate := placeOrder(t, store, player, "ore", market.SideBuy, 12, 1)

	buys, err := store.ListOpenOrders(ctx, "ore", market.SideBuy)
	if err != nil {
		t.Fatalf("list buys: %v", err)
	}
	if len(buys) != 3 {
		t.Fatalf("expected 3 buys, got %d", len(buys))
	}
	if buys[0].Price.String() != "12" || buys[2].Price.String() != "10" {
		t.Fatalf("expected buys sorted best price first")
	}
	if buys[0].ID != tiedEarly.ID || buys[1].ID != tiedLate.ID {
		t.Fatalf("expected earlier seq ahead within equal price")
	}

	placeOrder(t, store, player, "ore", market.SideSell, 11, 1)
	placeOrder(t, store, player, "ore", market.SideSell, 9, 1)

	sells, err := store.ListOpenOrders(ctx, "ore", market.SideSell)
	if err != nil {
		t.Fatalf("list sells: %v", err)
	}
	if sells[0].Price.String() != "9" || sells[1].Price.String() != "11" {
		t.Fatalf("expected sells sorted cheapest first")
	}
}

func TestListOpenOrdersExcludesFilled(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	buyer := newPlayer(t, store, 100)
	seller := newPlayer(t, store, 0)

	buy := placeOrder(t, store, buyer, "ore", market.SideBuy, 10, 2)
	sell := placeOrder(t, store, seller, "ore", market.SideSell, 10, 2)

	if _, err := store.ApplySettlement(ctx, SettlementRequest{
		EventID:      "evt-1",
		BuyOrderID:   buy.ID,
		SellOrderID:  sell.ID,
		BuyerID:      buyer,
		SellerID:     seller,
		ResourceType: "ore",
		Quantity:     2,
		Price:        decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	for _, side := range []market.Side{market.SideBuy, market.SideSell} {
		open, _ := store.ListOpenOrders(ctx, "ore", side)
		if len(open) != 0 {
			t.Fatalf("expected no open %s orders after full fill", side)
		}
	}
}

func TestApplySettlementMovesValueAtomically(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	buyer := newPlayer(t, store, 100)
	seller := newPlayer(t, store, 0)

	buy := placeOrder(t, store, buyer, "ore", market.SideBuy, 10, 5)
	sell := placeOrder(t, store, seller, "ore", market.SideSell, 10, 5)

	result, err := store.ApplySettlement(ctx, SettlementRequest{
		EventID:      "evt-1",
		BuyOrderID:   buy.ID,
		SellOrderID:  sell.ID,
		BuyerID:      buyer,
		SellerID:     seller,
		ResourceType: "ore",
		Quantity:     5,
		Price:        decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.AlreadyProcessed || result.Trade == nil {
		t.Fatalf("expected a fresh trade")
	}
	if result.Trade.Quantity != 5 || result.Trade.Price.String() != "10" {
		t.Fatalf("unexpected trade: %+v", result.Trade)
	}

	buyerBalance, _ := store.GetBalance(ctx, buyer)
	sellerBalance, _ := store.GetBalance(ctx, seller)
	if buyerBalance.String() != "50" || sellerBalance.String() != "50" {
		t.Fatalf("expected 50/50 balances, got %s/%s", buyerBalance, sellerBalance)
	}
	inv, _ := store.GetInventory(ctx, buyer)
	if inv["ore"] != 5 {
		t.Fatalf("expected 5 ore credited, got %d", inv["ore"])
	}
}

func TestApplySettlementReplayedEventIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	buyer := newPlayer(t, store, 100)
	seller := newPlayer(t, store, 0)

	buy := placeOrder(t, store, buyer, "ore", market.SideBuy, 10, 5)
	sell := placeOrder(t, store, seller, "ore", market.SideSell, 10, 5)

	req := SettlementRequest{
		EventID:      "evt-1",
		BuyOrderID:   buy.ID,
		SellOrderID:  sell.ID,
		BuyerID:      buyer,
		SellerID:     seller,
		ResourceType: "ore",
		Quantity:     2,
		Price:        decimal.NewFromInt(10),
	}
	if _, err := store.ApplySettlement(ctx, req); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	result, err := store.ApplySettlement(ctx, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !result.AlreadyProcessed {
		t.Fatalf("expected replay to be flagged as already processed")
	}

	buyerBalance, _ := store.GetBalance(ctx, buyer)
	if buyerBalance.String() != "80" {
		t.Fatalf("expected a single debit of 20, balance %s", buyerBalance)
	}
	trades, _ := store.ListTrades(ctx, TradeFilter{})
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade after replay, got %d", len(trades))
	}
}

func TestApplySettlementRejectsBeforeMutating(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	buyer := newPlayer(t, store, 10)
	seller := newPlayer(t, store, 0)

	buy := placeOrder(t, store, buyer, "ore", market.SideBuy, 10, 5)
	sell := placeOrder(t, store, seller, "ore", market.SideSell, 10, 5)

	base := SettlementRequest{
		BuyOrderID:   buy.ID,
		SellOrderID:  sell.ID,
		BuyerID:      buyer,
		SellerID:     seller,
		ResourceType: "ore",
		Quantity:     5,
		Price:        decimal.NewFromInt(10),
	}

	cases := []struct {
		name    string
		mutate  func(*SettlementRequest)
		wantErr error
	}{
		{
			name:    "insufficient funds",
			mutate:  func(r *SettlementRequest) {},
			wantErr: ErrInsufficientFunds,
		},
		{
			name:    "unknown buy order",
			mutate:  func(r *SettlementRequest) { r.BuyOrderID = uuid.New() },
			wantErr: ErrOrderNotFound,
		},
		{
			name:    "unknown buyer account",
			mutate:  func(r *SettlementRequest) { r.Quantity = 1; r.BuyerID = uuid.New() },
			wantErr: ErrAccountNotFound,
		},
		{
			name:    "overfill",
			mutate:  func(r *SettlementRequest) { r.Quantity = 6 },
			wantErr: ErrOrderOverfill,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			req.EventID = "evt-" + tc.name
			tc.mutate(&req)
			_, err := store.ApplySettlement(ctx, req)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	// no rejected request may leave partial state behind
	buyerBalance, _ := store.GetBalance(ctx, buyer)
	if buyerBalance.String() != "10" {
		t.Fatalf("expected untouched balance after rejections, got %s", buyerBalance)
	}
	open, _ := store.ListOpenOrders(ctx, "ore", market.SideBuy)
	if len(open) != 1 || open[0].Filled != 0 {
		t.Fatalf("expected untouched buy order after rejections")
	}
	trades, _ := store.ListTrades(ctx, TradeFilter{})
	if len(trades) != 0 {
		t.Fatalf("expected no trades after rejections, got %d", len(trades))
	}
}

func TestListTradesFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	buyer := newPlayer(t, store, 1000)
	other := newPlayer(t, store, 1000)
	seller := newPlayer(t, store, 0)

	settle := func(eventID string, b uuid.UUID, resourceType string) {
		t.Helper()
		buy := placeOrder(t, store, b, resourceType, market.SideBuy, 10, 1)
		sell := placeOrder(t, store, seller, resourceType, market.SideSell, 10, 1)
		if _, err := store.ApplySettlement(ctx, SettlementRequest{
			EventID:      eventID,
			BuyOrderID:   buy.ID,
			SellOrderID:  sell.ID,
			BuyerID:      b,
			SellerID:     seller,
			ResourceType: resourceType,
			Quantity:     1,
			Price:        decimal.NewFromInt(10),
		}); err != nil {
			t.Fatalf("settle %s: %v", eventID, err)
		}
	}

	settle("evt-1", buyer, "ore")
	settle("evt-2", other, "ore")
	settle("evt-3", buyer, "crystal")

	all, err := store.ListTrades(ctx, TradeFilter{})
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(all))
	}
	// newest first
	if all[0].ResourceType != "crystal" {
		t.Fatalf("expected newest trade first, got %s", all[0].ResourceType)
	}

	ore, _ := store.ListTrades(ctx, TradeFilter{ResourceType: "ore"})
	if len(ore) != 2 {
		t.Fatalf("expected 2 ore trades, got %d", len(ore))
	}

	mine, _ := store.ListTrades(ctx, TradeFilter{PlayerID: &buyer})
	if len(mine) != 2 {
		t.Fatalf("expected 2 trades involving buyer, got %d", len(mine))
	}

	sellerSide, _ := store.ListTrades(ctx, TradeFilter{PlayerID: &seller})
	if len(sellerSide) != 3 {
		t.Fatalf("expected seller on all 3 trades, got %d", len(sellerSide))
	}

	paged, _ := store.ListTrades(ctx, TradeFilter{Limit: 1, Offset: 1})
	if len(paged) != 1 || paged[0].ResourceType != "ore" {
		t.Fatalf("unexpected page: %+v", paged)
	}

	past, _ := store.ListTrades(ctx, TradeFilter{Offset: 10})
	if len(past) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(past))
	}
}

func TestCreditPrimitivesValidateInput(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	player := newPlayer(t, store, 0)

	if err := store.CreditBalance(ctx, player, decimal.NewFromInt(25)); err != nil {
		t.Fatalf("credit balance: %v", err)
	}
	if err := store.CreditBalance(ctx, player, decimal.Zero); err == nil {
		t.Fatalf("expected zero credit to be rejected")
	}
	if err := store.CreditBalance(ctx, uuid.New(), decimal.NewFromInt(1)); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}

	if err := store.CreditInventory(ctx, player, "ore", 3); err != nil {
		t.Fatalf("credit inventory: %v", err)
	}
	if err := store.CreditInventory(ctx, player, "", 3); err == nil {
		t.Fatalf("expected empty resource type to be rejected")
	}
	if err := store.CreditInventory(ctx, player, "ore", 0); err == nil {
		t.Fatalf("expected zero quantity to be rejected")
	}

	balance, _ := store.GetBalance(ctx, player)
	if balance.String() != "25" {
		t.Fatalf("expected balance 25, got %s", balance)
	}
	inv, _ := store.GetInventory(ctx, player)
	if inv["ore"] != 3 {
		t.Fatalf("expected 3 ore, got %d", inv["ore"])
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	player := newPlayer(t, store, 0)

	created, err := store.CreateSession(ctx, MinigameSession{PlayerID: player, GameType: "timing"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if created.Status != SessionActive || created.Result != nil {
		t.Fatalf("expected a fresh active session")
	}

	fetched, err := store.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if fetched.ID != created.ID || fetched.GameType != "timing" {
		t.Fatalf("unexpected session: %+v", fetched)
	}

	finished, err := store.FinishSession(ctx, created.ID, SessionResult{Success: true, Detail: "hit"})
	if err != nil {
		t.Fatalf("finish session: %v", err)
	}
	if finished.Status != SessionFinished || finished.Result == nil || !finished.Result.Success {
		t.Fatalf("expected finished successful session, got %+v", finished)
	}

	if _, err := store.FinishSession(ctx, created.ID, SessionResult{}); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected double finish to fail, got %v", err)
	}
	if _, err := store.GetSession(ctx, uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestClampLimit(t *testing.T) {
	if clampLimit(0) != 50 {
		t.Fatalf("expected default 50, got %d", clampLimit(0))
	}
	if clampLimit(-3) != 50 {
		t.Fatalf("expected default for negative, got %d", clampLimit(-3))
	}
	if clampLimit(10) != 10 {
		t.Fatalf("expected passthrough, got %d", clampLimit(10))
	}
	if clampLimit(9999) != 500 {
		t.Fatalf("expected cap 500, got %d", clampLimit(9999))
	}
}
