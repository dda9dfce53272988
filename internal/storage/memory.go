package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/speedfox3/Space-Explorer/internal/market"
)

// MemoryStore is the in-process implementation of the market store, used by
// tests and the memory storage backend in dev. All mutation happens under one
// mutex, so every operation is atomic the same way a database transaction is.
type MemoryStore struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*market.Order
	orderSeq  int64
	trades    []market.Trade
	players   map[uuid.UUID]*playerState
	processed map[string]struct{}
	sessions  map[uuid.UUID]*MinigameSession
}

type playerState struct {
	balance   decimal.Decimal
	inventory map[string]int64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[uuid.UUID]*market.Order),
		players:   make(map[uuid.UUID]*playerState),
		processed: make(map[string]struct{}),
		sessions:  make(map[uuid.UUID]*MinigameSession),
	}
}

// CreatePlayer registers a player account with a starting balance. In a real
// deployment accounts come from the player service; the memory backend needs
// them seeded explicitly.
func (s *MemoryStore) CreatePlayer(_ context.Context, playerID uuid.UUID, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.players[playerID]; exists {
		return fmt.Errorf("player %s already exists", playerID)
	}
	s.players[playerID] = &playerState{balance: balance, inventory: make(map[string]int64)}
	return nil
}

func (s *MemoryStore) SubmitOrder(_ context.Context, order market.Order) (*market.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orderSeq++
	order.ID = uuid.New()
	order.Seq = s.orderSeq
	order.Filled = 0
	order.Status = market.StatusOpen
	order.CreatedAt = time.Now().UTC()

	stored := order
	s.orders[order.ID] = &stored
	out := stored
	return &out, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, resourceType string) ([]market.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := make([]market.Order, 0)
	for _, o := range s.orders {
		if resourceType != "" && o.ResourceType != resourceType {
			continue
		}
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool {
		cmp := orders[i].Price.Cmp(orders[j].Price)
		if cmp != 0 {
			return cmp < 0
		}
		return orders[i].Seq < orders[j].Seq
	})
	return orders, nil
}

func (s *MemoryStore) ListOpenOrders(_ context.Context, resourceType string, side market.Side) ([]market.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := make([]market.Order, 0)
	for _, o := range s.orders {
		if o.ResourceType != resourceType || o.Side != side || o.Status != market.StatusOpen || o.Remaining() <= 0 {
			continue
		}
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool {
		cmp := orders[i].Price.Cmp(orders[j].Price)
		if cmp != 0 {
			if side == market.SideBuy {
				return cmp > 0
			}
			return cmp < 0
		}
		return orders[i].Seq < orders[j].Seq
	})
	return orders, nil
}

func (s *MemoryStore) OpenResourceTypes(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[string]struct{})
	for _, o := range s.orders {
		if o.Status == market.StatusOpen {
			set[o.ResourceType] = struct{}{}
		}
	}
	types := make([]string, 0, len(set))
	for t := range set {
		types = append(types, t)
	}
	sort.Strings(types)
	return types, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, filter TradeFilter) ([]market.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := clampLimit(filter.Limit)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	matched := make([]market.Trade, 0)
	// trades are appended in time order, so walk backwards for newest-first
	for i := len(s.trades) - 1; i >= 0; i-- {
		t := s.trades[i]
		if filter.ResourceType != "" && t.ResourceType != filter.ResourceType {
			continue
		}
		if filter.PlayerID != nil && t.BuyerID != *filter.PlayerID && t.SellerID != *filter.PlayerID {
			continue
		}
		if filter.Start != nil && t.CreatedAt.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && t.CreatedAt.After(*filter.End) {
			continue
		}
		matched = append(matched, t)
	}

	if offset >= len(matched) {
		return []market.Trade{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) ApplySettlement(_ context.Context, req SettlementRequest) (*SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.EventID != "" {
		if _, seen := s.processed[req.EventID]; seen {
			return &SettlementResult{AlreadyProcessed: true}, nil
		}
	}
	if req.Quantity <= 0 || req.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("settlement price and quantity must be positive")
	}

	buy, ok := s.orders[req.BuyOrderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, req.BuyOrderID)
	}
	sell, ok := s.orders[req.SellOrderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, req.SellOrderID)
	}
	if buy.Remaining() < req.Quantity || sell.Remaining() < req.Quantity {
		return nil, ErrOrderOverfill
	}

	buyer, ok := s.players[req.BuyerID]
	if !ok {
		return nil, fmt.Errorf("%w: buyer %s", ErrAccountNotFound, req.BuyerID)
	}
	seller, ok := s.players[req.SellerID]
	if !ok {
		return nil, fmt.Errorf("%w: seller %s", ErrAccountNotFound, req.SellerID)
	}

	cost := req.Price.Mul(decimal.NewFromInt(req.Quantity))
	if buyer.balance.LessThan(cost) {
		return nil, fmt.Errorf("%w: buyer %s needs %s", ErrInsufficientFunds, req.BuyerID, cost)
	}

	// all checks passed; mutate as one unit
	buy.Filled += req.Quantity
	sell.Filled += req.Quantity
	if buy.Filled == buy.Quantity {
		buy.Status = market.StatusFilled
	}
	if sell.Filled == sell.Quantity {
		sell.Status = market.StatusFilled
	}

	buyer.balance = buyer.balance.Sub(cost)
	seller.balance = seller.balance.Add(cost)
	buyer.inventory[req.ResourceType] += req.Quantity

	trade := market.Trade{
		ID:           uuid.New(),
		BuyerID:      req.BuyerID,
		SellerID:     req.SellerID,
		ResourceType: req.ResourceType,
		Price:        req.Price,
		Quantity:     req.Quantity,
		CreatedAt:    time.Now().UTC(),
	}
	s.trades = append(s.trades, trade)

	if req.EventID != "" {
		s.processed[req.EventID] = struct{}{}
	}

	return &SettlementResult{Trade: &trade}, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, playerID uuid.UUID) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrAccountNotFound, playerID)
	}
	return p.balance, nil
}

func (s *MemoryStore) GetInventory(_ context.Context, playerID uuid.UUID) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, playerID)
	}
	inv := make(map[string]int64, len(p.inventory))
	for k, v := range p.inventory {
		inv[k] = v
	}
	return inv, nil
}

func (s *MemoryStore) CreditBalance(_ context.Context, playerID uuid.UUID, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("credit amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, playerID)
	}
	p.balance = p.balance.Add(amount)
	return nil
}

func (s *MemoryStore) CreditInventory(_ context.Context, playerID uuid.UUID, resourceType string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("credit quantity must be positive")
	}
	if resourceType == "" {
		return fmt.Errorf("resource type required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, playerID)
	}
	p.inventory[resourceType] += quantity
	return nil
}

func (s *MemoryStore) CreateSession(_ context.Context, session MinigameSession) (*MinigameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	session.ID = uuid.New()
	session.Status = SessionActive
	session.Result = nil
	session.CreatedAt = now
	session.UpdatedAt = now

	stored := session
	s.sessions[session.ID] = &stored
	out := stored
	return &out, nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID uuid.UUID) (*MinigameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	out := *session
	return &out, nil
}

func (s *MemoryStore) FinishSession(_ context.Context, sessionID uuid.UUID, result SessionResult) (*MinigameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if session.Status != SessionActive {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotActive, sessionID)
	}

	session.Status = SessionFinished
	session.Result = &result
	session.UpdatedAt = time.Now().UTC()
	out := *session
	return &out, nil
}
