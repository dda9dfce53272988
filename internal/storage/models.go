package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/speedfox3/Space-Explorer/internal/market"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOrderOverfill     = errors.New("fill exceeds order quantity")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionNotActive  = errors.New("session not active")
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 500
)

// TradeFilter narrows the trade log query. Zero values mean "no filter";
// Limit is clamped to [1, 500].
type TradeFilter struct {
	ResourceType string
	PlayerID     *uuid.UUID
	Start        *time.Time
	End          *time.Time
	Limit        int
	Offset       int
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultTradeLimit
	}
	if limit > maxTradeLimit {
		return maxTradeLimit
	}
	return limit
}

// SettlementRequest is one matched segment between a buy and a sell order.
// EventID is deterministic for the segment, so a replay after a crash is
// detected and skipped.
type SettlementRequest struct {
	EventID      string
	BuyOrderID   uuid.UUID
	SellOrderID  uuid.UUID
	BuyerID      uuid.UUID
	SellerID     uuid.UUID
	ResourceType string
	Quantity     int64
	Price        decimal.Decimal
}

type SettlementResult struct {
	Trade            *market.Trade
	AlreadyProcessed bool
}

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionFinished SessionStatus = "finished"
)

// MinigameSession tracks one play-through of a minigame. Result is set only
// once the session is finished; finished sessions are terminal.
type MinigameSession struct {
	ID        uuid.UUID
	PlayerID  uuid.UUID
	GameType  string
	Status    SessionStatus
	Result    *SessionResult
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SessionResult struct {
	Success bool
	Detail  string
	Reward  market.Reward
}
