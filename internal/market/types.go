package market

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidOrder rejects a submission with a non-positive price or quantity.
var ErrInvalidOrder = errors.New("invalid order")

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide maps free-form input onto the closed Side set.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(SideBuy):
		return SideBuy, nil
	case string(SideSell):
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
}

type OrderStatus string

const (
	StatusOpen   OrderStatus = "open"
	StatusFilled OrderStatus = "filled"
)

// Order is a resting limit order for one resource type. Filled never exceeds
// Quantity, and Status is filled exactly when the two are equal; once filled
// an order is terminal. Seq is the submission sequence used as the time
// tie-break inside a price level.
type Order struct {
	ID           uuid.UUID
	PlayerID     uuid.UUID
	ResourceType string
	Side         Side
	Price        decimal.Decimal
	Quantity     int64
	Filled       int64
	Status       OrderStatus
	Seq          int64
	CreatedAt    time.Time
}

func (o *Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

// Trade records exactly one matching step between one buy order and one sell
// order. Trades are append-only and never mutated.
type Trade struct {
	ID           uuid.UUID
	BuyerID      uuid.UUID
	SellerID     uuid.UUID
	ResourceType string
	Price        decimal.Decimal
	Quantity     int64
	CreatedAt    time.Time
}

// Reward is a currency or resource grant applied outside of trading (minigame
// results, exploration drops). Exactly one of the two branches is set.
type Reward struct {
	Currency     decimal.Decimal
	ResourceType string
	Amount       int64
}

func (r Reward) IsCurrency() bool {
	return r.Currency.GreaterThan(decimal.Zero)
}

func (r Reward) IsResource() bool {
	return r.ResourceType != "" && r.Amount > 0
}
