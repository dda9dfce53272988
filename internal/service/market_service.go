package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/speedfox3/Space-Explorer/internal/market"
	"github.com/speedfox3/Space-Explorer/internal/storage"
)

type Store interface {
	SubmitOrder(ctx context.Context, order market.Order) (*market.Order, error)
	ListOrders(ctx context.Context, resourceType string) ([]market.Order, error)
	ListTrades(ctx context.Context, filter storage.TradeFilter) ([]market.Trade, error)
	GetBalance(ctx context.Context, playerID uuid.UUID) (decimal.Decimal, error)
	GetInventory(ctx context.Context, playerID uuid.UUID) (map[string]int64, error)
}

// MarketService fronts the order store for the request layer: submission
// validation happens here, synchronously, before anything is persisted.
type MarketService struct {
	store  Store
	logger *slog.Logger
}

func NewMarketService(store Store, logger *slog.Logger) *MarketService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketService{store: store, logger: logger}
}

type SubmitOrderInput struct {
	PlayerID     uuid.UUID
	ResourceType string
	Side         string
	Price        decimal.Decimal
	Quantity     int64
}

func (s *MarketService) SubmitOrder(ctx context.Context, input SubmitOrderInput) (*market.Order, error) {
	resourceType := strings.TrimSpace(input.ResourceType)
	if resourceType == "" {
		return nil, fmt.Errorf("%w: resource type required", market.ErrInvalidOrder)
	}
	side, err := market.ParseSide(input.Side)
	if err != nil {
		return nil, err
	}
	if input.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", market.ErrInvalidOrder)
	}
	if input.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: price must be positive", market.ErrInvalidOrder)
	}

	order, err := s.store.SubmitOrder(ctx, market.Order{
		PlayerID:     input.PlayerID,
		ResourceType: resourceType,
		Side:         side,
		Price:        input.Price,
		Quantity:     input.Quantity,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order submitted",
		"order_id", order.ID,
		"player_id", order.PlayerID,
		"resource_type", order.ResourceType,
		"side", order.Side,
		"price", order.Price.String(),
		"quantity", order.Quantity,
	)
	return order, nil
}

func (s *MarketService) ListOrders(ctx context.Context, resourceType string) ([]market.Order, error) {
	return s.store.ListOrders(ctx, strings.TrimSpace(resourceType))
}

type ListTradesInput struct {
	ResourceType string
	PlayerID     *uuid.UUID
	Start        *time.Time
	End          *time.Time
	Limit        int
	Offset       int
}

func (s *MarketService) ListTrades(ctx context.Context, input ListTradesInput) ([]market.Trade, error) {
	return s.store.ListTrades(ctx, storage.TradeFilter{
		ResourceType: strings.TrimSpace(input.ResourceType),
		PlayerID:     input.PlayerID,
		Start:        input.Start,
		End:          input.End,
		Limit:        input.Limit,
		Offset:       input.Offset,
	})
}

func (s *MarketService) GetBalance(ctx context.Context, playerID uuid.UUID) (decimal.Decimal, error) {
	return s.store.GetBalance(ctx, playerID)
}

func (s *MarketService) GetInventory(ctx context.Context, playerID uuid.UUID) (map[string]int64, error) {
	return s.store.GetInventory(ctx, playerID)
}
