package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/speedfox3/Space-Explorer/internal/market"
	"github.com/speedfox3/Space-Explorer/internal/storage"
)

// Store is the slice of the market store the engine needs: the two ordered
// book views plus atomic per-event settlement.
type Store interface {
	OpenResourceTypes(ctx context.Context) ([]string, error)
	ListOpenOrders(ctx context.Context, resourceType string, side market.Side) ([]market.Order, error)
	ApplySettlement(ctx context.Context, req storage.SettlementRequest) (*storage.SettlementResult, error)
}

type Metrics interface {
	ObserveCycle(duration time.Duration, trades int)
	ObserveTrades(resourceType string, count int)
	IncSettlementFault(reason string)
	SetOpenOrders(resourceType string, side string, count float64)
}

// Engine runs the periodic matching cycle. It holds no timer of its own:
// callers (the scheduler goroutine, the admin endpoint) invoke
// RunMatchingCycle on whatever cadence they choose.
type Engine struct {
	store   Store
	logger  *slog.Logger
	metrics Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store Store, logger *slog.Logger, metrics Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		logger:  logger,
		metrics: metrics,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RunMatchingCycle matches and settles every resource type with at least one
// open order, returning the number of trades executed. A book where no bid
// meets an ask produces zero trades and zero side effects, so overlapping
// timer ticks and manual triggers are safe to repeat.
func (e *Engine) RunMatchingCycle(ctx context.Context) (int, error) {
	start := time.Now()

	types, err := e.store.OpenResourceTypes(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, resourceType := range types {
		count, err := e.matchResourceType(ctx, resourceType)
		total += count
		if err != nil {
			e.observeCycle(time.Since(start), total)
			return total, err
		}
	}

	e.observeCycle(time.Since(start), total)
	return total, nil
}

// matchResourceType runs one cycle for a single resource type. The keyed
// mutex makes overlapping cycles on the same resource type mutually
// exclusive; a concurrent pair could otherwise settle the same remaining
// quantity twice. Cycles for different resource types proceed independently.
func (e *Engine) matchResourceType(ctx context.Context, resourceType string) (int, error) {
	lock := e.typeLock(resourceType)
	lock.Lock()
	defer lock.Unlock()

	buys, err := e.store.ListOpenOrders(ctx, resourceType, market.SideBuy)
	if err != nil {
		return 0, err
	}
	sells, err := e.store.ListOpenOrders(ctx, resourceType, market.SideSell)
	if err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.SetOpenOrders(resourceType, string(market.SideBuy), float64(len(buys)))
		e.metrics.SetOpenOrders(resourceType, string(market.SideSell), float64(len(sells)))
	}

	events := MatchOrders(buys, sells)
	if len(events) == 0 {
		return 0, nil
	}

	settled := 0
	for _, event := range events {
		req := storage.SettlementRequest{
			EventID:      event.EventID(),
			BuyOrderID:   event.Buy.ID,
			SellOrderID:  event.Sell.ID,
			BuyerID:      event.Buy.PlayerID,
			SellerID:     event.Sell.PlayerID,
			ResourceType: resourceType,
			Quantity:     event.Quantity,
			Price:        event.Price,
		}

		result, err := e.store.ApplySettlement(ctx, req)
		if err != nil {
			if isLedgerFault(err) {
				// the event is skipped whole: both orders keep their
				// pre-event fill state and are retried next cycle
				e.logger.Warn("settlement rejected",
					"resource_type", resourceType,
					"buy_order", event.Buy.ID,
					"sell_order", event.Sell.ID,
					"quantity", event.Quantity,
					"error", err,
				)
				if e.metrics != nil {
					e.metrics.IncSettlementFault(faultReason(err))
				}
				continue
			}
			return settled, err
		}
		if result.AlreadyProcessed {
			continue
		}
		settled++
	}

	if e.metrics != nil && settled > 0 {
		e.metrics.ObserveTrades(resourceType, settled)
	}
	return settled, nil
}

func (e *Engine) typeLock(resourceType string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock := e.locks[resourceType]
	if lock == nil {
		lock = &sync.Mutex{}
		e.locks[resourceType] = lock
	}
	return lock
}

func (e *Engine) observeCycle(duration time.Duration, trades int) {
	if e.metrics != nil {
		e.metrics.ObserveCycle(duration, trades)
	}
}

// isLedgerFault reports whether a settlement failure is confined to one
// event. Everything else (connectivity, constraint bugs) aborts the cycle.
func isLedgerFault(err error) bool {
	return errors.Is(err, storage.ErrAccountNotFound) ||
		errors.Is(err, storage.ErrInsufficientFunds) ||
		errors.Is(err, storage.ErrOrderNotFound) ||
		errors.Is(err, storage.ErrOrderOverfill)
}

func faultReason(err error) string {
	switch {
	case errors.Is(err, storage.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, storage.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, storage.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, storage.ErrOrderOverfill):
		return "overfill"
	default:
		return "unknown"
	}
}
