package reward

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/speedfox3/Space-Explorer/internal/market"
)

// Ledger is the credit slice of the store. Rewards go through the same
// primitives trade settlement uses, so every balance and inventory mutation
// in the game flows through one code path.
type Ledger interface {
	CreditBalance(ctx context.Context, playerID uuid.UUID, amount decimal.Decimal) error
	CreditInventory(ctx context.Context, playerID uuid.UUID, resourceType string, quantity int64) error
}

type Service struct {
	ledger Ledger
	logger *slog.Logger
}

func New(ledger Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledger, logger: logger}
}

// Apply grants a currency or resource reward to a player. A zero reward is a
// no-op; a reward that is neither currency nor resource is a caller bug.
func (s *Service) Apply(ctx context.Context, playerID uuid.UUID, r market.Reward) error {
	switch {
	case r.IsCurrency():
		if err := s.ledger.CreditBalance(ctx, playerID, r.Currency); err != nil {
			return fmt.Errorf("credit currency reward: %w", err)
		}
		s.logger.Info("reward applied", "player_id", playerID, "currency", r.Currency.String())
		return nil
	case r.IsResource():
		if err := s.ledger.CreditInventory(ctx, playerID, r.ResourceType, r.Amount); err != nil {
			return fmt.Errorf("credit resource reward: %w", err)
		}
		s.logger.Info("reward applied", "player_id", playerID, "resource_type", r.ResourceType, "amount", r.Amount)
		return nil
	case r.Currency.IsZero() && r.Amount == 0:
		return nil
	default:
		return fmt.Errorf("reward must be a positive currency or resource grant")
	}
}
