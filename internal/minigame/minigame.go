package minigame

import (
	"context"
	"errors"
	"fmt"
	"math"

	"log/slog"

	"github.com/google/uuid"

	"github.com/speedfox3/Space-Explorer/internal/market"
	"github.com/speedfox3/Space-Explorer/internal/storage"
)

const (
	GameTiming = "timing"
	GameRisk   = "risk"

	rewardResource = "ore"

	timingTolerance = 0.2

	safeRewardAmount  int64 = 50
	riskyRewardAmount int64 = 500
)

var ErrUnknownGameType = errors.New("unknown game type")

type SessionStore interface {
	CreateSession(ctx context.Context, session storage.MinigameSession) (*storage.MinigameSession, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*storage.MinigameSession, error)
	FinishSession(ctx context.Context, sessionID uuid.UUID, result storage.SessionResult) (*storage.MinigameSession, error)
}

type Rewarder interface {
	Apply(ctx context.Context, playerID uuid.UUID, r market.Reward) error
}

// Service runs minigame sessions. Sessions start active, take exactly one
// submission, and finish with a result whose reward is applied through the
// reward service. The rng is injected so game outcomes are testable.
type Service struct {
	store   SessionStore
	rewards Rewarder
	logger  *slog.Logger
	rng     func() float64
}

func New(store SessionStore, rewards Rewarder, logger *slog.Logger, rng func() float64) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, rewards: rewards, logger: logger, rng: rng}
}

func (s *Service) Start(ctx context.Context, playerID uuid.UUID, gameType string) (*storage.MinigameSession, error) {
	if gameType != GameTiming && gameType != GameRisk {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGameType, gameType)
	}
	return s.store.CreateSession(ctx, storage.MinigameSession{
		PlayerID: playerID,
		GameType: gameType,
	})
}

type SubmitInput struct {
	HitTime float64
	Target  float64
	Choice  string
}

// Submit resolves an active session against the player's input, persists the
// result, and applies any earned reward. A finished or missing session is a
// synchronous error; the reward is applied after the session transition so a
// double submission can never grant twice.
func (s *Service) Submit(ctx context.Context, sessionID uuid.UUID, input SubmitInput) (*storage.MinigameSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != storage.SessionActive {
		return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotActive, sessionID)
	}

	var result storage.SessionResult
	switch session.GameType {
	case GameTiming:
		result = resolveTiming(input)
	case GameRisk:
		result = resolveRisk(input, s.rng)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownGameType, session.GameType)
	}

	finished, err := s.store.FinishSession(ctx, sessionID, result)
	if err != nil {
		return nil, err
	}

	if result.Reward.IsResource() || result.Reward.IsCurrency() {
		if err := s.rewards.Apply(ctx, session.PlayerID, result.Reward); err != nil {
			// session is already finished; the grant failure is operational
			s.logger.Error("minigame reward failed",
				"session_id", sessionID,
				"player_id", session.PlayerID,
				"error", err,
			)
			return nil, fmt.Errorf("apply reward: %w", err)
		}
	}

	return finished, nil
}

func (s *Service) Status(ctx context.Context, sessionID uuid.UUID) (*storage.MinigameSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

// resolveTiming scores a reaction game: the closer the hit to the target,
// the bigger the ore payout, with anything outside the tolerance a miss.
func resolveTiming(input SubmitInput) storage.SessionResult {
	miss := math.Abs(input.HitTime - input.Target)
	if miss >= timingTolerance {
		return storage.SessionResult{Success: false, Detail: "missed the window"}
	}

	amount := int64(100 * (timingTolerance - miss))
	if amount < 1 {
		amount = 1
	}
	return storage.SessionResult{
		Success: true,
		Detail:  "hit",
		Reward:  market.Reward{ResourceType: rewardResource, Amount: amount},
	}
}

// resolveRisk is a coin-flip gamble: the safe choice always pays a small
// amount, the risky one pays big half the time and nothing otherwise.
func resolveRisk(input SubmitInput, rng func() float64) storage.SessionResult {
	if input.Choice != "risky" {
		return storage.SessionResult{
			Success: true,
			Detail:  "safe",
			Reward:  market.Reward{ResourceType: rewardResource, Amount: safeRewardAmount},
		}
	}
	if rng() < 0.5 {
		return storage.SessionResult{
			Success: true,
			Detail:  "risky payoff",
			Reward:  market.Reward{ResourceType: rewardResource, Amount: riskyRewardAmount},
		}
	}
	return storage.SessionResult{Success: false, Detail: "risky bust"}
}
