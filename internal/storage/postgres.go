package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/speedfox3/Space-Explorer/internal/market"
)

// PostgresStore backs the market engine with the shared game database. Every
// settlement runs in its own transaction, so a crash mid-cycle leaves all
// previously committed events durable and the rest untouched.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreatePlayer(ctx context.Context, playerID uuid.UUID, balance decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO players (id, currency, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO NOTHING
	`, playerID, balance.String())
	return err
}

func (s *PostgresStore) SubmitOrder(ctx context.Context, order market.Order) (*market.Order, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO market_orders (id, player_id, resource_type, side, price, quantity, filled_quantity, status)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		RETURNING id, player_id, resource_type, side, price::text, quantity, filled_quantity, status, seq, created_at
	`, uuid.New(), order.PlayerID, order.ResourceType, string(order.Side), order.Price.String(), order.Quantity, string(market.StatusOpen))
	return scanOrder(row)
}

func (s *PostgresStore) ListOrders(ctx context.Context, resourceType string) ([]market.Order, error) {
	query := `
		SELECT id, player_id, resource_type, side, price::text, quantity, filled_quantity, status, seq, created_at
		FROM market_orders
	`
	args := []any{}
	if strings.TrimSpace(resourceType) != "" {
		query += " WHERE resource_type = $1"
		args = append(args, resourceType)
	}
	query += " ORDER BY price ASC, seq ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PostgresStore) ListOpenOrders(ctx context.Context, resourceType string, side market.Side) ([]market.Order, error) {
	direction := "ASC"
	if side == market.SideBuy {
		direction = "DESC"
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, player_id, resource_type, side, price::text, quantity, filled_quantity, status, seq, created_at
		FROM market_orders
		WHERE resource_type = $1 AND side = $2 AND status = $3 AND filled_quantity < quantity
		ORDER BY price %s, seq ASC
	`, direction), resourceType, string(side), string(market.StatusOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PostgresStore) OpenResourceTypes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT resource_type
		FROM market_orders
		WHERE status = $1
		ORDER BY resource_type ASC
	`, string(market.StatusOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (s *PostgresStore) ListTrades(ctx context.Context, filter TradeFilter) ([]market.Trade, error) {
	limit := clampLimit(filter.Limit)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, buyer_id, seller_id, resource_type, price::text, quantity, created_at
		FROM trades
		WHERE true
	`
	args := []any{}
	idx := 1

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", idx)
		args = append(args, filter.ResourceType)
		idx++
	}
	if filter.PlayerID != nil {
		query += fmt.Sprintf(" AND (buyer_id = $%d OR seller_id = $%d)", idx, idx)
		args = append(args, *filter.PlayerID)
		idx++
	}
	if filter.Start != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *filter.Start)
		idx++
	}
	if filter.End != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, *filter.End)
		idx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC OFFSET $%d LIMIT $%d", idx, idx+1)
	args = append(args, offset, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []market.Trade{}
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *trade)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) ApplySettlement(ctx context.Context, req SettlementRequest) (*SettlementResult, error) {
	if req.Quantity <= 0 || req.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("settlement price and quantity must be positive")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if req.EventID != "" {
		var seen bool
		row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, req.EventID)
		if err := row.Scan(&seen); err != nil {
			return nil, err
		}
		if seen {
			if err := tx.Commit(ctx); err != nil {
				return nil, err
			}
			committed = true
			return &SettlementResult{AlreadyProcessed: true}, nil
		}
	}

	if err := s.applyFill(ctx, tx, req.BuyOrderID, req.Quantity); err != nil {
		return nil, fmt.Errorf("fill buy order: %w", err)
	}
	if err := s.applyFill(ctx, tx, req.SellOrderID, req.Quantity); err != nil {
		return nil, fmt.Errorf("fill sell order: %w", err)
	}

	cost := req.Price.Mul(decimal.NewFromInt(req.Quantity))
	if err := debitBalanceTx(ctx, tx, req.BuyerID, cost); err != nil {
		return nil, fmt.Errorf("debit buyer: %w", err)
	}
	if err := creditBalanceTx(ctx, tx, req.SellerID, cost); err != nil {
		return nil, fmt.Errorf("credit seller: %w", err)
	}
	if err := creditInventoryTx(ctx, tx, req.BuyerID, req.ResourceType, req.Quantity); err != nil {
		return nil, fmt.Errorf("credit buyer inventory: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO trades (id, buyer_id, seller_id, resource_type, price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, buyer_id, seller_id, resource_type, price::text, quantity, created_at
	`, uuid.New(), req.BuyerID, req.SellerID, req.ResourceType, req.Price.String(), req.Quantity)
	trade, err := scanTrade(row)
	if err != nil {
		return nil, fmt.Errorf("insert trade: %w", err)
	}

	if req.EventID != "" {
		if _, err := tx.Exec(ctx, `
			INSERT INTO processed_events (event_id, processed_at)
			VALUES ($1, now())
		`, req.EventID); err != nil {
			return nil, fmt.Errorf("mark event processed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	return &SettlementResult{Trade: trade}, nil
}

// applyFill increments the fill counter under the row lock implied by UPDATE,
// transitioning to filled when the order is exhausted. The WHERE guard keeps
// filled_quantity <= quantity an invariant the database enforces.
func (s *PostgresStore) applyFill(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, quantity int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE market_orders
		SET filled_quantity = filled_quantity + $1,
		    status = CASE WHEN filled_quantity + $1 = quantity THEN 'filled' ELSE status END
		WHERE id = $2 AND status = $3 AND filled_quantity + $1 <= quantity
	`, quantity, orderID, string(market.StatusOpen))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM market_orders WHERE id = $1)`, orderID)
		if scanErr := row.Scan(&exists); scanErr != nil {
			return scanErr
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return ErrOrderOverfill
	}
	return nil
}

func debitBalanceTx(ctx context.Context, tx pgx.Tx, playerID uuid.UUID, amount decimal.Decimal) error {
	// non-negative balance policy: the debit fails rather than overdraw
	tag, err := tx.Exec(ctx, `
		UPDATE players
		SET currency = currency - $1
		WHERE id = $2 AND currency >= $1
	`, amount.String(), playerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM players WHERE id = $1)`, playerID)
		if scanErr := row.Scan(&exists); scanErr != nil {
			return scanErr
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, playerID)
		}
		return fmt.Errorf("%w: %s needs %s", ErrInsufficientFunds, playerID, amount)
	}
	return nil
}

func creditBalanceTx(ctx context.Context, tx pgx.Tx, playerID uuid.UUID, amount decimal.Decimal) error {
	tag, err := tx.Exec(ctx, `
		UPDATE players
		SET currency = currency + $1
		WHERE id = $2
	`, amount.String(), playerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, playerID)
	}
	return nil
}

func creditInventoryTx(ctx context.Context, tx pgx.Tx, playerID uuid.UUID, resourceType string, quantity int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO inventories (player_id, resource_type, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (player_id, resource_type)
		DO UPDATE SET quantity = inventories.quantity + EXCLUDED.quantity
	`, playerID, resourceType, quantity)
	return err
}

func (s *PostgresStore) GetBalance(ctx context.Context, playerID uuid.UUID) (decimal.Decimal, error) {
	var balanceStr string
	row := s.pool.QueryRow(ctx, `SELECT currency::text FROM players WHERE id = $1`, playerID)
	if err := row.Scan(&balanceStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrAccountNotFound, playerID)
		}
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(strings.TrimSpace(balanceStr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) GetInventory(ctx context.Context, playerID uuid.UUID) (map[string]int64, error) {
	var exists bool
	row := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM players WHERE id = $1)`, playerID)
	if err := row.Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, playerID)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT resource_type, quantity
		FROM inventories
		WHERE player_id = $1
	`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	inv := make(map[string]int64)
	for rows.Next() {
		var resourceType string
		var quantity int64
		if err := rows.Scan(&resourceType, &quantity); err != nil {
			return nil, err
		}
		inv[resourceType] = quantity
	}
	return inv, rows.Err()
}

func (s *PostgresStore) CreditBalance(ctx context.Context, playerID uuid.UUID, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("credit amount must be positive")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := creditBalanceTx(ctx, tx, playerID, amount); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *PostgresStore) CreditInventory(ctx context.Context, playerID uuid.UUID, resourceType string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("credit quantity must be positive")
	}
	if strings.TrimSpace(resourceType) == "" {
		return fmt.Errorf("resource type required")
	}

	var exists bool
	row := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM players WHERE id = $1)`, playerID)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, playerID)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := creditInventoryTx(ctx, tx, playerID, resourceType, quantity); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, session MinigameSession) (*MinigameSession, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO minigame_sessions (id, player_id, game_type, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, player_id, game_type, status, result_success, result_detail,
		          reward_currency::text, reward_resource, reward_amount, created_at, updated_at
	`, uuid.New(), session.PlayerID, session.GameType, string(SessionActive))
	return scanSession(row)
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID uuid.UUID) (*MinigameSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, player_id, game_type, status, result_success, result_detail,
		       reward_currency::text, reward_resource, reward_amount, created_at, updated_at
		FROM minigame_sessions
		WHERE id = $1
	`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}
	return session, nil
}

func (s *PostgresStore) FinishSession(ctx context.Context, sessionID uuid.UUID, result SessionResult) (*MinigameSession, error) {
	var rewardCurrency *string
	if result.Reward.Currency.GreaterThan(decimal.Zero) {
		v := result.Reward.Currency.String()
		rewardCurrency = &v
	}
	var rewardResource *string
	var rewardAmount *int64
	if result.Reward.ResourceType != "" {
		rewardResource = &result.Reward.ResourceType
		rewardAmount = &result.Reward.Amount
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE minigame_sessions
		SET status = $1, result_success = $2, result_detail = $3,
		    reward_currency = $4, reward_resource = $5, reward_amount = $6,
		    updated_at = now()
		WHERE id = $7 AND status = $8
		RETURNING id, player_id, game_type, status, result_success, result_detail,
		          reward_currency::text, reward_resource, reward_amount, created_at, updated_at
	`, string(SessionFinished), result.Success, result.Detail, rewardCurrency, rewardResource, rewardAmount, sessionID, string(SessionActive))
	session, err := scanSession(row)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var exists bool
	check := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM minigame_sessions WHERE id = $1)`, sessionID)
	if scanErr := check.Scan(&exists); scanErr != nil {
		return nil, scanErr
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotActive, sessionID)
}

func scanOrder(row pgx.Row) (*market.Order, error) {
	var order market.Order
	var priceStr string
	var side, status string
	if err := row.Scan(&order.ID, &order.PlayerID, &order.ResourceType, &side, &priceStr,
		&order.Quantity, &order.Filled, &status, &order.Seq, &order.CreatedAt); err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(strings.TrimSpace(priceStr))
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	order.Price = price
	order.Side = market.Side(side)
	order.Status = market.OrderStatus(status)
	return &order, nil
}

func collectOrders(rows pgx.Rows) ([]market.Order, error) {
	orders := []market.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func scanTrade(row pgx.Row) (*market.Trade, error) {
	var trade market.Trade
	var priceStr string
	if err := row.Scan(&trade.ID, &trade.BuyerID, &trade.SellerID, &trade.ResourceType,
		&priceStr, &trade.Quantity, &trade.CreatedAt); err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(strings.TrimSpace(priceStr))
	if err != nil {
		return nil, fmt.Errorf("parse trade price: %w", err)
	}
	trade.Price = price
	return &trade, nil
}

func scanSession(row pgx.Row) (*MinigameSession, error) {
	var session MinigameSession
	var status string
	var success *bool
	var detail *string
	var rewardCurrency *string
	var rewardResource *string
	var rewardAmount *int64
	if err := row.Scan(&session.ID, &session.PlayerID, &session.GameType, &status,
		&success, &detail, &rewardCurrency, &rewardResource, &rewardAmount,
		&session.CreatedAt, &session.UpdatedAt); err != nil {
		return nil, err
	}
	session.Status = SessionStatus(status)

	if success != nil {
		result := SessionResult{Success: *success}
		if detail != nil {
			result.Detail = *detail
		}
		if rewardCurrency != nil {
			currency, err := decimal.NewFromString(strings.TrimSpace(*rewardCurrency))
			if err != nil {
				return nil, fmt.Errorf("parse reward currency: %w", err)
			}
			result.Reward.Currency = currency
		}
		if rewardResource != nil {
			result.Reward.ResourceType = *rewardResource
		}
		if rewardAmount != nil {
			result.Reward.Amount = *rewardAmount
		}
		session.Result = &result
	}
	return &session, nil
}
