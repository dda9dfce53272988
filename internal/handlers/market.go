package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/speedfox3/Space-Explorer/internal/market"
	"github.com/speedfox3/Space-Explorer/internal/rate"
	"github.com/speedfox3/Space-Explorer/internal/service"
	"github.com/speedfox3/Space-Explorer/libs/auth"
)

type MarketService interface {
	SubmitOrder(ctx context.Context, input service.SubmitOrderInput) (*market.Order, error)
	ListOrders(ctx context.Context, resourceType string) ([]market.Order, error)
	ListTrades(ctx context.Context, input service.ListTradesInput) ([]market.Trade, error)
	GetBalance(ctx context.Context, playerID uuid.UUID) (decimal.Decimal, error)
	GetInventory(ctx context.Context, playerID uuid.UUID) (map[string]int64, error)
}

type MatchingEngine interface {
	RunMatchingCycle(ctx context.Context) (int, error)
}

type MarketHandler struct {
	Service MarketService
	Engine  MatchingEngine
	Limiter rate.Limiter
	Logger  *slog.Logger
}

func NewMarket(svc MarketService, engine MatchingEngine, limiter rate.Limiter, logger *slog.Logger) *MarketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketHandler{Service: svc, Engine: engine, Limiter: limiter, Logger: logger}
}

func (h *MarketHandler) Register(r *gin.Engine, jwtSecret []byte) {
	group := r.Group("/market", auth.Middleware(jwtSecret))
	group.POST("/orders", h.CreateOrder)
	group.GET("/orders", h.ListOrders)
	group.GET("/trades", h.ListTrades)

	players := r.Group("/players", auth.Middleware(jwtSecret))
	players.GET("/me/balance", h.GetBalance)
	players.GET("/me/inventory", h.GetInventory)

	admin := r.Group("/admin", auth.Middleware(jwtSecret))
	admin.POST("/matching/run", h.RunMatching)
}

type createOrderRequest struct {
	ResourceType string `json:"resource_type"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Quantity     int64  `json:"quantity"`
}

type orderItem struct {
	OrderID      string `json:"order_id"`
	PlayerID     string `json:"player_id"`
	ResourceType string `json:"resource_type"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Quantity     int64  `json:"quantity"`
	Filled       int64  `json:"filled_quantity"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

type tradeItem struct {
	TradeID      string `json:"trade_id"`
	BuyerID      string `json:"buyer_id"`
	SellerID     string `json:"seller_id"`
	ResourceType string `json:"resource_type"`
	Price        string `json:"price"`
	Quantity     int64  `json:"quantity"`
	CreatedAt    string `json:"created_at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *MarketHandler) CreateOrder(c *gin.Context) {
	playerID, ok := auth.PlayerID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing player")
		return
	}

	if h.Limiter != nil {
		allowed, retryAfter, err := h.Limiter.Allow(c.Request.Context(), playerID.String(), time.Now())
		if err != nil {
			h.Logger.Error("rate limiter failed", "error", err)
		} else if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many orders")
			return
		}
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}

	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_ORDER", "invalid price")
		return
	}

	order, err := h.Service.SubmitOrder(c.Request.Context(), service.SubmitOrderInput{
		PlayerID:     playerID,
		ResourceType: req.ResourceType,
		Side:         req.Side,
		Price:        price,
		Quantity:     req.Quantity,
	})
	if err != nil {
		if errors.Is(err, market.ErrInvalidOrder) {
			writeError(c, http.StatusBadRequest, "INVALID_ORDER", err.Error())
			return
		}
		h.Logger.Error("submit order failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	c.JSON(http.StatusCreated, toOrderItem(*order))
}

func (h *MarketHandler) ListOrders(c *gin.Context) {
	orders, err := h.Service.ListOrders(c.Request.Context(), c.Query("resource_type"))
	if err != nil {
		h.Logger.Error("list orders failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	items := make([]orderItem, 0, len(orders))
	for _, o := range orders {
		items = append(items, toOrderItem(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": items})
}

func (h *MarketHandler) ListTrades(c *gin.Context) {
	playerID, ok := auth.PlayerID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing player")
		return
	}

	input := service.ListTradesInput{
		ResourceType: c.Query("resource_type"),
	}

	if v := strings.TrimSpace(c.Query("start")); v != "" {
		start, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid start time")
			return
		}
		input.Start = &start
	}
	if v := strings.TrimSpace(c.Query("end")); v != "" {
		end, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid end time")
			return
		}
		input.End = &end
	}
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
			return
		}
		input.Limit = limit
	}
	if v := strings.TrimSpace(c.Query("offset")); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid offset")
			return
		}
		input.Offset = offset
	}
	if c.Query("player_only") == "true" {
		input.PlayerID = &playerID
	}

	trades, err := h.Service.ListTrades(c.Request.Context(), input)
	if err != nil {
		h.Logger.Error("list trades failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	items := make([]tradeItem, 0, len(trades))
	for _, t := range trades {
		items = append(items, tradeItem{
			TradeID:      t.ID.String(),
			BuyerID:      t.BuyerID.String(),
			SellerID:     t.SellerID.String(),
			ResourceType: t.ResourceType,
			Price:        t.Price.String(),
			Quantity:     t.Quantity,
			CreatedAt:    t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"trades": items})
}

func (h *MarketHandler) GetBalance(c *gin.Context) {
	playerID, ok := auth.PlayerID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing player")
		return
	}

	balance, err := h.Service.GetBalance(c.Request.Context(), playerID)
	if err != nil {
		h.Logger.Error("get balance failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"currency": balance.String()})
}

func (h *MarketHandler) GetInventory(c *gin.Context) {
	playerID, ok := auth.PlayerID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing player")
		return
	}

	inventory, err := h.Service.GetInventory(c.Request.Context(), playerID)
	if err != nil {
		h.Logger.Error("get inventory failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"inventory": inventory})
}

func (h *MarketHandler) RunMatching(c *gin.Context) {
	count, err := h.Engine.RunMatchingCycle(c.Request.Context())
	if err != nil {
		h.Logger.Error("matching cycle failed", "error", err, "trades_settled", count)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "matching cycle failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades_executed": count})
}

func toOrderItem(o market.Order) orderItem {
	return orderItem{
		OrderID:      o.ID.String(),
		PlayerID:     o.PlayerID.String(),
		ResourceType: o.ResourceType,
		Side:         string(o.Side),
		Price:        o.Price.String(),
		Quantity:     o.Quantity,
		Filled:       o.Filled,
		Status:       string(o.Status),
		CreatedAt:    o.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}
