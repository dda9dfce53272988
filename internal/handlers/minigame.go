package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/speedfox3/Space-Explorer/internal/minigame"
	"github.com/speedfox3/Space-Explorer/internal/storage"
	"github.com/speedfox3/Space-Explorer/libs/auth"
)

type MinigameService interface {
	Start(ctx context.Context, playerID uuid.UUID, gameType string) (*storage.MinigameSession, error)
	Submit(ctx context.Context, sessionID uuid.UUID, input minigame.SubmitInput) (*storage.MinigameSession, error)
	Status(ctx context.Context, sessionID uuid.UUID) (*storage.MinigameSession, error)
}

type MinigameHandler struct {
	Service MinigameService
	Logger  *slog.Logger
}

func NewMinigame(svc MinigameService, logger *slog.Logger) *MinigameHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MinigameHandler{Service: svc, Logger: logger}
}

func (h *MinigameHandler) Register(r *gin.Engine, jwtSecret []byte) {
	group := r.Group("/minigame", auth.Middleware(jwtSecret))
	group.POST("/start", h.Start)
	group.POST("/submit", h.Submit)
	group.GET("/sessions/:id", h.Status)
}

type startRequest struct {
	GameType string `json:"game_type"`
}

type submitRequest struct {
	SessionID string  `json:"session_id"`
	HitTime   float64 `json:"hit_time"`
	Target    float64 `json:"target"`
	Choice    string  `json:"choice"`
}

type sessionItem struct {
	SessionID string      `json:"session_id"`
	GameType  string      `json:"game_type"`
	Status    string      `json:"status"`
	Result    *resultItem `json:"result,omitempty"`
	CreatedAt string      `json:"created_at"`
}

type resultItem struct {
	Success bool        `json:"success"`
	Detail  string      `json:"detail"`
	Reward  *rewardItem `json:"reward,omitempty"`
}

type rewardItem struct {
	Currency     string `json:"currency,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
}

func (h *MinigameHandler) Start(c *gin.Context) {
	playerID, ok := auth.PlayerID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing player")
		return
	}

	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}

	session, err := h.Service.Start(c.Request.Context(), playerID, req.GameType)
	if err != nil {
		if errors.Is(err, minigame.ErrUnknownGameType) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		h.Logger.Error("start minigame failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	c.JSON(http.StatusCreated, toSessionItem(session))
}

func (h *MinigameHandler) Submit(c *gin.Context) {
	playerID, ok := auth.PlayerID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing player")
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid session id")
		return
	}

	// sessions belong to the player who started them
	existing, err := h.Service.Status(c.Request.Context(), sessionID)
	if err != nil {
		h.writeSessionError(c, err)
		return
	}
	if existing.PlayerID != playerID {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "not your session")
		return
	}

	session, err := h.Service.Submit(c.Request.Context(), sessionID, minigame.SubmitInput{
		HitTime: req.HitTime,
		Target:  req.Target,
		Choice:  req.Choice,
	})
	if err != nil {
		h.writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionItem(session))
}

func (h *MinigameHandler) Status(c *gin.Context) {
	playerID, ok := auth.PlayerID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing player")
		return
	}

	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid session id")
		return
	}

	session, err := h.Service.Status(c.Request.Context(), sessionID)
	if err != nil {
		h.writeSessionError(c, err)
		return
	}
	if session.PlayerID != playerID {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "not your session")
		return
	}

	c.JSON(http.StatusOK, toSessionItem(session))
}

func (h *MinigameHandler) writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		writeError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
	case errors.Is(err, storage.ErrSessionNotActive):
		writeError(c, http.StatusConflict, "SESSION_FINISHED", "session already finished")
	case errors.Is(err, minigame.ErrUnknownGameType):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		h.Logger.Error("minigame request failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func toSessionItem(s *storage.MinigameSession) sessionItem {
	item := sessionItem{
		SessionID: s.ID.String(),
		GameType:  s.GameType,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.Result != nil {
		result := resultItem{Success: s.Result.Success, Detail: s.Result.Detail}
		reward := s.Result.Reward
		if reward.IsCurrency() || reward.IsResource() {
			ri := rewardItem{Amount: reward.Amount, ResourceType: reward.ResourceType}
			if reward.IsCurrency() {
				ri.Currency = reward.Currency.String()
			}
			result.Reward = &ri
		}
		item.Result = &result
	}
	return item
}
