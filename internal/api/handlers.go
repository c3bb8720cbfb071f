package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uvote/uvote-backend/internal/engine"
	"github.com/uvote/uvote-backend/internal/ledger"
	"github.com/uvote/uvote-backend/internal/store"
	"github.com/uvote/uvote-backend/internal/ws"
)

type Handler struct {
	engine   *engine.Engine
	cache    *store.Cache
	hub      *ws.Hub
	cacheTTL time.Duration
	logger   *zap.SugaredLogger
}

func NewHandler(eng *engine.Engine, cache *store.Cache, hub *ws.Hub, cacheTTL time.Duration, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		engine:   eng,
		cache:    cache,
		hub:      hub,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// callerAddress identifies the requesting account. Token verification lives
// in the outer gateway; this core trusts the header it is handed.
func callerAddress(r *http.Request) string {
	return r.Header.Get("X-User-Address")
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Ping(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "NOT_READY", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Market registry endpoints

func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller := callerAddress(r)
	if caller == "" {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "X-User-Address header is required")
		return
	}
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}

	m, err := h.engine.CreateMarket(r.Context(), engine.CreateMarketParams{
		Creator:     caller,
		StakeAsset:  req.StakeAsset,
		Title:       req.Title,
		Description: req.Description,
		Options:     req.Options,
		ClosesAt:    req.ClosesAt,
		Cooldown:    time.Duration(req.CooldownSec) * time.Second,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, marketDTO(m))
}

func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	f := engine.MarketFilter{
		Status:  engine.Status(r.URL.Query().Get("status")),
		Creator: r.URL.Query().Get("creator"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}

	ms, err := h.engine.ListMarkets(r.Context(), f)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	resp := MarketListResponse{Markets: make([]MarketDTO, len(ms))}
	for i, m := range ms {
		resp.Markets[i] = marketDTO(m)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.marketID(w, r)
	if !ok {
		return
	}

	key := store.MarketKey(id)
	var cached MarketDTO
	if err := h.cache.Get(r.Context(), key, &cached); err == nil {
		h.writeJSON(w, http.StatusOK, cached)
		return
	}

	m, err := h.engine.GetMarket(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	dto := marketDTO(m)
	_ = h.cache.Set(r.Context(), key, dto, h.cacheTTL)
	h.writeJSON(w, http.StatusOK, dto)
}

// Bet ledger endpoints

func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.marketID(w, r)
	if !ok {
		return
	}
	caller := callerAddress(r)
	if caller == "" {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "X-User-Address header is required")
		return
	}
	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a decimal string")
		return
	}

	bet, err := h.engine.PlaceBet(r.Context(), id, caller, req.OptionIdx, amount)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.invalidateMarket(r, id)
	h.writeJSON(w, http.StatusCreated, BetDTO{
		OptionIdx: bet.OptionIdx,
		Amount:    bet.Amount.String(),
		Claimed:   bet.Claimed,
		PlacedAt:  bet.PlacedAt,
		UpdatedAt: bet.UpdatedAt,
	})
}

func (h *Handler) GetUserBets(w http.ResponseWriter, r *http.Request) {
	id, ok := h.marketID(w, r)
	if !ok {
		return
	}
	bettor := chi.URLParam(r, "bettor")

	bets, err := h.engine.UserBets(r.Context(), id, bettor)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, BetListResponse{
		MarketID: id,
		Bettor:   bettor,
		Bets:     betDTOs(bets),
	})
}

// Lifecycle endpoints

func (h *Handler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, func(id int64, caller string) (*engine.Market, error) {
		return h.engine.CloseMarket(r.Context(), id, caller)
	})
}

func (h *Handler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.marketID(w, r)
	if !ok {
		return
	}
	caller := callerAddress(r)
	if caller == "" {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "X-User-Address header is required")
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}

	m, err := h.engine.DeclareWinner(r.Context(), id, caller, req.OptionIdx)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.invalidateMarket(r, id)
	h.writeJSON(w, http.StatusOK, marketDTO(m))
}

func (h *Handler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.marketID(w, r)
	if !ok {
		return
	}
	m, err := h.engine.SettleIfDue(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.invalidateMarket(r, id)
	h.writeJSON(w, http.StatusOK, marketDTO(m))
}

func (h *Handler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, func(id int64, caller string) (*engine.Market, error) {
		return h.engine.CancelMarket(r.Context(), id, caller)
	})
}

func (h *Handler) lifecycleOp(w http.ResponseWriter, r *http.Request, op func(int64, string) (*engine.Market, error)) {
	id, ok := h.marketID(w, r)
	if !ok {
		return
	}
	caller := callerAddress(r)
	if caller == "" {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "X-User-Address header is required")
		return
	}
	m, err := op(id, caller)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.invalidateMarket(r, id)
	h.writeJSON(w, http.StatusOK, marketDTO(m))
}

// Dispute endpoints

func (h *Handler) ReportFraud(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, func(id int64, caller string) (*engine.Market, error) {
		return h.engine.ReportFraud(r.Context(), id, caller)
	})
}

func (h *Handler) ReviewMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := h.marketID(w, r)
	if !ok {
		return
	}
	caller := callerAddress(r)
	if caller == "" {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "X-User-Address header is required")
		return
	}
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}

	m, err := h.engine.ResolveReview(r.Context(), id, caller, engine.Status(req.Verdict))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.invalidateMarket(r, id)
	h.writeJSON(w, http.StatusOK, marketDTO(m))
}

// Payout endpoints

func (h *Handler) GetClaimable(w http.ResponseWriter, r *http.Request) {
	id, ok := h.marketID(w, r)
	if !ok {
		return
	}
	bettor := chi.URLParam(r, "bettor")

	amount, err := h.engine.Claimable(r.Context(), id, bettor)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ClaimableResponse{MarketID: id, Bettor: bettor, Amount: amount.String()})
}

func (h *Handler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	h.claimOp(w, r, h.engine.ClaimWinnings)
}

func (h *Handler) ClaimRefund(w http.ResponseWriter, r *http.Request) {
	h.claimOp(w, r, h.engine.ClaimRefund)
}

func (h *Handler) claimOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, marketID int64, bettor string) (decimal.Decimal, error)) {
	id, ok := h.marketID(w, r)
	if !ok {
		return
	}
	caller := callerAddress(r)
	if caller == "" {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "X-User-Address header is required")
		return
	}

	amount, err := op(r.Context(), id, caller)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.invalidateMarket(r, id)
	h.writeJSON(w, http.StatusOK, ClaimResponse{MarketID: id, Bettor: caller, Amount: amount.String()})
}

func (h *Handler) marketID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "BAD_MARKET_ID", "market id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) invalidateMarket(r *http.Request, id int64) {
	h.cache.Invalidate(r.Context(), store.MarketKey(id))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.logger.Warnw("API error", "code", code, "message", message, "status", status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Code: code, Message: message})
}

// writeEngineError maps the engine's typed errors onto HTTP statuses and
// stable machine-readable codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	for _, m := range engineErrorMap {
		if errors.Is(err, m.target) {
			h.writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	h.writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
}

var engineErrorMap = []struct {
	target error
	status int
	code   string
}{
	{engine.ErrMarketNotFound, http.StatusNotFound, "NOT_FOUND"},
	{engine.ErrValidation, http.StatusBadRequest, "VALIDATION"},
	{engine.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{engine.ErrOptionOutOfRange, http.StatusBadRequest, "OPTION_OUT_OF_RANGE"},
	{engine.ErrUnauthorized, http.StatusForbidden, "UNAUTHORIZED"},
	{engine.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{engine.ErrMarketClosed, http.StatusConflict, "MARKET_CLOSED"},
	{engine.ErrMarketInactive, http.StatusConflict, "MARKET_INACTIVE"},
	{engine.ErrWindowClosed, http.StatusConflict, "WINDOW_CLOSED"},
	{engine.ErrAlreadyReported, http.StatusConflict, "ALREADY_REPORTED"},
	{engine.ErrNothingToClaim, http.StatusConflict, "NOTHING_TO_CLAIM"},
	{engine.ErrAlreadyClaimed, http.StatusConflict, "ALREADY_CLAIMED"},
	{engine.ErrVersionConflict, http.StatusConflict, "CONFLICT"},
	{ledger.ErrInsufficientBalance, http.StatusBadRequest, "INSUFFICIENT_BALANCE"},
	{ledger.ErrInsufficientAllowance, http.StatusBadRequest, "INSUFFICIENT_ALLOWANCE"},
}
