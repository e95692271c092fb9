package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"sepdex/internal/adapters/stacksledger"
	"sepdex/internal/app"
	"sepdex/internal/domain"
	"sepdex/internal/ports"
	"sepdex/internal/risk"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler exposes the position engine over HTTP.
type Handler struct {
	service *app.PositionService
	oracle  ports.PriceOracle
	signer  ports.SigningCredential // Signs settlement movements on behalf of API callers
	logger  ports.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(service *app.PositionService, oracle ports.PriceOracle, signer ports.SigningCredential, logger ports.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("position service is required")
	}
	if oracle == nil {
		return nil, errors.New("price oracle is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Handler{service: service, oracle: oracle, signer: signer, logger: logger}, nil
}

// Router builds the chi route tree.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Post("/positions", h.createPosition)
	r.Post("/positions/{id}/close", h.closePosition)
	r.Post("/users/{id}/liquidation-check", h.liquidationCheck)
	r.Get("/users/{id}/positions", h.userPositions)

	r.Get("/prices/{symbol}", h.currentPrice)
	r.Get("/prices/{symbol}/history", h.priceHistory)

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug(r.Context(), "http request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		})
	})
}

type createPositionRequest struct {
	UserID      string  `json:"userId"`
	UserAddress string  `json:"userAddress"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	EntryPrice  float64 `json:"entryPrice"`
	Collateral  float64 `json:"collateral"`
	Leverage    float64 `json:"leverage"`
	Credential  string  `json:"credential"` // Hex signing key; falls back to the server-held signer when empty
}

type closePositionRequest struct {
	ExitPrice   float64 `json:"exitPrice"`
	UserAddress string  `json:"userAddress"`
}

type liquidationCheckRequest struct {
	Prices map[string]float64 `json:"prices"`
}

type liquidationCheckResponse struct {
	Closed []string `json:"closed"`
}

type positionResponse struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	Symbol           string     `json:"symbol"`
	Side             string     `json:"side"`
	EntryPrice       float64    `json:"entryPrice"`
	Size             float64    `json:"size"`
	Leverage         float64    `json:"leverage"`
	Collateral       float64    `json:"collateral"`
	LiquidationPrice float64    `json:"liquidationPrice"`
	Status           string     `json:"status"`
	RealizedPnl      float64    `json:"realizedPnl"`
	RiskLevel        string     `json:"riskLevel"`
	RiskWarning      string     `json:"riskWarning"`
	OpenedAt         time.Time  `json:"openedAt"`
	ClosedAt         *time.Time `json:"closedAt,omitempty"`
}

func toPositionResponse(pos *domain.Position) positionResponse {
	level := risk.LevelFor(pos.Leverage)
	resp := positionResponse{
		ID:               pos.ID,
		UserID:           pos.UserID,
		Symbol:           pos.Symbol,
		Side:             string(pos.Side),
		EntryPrice:       pos.EntryPrice,
		Size:             pos.Size,
		Leverage:         pos.Leverage,
		Collateral:       pos.Collateral,
		LiquidationPrice: pos.LiquidationPrice,
		Status:           string(pos.Status),
		RealizedPnl:      pos.RealizedPnl,
		RiskLevel:        string(level),
		RiskWarning:      level.Warning(),
		OpenedAt:         pos.OpenedAt,
	}
	if !pos.ClosedAt.IsZero() {
		closedAt := pos.ClosedAt
		resp.ClosedAt = &closedAt
	}
	return resp
}

func (h *Handler) createPosition(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}

	// The collateral movement is signed with the caller's key when one is
	// supplied; otherwise the server-held signer covers the request.
	cred := h.signer
	if req.Credential != "" {
		parsed, err := stacksledger.NewKeyCredential(req.Credential)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, &ports.ValidationError{Field: "credential", Reason: "must be a hex-encoded signing key"})
			return
		}
		cred = parsed
	}

	pos, err := h.service.CreatePosition(r.Context(), app.CreateParams{
		UserID:      req.UserID,
		UserAddress: req.UserAddress,
		Symbol:      req.Symbol,
		Side:        domain.Side(req.Side),
		EntryPrice:  req.EntryPrice,
		Collateral:  req.Collateral,
		Leverage:    req.Leverage,
		Credential:  cred,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toPositionResponse(pos))
}

func (h *Handler) closePosition(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "id")

	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}

	pos, err := h.service.ClosePosition(r.Context(), positionID, req.ExitPrice, req.UserAddress, h.signer)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPositionResponse(pos))
}

func (h *Handler) liquidationCheck(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req liquidationCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}

	closed, err := h.service.CheckLiquidations(r.Context(), userID, req.Prices, h.signer)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if closed == nil {
		closed = []string{}
	}
	h.writeJSON(w, http.StatusOK, liquidationCheckResponse{Closed: closed})
}

func (h *Handler) userPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	status := domain.PositionStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.StatusOpen, domain.StatusClosed, domain.StatusLiquidated:
	default:
		h.writeError(w, r, http.StatusBadRequest, &ports.ValidationError{Field: "status", Reason: "unknown position status"})
		return
	}

	positions, err := h.service.UserPositions(r.Context(), userID, status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]positionResponse, 0, len(positions))
	for _, pos := range positions {
		resp = append(resp, toPositionResponse(pos))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type priceResponse struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

type pricePointResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

func (h *Handler) currentPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if !domain.IsSupportedSymbol(symbol) {
		h.writeError(w, r, http.StatusBadRequest, &ports.ValidationError{Field: "symbol", Reason: "unsupported symbol"})
		return
	}

	price, err := h.oracle.CurrentPrice(r.Context(), symbol)
	if err != nil {
		h.writeError(w, r, http.StatusBadGateway, err)
		return
	}
	h.writeJSON(w, http.StatusOK, priceResponse{Symbol: symbol, Price: price, Timestamp: time.Now().UTC()})
}

func (h *Handler) priceHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if !domain.IsSupportedSymbol(symbol) {
		h.writeError(w, r, http.StatusBadRequest, &ports.ValidationError{Field: "symbol", Reason: "unsupported symbol"})
		return
	}

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 365 {
			h.writeError(w, r, http.StatusBadRequest, &ports.ValidationError{Field: "days", Reason: "must be an integer between 1 and 365"})
			return
		}
		days = parsed
	}

	series, err := h.oracle.PriceHistory(r.Context(), symbol, days)
	if err != nil {
		h.writeError(w, r, http.StatusBadGateway, err)
		return
	}

	resp := make([]pricePointResponse, 0, len(series))
	for _, point := range series {
		resp = append(resp, pricePointResponse{Timestamp: point.Timestamp, Price: point.Price})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError translates service-layer errors into HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *ports.ValidationError
	var settlementErr *ports.SettlementError

	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, r, http.StatusBadRequest, err)
	case errors.Is(err, ports.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, ports.ErrInsufficientFunds):
		h.writeError(w, r, http.StatusUnprocessableEntity, err)
	case errors.As(err, &settlementErr):
		h.writeError(w, r, http.StatusBadGateway, err)
	default:
		h.writeError(w, r, http.StatusInternalServerError, err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), err, "request failed", map[string]interface{}{"path": r.URL.Path})
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error(context.Background(), err, "failed to encode response")
	}
}
