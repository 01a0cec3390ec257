package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/engine"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type openAccountRequest struct {
	UserID         string              `json:"user_id"`
	InitialCapital decimal.NullDecimal `json:"initial_capital"`
}

type createOrderRequest struct {
	Symbol      string              `json:"symbol"`
	Side        domain.OrderSide    `json:"side"`
	Type        domain.OrderType    `json:"type"`
	Quantity    decimal.Decimal     `json:"quantity"`
	LimitPrice  decimal.NullDecimal `json:"limit_price"`
	StopPrice   decimal.NullDecimal `json:"stop_price"`
	StrategyRef string              `json:"strategy_ref"`
}

type cancelResponse struct {
	Cancelled bool          `json:"cancelled"`
	Order     *domain.Order `json:"order"`
}

// --- Helpers ---

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientPosition):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrPriceUnavailable):
		return http.StatusServiceUnavailable, "price_unavailable"
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	}
	return http.StatusInternalServerError, "internal_server_error"
}

func (s *Server) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, apiError{Code: code, Message: msg})
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, apiError{Code: "bad_request", Message: msg})
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return n, nil
}

// ownedOrder loads an order and checks it belongs to the account in the path.
func (s *Server) ownedOrder(c *gin.Context) (*domain.Order, bool) {
	o, err := s.engine.GetOrder(c.Request.Context(), c.Param("orderID"))
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	if o.AccountID != c.Param("id") {
		s.fail(c, fmt.Errorf("%w: %s", domain.ErrForbidden, o.ID))
		return nil, false
	}
	return o, true
}

// --- Handlers ---

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) openAccount(c *gin.Context) {
	var req openAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request body: "+err.Error())
		return
	}
	a, err := s.engine.GetOrCreateAccount(c.Request.Context(), req.UserID, req.InitialCapital)
	if err != nil {
		s.fail(c, err)
		return
	}
	sum, err := s.engine.GetAccount(c.Request.Context(), a.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) getAccount(c *gin.Context) {
	sum, err := s.engine.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) getPortfolio(c *gin.Context) {
	p, err := s.engine.GetPortfolio(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request body: "+err.Error())
		return
	}
	o, err := s.engine.CreateOrder(c.Request.Context(), engine.OrderRequest{
		AccountID:   c.Param("id"),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Quantity:    req.Quantity,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		StrategyRef: req.StrategyRef,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (s *Server) listOrders(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		s.badRequest(c, err.Error())
		return
	}
	orders, err := s.engine.ListOrders(c.Request.Context(), c.Param("id"),
		domain.OrderStatus(c.Query("status")), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getOrder(c *gin.Context) {
	o, ok := s.ownedOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) cancelOrder(c *gin.Context) {
	o, ok := s.ownedOrder(c)
	if !ok {
		return
	}
	cancelled, err := s.engine.CancelOrder(c.Request.Context(), o.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	current, err := s.engine.GetOrder(c.Request.Context(), o.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if !cancelled {
		status = http.StatusConflict
	}
	c.JSON(status, cancelResponse{Cancelled: cancelled, Order: current})
}

func (s *Server) listTrades(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		s.badRequest(c, err.Error())
		return
	}
	trades, err := s.engine.ListTrades(c.Request.Context(), c.Param("id"), c.Query("symbol"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) exportTrades(c *gin.Context) {
	id := c.Param("id")
	c.Header("Content-Type", "application/vnd.apache.parquet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="trades-%s.parquet"`, id))
	if err := s.engine.ExportTrades(c.Request.Context(), id, c.Writer); err != nil {
		if c.Writer.Written() {
			s.log.Error("trade export interrupted", "account", id, "error", err)
			return
		}
		c.Header("Content-Type", "application/json")
		c.Header("Content-Disposition", "")
		s.fail(c, err)
	}
}
