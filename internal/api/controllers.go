package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"execution-core/internal/order"
	"execution-core/internal/trade"
)

type putInstrumentOrderRequest struct {
	Strategy          string   `json:"strategy" binding:"required,min=1"`
	Instrument        string   `json:"instrument" binding:"required,min=1"`
	Qty               int64    `json:"qty"`
	OrderType         string   `json:"order_type" binding:"omitempty,oneof=market limit best balance_trade"`
	LimitPrice        *float64 `json:"limit_price"`
	LimitContract     string   `json:"limit_contract"`
	ReferencePrice    *float64 `json:"reference_price"`
	ReferenceContract string   `json:"reference_contract"`
	ManualTrade       bool     `json:"manual_trade"`
	Modify            bool     `json:"modify"`
}

type executeRequest struct {
	Algo string `json:"algo"`
}

type manualFillRequest struct {
	Fill  []int64  `json:"fill" binding:"required,min=1"`
	Price *float64 `json:"price" binding:"required"`
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "order id must be a positive integer")
		return 0, false
	}
	return id, true
}

// putInstrumentOrder places strategy intent on the instrument stack.
func (s *Server) putInstrumentOrder(c *gin.Context) {
	var req putInstrumentOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	typ := order.Type(req.OrderType)
	if typ == "" {
		typ = order.TypeMarket
	}
	if typ == order.TypeLimit && req.LimitPrice == nil {
		respondError(c, http.StatusBadRequest, "INVALID_PRICE", "limit_price is required for limit orders")
		return
	}

	o, err := order.NewInstrumentOrder(req.Strategy, req.Instrument, req.Qty, typ)
	if err != nil {
		respondErr(c, err)
		return
	}
	if _, err := s.Instruments.Get(req.Instrument); err != nil {
		respondErr(c, err)
		return
	}
	o.LimitPrice = req.LimitPrice
	o.LimitContract = req.LimitContract
	o.ReferencePrice = req.ReferencePrice
	o.ReferenceContract = req.ReferenceContract
	o.ManualTrade = req.ManualTrade

	id, err := s.Orders.PutInstrumentOrder(c.Request.Context(), o, req.Modify)
	if err != nil {
		if errors.Is(err, order.ErrDuplicateOrder) && id != 0 {
			c.JSON(http.StatusConflict, gin.H{
				"code":     "DUPLICATE_ORDER",
				"error":    err.Error(),
				"order_id": id,
			})
			return
		}
		respondErr(c, err)
		return
	}
	status := http.StatusCreated
	if o.ModificationStatus == order.ModificationModified {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"order_id": id, "key": o.Key()})
}

func (s *Server) spawnContractOrders(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	children, err := s.Orders.SpawnContractOrders(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	if children == nil {
		children = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "children": children})
}

func (s *Server) completeOrderFamily(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(c.Query("force"))
	if err := s.Orders.CompleteOrderFamily(c.Request.Context(), id, force); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "completed": true, "forced": force})
}

func (s *Server) executeContractOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req executeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
			return
		}
	}
	if req.Algo == "" {
		req.Algo = "operator:" + CurrentOperator(c)
	}
	brokerID, err := s.Orders.ExecuteContractOrder(c.Request.Context(), id, req.Algo)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"contract_order_id": id, "broker_order_id": brokerID, "algo": req.Algo})
}

func (s *Server) manualFill(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req manualFillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "fill and price are required")
		return
	}
	brokerID, err := s.Orders.ManualFill(c.Request.Context(), id, trade.NewQuantity(req.Fill...), *req.Price)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"contract_order_id": id, "broker_order_id": brokerID})
}

func (s *Server) splitSpreadOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ids, err := s.Orders.SplitSpreadOrder(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"split_from": id, "orders": ids})
}

func (s *Server) pollBrokerOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.Orders.PollBrokerFill(ctx, id); err != nil {
		respondErr(c, err)
		return
	}
	bo, err := s.Orders.Stacks().Brokers.Get(ctx, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, bo)
}

func (s *Server) cancelBrokerOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.Orders.CancelBrokerOrder(ctx, id); err != nil {
		respondErr(c, err)
		return
	}
	bo, err := s.Orders.Stacks().Brokers.Get(ctx, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, bo)
}
