package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/monitor"
	"execution-core/internal/trade"
	"execution-core/pkg/instruments"
)

type rollStateRequest struct {
	State string `json:"state" binding:"required"`
}

type rollRequest struct {
	// Position overrides the venue position in the priced contract.
	Position *int64 `json:"position"`
	Spread   bool   `json:"spread"`
}

type finishRollRequest struct {
	NextForward string `json:"next_forward"`
}

type barsQuery struct {
	Strategy   string `form:"strategy"`
	Instrument string `form:"instrument" binding:"required"`
	Contract   string `form:"contract" binding:"required"`
	BarSize    string `form:"bar_size"`
	Duration   string `form:"duration"`
	Field      string `form:"field"`
}

func (q *barsQuery) normalize() {
	if q.Strategy == "" {
		q.Strategy = "operator"
	}
	if q.BarSize == "" {
		q.BarSize = "1 day"
	}
	if q.Duration == "" {
		q.Duration = "1 Y"
	}
	if q.Field == "" {
		q.Field = "TRADES"
	}
}

func (s *Server) listInstruments(c *gin.Context) {
	c.JSON(http.StatusOK, s.Instruments.All())
}

func (s *Server) getInstrument(c *gin.Context) {
	in, err := s.Instruments.Get(c.Param("code"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

func (s *Server) setRollState(c *gin.Context) {
	var req rollStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "state is required")
		return
	}
	code := c.Param("code")
	if err := s.Instruments.SetRollState(code, instruments.RollState(req.State)); err != nil {
		respondErr(c, err)
		return
	}
	in, err := s.Instruments.Get(code)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

func (s *Server) createRollOrders(c *gin.Context) {
	if s.Roller == nil {
		respondError(c, http.StatusServiceUnavailable, "ROLLS_UNAVAILABLE", "roll support not configured")
		return
	}
	var req rollRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	ctx := c.Request.Context()
	code := c.Param("code")

	var (
		parentID int64
		children []int64
		err      error
	)
	if req.Position != nil {
		parentID, children, err = s.Roller.CreateRollOrders(ctx, code, *req.Position, req.Spread)
	} else {
		parentID, children, err = s.Roller.RollFromState(ctx, code)
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order_id": parentID, "children": children})
}

func (s *Server) finishRoll(c *gin.Context) {
	if s.Roller == nil {
		respondError(c, http.StatusServiceUnavailable, "ROLLS_UNAVAILABLE", "roll support not configured")
		return
	}
	var req finishRollRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
			return
		}
	}
	code := c.Param("code")
	if err := s.Roller.FinishRoll(code, req.NextForward); err != nil {
		respondErr(c, err)
		return
	}
	in, err := s.Instruments.Get(code)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

func (s *Server) contractKey(c *gin.Context, strategy, instrument, contract string) (trade.ContractKey, bool) {
	key, _, err := trade.NewContractKey(strategy, instrument, []string{contract})
	if err != nil {
		respondErr(c, err)
		return trade.ContractKey{}, false
	}
	return key, true
}

func (s *Server) resolveContract(c *gin.Context) {
	strategy := c.DefaultQuery("strategy", "operator")
	key, ok := s.contractKey(c, strategy, c.Query("instrument"), c.Query("contract"))
	if !ok {
		return
	}
	resolved, err := s.Broker.ResolveContract(c.Request.Context(), key, nil)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, resolved.Contracts)
}

func (s *Server) getHistoricalBars(c *gin.Context) {
	var q barsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "instrument and contract are required")
		return
	}
	q.normalize()
	key, ok := s.contractKey(c, q.Strategy, q.Instrument, q.Contract)
	if !ok {
		return
	}
	bars, err := s.Broker.HistoricalBars(c.Request.Context(), key, q.BarSize, q.Duration, q.Field)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, bars)
}

func (s *Server) account(c *gin.Context) string {
	if a := c.Query("account"); a != "" {
		return a
	}
	return s.Broker.Account()
}

func (s *Server) getPositions(c *gin.Context) {
	positions, err := s.Broker.Positions(c.Request.Context(), s.account(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) getAccountSummary(c *gin.Context) {
	values, err := s.Broker.AccountSummary(c.Request.Context(), c.Param("account"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, values)
}

func (s *Server) getOpenOrders(c *gin.Context) {
	orders, err := s.Broker.OpenOrders(c.Request.Context(), s.account(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) getSessions(c *gin.Context) {
	if s.Sessions == nil {
		respondError(c, http.StatusServiceUnavailable, "SESSIONS_UNAVAILABLE", "session pool not configured")
		return
	}
	c.JSON(http.StatusOK, s.Sessions.Stats())
}

func (s *Server) removeSession(c *gin.Context) {
	if s.Sessions == nil {
		respondError(c, http.StatusServiceUnavailable, "SESSIONS_UNAVAILABLE", "session pool not configured")
		return
	}
	s.Sessions.Remove(c.Param("account"))
	c.JSON(http.StatusOK, gin.H{"account": c.Param("account"), "removed": true})
}

type clientIDLock struct {
	ClientID int       `json:"client_id"`
	Owner    string    `json:"owner"`
	LockedAt time.Time `json:"locked_at"`
}

func (s *Server) getClientIDs(c *gin.Context) {
	if s.ClientIDs == nil {
		respondError(c, http.StatusServiceUnavailable, "CLIENT_IDS_UNAVAILABLE", "client id registry not configured")
		return
	}
	locked, err := s.ClientIDs.Locked(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	out := make([]clientIDLock, 0, len(locked))
	for _, l := range locked {
		out = append(out, clientIDLock{ClientID: l.ID, Owner: l.Owner, LockedAt: l.LockedAt})
	}
	c.JSON(http.StatusOK, gin.H{
		"owner":  s.ClientIDs.Owner(),
		"held":   s.ClientIDs.Held(),
		"locked": out,
	})
}

// clearClientIDs drops every identity lock, including other processes'.
// Only for recovery after a crash.
func (s *Server) clearClientIDs(c *gin.Context) {
	if s.ClientIDs == nil {
		respondError(c, http.StatusServiceUnavailable, "CLIENT_IDS_UNAVAILABLE", "client id registry not configured")
		return
	}
	if sure, _ := strconv.ParseBool(c.Query("confirm")); !sure {
		respondError(c, http.StatusBadRequest, "NOT_CONFIRMED", "pass confirm=true to clear every client id lock")
		return
	}
	if err := s.ClientIDs.Clear(c.Request.Context()); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) getReconciliation(c *gin.Context) {
	if s.Reconciler == nil {
		respondError(c, http.StatusServiceUnavailable, "RECONCILIATION_UNAVAILABLE", "reconciliation not configured")
		return
	}
	c.JSON(http.StatusOK, s.Reconciler.Last())
}

func (s *Server) runReconciliation(c *gin.Context) {
	if s.Reconciler == nil {
		respondError(c, http.StatusServiceUnavailable, "RECONCILIATION_UNAVAILABLE", "reconciliation not configured")
		return
	}
	report, err := s.Reconciler.Reconcile(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) getSystemStatus(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{"meta": s.Meta, "operator": CurrentOperator(c)}
	if s.Bus != nil {
		resp["events_dropped"] = s.Bus.Dropped()
	}
	st := s.Orders.Stacks()
	counts := gin.H{}
	if l, err := st.Instruments.List(ctx); err == nil {
		counts["instrument"] = len(l)
	}
	if l, err := st.Contracts.List(ctx); err == nil {
		counts["contract"] = len(l)
	}
	if l, err := st.Brokers.List(ctx); err == nil {
		counts["broker"] = len(l)
	}
	resp["active_orders"] = counts
	if s.Sessions != nil {
		resp["sessions"] = s.Sessions.Stats()
	}
	if s.Journal != nil {
		resp["journal"] = s.Journal.GetMetrics()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getMetrics(c *gin.Context) {
	metrics := s.Metrics
	if metrics == nil {
		metrics = monitor.Default
	}
	c.JSON(http.StatusOK, metrics.GetSnapshot())
}
