package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/events"
	"execution-core/internal/historic"
	"execution-core/internal/order"
	"execution-core/internal/persistence"
	"execution-core/internal/stack"
)

// stackOps erases the order type of one stack for the raw endpoints.
type stackOps struct {
	list           func(ctx context.Context, all bool) ([]order.Order, error)
	get            func(ctx context.Context, id int64) (order.Order, error)
	lock           func(ctx context.Context, id int64) error
	unlock         func(ctx context.Context, id int64) error
	remove         func(ctx context.Context, id int64) error
	removeFinished func(ctx context.Context) (int64, error)
	clear          func(ctx context.Context, areYouSure bool) (int64, error)
}

func opsFor[O order.Order](s *stack.Stack[O]) stackOps {
	return stackOps{
		list: func(ctx context.Context, all bool) ([]order.Order, error) {
			var (
				list []O
				err  error
			)
			if all {
				list, err = s.ListAll(ctx)
			} else {
				list, err = s.List(ctx)
			}
			if err != nil {
				return nil, err
			}
			out := make([]order.Order, 0, len(list))
			for _, o := range list {
				out = append(out, o)
			}
			return out, nil
		},
		get: func(ctx context.Context, id int64) (order.Order, error) {
			return s.Get(ctx, id)
		},
		lock:           s.Lock,
		unlock:         s.Unlock,
		remove:         s.Remove,
		removeFinished: s.RemoveFinished,
		clear:          s.Clear,
	}
}

func (s *Server) stackFor(c *gin.Context) (stackOps, bool) {
	tier, err := order.ParseTier(c.Param("tier"))
	if err != nil {
		respondErr(c, err)
		return stackOps{}, false
	}
	st := s.Orders.Stacks()
	switch tier {
	case order.TierInstrument:
		return opsFor(st.Instruments), true
	case order.TierContract:
		return opsFor(st.Contracts), true
	default:
		return opsFor(st.Brokers), true
	}
}

func (s *Server) listStack(c *gin.Context) {
	ops, ok := s.stackFor(c)
	if !ok {
		return
	}
	all, _ := strconv.ParseBool(c.Query("all"))
	list, err := ops.list(c.Request.Context(), all)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getStackOrder(c *gin.Context) {
	ops, ok := s.stackFor(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	o, err := ops.get(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) lockStackOrder(c *gin.Context)   { s.stackAction(c, "locked") }
func (s *Server) unlockStackOrder(c *gin.Context) { s.stackAction(c, "unlocked") }
func (s *Server) removeStackOrder(c *gin.Context) { s.stackAction(c, "removed") }

func (s *Server) stackAction(c *gin.Context, action string) {
	ops, ok := s.stackFor(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	fn := ops.remove
	switch action {
	case "locked":
		fn = ops.lock
	case "unlocked":
		fn = ops.unlock
	}
	if err := fn(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, action: true})
}

func (s *Server) removeFinished(c *gin.Context) {
	ops, ok := s.stackFor(c)
	if !ok {
		return
	}
	n, err := ops.removeFinished(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (s *Server) clearStack(c *gin.Context) {
	ops, ok := s.stackFor(c)
	if !ok {
		return
	}
	sure, _ := strconv.ParseBool(c.Query("confirm"))
	n, err := ops.clear(c.Request.Context(), sure)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

type historyQuery struct {
	Strategy   string `form:"strategy"`
	Instrument string `form:"instrument"`
	Contract   string `form:"contract"`
	Since      string `form:"since"`
	Limit      int    `form:"limit"`
}

func (q *historyQuery) scope() (historic.Scope, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
	sc := historic.Scope{Strategy: q.Strategy, Instrument: q.Instrument, Contract: q.Contract, Limit: q.Limit}
	if q.Since != "" {
		t, err := time.Parse(time.RFC3339, q.Since)
		if err != nil {
			return sc, err
		}
		sc.Since = t
	}
	return sc, nil
}

func (s *Server) historyScope(c *gin.Context) (order.Tier, historic.Scope, bool) {
	tier, err := order.ParseTier(c.Param("tier"))
	if err != nil {
		respondErr(c, err)
		return "", historic.Scope{}, false
	}
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return "", historic.Scope{}, false
	}
	sc, err := q.scope()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "since must be RFC3339")
		return "", historic.Scope{}, false
	}
	c.Header("X-Result-Limit", strconv.Itoa(sc.Limit))
	return tier, sc, true
}

func (s *Server) listHistory(c *gin.Context) {
	tier, sc, ok := s.historyScope(c)
	if !ok {
		return
	}
	list, err := s.History.List(c.Request.Context(), tier, sc)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) listHistoricFills(c *gin.Context) {
	tier, sc, ok := s.historyScope(c)
	if !ok {
		return
	}
	fills, err := s.History.Fills(c.Request.Context(), tier, sc)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, fills)
}

type eventsQuery struct {
	Tier    string `form:"tier"`
	OrderID int64  `form:"order_id"`
	Type    string `form:"type"`
	Since   string `form:"since"`
	Limit   int    `form:"limit"`
}

// listOrderEvents reads the lifecycle journal, newest first.
func (s *Server) listOrderEvents(c *gin.Context) {
	if s.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "event journal not configured")
		return
	}
	var q eventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	if q.Tier != "" {
		if _, err := order.ParseTier(q.Tier); err != nil {
			respondErr(c, err)
			return
		}
	}
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}
	f := persistence.Filter{Tier: q.Tier, OrderID: q.OrderID, Type: events.Event(q.Type), Limit: q.Limit}
	if q.Since != "" {
		t, err := time.Parse(time.RFC3339, q.Since)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_QUERY", "since must be RFC3339")
			return
		}
		f.Since = t
	}
	list, err := s.Journal.Events(c.Request.Context(), f)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
