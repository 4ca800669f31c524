package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"execution-core/internal/broker"
	"execution-core/internal/clientid"
	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/historic"
	"execution-core/internal/monitor"
	"execution-core/internal/persistence"
	"execution-core/internal/reconciliation"
	"execution-core/internal/stackhandler"
	"execution-core/pkg/instruments"
)

// Deps are the services the operator API drives. Sessions, ClientIDs,
// Reconciler and Journal may be nil; their endpoints then answer 503.
type Deps struct {
	Bus         *events.Bus
	Orders      *stackhandler.Handler
	Roller      *stackhandler.Roller
	Broker      *broker.Gateway
	Sessions    *gateway.Manager
	ClientIDs   *clientid.Registry
	Instruments *instruments.Config
	History     *historic.Store
	Reconciler  *reconciliation.Service
	Journal     *persistence.Journal
	Metrics     *monitor.SystemMetrics
}

// Server wires HTTP endpoints around the order stacks and the venue.
type Server struct {
	Deps
	Router    *gin.Engine
	JWTSecret string
	Meta      SystemMeta
	log       *zap.Logger
	limiters  *limiterSet
}

// SystemMeta describes the running process.
type SystemMeta struct {
	VenueMode string   `json:"venue_mode"`
	Accounts  []string `json:"accounts"`
	Version   string   `json:"version"`
}

func NewServer(deps Deps, meta SystemMeta, jwtSecret string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	s := &Server{
		Deps:      deps,
		Router:    r,
		JWTSecret: jwtSecret,
		Meta:      meta,
		log:       log.Named("api"),
		limiters:  newLimiterSet(20, 50),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(s.log))
	r.Use(RateLimitMiddleware(s.limiters, s.log))
	r.Use(TimeoutMiddleware(30*time.Second, s.log))
	r.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api/v1")
	api.Use(AuthMiddleware(s.JWTSecret))
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/system/metrics", s.getMetrics)

		// Order lifecycle
		api.POST("/instrument-orders", s.putInstrumentOrder)
		api.POST("/instrument-orders/:id/spawn", s.spawnContractOrders)
		api.POST("/instrument-orders/:id/complete", s.completeOrderFamily)
		api.POST("/contract-orders/:id/execute", s.executeContractOrder)
		api.POST("/contract-orders/:id/manual-fill", s.manualFill)
		api.POST("/contract-orders/:id/split", s.splitSpreadOrder)
		api.POST("/broker-orders/:id/poll", s.pollBrokerOrder)
		api.POST("/broker-orders/:id/cancel", s.cancelBrokerOrder)

		// Raw stack access
		api.GET("/stacks/:tier", s.listStack)
		api.DELETE("/stacks/:tier", s.clearStack)
		api.POST("/stacks/:tier/remove-finished", s.removeFinished)
		api.GET("/stacks/:tier/:id", s.getStackOrder)
		api.DELETE("/stacks/:tier/:id", s.removeStackOrder)
		api.POST("/stacks/:tier/:id/lock", s.lockStackOrder)
		api.POST("/stacks/:tier/:id/unlock", s.unlockStackOrder)

		api.GET("/history/:tier", s.listHistory)
		api.GET("/history/:tier/fills", s.listHistoricFills)
		api.GET("/events", s.listOrderEvents)

		// Instruments and rolls
		api.GET("/instruments", s.listInstruments)
		api.GET("/instruments/:code", s.getInstrument)
		api.PUT("/instruments/:code/roll-state", s.setRollState)
		api.POST("/instruments/:code/roll", s.createRollOrders)
		api.POST("/instruments/:code/roll/finish", s.finishRoll)

		// Venue
		api.GET("/contracts/resolve", s.resolveContract)
		api.GET("/bars", s.getHistoricalBars)
		api.GET("/positions", s.getPositions)
		api.GET("/accounts/:account/summary", s.getAccountSummary)
		api.GET("/venue/orders", s.getOpenOrders)
		api.GET("/sessions", s.getSessions)
		api.DELETE("/sessions/:account", s.removeSession)
		api.GET("/client-ids", s.getClientIDs)
		api.DELETE("/client-ids", s.clearClientIDs)

		api.GET("/reconciliation", s.getReconciliation)
		api.POST("/reconciliation/run", s.runReconciliation)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
