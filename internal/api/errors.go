package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"execution-core/internal/clientid"
	"execution-core/internal/gateway"
	"execution-core/internal/order"
	"execution-core/internal/stack"
	"execution-core/internal/stackhandler"
	"execution-core/internal/trade"
	"execution-core/pkg/instruments"
	"execution-core/pkg/venue"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// First match wins.
var errorMappings = []errorMapping{
	{order.ErrMissingOrder, http.StatusNotFound, "ORDER_NOT_FOUND"},
	{instruments.ErrUnknownInstrument, http.StatusNotFound, "UNKNOWN_INSTRUMENT"},
	{clientid.ErrNotAllocated, http.StatusNotFound, "CLIENT_ID_NOT_ALLOCATED"},
	{venue.ErrNoHistoricalData, http.StatusNotFound, "NO_HISTORICAL_DATA"},

	{order.ErrDuplicateOrder, http.StatusConflict, "DUPLICATE_ORDER"},
	{order.ErrLockedOrder, http.StatusConflict, "ORDER_LOCKED"},
	{order.ErrInactiveOrder, http.StatusConflict, "ORDER_INACTIVE"},
	{order.ErrControllerAlreadySet, http.StatusConflict, "ORDER_CONTROLLED"},
	{order.ErrNotController, http.StatusConflict, "NOT_CONTROLLER"},
	{order.ErrOrderIDAlreadySet, http.StatusConflict, "ORDER_ID_SET"},
	{stackhandler.ErrChildWorking, http.StatusConflict, "CHILD_WORKING"},
	{stackhandler.ErrNotComplete, http.StatusConflict, "NOT_COMPLETE"},
	{stackhandler.ErrRollBlocked, http.StatusConflict, "ROLL_BLOCKED"},
	{stackhandler.ErrSpreadHasChildren, http.StatusConflict, "SPREAD_HAS_CHILDREN"},

	{order.ErrInvalidFillQuantity, http.StatusUnprocessableEntity, "INVALID_FILL"},
	{order.ErrZeroTrade, http.StatusUnprocessableEntity, "ZERO_TRADE"},
	{order.ErrInvalidTransition, http.StatusUnprocessableEntity, "INVALID_TRANSITION"},
	{order.ErrUnknownTier, http.StatusUnprocessableEntity, "UNKNOWN_TIER"},
	{stackhandler.ErrNothingToExecute, http.StatusUnprocessableEntity, "NOTHING_TO_EXECUTE"},
	{stackhandler.ErrNotSubmitted, http.StatusUnprocessableEntity, "NOT_SUBMITTED"},
	{trade.ErrLegMismatch, http.StatusUnprocessableEntity, "LEG_MISMATCH"},
	{trade.ErrNotASpread, http.StatusUnprocessableEntity, "NOT_A_SPREAD"},
	{trade.ErrInvalidKey, http.StatusUnprocessableEntity, "INVALID_KEY"},
	{trade.ErrInvalidContractDate, http.StatusUnprocessableEntity, "INVALID_CONTRACT_DATE"},
	{venue.ErrContractNotFound, http.StatusUnprocessableEntity, "CONTRACT_NOT_FOUND"},
	{venue.ErrAmbiguousContract, http.StatusUnprocessableEntity, "AMBIGUOUS_CONTRACT"},
	{stack.ErrNotConfirmed, http.StatusBadRequest, "NOT_CONFIRMED"},

	{venue.ErrVenueTimeout, http.StatusGatewayTimeout, "VENUE_TIMEOUT"},
	{venue.ErrVenueRejected, http.StatusBadGateway, "VENUE_REJECTED"},
	{gateway.ErrSessionUnhealthy, http.StatusServiceUnavailable, "SESSION_UNHEALTHY"},
	{gateway.ErrPoolFull, http.StatusServiceUnavailable, "SESSION_POOL_FULL"},
	{gateway.ErrManagerStopped, http.StatusServiceUnavailable, "SESSION_POOL_STOPPED"},
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondErr maps a service error onto a status and a stable code.
func respondErr(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			respondError(c, m.status, m.code, err.Error())
			return
		}
	}
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}
