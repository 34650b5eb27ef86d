package api

import (
	"net/http"

	"github.com/DomeLiquid/marginpool/core"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

var (
	ErrBadRequest         = errors.New("bad request")
	ErrUnsupportedOracle  = errors.New("prices are not settable on this oracle")
	ErrNotGovernanceModel = errors.New("strategy is not governance controlled")
)

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func badRequest(err error) error {
	return errors.Wrap(ErrBadRequest, err.Error())
}

// statusOf maps an engine error onto the HTTP status a client should act on.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrReserveNotFound),
		errors.Is(err, core.ErrStrategyNotFound),
		errors.Is(err, core.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrStaleMarginSnapshot),
		errors.Is(err, core.ErrReserveAlreadyInitialized):
		return http.StatusConflict
	}

	switch core.KindOf(err) {
	case core.ErrorKindAuthorization:
		return http.StatusForbidden
	case core.ErrorKindPrecondition, core.ErrorKindArithmetic:
		return http.StatusUnprocessableEntity
	case core.ErrorKindMarketData:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	kind := core.KindOf(err).String()
	if errors.Is(err, ErrBadRequest) {
		kind = "request"
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Int("status", status).Msg("request failed")
	} else {
		s.log.Debug().Err(err).Str("path", c.FullPath()).Int("status", status).Msg("request rejected")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Kind: kind})
}
