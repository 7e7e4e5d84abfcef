package breaker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shipbridge/courier-gateway/pkg/courier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Guard gates a single courier's calls through the breaker. Adapters call
// Allow before attempting the network and Observe with the outcome after.
type Guard struct {
	breaker *Breaker
	code    string
	logger  *otelzap.Logger
}

// NewGuard creates a guard for one courier code.
func NewGuard(b *Breaker, code string, logger *otelzap.Logger) *Guard {
	return &Guard{breaker: b, code: code, logger: logger}
}

// Allow returns courier.ErrCourierUnavailable when the circuit is open.
// A store error fails open: the courier call proceeds and the outage is
// logged, so a degraded Redis never blocks shipping.
func (g *Guard) Allow(ctx context.Context) error {
	allowed, err := g.breaker.Allow(ctx, g.code)
	if err != nil {
		g.logger.Ctx(ctx).Warn("Circuit breaker store unreachable, allowing call",
			zap.String("courier", g.code),
			zap.Error(err),
		)
		return nil
	}
	if !allowed {
		return fmt.Errorf("%w: %s circuit is open", courier.ErrCourierUnavailable, g.code)
	}
	return nil
}

// Observe records the outcome of a courier call. Rejections from the breaker
// itself are not counted.
func (g *Guard) Observe(ctx context.Context, callErr error) {
	if errors.Is(callErr, courier.ErrCourierUnavailable) {
		return
	}

	var err error
	if callErr != nil {
		err = g.breaker.RecordFailure(ctx, g.code)
	} else {
		err = g.breaker.RecordSuccess(ctx, g.code)
	}
	if err != nil {
		g.logger.Ctx(ctx).Warn("Failed to record circuit breaker outcome",
			zap.String("courier", g.code),
			zap.Error(err),
		)
	}
}

// Available reports whether calls are currently permitted without mutating
// breaker state.
func (g *Guard) Available(ctx context.Context) bool {
	state, err := g.breaker.State(ctx, g.code)
	if err != nil {
		return true
	}
	if state.Status != StatusOpen {
		return true
	}
	// An expired open record would flip to half_open on the next Allow.
	return g.breaker.now().Unix() > state.OpenedAt+int64(g.breaker.cfg.OpenTimeout.Seconds())
}
