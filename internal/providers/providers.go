// Package providers defines the external collaborators of the risk core and
// the resilience wrappers placed around them.
package providers

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/cryptorisk/internal/domain/market"
)

var (
	// ErrExecution marks an order the execution interface did not confirm.
	ErrExecution = errors.New("execution failed")

	// ErrCircuitOpen marks a call rejected by an open circuit breaker.
	ErrCircuitOpen = errors.New("provider circuit open")
)

// SnapshotProvider returns the current market snapshot for an asset. It
// returns an error wrapping market.ErrUnavailable when the asset has no data.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, asset string) (market.Snapshot, error)
}

// PredictionProvider returns a model score in [0,1] for an asset, or an
// error wrapping market.ErrUnavailable.
type PredictionProvider interface {
	Prediction(ctx context.Context, asset string) (float64, error)
}

// Side of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Fill is what the execution interface confirmed. The amount and price may
// differ from what was requested.
type Fill struct {
	Asset        string    `json:"asset"`
	Side         Side      `json:"side"`
	FilledAmount float64   `json:"filled_amount"`
	Price        float64   `json:"realized_price"`
	Time         time.Time `json:"ts"`
}

// Executor places orders. Failures are returned wrapping ErrExecution.
type Executor interface {
	Execute(ctx context.Context, asset string, side Side, amount float64) (Fill, error)
}
