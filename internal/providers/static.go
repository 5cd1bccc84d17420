package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sawpanic/cryptorisk/internal/domain/market"
)

// Static serves snapshots and predictions from memory. Assets that were
// never set are unavailable.
type Static struct {
	mu          sync.RWMutex
	snapshots   map[string]market.Snapshot
	predictions map[string]float64
}

func NewStatic() *Static {
	return &Static{
		snapshots:   make(map[string]market.Snapshot),
		predictions: make(map[string]float64),
	}
}

// SetSnapshot stores s under s.Asset.
func (s *Static) SetSnapshot(snap market.Snapshot) {
	s.mu.Lock()
	s.snapshots[snap.Asset] = snap
	s.mu.Unlock()
}

// SetPrediction stores a score for asset.
func (s *Static) SetPrediction(asset string, score float64) {
	s.mu.Lock()
	s.predictions[asset] = score
	s.mu.Unlock()
}

// Remove drops both the snapshot and the prediction of asset.
func (s *Static) Remove(asset string) {
	s.mu.Lock()
	delete(s.snapshots, asset)
	delete(s.predictions, asset)
	s.mu.Unlock()
}

// Assets lists the assets with a snapshot, sorted.
func (s *Static) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.snapshots))
	for a := range s.snapshots {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (s *Static) Snapshot(ctx context.Context, asset string) (market.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return market.Snapshot{}, err
	}
	s.mu.RLock()
	snap, ok := s.snapshots[asset]
	s.mu.RUnlock()
	if !ok {
		return market.Snapshot{}, fmt.Errorf("snapshot %s: %w", asset, market.ErrUnavailable)
	}
	return snap, nil
}

func (s *Static) Prediction(ctx context.Context, asset string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	score, ok := s.predictions[asset]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("prediction %s: %w", asset, market.ErrUnavailable)
	}
	return score, nil
}
