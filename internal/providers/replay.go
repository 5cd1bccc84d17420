package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/cryptorisk/internal/domain/market"
)

// ReplayRecord is one line of a replay file: a snapshot with an optional
// prediction score.
type ReplayRecord struct {
	market.Snapshot
	Prediction *float64 `json:"prediction,omitempty"`
}

// Replay serves recorded snapshots tick by tick. Records sharing a timestamp
// form one tick.
type Replay struct {
	mu     sync.RWMutex
	ticks  []time.Time
	frames map[int64]map[string]ReplayRecord
	cursor int
}

// OpenReplay reads a JSON-lines replay file.
func OpenReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay: %w", err)
	}
	defer f.Close()
	return LoadReplay(f)
}

// LoadReplay parses JSON lines from r. Blank lines are ignored.
func LoadReplay(r io.Reader) (*Replay, error) {
	rp := &Replay{frames: make(map[int64]map[string]ReplayRecord), cursor: -1}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec ReplayRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("replay line %d: %w", line, err)
		}
		if rec.Asset == "" || rec.Timestamp.IsZero() {
			return nil, fmt.Errorf("replay line %d: asset and ts are required", line)
		}
		key := rec.Timestamp.UnixNano()
		frame, ok := rp.frames[key]
		if !ok {
			frame = make(map[string]ReplayRecord)
			rp.frames[key] = frame
			rp.ticks = append(rp.ticks, rec.Timestamp)
		}
		frame[rec.Asset] = rec
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay: %w", err)
	}
	sort.Slice(rp.ticks, func(i, j int) bool { return rp.ticks[i].Before(rp.ticks[j]) })
	return rp, nil
}

// Len is the number of ticks.
func (r *Replay) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ticks)
}

// Advance moves to the next tick and reports whether one exists.
func (r *Replay) Advance() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursor+1 >= len(r.ticks) {
		return false
	}
	r.cursor++
	return true
}

// Now is the timestamp of the current tick.
func (r *Replay) Now() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cursor < 0 {
		return time.Time{}
	}
	return r.ticks[r.cursor]
}

// Assets lists the assets recorded at the current tick, sorted.
func (r *Replay) Assets() []string {
	frame := r.frame()
	out := make([]string, 0, len(frame))
	for a := range frame {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (r *Replay) frame() map[string]ReplayRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cursor < 0 {
		return nil
	}
	return r.frames[r.ticks[r.cursor].UnixNano()]
}

func (r *Replay) Snapshot(ctx context.Context, asset string) (market.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return market.Snapshot{}, err
	}
	rec, ok := r.frame()[asset]
	if !ok {
		return market.Snapshot{}, fmt.Errorf("replay snapshot %s: %w", asset, market.ErrUnavailable)
	}
	return rec.Snapshot, nil
}

func (r *Replay) Prediction(ctx context.Context, asset string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rec, ok := r.frame()[asset]
	if !ok || rec.Prediction == nil {
		return 0, fmt.Errorf("replay prediction %s: %w", asset, market.ErrUnavailable)
	}
	return *rec.Prediction, nil
}
