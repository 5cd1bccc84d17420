package tick

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptorisk/internal/domain/risk"
	"github.com/sawpanic/cryptorisk/internal/domain/sizing"
	"github.com/sawpanic/cryptorisk/internal/exits"
	"github.com/sawpanic/cryptorisk/internal/ledger"
	"github.com/sawpanic/cryptorisk/internal/providers"
)

// TickReport describes everything one tick decided and did.
type TickReport struct {
	Time          time.Time         `json:"ts"`
	Decisions     []sizing.Decision `json:"decisions,omitempty"`
	Entries       []Entry           `json:"entries,omitempty"`
	Exits         []Exit            `json:"exits,omitempty"`
	Skipped       []Skip            `json:"skipped,omitempty"`
	Failures      []Failure         `json:"failures,omitempty"`
	Cancelled     bool              `json:"cancelled"`
	Risk          risk.Snapshot     `json:"risk"`
	Equity        float64           `json:"equity"`
	OpenPositions int               `json:"open_positions"`
	Duration      time.Duration     `json:"duration"`
}

// Entry is a position opened this tick.
type Entry struct {
	Asset      string          `json:"asset"`
	PositionID string          `json:"position_id"`
	Alpha      float64         `json:"alpha"`
	Confidence float64         `json:"confidence"`
	Tag        string          `json:"tag"`
	Decision   sizing.Decision `json:"decision"`
	Fill       providers.Fill  `json:"fill"`
	RiskBefore risk.Snapshot   `json:"-"`
}

// Exit is a confirmed exit fill booked this tick.
type Exit struct {
	Instruction exits.Instruction `json:"instruction"`
	Record      ledger.ExitRecord `json:"record"`
	Closed      bool              `json:"closed"`
	RiskAfter   risk.Snapshot     `json:"-"`
}

// Skip is an asset left out of the tick for lack of usable data.
type Skip struct {
	Asset string `json:"asset"`
	Cause string `json:"cause"`
	Err   error  `json:"-"`
}

// Failure is an execution or persistence error. The ledger is left as it
// was before the failing step; the action is retried next tick.
type Failure struct {
	Asset      string `json:"asset"`
	PositionID string `json:"position_id,omitempty"`
	Stage      string `json:"stage"`
	Err        error  `json:"-"`
}

// Error returns the failure message.
func (f Failure) Error() string {
	if f.Err == nil {
		return f.Stage + " failed for " + f.Asset
	}
	return f.Stage + " failed for " + f.Asset + ": " + f.Err.Error()
}

func (r *TickReport) skip(asset, cause string, err error) {
	r.Skipped = append(r.Skipped, Skip{Asset: asset, Cause: cause, Err: err})
	log.Debug().Err(err).Str("asset", asset).Str("cause", cause).Msg("Asset skipped")
}

func (r *TickReport) fail(asset, positionID, stage string, err error) {
	r.Failures = append(r.Failures, Failure{Asset: asset, PositionID: positionID, Stage: stage, Err: err})
	log.Error().
		Err(err).
		Str("asset", asset).
		Str("position_id", positionID).
		Str("stage", stage).
		Msg("Tick step failed")
}

// Counts returns how many entries were decided per outcome; opened entries
// count as "opened", skipped decisions under their skip reason.
func (r TickReport) Counts() map[string]int {
	out := make(map[string]int)
	for _, d := range r.Decisions {
		if d.Sized() {
			continue
		}
		out[d.SkipReason]++
	}
	out["opened"] = len(r.Entries)
	return out
}
