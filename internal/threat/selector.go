package threat

import (
	"fmt"

	"github.com/mbd888/threatscore/internal/activity"
)

// Request selects an engine and carries its parameters. Thresholds is read
// only in rules mode and Contamination only in anomaly mode.
type Request struct {
	Mode          Mode       `json:"mode"`
	Thresholds    Thresholds `json:"thresholds"`
	Contamination float64    `json:"contamination"`
}

// DefaultRequest returns a rules-mode request with stock parameters.
func DefaultRequest() Request {
	return Request{
		Mode:          ModeRules,
		Thresholds:    DefaultThresholds(),
		Contamination: DefaultContamination,
	}
}

// Score dispatches to ScoreByRules or ScoreByAnomaly and returns its output
// unchanged.
func Score(records []activity.Record, req Request) ([]ScoredRecord, error) {
	switch req.Mode {
	case ModeRules:
		return ScoreByRules(records, req.Thresholds)
	case ModeAnomaly:
		return ScoreByAnomaly(records, req.Contamination)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
}
