package threat

import (
	"fmt"
	"math"

	"github.com/mbd888/threatscore/internal/activity"
)

// DefaultContamination is the expected outlier fraction when none is given.
const DefaultContamination = 0.10

// ValidateContamination checks that c is a fraction strictly between 0 and 1.
func ValidateContamination(c float64) error {
	if math.IsNaN(c) || c <= 0 || c >= 1 {
		return paramError("contamination", fmt.Sprintf("must be in (0, 1), got %v", c))
	}
	return nil
}

// ScoreByAnomaly fits an isolation forest over the batch and returns the
// records it classifies as outliers. RiskScore is the record's decision score
// min-max normalized across the whole batch so the most anomalous record gets
// 1.0 and the most normal 0.0. Outlier membership comes from the sign of the
// decision score, not from RiskScore.
func ScoreByAnomaly(records []activity.Record, contamination float64) ([]ScoredRecord, error) {
	if err := ValidateContamination(contamination); err != nil {
		return nil, err
	}
	if err := validateRecords(records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []ScoredRecord{}, nil
	}

	X := featureMatrix(records)

	forest := NewIsolationForest(contamination)
	if err := forest.Fit(X); err != nil {
		return nil, err
	}
	raw, err := forest.Decision(X)
	if err != nil {
		return nil, err
	}

	risk := normalizeInverted(raw)

	out := make([]ScoredRecord, 0)
	for i := range records {
		if raw[i] < 0 {
			out = append(out, ScoredRecord{
				Record:    records[i],
				RiskScore: risk[i],
				Reason:    AnomalyReason,
			})
		}
	}

	sortByRisk(out)
	return out, nil
}

func featureMatrix(records []activity.Record) [][]float64 {
	X := make([][]float64, len(records))
	for i := range records {
		f := records[i].Features()
		X[i] = f[:]
	}
	return X
}

// normalizeInverted maps the lowest raw score to 1 and the highest to 0.
// A batch with no spread gets DegenerateRiskScore everywhere.
func normalizeInverted(raw []float64) []float64 {
	lo, hi := raw[0], raw[0]
	for _, v := range raw[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	out := make([]float64, len(raw))
	span := hi - lo
	for i, v := range raw {
		if span == 0 {
			out[i] = DegenerateRiskScore
			continue
		}
		r := (hi - v) / span
		out[i] = math.Min(1, math.Max(0, r))
	}
	return out
}
