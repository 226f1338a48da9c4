package threat

// Band is a coarse risk level for display.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// Band boundaries are exclusive: a score must exceed them.
const (
	highBandFloor   = 0.66
	mediumBandFloor = 0.33
)

// HistogramBins is the number of equal-width bins over [0, 1].
const HistogramBins = 20

// BandFor classifies a risk score.
func BandFor(score float64) Band {
	switch {
	case score > highBandFloor:
		return BandHigh
	case score > mediumBandFloor:
		return BandMedium
	default:
		return BandLow
	}
}

// Band classifies the record's RiskScore.
func (s *ScoredRecord) Band() Band { return BandFor(s.RiskScore) }

// Bin is one histogram bucket covering [Lower, Upper); the last bin also
// includes 1.0.
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Summary is the dashboard overview of one scan.
type Summary struct {
	TotalActivities int          `json:"total_activities"`
	Alerts          int          `json:"alerts"`
	Bands           map[Band]int `json:"bands"`
	Histogram       []Bin        `json:"histogram"`
}

// Summarize counts alerts per band and bins their risk scores.
func Summarize(totalActivities int, alerts []ScoredRecord) Summary {
	s := Summary{
		TotalActivities: totalActivities,
		Alerts:          len(alerts),
		Bands:           map[Band]int{BandHigh: 0, BandMedium: 0, BandLow: 0},
		Histogram:       make([]Bin, HistogramBins),
	}

	width := 1.0 / HistogramBins
	for i := range s.Histogram {
		s.Histogram[i].Lower = float64(i) * width
		s.Histogram[i].Upper = float64(i+1) * width
	}

	for i := range alerts {
		score := alerts[i].RiskScore
		s.Bands[BandFor(score)]++
		s.Histogram[binIndex(score)].Count++
	}
	return s
}

func binIndex(score float64) int {
	i := int(score * HistogramBins)
	if i < 0 {
		return 0
	}
	if i >= HistogramBins {
		return HistogramBins - 1
	}
	return i
}
