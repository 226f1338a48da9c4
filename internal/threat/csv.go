package threat

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/mbd888/threatscore/internal/activity"
)

// Alert CSV columns appended after the activity columns.
const (
	ColRiskScore = "Risk_Score"
	ColReason    = "Reason"
)

// Columns is the alert CSV header.
var Columns = append(append([]string{}, activity.Columns...), ColRiskScore, ColReason)

// FormatRiskScore renders a score with six decimals.
func FormatRiskScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 6, 64)
}

// WriteCSV writes alerts in the given order.
func WriteCSV(w io.Writer, alerts []ScoredRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for i := range alerts {
		row := append(alerts[i].Record.Row(), FormatRiskScore(alerts[i].RiskScore), alerts[i].Reason)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses an alert CSV written by WriteCSV, preserving row order.
// Header problems and malformed rows wrap ErrInvalidInput.
func ReadCSV(r io.Reader) ([]ScoredRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	cols, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, paramError("csv", "empty file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	h, err := activity.ParseHeader(cols)
	if err != nil {
		return nil, paramError("csv", err.Error())
	}
	var missing []string
	for _, c := range []string{ColRiskScore, ColReason} {
		if !h.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, paramError("csv", "missing required column: "+strings.Join(missing, ", "))
	}

	out := make([]ScoredRecord, 0)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}

		rec, err := activity.DecodeRow(h, row, line)
		if err != nil {
			return nil, &ValidationError{Field: "csv", Index: line - 2, Reason: err.Error()}
		}

		var raw string
		if i := h[ColRiskScore]; i < len(row) {
			raw = strings.TrimSpace(row[i])
		}
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(score) || score < 0 || score > 1 {
			return nil, &ValidationError{Field: ColRiskScore, Index: line - 2, Reason: fmt.Sprintf("%q is not a score in [0, 1]", raw)}
		}

		sr := ScoredRecord{Record: rec, RiskScore: score}
		if i := h[ColReason]; i < len(row) {
			sr.Reason = row[i]
		}
		out = append(out, sr)
	}
	return out, nil
}
