// Package threat implements the insider-threat scoring engine.
//
// Two interchangeable strategies turn a batch of activity records into a
// ranked, explained subset of risky records. The rule engine checks four fixed
// predicates and scores k/4 for k matches. The anomaly engine fits an
// isolation forest over the four counters and min-max normalizes its decision
// scores across the batch. Both return ScoredRecords sorted by RiskScore,
// highest first, with ties kept in input order.
//
// Scoring is a pure function of (records, parameters). Nothing is cached.
package threat

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/mbd888/threatscore/internal/activity"
)

var (
	ErrInvalidInput = errors.New("threat: invalid input")
	ErrUnknownMode  = errors.New("threat: unknown detection mode")
)

// Mode selects a detection strategy.
type Mode string

const (
	ModeRules   Mode = "rules"
	ModeAnomaly Mode = "anomaly"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRules, ModeAnomaly:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// AnomalyReason labels every record flagged by the anomaly engine.
const AnomalyReason = "ML Anomaly Detected"

// DegenerateRiskScore is assigned to every outlier when all raw anomaly
// scores in a batch are identical and min-max normalization is undefined.
const DegenerateRiskScore = 0.5

// ScoredRecord is an activity record flagged by one of the engines.
type ScoredRecord struct {
	activity.Record
	RiskScore float64 `json:"risk_score"`
	Reason    string  `json:"reason"`
}

// ValidationError reports which input failed validation. Index is the
// offending record's position in the batch, or -1 for parameters.
type ValidationError struct {
	Field  string
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("threat: invalid input: record %d: %s: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("threat: invalid input: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func paramError(field, reason string) error {
	return &ValidationError{Field: field, Index: -1, Reason: reason}
}

// validateRecords rejects the batch on the first out-of-range feature.
func validateRecords(records []activity.Record) error {
	for i := range records {
		r := &records[i]
		switch {
		case r.LoginHour < 0 || r.LoginHour > 23:
			return &ValidationError{Field: "login_hour", Index: i, Reason: "must be 0-23, got " + strconv.Itoa(r.LoginHour)}
		case r.FilesAccessed < 0:
			return &ValidationError{Field: "files_accessed", Index: i, Reason: "must be non-negative"}
		case r.EmailsSent < 0:
			return &ValidationError{Field: "emails_sent", Index: i, Reason: "must be non-negative"}
		case r.USBDevicesUsed < 0:
			return &ValidationError{Field: "usb_devices_used", Index: i, Reason: "must be non-negative"}
		}
	}
	return nil
}

// sortByRisk orders highest risk first; equal scores keep input order.
func sortByRisk(out []ScoredRecord) {
	slices.SortStableFunc(out, func(a, b ScoredRecord) int {
		return cmp.Compare(b.RiskScore, a.RiskScore)
	})
}
