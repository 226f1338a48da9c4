package threat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mbd888/threatscore/internal/activity"
)

// Threshold keys, as accepted by ParseThresholds and the HTTP API.
const (
	KeyLateHour      = "late_hour"
	KeyEarlyHour     = "early_hour"
	KeyFilesAccessed = "files_accessed"
	KeyEmailsSent    = "emails_sent"
	KeyUSBDevices    = "usb_devices"
)

// ThresholdKeys lists every required threshold.
var ThresholdKeys = []string{KeyLateHour, KeyEarlyHour, KeyFilesAccessed, KeyEmailsSent, KeyUSBDevices}

// Thresholds configures the rule engine.
type Thresholds struct {
	LateHour      int `json:"late_hour"`
	EarlyHour     int `json:"early_hour"`
	FilesAccessed int `json:"files_accessed"`
	EmailsSent    int `json:"emails_sent"`
	USBDevices    int `json:"usb_devices"`
}

// DefaultThresholds returns the stock rule configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LateHour:      22,
		EarlyHour:     5,
		FilesAccessed: 40,
		EmailsSent:    50,
		USBDevices:    2,
	}
}

// ParseThresholds builds Thresholds from a name→value map. All five keys are
// required and unknown keys are rejected.
func ParseThresholds(m map[string]int) (Thresholds, error) {
	var unknown []string
	for k := range m {
		if !isThresholdKey(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Thresholds{}, paramError("thresholds", "unknown keys: "+strings.Join(unknown, ", "))
	}

	var missing []string
	for _, k := range ThresholdKeys {
		if _, ok := m[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Thresholds{}, paramError("thresholds", "missing keys: "+strings.Join(missing, ", "))
	}

	t := Thresholds{
		LateHour:      m[KeyLateHour],
		EarlyHour:     m[KeyEarlyHour],
		FilesAccessed: m[KeyFilesAccessed],
		EmailsSent:    m[KeyEmailsSent],
		USBDevices:    m[KeyUSBDevices],
	}
	return t, t.Validate()
}

func isThresholdKey(k string) bool {
	for _, want := range ThresholdKeys {
		if k == want {
			return true
		}
	}
	return false
}

// Validate checks value ranges.
func (t Thresholds) Validate() error {
	if t.LateHour < 0 || t.LateHour > 23 {
		return paramError(KeyLateHour, fmt.Sprintf("must be 0-23, got %d", t.LateHour))
	}
	if t.EarlyHour < 0 || t.EarlyHour > 23 {
		return paramError(KeyEarlyHour, fmt.Sprintf("must be 0-23, got %d", t.EarlyHour))
	}
	if t.FilesAccessed < 0 {
		return paramError(KeyFilesAccessed, "must be non-negative")
	}
	if t.EmailsSent < 0 {
		return paramError(KeyEmailsSent, "must be non-negative")
	}
	if t.USBDevices < 0 {
		return paramError(KeyUSBDevices, "must be non-negative")
	}
	return nil
}

// Map returns the thresholds keyed like ParseThresholds expects.
func (t Thresholds) Map() map[string]int {
	return map[string]int{
		KeyLateHour:      t.LateHour,
		KeyEarlyHour:     t.EarlyHour,
		KeyFilesAccessed: t.FilesAccessed,
		KeyEmailsSent:    t.EmailsSent,
		KeyUSBDevices:    t.USBDevices,
	}
}

// Rule labels, in evaluation order.
const (
	LabelUnusualLogin   = "Unusual Login"
	LabelExcessiveFiles = "Excessive Files"
	LabelHighEmails     = "High Emails"
	LabelMultipleUSBs   = "Multiple USBs"
)

type rule struct {
	label string
	match func(r *activity.Record, t Thresholds) bool
}

var rules = []rule{
	{LabelUnusualLogin, func(r *activity.Record, t Thresholds) bool {
		return r.LoginHour >= t.LateHour || r.LoginHour <= t.EarlyHour
	}},
	{LabelExcessiveFiles, func(r *activity.Record, t Thresholds) bool {
		return r.FilesAccessed > t.FilesAccessed
	}},
	{LabelHighEmails, func(r *activity.Record, t Thresholds) bool {
		return r.EmailsSent > t.EmailsSent
	}},
	// >= on purpose: using the threshold number of devices already counts.
	{LabelMultipleUSBs, func(r *activity.Record, t Thresholds) bool {
		return r.USBDevicesUsed >= t.USBDevices
	}},
}

// RuleCount is the number of rules; each match adds 1/RuleCount.
var RuleCount = len(rules)

// ScoreByRules returns the records matching at least one rule.
func ScoreByRules(records []activity.Record, t Thresholds) ([]ScoredRecord, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := validateRecords(records); err != nil {
		return nil, err
	}

	increment := 1.0 / float64(RuleCount)
	out := make([]ScoredRecord, 0)
	for i := range records {
		if sr, ok := evaluate(&records[i], t, increment); ok {
			out = append(out, sr)
		}
	}

	sortByRisk(out)
	return out, nil
}

// evaluate folds the ordered rule list into a fresh ScoredRecord.
func evaluate(r *activity.Record, t Thresholds, increment float64) (ScoredRecord, bool) {
	var (
		score  float64
		labels []string
	)
	for _, rl := range rules {
		if rl.match(r, t) {
			score += increment
			labels = append(labels, rl.label)
		}
	}
	if len(labels) == 0 {
		return ScoredRecord{}, false
	}
	return ScoredRecord{
		Record:    *r,
		RiskScore: score,
		Reason:    strings.Join(labels, "; "),
	}, true
}
