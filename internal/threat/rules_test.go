package threat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/threatscore/internal/activity"
)

func rec(user string, hour, files, emails, usb int) activity.Record {
	return activity.Record{
		Username:       user,
		LoginHour:      hour,
		FilesAccessed:  files,
		EmailsSent:     emails,
		USBDevicesUsed: usb,
	}
}

func TestScoreByRules_WorkedExamples(t *testing.T) {
	tests := []struct {
		name       string
		record     activity.Record
		wantScore  float64
		wantReason string
	}{
		{"late login only", rec("alice", 23, 10, 10, 0), 0.25, "Unusual Login"},
		{"files emails usb", rec("bob", 12, 45, 60, 3), 0.75, "Excessive Files; High Emails; Multiple USBs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ScoreByRules([]activity.Record{tt.record}, DefaultThresholds())
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.InDelta(t, tt.wantScore, out[0].RiskScore, 1e-9)
			assert.Equal(t, tt.wantReason, out[0].Reason)
			assert.Equal(t, tt.record, out[0].Record)
		})
	}
}

func TestScoreByRules_KOfFour(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name   string
		record activity.Record
		k      int
	}{
		{"none", rec("a", 12, 40, 50, 1), 0},
		{"early boundary", rec("a", 5, 0, 0, 0), 1},
		{"late boundary", rec("a", 22, 0, 0, 0), 1},
		{"files boundary not exceeded", rec("a", 12, 40, 0, 0), 0},
		{"files exceeded", rec("a", 12, 41, 0, 0), 1},
		{"emails exceeded", rec("a", 12, 0, 51, 0), 1},
		{"usb at threshold counts", rec("a", 12, 0, 0, 2), 1},
		{"two", rec("a", 2, 100, 0, 0), 2},
		{"three", rec("a", 12, 45, 60, 3), 3},
		{"all four", rec("a", 3, 150, 80, 4), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ScoreByRules([]activity.Record{tt.record}, th)
			require.NoError(t, err)
			if tt.k == 0 {
				assert.Empty(t, out, "zero-match records are excluded")
				return
			}
			require.Len(t, out, 1)
			assert.InDelta(t, float64(tt.k)/4, out[0].RiskScore, 1e-9)
		})
	}
}

func TestScoreByRules_ReasonOrder(t *testing.T) {
	out, err := ScoreByRules([]activity.Record{rec("a", 3, 150, 80, 4)}, DefaultThresholds())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Unusual Login; Excessive Files; High Emails; Multiple USBs", out[0].Reason)
	assert.InDelta(t, 1.0, out[0].RiskScore, 1e-9)
}

func TestScoreByRules_StableDescending(t *testing.T) {
	in := []activity.Record{
		rec("one-a", 23, 0, 0, 0),   // 1
		rec("three", 23, 50, 60, 0), // 3
		rec("none", 12, 0, 0, 0),    // 0
		rec("one-b", 12, 0, 0, 5),   // 1
		rec("two", 12, 50, 60, 0),   // 2
		rec("one-c", 12, 0, 99, 0),  // 1
	}

	out, err := ScoreByRules(in, DefaultThresholds())
	require.NoError(t, err)

	var names []string
	for _, s := range out {
		names = append(names, s.Username)
		assert.Greater(t, s.RiskScore, 0.0)
		assert.LessOrEqual(t, s.RiskScore, 1.0)
	}
	assert.Equal(t, []string{"three", "two", "one-a", "one-b", "one-c"}, names)
}

func TestScoreByRules_DoesNotMutateInput(t *testing.T) {
	in := []activity.Record{rec("a", 23, 50, 60, 3)}
	before := in[0]

	_, err := ScoreByRules(in, DefaultThresholds())
	require.NoError(t, err)
	assert.Equal(t, before, in[0])
}

func TestScoreByRules_Empty(t *testing.T) {
	out, err := ScoreByRules(nil, DefaultThresholds())
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestScoreByRules_InvalidRecord(t *testing.T) {
	in := []activity.Record{rec("ok", 10, 0, 0, 0), rec("bad", 10, -4, 0, 0)}

	out, err := ScoreByRules(in, DefaultThresholds())
	assert.Nil(t, out)
	require.ErrorIs(t, err, ErrInvalidInput)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "files_accessed", ve.Field)
	assert.Equal(t, 1, ve.Index)
}

func TestScoreByRules_InvalidThresholds(t *testing.T) {
	th := DefaultThresholds()
	th.LateHour = 24

	_, err := ScoreByRules([]activity.Record{rec("a", 1, 0, 0, 0)}, th)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), KeyLateHour)
}

func TestParseThresholds(t *testing.T) {
	full := DefaultThresholds().Map()

	t.Run("complete", func(t *testing.T) {
		got, err := ParseThresholds(full)
		require.NoError(t, err)
		assert.Equal(t, DefaultThresholds(), got)
	})

	t.Run("missing key named", func(t *testing.T) {
		m := DefaultThresholds().Map()
		delete(m, KeyUSBDevices)
		_, err := ParseThresholds(m)
		require.ErrorIs(t, err, ErrInvalidInput)
		assert.Contains(t, err.Error(), KeyUSBDevices)
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		m := DefaultThresholds().Map()
		m["usb_devices_used"] = 3
		_, err := ParseThresholds(m)
		require.ErrorIs(t, err, ErrInvalidInput)
		assert.Contains(t, err.Error(), "usb_devices_used")
	})

	t.Run("negative value", func(t *testing.T) {
		m := DefaultThresholds().Map()
		m[KeyEmailsSent] = -1
		_, err := ParseThresholds(m)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}
