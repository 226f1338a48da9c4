package simulate

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/threatscore/internal/activity"
	"github.com/mbd888/threatscore/internal/threat"
)

var fixedNow = time.Date(2025, 6, 10, 14, 20, 5, 0, time.UTC)

func newTestGenerator(seed uint64) *Generator {
	g := NewGenerator(seed)
	g.now = func() time.Time { return fixedNow }
	return g
}

func TestRecord_Scenarios(t *testing.T) {
	g := newTestGenerator(1)

	tests := []struct {
		scenario Scenario
		check    func(t *testing.T, hour, files, emails, usb int)
	}{
		{ScenarioLogin, func(t *testing.T, hour, files, emails, usb int) {
			assert.Equal(t, 14, hour)
			assert.Zero(t, files+emails+usb)
		}},
		{ScenarioEmail, func(t *testing.T, hour, files, emails, usb int) {
			assert.Equal(t, 1, emails)
			assert.Zero(t, files+usb)
		}},
		{ScenarioEmailBlast, func(t *testing.T, hour, files, emails, usb int) {
			assert.GreaterOrEqual(t, emails, 55)
			assert.LessOrEqual(t, emails, 80)
		}},
		{ScenarioFileDownload, func(t *testing.T, hour, files, emails, usb int) {
			assert.GreaterOrEqual(t, files, 1)
			assert.LessOrEqual(t, files, 5)
			assert.Zero(t, usb)
		}},
		{ScenarioUSBCopy, func(t *testing.T, hour, files, emails, usb int) {
			assert.GreaterOrEqual(t, files, 1)
			assert.LessOrEqual(t, files, 5)
			assert.Equal(t, 1, usb)
		}},
		{ScenarioMassDownload, func(t *testing.T, hour, files, emails, usb int) {
			assert.Equal(t, 3, hour)
			assert.GreaterOrEqual(t, files, 100)
			assert.LessOrEqual(t, files, 150)
		}},
		{ScenarioNormalDay, func(t *testing.T, hour, files, emails, usb int) {
			assert.GreaterOrEqual(t, hour, 8)
			assert.LessOrEqual(t, hour, 18)
			assert.LessOrEqual(t, files, 30)
			assert.LessOrEqual(t, emails, 40)
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.scenario), func(t *testing.T) {
			rec, err := g.Record("alice", tt.scenario)
			require.NoError(t, err)
			require.NoError(t, rec.Validate())
			assert.Equal(t, "alice", rec.Username)
			assert.Equal(t, rec.LoginHour, rec.Timestamp.Hour())
			assert.False(t, rec.Timestamp.After(fixedNow))
			tt.check(t, rec.LoginHour, rec.FilesAccessed, rec.EmailsSent, rec.USBDevicesUsed)
		})
	}
}

func TestRecord_FlaggedByRules(t *testing.T) {
	g := newTestGenerator(2)

	blast, err := g.Record("eve", ScenarioEmailBlast)
	require.NoError(t, err)
	mass, err := g.Record("eve", ScenarioMassDownload)
	require.NoError(t, err)

	out, err := threat.ScoreByRules([]activity.Record{blast, mass}, threat.DefaultThresholds())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Unusual Login; Excessive Files", out[0].Reason)
	assert.Equal(t, "High Emails", out[1].Reason)
}

func TestParseScenario(t *testing.T) {
	for _, s := range Scenarios {
		got, err := ParseScenario(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseScenario("phishing")
	assert.ErrorIs(t, err, ErrUnknownScenario)

	_, err = newTestGenerator(1).Record("a", "phishing")
	assert.ErrorIs(t, err, ErrUnknownScenario)
}

func TestBatch_Deterministic(t *testing.T) {
	a, err := newTestGenerator(42).Batch(200, 0.05)
	require.NoError(t, err)
	b, err := newTestGenerator(42).Batch(200, 0.05)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := newTestGenerator(43).Batch(200, 0.05)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestBatch_AnomalyRate(t *testing.T) {
	normal, err := newTestGenerator(5).Batch(300, 0)
	require.NoError(t, err)
	require.Len(t, normal, 300)
	for _, r := range normal {
		require.NoError(t, r.Validate())
		assert.GreaterOrEqual(t, r.LoginHour, 8)
		assert.Less(t, r.FilesAccessed, 100)
		assert.True(t, r.Timestamp.Before(fixedNow))
		assert.True(t, r.Timestamp.After(fixedNow.AddDate(0, 0, -9)))
	}

	all, err := newTestGenerator(5).Batch(50, 1)
	require.NoError(t, err)
	for _, r := range all {
		assert.True(t, r.FilesAccessed >= 100 || r.EmailsSent >= 55, "record %+v is not anomalous", r)
	}
}

func TestBatch_FeedsAnomalyEngine(t *testing.T) {
	batch, err := newTestGenerator(9).Batch(400, 0.02)
	require.NoError(t, err)

	out, err := threat.ScoreByAnomaly(batch, 0.05)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, 1.0, out[0].RiskScore)
}

func TestBatch_Invalid(t *testing.T) {
	g := newTestGenerator(1)
	for _, tc := range []struct {
		n    int
		rate float64
	}{
		{-1, 0.1},
		{MaxBatch + 1, 0.1},
		{10, -0.1},
		{10, 1.1},
		{10, math.NaN()},
	} {
		_, err := g.Batch(tc.n, tc.rate)
		assert.ErrorIs(t, err, ErrInvalidBatch, "n=%d rate=%v", tc.n, tc.rate)
	}

	empty, err := g.Batch(0, 0.5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUsers(t *testing.T) {
	users := newTestGenerator(3).Users(4)
	require.Len(t, users, 4)
	for _, u := range users {
		assert.NotEmpty(t, u)
	}
}
