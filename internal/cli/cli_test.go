package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/threatscore/internal/activity"
	"github.com/mbd888/threatscore/internal/threat"
)

const sampleLog = `log_id,username,timestamp,Login_Hour,Files_Accessed,Emails_Sent,USB_Devices_Used
1,alice,2025-06-09 09:12:00,9,5,3,0
2,mallory,2025-06-09 23:40:00,23,0,0,0
3,eve,2025-06-09 23:55:00,23,50,60,3
4,bob,2025-06-09 14:03:00,14,12,8,0
`

func run(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommandWithIO(strings.NewReader(stdin), &out, &errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func TestScore_RulesFromStdin(t *testing.T) {
	out, _, err := run(t, sampleLog, "score")
	require.NoError(t, err)

	alerts, err := threat.ReadCSV(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	assert.Equal(t, "eve", alerts[0].Username)
	assert.InDelta(t, 1.0, alerts[0].RiskScore, 1e-9)
	assert.Equal(t, "mallory", alerts[1].Username)
	assert.InDelta(t, 0.25, alerts[1].RiskScore, 1e-9)
	assert.Equal(t, "Unusual Login", alerts[1].Reason)
}

func TestScore_Files(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "logs.csv")
	outPath := filepath.Join(dir, "threat_alerts.csv")
	require.NoError(t, os.WriteFile(in, []byte(sampleLog), 0o600))

	stdout, _, err := run(t, "", "score", "--in", in, "--out", outPath,
		"--files-accessed", "60", "--emails-sent", "100", "--usb-devices", "5")
	require.NoError(t, err)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	alerts, err := threat.ReadCSV(bytes.NewReader(data))
	require.NoError(t, err)

	// Raised counters leave only the late logins; equal scores keep file order.
	require.Len(t, alerts, 2)
	assert.Equal(t, "mallory", alerts[0].Username)
	assert.Equal(t, "eve", alerts[1].Username)
	for _, a := range alerts {
		assert.InDelta(t, 0.25, a.RiskScore, 1e-9)
		assert.Equal(t, threat.LabelUnusualLogin, a.Reason)
	}
}

func TestScore_Anomaly(t *testing.T) {
	simulated, _, err := run(t, "", "simulate", "--n", "300", "--seed", "11", "--anomaly-rate", "0.05")
	require.NoError(t, err)

	out, _, err := run(t, simulated, "score", "--mode", "anomaly", "--contamination", "0.05")
	require.NoError(t, err)

	alerts, err := threat.ReadCSV(strings.NewReader(out))
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	assert.LessOrEqual(t, len(alerts), 30)
	assert.InDelta(t, 1.0, alerts[0].RiskScore, 1e-9)
	for _, a := range alerts {
		assert.Equal(t, threat.AnomalyReason, a.Reason)
	}
}

func TestScore_AssignsMissingIDs(t *testing.T) {
	in := "username,Login_Hour,Files_Accessed,Emails_Sent,USB_Devices_Used\n" +
		"alice,9,1,1,0\n" +
		"mallory,3,1,1,0\n"

	out, _, err := run(t, in, "score")
	require.NoError(t, err)

	alerts, err := threat.ReadCSV(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(2), alerts[0].ID)
}

func TestScore_Errors(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{"unknown mode", sampleLog, []string{"score", "--mode", "magic"}, "magic"},
		{"bad contamination", sampleLog, []string{"score", "--mode", "anomaly", "--contamination", "1.5"}, "contamination"},
		{"bad thresholds", sampleLog, []string{"score", "--late-hour", "30"}, threat.KeyLateHour},
		{"missing column", "username,Login_Hour\nalice,9\n", []string{"score"}, activity.ColFiles},
		{"missing file", "", []string{"score", "--in", "/nonexistent/logs.csv"}, "open input"},
		{"stray argument", sampleLog, []string{"score", "logs.csv"}, "unknown command"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := run(t, tc.stdin, tc.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSimulate_Deterministic(t *testing.T) {
	a, _, err := run(t, "", "simulate", "--n", "50", "--seed", "99")
	require.NoError(t, err)
	b, _, err := run(t, "", "simulate", "--n", "50", "--seed", "99")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	records, err := activity.ReadCSV(strings.NewReader(a))
	require.NoError(t, err)
	require.Len(t, records, 50)
	for i, r := range records {
		assert.Equal(t, int64(i+1), r.ID)
		if i > 0 {
			assert.False(t, r.Timestamp.Before(records[i-1].Timestamp), "rows must be in time order")
		}
	}
}

func TestSimulate_ToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.csv")
	_, stderr, err := run(t, "", "--log-level", "info", "simulate", "--n", "10", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "generated activity")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), strings.Join(activity.Columns, ",")+"\n"))
}

func TestSimulate_InvalidRate(t *testing.T) {
	_, _, err := run(t, "", "simulate", "--anomaly-rate", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anomaly rate")
}
