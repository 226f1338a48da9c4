package threat

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/threatscore/internal/activity"
)

func TestWriteCSV_Header(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t,
		"log_id,username,timestamp,Login_Hour,Files_Accessed,Emails_Sent,USB_Devices_Used,Risk_Score,Reason\n",
		buf.String())
}

func TestCSVRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 14, 23, 5, 0, 0, time.Local)
	in, err := ScoreByRules([]activity.Record{
		{ID: 1, Username: "alice", Timestamp: ts, LoginHour: 23, FilesAccessed: 10, EmailsSent: 10},
		{ID: 2, Username: "bob", Timestamp: ts, LoginHour: 12, FilesAccessed: 45, EmailsSent: 60, USBDevicesUsed: 3},
		{ID: 3, Username: "carol", Timestamp: ts, LoginHour: 12},
	}, DefaultThresholds())
	require.NoError(t, err)
	require.Len(t, in, 2)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, in))
	assert.Contains(t, buf.String(), `0.750000,Excessive Files; High Emails; Multiple USBs`)

	out, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].ID, out[i].ID)
		assert.Equal(t, in[i].Username, out[i].Username)
		assert.Equal(t, in[i].Features(), out[i].Features())
		assert.True(t, in[i].Timestamp.Equal(out[i].Timestamp))
		assert.InDelta(t, in[i].RiskScore, out[i].RiskScore, 1e-6)
		assert.Equal(t, in[i].Reason, out[i].Reason)
	}
}

func TestReadCSV_Errors(t *testing.T) {
	header := strings.Join(Columns, ",") + "\n"

	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"missing risk column", "Login_Hour,Files_Accessed,Emails_Sent,USB_Devices_Used,Reason\n1,2,3,0,x\n"},
		{"missing feature column", "Login_Hour,Files_Accessed,Emails_Sent,Risk_Score,Reason\n1,2,3,0.5,x\n"},
		{"score out of range", header + "1,a,,1,2,3,0,1.5,x\n"},
		{"score not numeric", header + "1,a,,1,2,3,0,high,x\n"},
		{"bad feature", header + "1,a,,25,2,3,0,0.5,x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.data))
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}
