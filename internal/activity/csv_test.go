package activity

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	in := "log_id,username,timestamp,Login_Hour,Files_Accessed,Emails_Sent,USB_Devices_Used\n" +
		"1,alice,2024-03-01 09:15:00,9,12,4,0\n" +
		"2,bob,2024-03-01 03:02:11,3,150,0,1\n"

	recs, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, int64(2), recs[1].ID)
	assert.Equal(t, "bob", recs[1].Username)
	assert.Equal(t, [4]float64{3, 150, 0, 1}, recs[1].Features())
	assert.Equal(t, time.Date(2024, 3, 1, 3, 2, 11, 0, time.Local), recs[1].Timestamp)
}

func TestReadCSV_FeatureColumnsOnly(t *testing.T) {
	in := "Login_Hour,Files_Accessed,Emails_Sent,USB_Devices_Used\n23,0,0,0\n"

	recs, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 23, recs[0].LoginHour)
	assert.True(t, recs[0].Timestamp.IsZero())
}

func TestReadCSV_MissingColumnNamed(t *testing.T) {
	// Drifted spelling of the USB column.
	in := "log_id,username,timestamp,Login_Hour,Files_Accessed,Emails_Sent,USB_devices_Used\n" +
		"1,alice,2024-03-01 09:15:00,9,12,4,0\n"

	_, err := ReadCSV(strings.NewReader(in))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumn))
	assert.Contains(t, err.Error(), "USB_Devices_Used")
}

func TestReadCSV_BadRows(t *testing.T) {
	header := "username,Login_Hour,Files_Accessed,Emails_Sent,USB_Devices_Used\n"
	tests := []struct {
		name string
		row  string
		want string
	}{
		{"non numeric", "alice,nine,1,1,1\n", "Login_Hour"},
		{"empty feature", "alice,9,,1,1\n", "Files_Accessed"},
		{"hour out of range", "alice,25,1,1,1\n", "login_hour"},
		{"negative", "alice,9,1,-3,1\n", "emails_sent"},
		{"fractional", "alice,9,1.5,1,1\n", "Files_Accessed"},
		{"beyond int range", "alice,9,1e300,1,1\n", "Files_Accessed"},
		{"just past int64", "alice,9,1,9.3e18,1\n", "Emails_Sent"},
		{"infinite", "alice,9,1,1,Inf\n", "USB_Devices_Used"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(header + tt.row))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRecord)
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), "line 2")
		})
	}
}

func TestReadCSV_IntegralFloats(t *testing.T) {
	in := "Login_Hour,Files_Accessed,Emails_Sent,USB_Devices_Used\n9.0,12.0,4,0\n"
	recs, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 12, recs[0].FilesAccessed)
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	in := []Record{
		{ID: 1, Username: "alice", Timestamp: time.Date(2024, 3, 1, 9, 15, 0, 0, time.Local), LoginHour: 9, FilesAccessed: 12, EmailsSent: 4},
		{ID: 2, Username: "bob, jr", Timestamp: time.Date(2024, 3, 1, 3, 2, 11, 0, time.Local), LoginHour: 3, FilesAccessed: 150, USBDevicesUsed: 1},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, in))
	assert.True(t, strings.HasPrefix(buf.String(), strings.Join(Columns, ",")+"\n"))

	out, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWriteCSV_RoundTripOtherZone(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.FixedZone("UTC+5", 5*60*60))
	in := []Record{{ID: 1, Username: "alice", Timestamp: ts, LoginHour: 10}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, in))

	out, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, ts.Equal(out[0].Timestamp), "%v != %v", ts, out[0].Timestamp)
}
