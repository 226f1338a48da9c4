package activity

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMissingColumn is returned when a CSV header lacks a required column.
var ErrMissingColumn = errors.New("activity: missing required column")

// CSV column names.
const (
	ColLogID     = "log_id"
	ColUsername  = "username"
	ColTimestamp = "timestamp"
	ColLoginHour = "Login_Hour"
	ColFiles     = "Files_Accessed"
	ColEmails    = "Emails_Sent"
	ColUSB       = "USB_Devices_Used"
)

// Columns is the canonical activity CSV header.
var Columns = []string{ColLogID, ColUsername, ColTimestamp, ColLoginHour, ColFiles, ColEmails, ColUSB}

// FeatureColumns must be present in every imported file.
var FeatureColumns = []string{ColLoginHour, ColFiles, ColEmails, ColUSB}

// Row renders r in Columns order.
func (r *Record) Row() []string {
	ts := ""
	if !r.Timestamp.IsZero() {
		// parseTimestamp reads the layout back as local time.
		ts = r.Timestamp.In(time.Local).Format(TimestampLayout)
	}
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Username,
		ts,
		strconv.Itoa(r.LoginHour),
		strconv.Itoa(r.FilesAccessed),
		strconv.Itoa(r.EmailsSent),
		strconv.Itoa(r.USBDevicesUsed),
	}
}

// Header maps column names to their position in a parsed file.
type Header map[string]int

// ParseHeader indexes cols and checks that every feature column is present.
// Extra columns are allowed and ignored.
func ParseHeader(cols []string) (Header, error) {
	h := make(Header, len(cols))
	for i, c := range cols {
		c = strings.TrimSpace(strings.TrimPrefix(c, "\ufeff"))
		if _, dup := h[c]; !dup {
			h[c] = i
		}
	}

	var missing []string
	for _, c := range FeatureColumns {
		if _, ok := h[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return h, nil
}

// Has reports whether the header contains col.
func (h Header) Has(col string) bool {
	_, ok := h[col]
	return ok
}

func (h Header) get(row []string, col string) (string, bool) {
	i, ok := h[col]
	if !ok || i >= len(row) {
		return "", false
	}
	return strings.TrimSpace(row[i]), true
}

// DecodeRow builds a Record from one data row. line is used in error messages only.
func DecodeRow(h Header, row []string, line int) (Record, error) {
	var r Record

	if v, ok := h.get(row, ColLogID); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return r, fmt.Errorf("%w: line %d: %s %q is not an integer", ErrInvalidRecord, line, ColLogID, v)
		}
		r.ID = id
	}
	if v, ok := h.get(row, ColUsername); ok {
		r.Username = v
	}
	if v, ok := h.get(row, ColTimestamp); ok && v != "" {
		ts, err := parseTimestamp(v)
		if err != nil {
			return r, fmt.Errorf("%w: line %d: %s %q: %v", ErrInvalidRecord, line, ColTimestamp, v, err)
		}
		r.Timestamp = ts
	}

	fields := []struct {
		col string
		dst *int
	}{
		{ColLoginHour, &r.LoginHour},
		{ColFiles, &r.FilesAccessed},
		{ColEmails, &r.EmailsSent},
		{ColUSB, &r.USBDevicesUsed},
	}
	for _, f := range fields {
		v, ok := h.get(row, f.col)
		if !ok || v == "" {
			return r, fmt.Errorf("%w: line %d: %s is empty", ErrInvalidRecord, line, f.col)
		}
		n, err := parseCount(v)
		if err != nil {
			return r, fmt.Errorf("%w: line %d: %s %q is not numeric", ErrInvalidRecord, line, f.col, v)
		}
		*f.dst = n
	}

	if err := r.Validate(); err != nil {
		return r, fmt.Errorf("line %d: %w", line, err)
	}
	return r, nil
}

// parseCount accepts integers and integral floats ("12", "12.0").
func parseCount(v string) (int, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt || f >= math.MaxInt {
		return 0, fmt.Errorf("not an integer: %q", v)
	}
	return int(f), nil
}

func parseTimestamp(v string) (time.Time, error) {
	if ts, err := time.ParseInLocation(TimestampLayout, v, time.Local); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, v)
}

// ReadCSV parses an activity CSV with a header row.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	cols, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	h, err := ParseHeader(cols)
	if err != nil {
		return nil, err
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		rec, err := DecodeRow(h, row, line)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// WriteCSV writes records with the canonical header.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for i := range records {
		if err := cw.Write(records[i].Row()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
