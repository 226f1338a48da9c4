// Package pagination provides cursor-based pagination over ID-ordered results.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const cursorPrefix = "after|"

// Encode returns an opaque cursor resuming after id.
func Encode(id int64) string {
	return base64.URLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(id, 10)))
}

// Decode parses an opaque cursor string. Returns 0 for empty input.
func Decode(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor")
	}
	v, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, fmt.Errorf("invalid cursor")
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid cursor")
	}
	return id, nil
}

// ParseLimit reads a page size, defaulting to DefaultLimit and capping at MaxLimit.
func ParseLimit(s string) (int, error) {
	if s == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, MaxLimit), nil
}

// Page returns up to limit items whose id is greater than after, from items
// sorted by ascending id. next is empty when there is nothing more.
func Page[T any](items []T, after int64, limit int, id func(T) int64) (page []T, next string, hasMore bool) {
	start := 0
	for start < len(items) && id(items[start]) <= after {
		start++
	}
	items = items[start:]
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	return items, Encode(id(items[len(items)-1])), true
}
