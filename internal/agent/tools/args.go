package tools

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// stringList accepts either a JSON array of strings or a comma-separated
// string, since models send both.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected a string or list of strings")
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*l = out
	return nil
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = flexInt(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected a number")
	}
	if s == "" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("expected a number, got %q", s)
	}
	*n = flexInt(v)
	return nil
}

func decodeArgs(input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

var relativeSince = regexp.MustCompile(`^(\d+)([hd])$`)

// parseSince parses a relative window ("24h", "7d", "30d") or an RFC 3339
// timestamp. Empty means the last 24 hours.
func parseSince(since string, now time.Time) (time.Time, error) {
	since = strings.TrimSpace(since)
	if since == "" {
		since = "24h"
	}
	if m := relativeSince.FindStringSubmatch(since); m != nil {
		n, _ := strconv.Atoi(m[1])
		if m[2] == "d" {
			return now.AddDate(0, 0, -n), nil
		}
		return now.Add(-time.Duration(n) * time.Hour), nil
	}
	t, err := time.Parse(time.RFC3339, since)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since value %q: use '24h', '7d', or ISO timestamp", since)
	}
	return t, nil
}

// formatUTC renders t as "2006-01-02 15:04:05 UTC".
func formatUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05") + " UTC"
}
