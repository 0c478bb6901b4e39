package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/kennygrant/sanitize"
	"github.com/tidwall/gjson"
)

// TimestampLayout is the human-readable form of every date in a record.
const TimestampLayout = "2006-01-02 15:04:05"

var ratingCountField = regexp.MustCompile(`(\d+)Count$`)

// Breakdown extracts the review and rating breakdown mappings from a rating
// summary. Fields ending in "ReviewCount" feed the review mapping and fields
// matching `(\d+)Count$` feed the rating mapping; both are keyed by the
// character at index 4 of the field name. Absent fields yield empty maps.
func Breakdown(summary gjson.Result) (reviewInfo, ratingInfo map[string]int64) {
	reviewInfo = make(map[string]int64)
	ratingInfo = make(map[string]int64)
	if !summary.IsObject() {
		return reviewInfo, ratingInfo
	}

	summary.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if strings.HasSuffix(name, "ReviewCount") {
			reviewInfo[charAt(name, 4)] = value.Int()
		}
		if ratingCountField.MatchString(name) {
			ratingInfo[charAt(name, 4)] = value.Int()
		}
		return true
	})
	return reviewInfo, ratingInfo
}

func charAt(s string, i int) string {
	if i < 0 || i >= len(s) {
		return ""
	}
	return s[i : i+1]
}

// SafeName turns a product title or record key into a single path segment.
// It returns "" when nothing printable survives.
func SafeName(s string) string {
	name := sanitize.BaseName(strings.TrimSpace(s))
	return strings.Trim(name, ".-")
}

// Timestamp renders an upstream date both as TimestampLayout in loc and as
// epoch milliseconds. Missing or unparseable dates yield two nils.
func Timestamp(value gjson.Result, loc *time.Location) (*string, *int64) {
	if !value.Exists() || value.Type == gjson.Null {
		return nil, nil
	}
	t, ok := parseTime(value.String())
	if !ok {
		return nil, nil
	}
	return ptr(t.In(loc).Format(TimestampLayout)), ptr(t.UnixMilli())
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// nonEmptyString is nil for missing, null and zero-length strings.
func nonEmptyString(value gjson.Result) *string {
	if !value.Exists() || value.Type == gjson.Null {
		return nil
	}
	s := value.String()
	if s == "" {
		return nil
	}
	return &s
}

func optionalString(value gjson.Result) *string {
	if !value.Exists() || value.Type == gjson.Null {
		return nil
	}
	return ptr(value.String())
}

func optionalInt(value gjson.Result) *int64 {
	if !value.Exists() || value.Type == gjson.Null {
		return nil
	}
	return ptr(value.Int())
}

func optionalFloat(value gjson.Result) *float64 {
	if !value.Exists() || value.Type == gjson.Null {
		return nil
	}
	return ptr(value.Float())
}

// passthrough keeps an upstream value as decoded JSON.
func passthrough(value gjson.Result) any {
	if !value.Exists() {
		return nil
	}
	return value.Value()
}

func stringList(value gjson.Result) []string {
	if !value.IsArray() {
		return nil
	}
	items := value.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
