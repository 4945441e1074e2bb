package utils

import (
	"fmt"
	"strconv"
	"time"
)

// Timestamps are the 14 digit YYYYMMDDhhmmss form used in replay URLs.
const (
	tsLayout = "20060102150405"

	earliestPad = "00000101000000"
	latestPad   = "99991231235959"

	isoLayout = "2006-01-02T15:04:05.000Z"
)

// GetTS formats t as a 14 digit UTC timestamp.
func GetTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// GetSecondsStr returns the unix seconds of t as a decimal string.
func GetSecondsStr(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// ISODate formats t the way capture metadata stores dates.
func ISODate(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// ParseISODate accepts the WARC-Date / ISO-8601 forms found in capture files.
func ParseISODate(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// TSToDate parses a possibly truncated timestamp, filling missing
// digits with the earliest possible value ("2020" is 2020-01-01).
func TSToDate(ts string) (time.Time, error) {
	return parseTS(ts, earliestPad)
}

// TSToDateLatest parses a possibly truncated timestamp, filling missing
// digits with the latest possible value ("2020" is 2020-12-31 23:59:59).
// An empty timestamp yields the latest representable date.
func TSToDateLatest(ts string) (time.Time, error) {
	return parseTS(ts, latestPad)
}

func parseTS(ts, pad string) (time.Time, error) {
	if len(ts) > len(tsLayout) {
		ts = ts[:len(tsLayout)]
	}
	full := ts + pad[len(ts):]

	var parts [6]int
	bounds := [7]int{0, 4, 6, 8, 10, 12, 14}
	for i := range parts {
		n, err := strconv.Atoi(full[bounds[i]:bounds[i+1]])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", ts, err)
		}
		parts[i] = n
	}

	year, month := parts[0], parts[1]
	if month < 1 {
		month = 1
	} else if month > 12 {
		month = 12
	}

	day := parts[2]
	if day < 1 {
		day = 1
	}
	if last := daysIn(year, time.Month(month)); day > last {
		day = last
	}

	return time.Date(year, time.Month(month), day,
		min(parts[3], 23), min(parts[4], 59), min(parts[5], 59), 0, time.UTC), nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
