package mongodb

import (
	"fmt"
	"strings"
	"time"
)

// contentMarkers are searched in order; the first one present wins.
var contentMarkers = []string{"<!DOCTYPE", "<!doctype", "<html", "<HTML"}

// ContentIndex returns the index where the HTML payload starts inside a decoded
// response, right after the transport headers, or -1 when no marker is found.
func ContentIndex(content string) int {
	for _, marker := range contentMarkers {
		if i := strings.Index(content, marker); i >= 0 {
			return i
		}
	}
	return -1
}

// SplitHeaders partitions a decoded response into headers and payload.
// ok is false when no marker was found, in which case payload is the input.
func SplitHeaders(content string) (headers, payload string, ok bool) {
	i := ContentIndex(content)
	if i < 0 {
		return "", content, false
	}
	return content[:i], content[i:], true
}

const (
	fourteenDigitLayout = "20060102150405"
	processedAtLayout   = "2006-01-02 15:04:05"
)

// FormatProcessedAt renders an epoch-millisecond fetch time in zone as
// "yyyy-MM-dd HH:mm:ss". The time goes through the 14-digit UTC form first,
// which truncates it to whole seconds.
func FormatProcessedAt(fetchBeginMs int64, zone string) (string, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return "", fmt.Errorf("%w: load zone %q: %v", ErrTimestampParse, zone, err)
	}
	digits := time.UnixMilli(fetchBeginMs).UTC().Format(fourteenDigitLayout)
	parsed, err := time.ParseInLocation(fourteenDigitLayout, digits, time.UTC)
	if err != nil {
		return "", fmt.Errorf("%w: parse %q: %v", ErrTimestampParse, digits, err)
	}
	return parsed.In(loc).Format(processedAtLayout), nil
}
