package parsing

import (
	"strings"
	"time"
)

var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"01-02-2006",
	"02-01-2006",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2-Jan-2006",
	time.RFC3339,
}

// NormalizeDate converts a receipt date to YYYY-MM-DD, or DateUnknown.
// A trailing time of day is ignored.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DateUnknown
	}
	candidates := []string{s}
	if fields := strings.Fields(s); len(fields) > 1 {
		candidates = append(candidates, fields[0])
	}
	for _, c := range candidates {
		for _, format := range dateFormats {
			if d, err := time.Parse(format, c); err == nil {
				return d.Format("2006-01-02")
			}
		}
	}
	return DateUnknown
}
