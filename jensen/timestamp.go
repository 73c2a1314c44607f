package jensen

import (
	"regexp"
	"strconv"
	"time"
)

var (
	numericPrefix = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})(\d{2})(\d{2})(\d{2})`)
	longMonthName = regexp.MustCompile(`^(\d{4})([A-Za-z]{3})(\d{2})-(\d{2})(\d{2})(\d{2})`)
	shortMonthName = regexp.MustCompile(`^(\d{2})([A-Za-z]{3})(\d{2})-(\d{2})(\d{2})(\d{2})`)
)

var monthAbbrev = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// parseFilenameTimestamp attempts the three shapes documented in spec.md
// §4.4, in order, returning nil on any failure. The filename itself is
// always retained by the caller regardless of whether a timestamp is
// recovered.
func parseFilenameTimestamp(name string) *time.Time {
	if m := numericPrefix.FindStringSubmatch(name); m != nil {
		if t := buildTime(atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]), atoi(m[4]), atoi(m[5]), atoi(m[6])); t != nil {
			return t
		}
	}
	if m := longMonthName.FindStringSubmatch(name); m != nil {
		if mon, ok := monthFromAbbrev(m[2]); ok {
			if t := buildTime(atoi(m[1]), mon, atoi(m[3]), atoi(m[4]), atoi(m[5]), atoi(m[6])); t != nil {
				return t
			}
		}
	}
	if m := shortMonthName.FindStringSubmatch(name); m != nil {
		if mon, ok := monthFromAbbrev(m[2]); ok {
			year := 2000 + atoi(m[1])
			if t := buildTime(year, mon, atoi(m[3]), atoi(m[4]), atoi(m[5]), atoi(m[6])); t != nil {
				return t
			}
		}
	}
	return nil
}

func monthFromAbbrev(s string) (time.Month, bool) {
	mon, ok := monthAbbrev[lower3(s)]
	return mon, ok
}

// lower3 lowercases a 3-byte ASCII month abbreviation without pulling in
// strings.ToLower for such a small, fixed-width case.
func lower3(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// buildTime validates and constructs a time.Time, returning nil for an
// impossible calendar date (e.g. "2023Feb31-143059.wav" per spec.md
// §4.4's negative test case) rather than letting time.Date silently
// normalize it into the following month.
func buildTime(year int, month time.Month, day, hour, min, sec int) *time.Time {
	if month < time.January || month > time.December {
		return nil
	}
	if day < 1 || day > 31 || hour > 23 || min > 59 || sec > 59 {
		return nil
	}
	t := time.Date(year, month, day, hour, min, sec, 0, time.UTC)
	if t.Month() != month || t.Day() != day {
		// time.Date rolled the date forward, meaning day was out of
		// range for month (e.g. Feb 31).
		return nil
	}
	return &t
}
