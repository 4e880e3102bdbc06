// Package schedule decides when a lead may be emailed.
package schedule

import (
	"math/rand"
	"regexp"
	"strings"
	"time"
)

const DefaultTimezone = "America/New_York"

// SendingWindow bounds sends to [StartHour, EndHour) local time.
type SendingWindow struct {
	StartHour        int    `json:"start_hour" yaml:"start_hour" validate:"min=0,max=23"`
	EndHour          int    `json:"end_hour" yaml:"end_hour" validate:"min=1,max=24"`
	Timezone         string `json:"timezone" yaml:"timezone"`
	BusinessDaysOnly bool   `json:"business_days_only" yaml:"business_days_only"`
}

// DefaultWindow is 9am to 5pm on business days.
func DefaultWindow() SendingWindow {
	return SendingWindow{StartHour: 9, EndHour: 17, Timezone: DefaultTimezone, BusinessDaysOnly: true}
}

type regionZone struct {
	keyword string
	zone    string
}

// Checked in order; more specific keywords come first so "washington dc"
// wins over the state.
var regionZones = []regionZone{
	{"washington dc", "America/New_York"},
	{"washington, dc", "America/New_York"},
	{"hawaii", "Pacific/Honolulu"},
	{"honolulu", "Pacific/Honolulu"},
	{"alaska", "America/Anchorage"},
	{"anchorage", "America/Anchorage"},
	{"arizona", "America/Phoenix"},
	{"phoenix", "America/Phoenix"},
	{"california", "America/Los_Angeles"},
	{"los angeles", "America/Los_Angeles"},
	{"san francisco", "America/Los_Angeles"},
	{"san diego", "America/Los_Angeles"},
	{"seattle", "America/Los_Angeles"},
	{"washington", "America/Los_Angeles"},
	{"oregon", "America/Los_Angeles"},
	{"portland", "America/Los_Angeles"},
	{"nevada", "America/Los_Angeles"},
	{"las vegas", "America/Los_Angeles"},
	{"colorado", "America/Denver"},
	{"denver", "America/Denver"},
	{"utah", "America/Denver"},
	{"salt lake", "America/Denver"},
	{"new mexico", "America/Denver"},
	{"montana", "America/Denver"},
	{"idaho", "America/Boise"},
	{"wyoming", "America/Denver"},
	{"texas", "America/Chicago"},
	{"dallas", "America/Chicago"},
	{"houston", "America/Chicago"},
	{"austin", "America/Chicago"},
	{"illinois", "America/Chicago"},
	{"chicago", "America/Chicago"},
	{"minnesota", "America/Chicago"},
	{"missouri", "America/Chicago"},
	{"wisconsin", "America/Chicago"},
	{"iowa", "America/Chicago"},
	{"louisiana", "America/Chicago"},
	{"oklahoma", "America/Chicago"},
	{"kansas", "America/Chicago"},
	{"tennessee", "America/Chicago"},
	{"alabama", "America/Chicago"},
	{"new york", "America/New_York"},
	{"florida", "America/New_York"},
	{"miami", "America/New_York"},
	{"georgia", "America/New_York"},
	{"atlanta", "America/New_York"},
	{"massachusetts", "America/New_York"},
	{"boston", "America/New_York"},
	{"pennsylvania", "America/New_York"},
	{"philadelphia", "America/New_York"},
	{"new jersey", "America/New_York"},
	{"virginia", "America/New_York"},
	{"carolina", "America/New_York"},
	{"ohio", "America/New_York"},
	{"michigan", "America/Detroit"},
	{"detroit", "America/Detroit"},
	{"ontario", "America/Toronto"},
	{"toronto", "America/Toronto"},
	{"quebec", "America/Toronto"},
	{"british columbia", "America/Vancouver"},
	{"vancouver", "America/Vancouver"},
	{"alberta", "America/Edmonton"},
	{"london", "Europe/London"},
	{"united kingdom", "Europe/London"},
	{"paris", "Europe/Paris"},
	{"berlin", "Europe/Berlin"},
	{"sydney", "Australia/Sydney"},
	{"melbourne", "Australia/Melbourne"},
}

var stateAbbrevZones = map[string]string{
	"HI": "Pacific/Honolulu",
	"AK": "America/Anchorage",
	"AZ": "America/Phoenix",
	"CA": "America/Los_Angeles", "WA": "America/Los_Angeles", "OR": "America/Los_Angeles", "NV": "America/Los_Angeles",
	"CO": "America/Denver", "UT": "America/Denver", "NM": "America/Denver", "MT": "America/Denver", "WY": "America/Denver",
	"ID": "America/Boise",
	"TX": "America/Chicago", "IL": "America/Chicago", "MN": "America/Chicago", "MO": "America/Chicago",
	"WI": "America/Chicago", "IA": "America/Chicago", "LA": "America/Chicago", "OK": "America/Chicago",
	"KS": "America/Chicago", "TN": "America/Chicago", "AL": "America/Chicago", "MS": "America/Chicago",
	"AR": "America/Chicago", "NE": "America/Chicago",
	"MI": "America/Detroit",
	"NY": "America/New_York", "FL": "America/New_York", "GA": "America/New_York", "MA": "America/New_York",
	"PA": "America/New_York", "NJ": "America/New_York", "VA": "America/New_York", "NC": "America/New_York",
	"SC": "America/New_York", "OH": "America/New_York", "DC": "America/New_York", "MD": "America/New_York",
	"CT": "America/New_York",
}

// Matches ", TX 75201" or ", TX" at the end of a US address
var stateAbbrevPattern = regexp.MustCompile(`,\s*([A-Z]{2})(?:\s+\d{5}(?:-\d{4})?)?\s*(?:,\s*(?:USA|US|United States))?\s*$`)

// DetectTimezone guesses an IANA zone from a free-text address. It is a keyword
// heuristic and falls back to DefaultTimezone.
func DetectTimezone(address string) string {
	if m := stateAbbrevPattern.FindStringSubmatch(strings.TrimSpace(address)); m != nil {
		if zone, ok := stateAbbrevZones[m[1]]; ok {
			return zone
		}
	}

	lower := strings.ToLower(address)
	for _, rz := range regionZones {
		if strings.Contains(lower, rz.keyword) {
			return rz.zone
		}
	}
	return DefaultTimezone
}

// LoadLocation resolves tz, falling back to DefaultTimezone and then UTC.
func LoadLocation(tz string) *time.Location {
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

// IsWithinSendingWindow reports whether now falls inside the window in timezone tz.
func IsWithinSendingWindow(w SendingWindow, tz string, now time.Time) bool {
	local := now.In(LoadLocation(tz))
	if w.BusinessDaysOnly && isWeekend(local.Weekday()) {
		return false
	}
	hour := local.Hour()
	return hour >= w.StartHour && hour < w.EndHour
}

// NextSendTime moves now to the next window opening in timezone tz.
// Inside the window's hours the instant is returned unchanged; callers decide
// whether that means "send now" by checking IsWithinSendingWindow. The
// business-day shift applies either way.
func NextSendTime(w SendingWindow, tz string, now time.Time) time.Time {
	loc := LoadLocation(tz)
	local := now.In(loc)
	next := local

	switch {
	case local.Hour() >= w.EndHour:
		y, m, d := local.AddDate(0, 0, 1).Date()
		next = time.Date(y, m, d, w.StartHour, 0, 0, 0, loc)
	case local.Hour() < w.StartHour:
		y, m, d := local.Date()
		next = time.Date(y, m, d, w.StartHour, 0, 0, 0, loc)
	}

	if w.BusinessDaysOnly {
		switch next.Weekday() {
		case time.Sunday:
			next = next.AddDate(0, 0, 1)
		case time.Saturday:
			next = next.AddDate(0, 0, 2)
		}
	}
	return next
}

// HourlyOpens is the number of opens observed in one local hour of the day.
type HourlyOpens struct {
	Hour  int `json:"hour"`
	Opens int `json:"opens"`
}

type OptimalSendTime struct {
	Hour       int          `json:"hour"`
	Minute     int          `json:"minute"`
	DayOfWeek  time.Weekday `json:"day_of_week"`
	Day        string       `json:"day"`
	Confidence float64      `json:"confidence"`
	TotalOpens int          `json:"total_opens"`
}

// OpensByHour buckets open instants by their local hour in tz.
func OpensByHour(opens []time.Time, tz string) []HourlyOpens {
	loc := LoadLocation(tz)
	counts := make([]int, 24)
	for _, t := range opens {
		counts[t.In(loc).Hour()]++
	}
	out := make([]HourlyOpens, 0, 24)
	for h, n := range counts {
		if n > 0 {
			out = append(out, HourlyOpens{Hour: h, Opens: n})
		}
	}
	return out
}

// CalculateOptimalSendTime picks the hour with the most opens. Ties go to the
// earliest bucket in data. The minute is drawn from rng and the day is always Tuesday.
// With no opens it suggests 10:00 with zero confidence.
func CalculateOptimalSendTime(data []HourlyOpens, rng *rand.Rand) OptimalSendTime {
	result := OptimalSendTime{Hour: 10, DayOfWeek: time.Tuesday, Day: time.Tuesday.String()}

	total, best := 0, -1
	for i, bucket := range data {
		total += bucket.Opens
		if best < 0 || bucket.Opens > data[best].Opens {
			best = i
		}
	}
	if total == 0 || best < 0 {
		return result
	}

	result.Hour = data[best].Hour
	if rng != nil {
		result.Minute = rng.Intn(60)
	}
	result.TotalOpens = total
	result.Confidence = float64(data[best].Opens) / float64(total) * 100
	return result
}
