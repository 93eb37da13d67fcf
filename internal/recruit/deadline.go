package recruit

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// KST is the fixed UTC+9 clock sessions are scheduled in.
var KST = time.FixedZone("KST", 9*60*60)

const (
	// DefaultLead is both the lead for text without numbers and the floor
	// applied to results that are not in the future.
	DefaultLead = 30 * time.Minute

	maxLead = 366 * 24 * time.Hour

	hourWord   = "시간"
	minuteWord = "분"
)

var (
	hourRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*시간`)
	minuteRe = regexp.MustCompile(`(\d+)\s*분`)
	decimal  = regexp.MustCompile(`\d+(?:\.\d+)?`)
	digits   = regexp.MustCompile(`\d+`)
	// "9시" marks a clock hour the way ':' does; "9시간" does not.
	hourMark = regexp.MustCompile(`\d\s*시($|[^간])`)

	eveningWords = []string{"오후", "저녁", "밤", "pm"}
)

// DeadlineParser resolves free-form deadline text. The zero value uses KST.
//
// Rules, first match wins:
//  1. "시간"/"분" present: relative duration ("1시간30분", "1.5시간", "20분").
//  2. four or more numbers: year, month, day, hour and optional minute.
//  3. exactly three numbers: month, day, hour in the current year.
//  4. ':', '-' or "N시", two numbers, or one 3-4 digit number: clock time
//     today, rolled to tomorrow when already passed.
//  5. otherwise the first number counts minutes; no number means 30 minutes.
//
// 오후/저녁/밤/pm moves hours 0-11 into the afternoon. A result that is not
// strictly after now becomes now+30m.
type DeadlineParser struct {
	Location *time.Location
}

func (p DeadlineParser) location() *time.Location {
	if p.Location != nil {
		return p.Location
	}
	return KST
}

// Resolve always returns a time after now. When a date or clock field is
// out of range it also returns a *ScheduleError, and the time is the
// now+30m fallback.
func (p DeadlineParser) Resolve(raw string, now time.Time) (time.Time, error) {
	now = now.In(p.location())
	text := strings.ToLower(strings.TrimSpace(raw))

	at, err := p.resolve(text, now)
	if err != nil {
		return now.Add(DefaultLead), err
	}
	if isEvening(text) && at.Hour() < 12 {
		at = at.Add(12 * time.Hour)
	}
	if !at.After(now) {
		at = now.Add(DefaultLead)
	}
	return at, nil
}

func (p DeadlineParser) resolve(text string, now time.Time) (time.Time, error) {
	if strings.Contains(text, hourWord) || strings.Contains(text, minuteWord) {
		if at, ok, err := relative(text, now); ok || err != nil {
			return at, err
		}
	}

	nums := digits.FindAllString(text, -1)
	switch {
	case len(nums) >= 4:
		return p.dateTime(nums)
	case len(nums) == 3:
		return p.dateTime(append([]string{strconv.Itoa(now.Year())}, nums...))
	case len(nums) > 0 && isClock(text, nums):
		return p.clock(text, nums, now)
	case len(nums) > 0:
		m, err := atoiField("minutes", nums[0])
		if err != nil {
			return time.Time{}, err
		}
		return lead(now, float64(m))
	default:
		return now.Add(DefaultLead), nil
	}
}

// relative handles rule 1. ok is false when only "분" appeared without a
// number, which leaves the text to the later rules.
func relative(text string, now time.Time) (time.Time, bool, error) {
	hm := hourRe.FindStringSubmatch(text)
	mm := minuteRe.FindStringSubmatch(text)

	if hm == nil && mm == nil {
		if !strings.Contains(text, hourWord) {
			return time.Time{}, false, nil
		}
		// "한시간", "시간 1": the whole text is a number of hours, one if none.
		hours := 1.0
		if n := decimal.FindString(text); n != "" {
			h, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return time.Time{}, true, &ScheduleError{Field: "hours", Value: n}
			}
			hours = h
		}
		at, err := lead(now, hours*60)
		return at, true, err
	}

	var total float64
	if hm != nil {
		h, err := strconv.ParseFloat(hm[1], 64)
		if err != nil {
			return time.Time{}, true, &ScheduleError{Field: "hours", Value: hm[1]}
		}
		total += h * 60
	}
	if mm != nil {
		m, err := atoiField("minutes", mm[1])
		if err != nil {
			return time.Time{}, true, err
		}
		total += float64(m)
	}
	at, err := lead(now, total)
	return at, true, err
}

func lead(now time.Time, minutes float64) (time.Time, error) {
	if minutes > maxLead.Minutes() || math.IsNaN(minutes) {
		return time.Time{}, &ScheduleError{Field: "duration", Value: strconv.FormatFloat(minutes, 'f', -1, 64) + "m"}
	}
	return now.Add(time.Duration(math.Round(minutes*60)) * time.Second), nil
}

// dateTime handles rules 2 and 3: year, month, day, hour[, minute].
func (p DeadlineParser) dateTime(nums []string) (time.Time, error) {
	year, err := atoiField("year", nums[0])
	if err != nil {
		return time.Time{}, err
	}
	if len(nums[0]) <= 2 {
		year += 2000
	}
	month, err := atoiField("month", nums[1])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, &ScheduleError{Field: "month", Value: nums[1]}
	}
	day, err := atoiField("day", nums[2])
	if err != nil || day < 1 || day > daysIn(year, time.Month(month)) {
		return time.Time{}, &ScheduleError{Field: "day", Value: nums[2]}
	}
	hour, err := hourField(nums[3])
	if err != nil {
		return time.Time{}, err
	}
	minute := 0
	if len(nums) >= 5 {
		if minute, err = minuteField(nums[4]); err != nil {
			return time.Time{}, err
		}
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, p.location()), nil
}

// clock handles rule 4.
func (p DeadlineParser) clock(text string, nums []string, now time.Time) (time.Time, error) {
	var hh, mm string
	switch {
	case len(nums) >= 2:
		hh, mm = nums[0], nums[1]
	case len(nums[0]) <= 2:
		hh, mm = nums[0], "0"
	case len(nums[0]) <= 4:
		padded := strings.Repeat("0", 4-len(nums[0])) + nums[0]
		hh, mm = padded[:2], padded[2:]
	default:
		return time.Time{}, &ScheduleError{Field: "time", Value: nums[0]}
	}

	hour, err := hourField(hh)
	if err != nil {
		return time.Time{}, err
	}
	minute, err := minuteField(mm)
	if err != nil {
		return time.Time{}, err
	}
	if isEvening(text) && hour < 12 {
		hour += 12
	}

	y, m, d := now.Date()
	at := time.Date(y, m, d, hour, minute, 0, 0, p.location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}

func isClock(text string, nums []string) bool {
	if strings.ContainsAny(text, ":-") || hourMark.MatchString(text) || len(nums) == 2 {
		return true
	}
	return len(nums) == 1 && (len(nums[0]) == 3 || len(nums[0]) == 4)
}

func hourField(s string) (int, error) {
	h, err := strconv.Atoi(s)
	if err != nil || h < 0 || h > 23 {
		return 0, &ScheduleError{Field: "hour", Value: s}
	}
	return h, nil
}

func minuteField(s string) (int, error) {
	m, err := strconv.Atoi(s)
	if err != nil || m < 0 || m > 59 {
		return 0, &ScheduleError{Field: "minute", Value: s}
	}
	return m, nil
}

func atoiField(field, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ScheduleError{Field: field, Value: s}
	}
	return n, nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func isEvening(text string) bool {
	for _, w := range eveningWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
