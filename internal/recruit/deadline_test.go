package recruit

import (
	"errors"
	"testing"
	"time"
)

func kst(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, KST)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	evening := kst(2026, 2, 1, 22, 0)
	morning := kst(2026, 2, 1, 8, 0)

	tests := []struct {
		name string
		text string
		now  time.Time
		want time.Time
	}{
		{"hours and minutes", "1시간30분", evening, evening.Add(90 * time.Minute)},
		{"spaced relative", "1 시간 30 분", evening, evening.Add(90 * time.Minute)},
		{"fractional hours", "1.5시간", evening, evening.Add(90 * time.Minute)},
		{"minutes only", "20분", evening, evening.Add(20 * time.Minute)},
		{"hour word without number", "한시간", evening, evening.Add(time.Hour)},
		{"clock already passed rolls over", "21:00", evening, kst(2026, 2, 2, 21, 0)},
		{"clock later today", "21:00", kst(2026, 2, 1, 20, 0), kst(2026, 2, 1, 21, 0)},
		{"clock equal to now rolls over", "22:00", evening, kst(2026, 2, 2, 22, 0)},
		{"bare number is minutes", "45", evening, evening.Add(45 * time.Minute)},
		{"full date time", "2026-02-07-21:00", evening, kst(2026, 2, 7, 21, 0)},
		{"two digit year", "26.2.7 21:30", evening, kst(2026, 2, 7, 21, 30)},
		{"month day hour", "2월 7일 21시", evening, kst(2026, 2, 7, 21, 0)},
		{"three digit clock", "930", morning, kst(2026, 2, 1, 9, 30)},
		{"four digit clock", "0815", morning, kst(2026, 2, 1, 8, 15)},
		{"two numbers are a clock", "9 30", morning, kst(2026, 2, 1, 9, 30)},
		{"korean hour mark", "21시", morning, kst(2026, 2, 1, 21, 0)},
		{"afternoon clock", "오후 9:00", kst(2026, 2, 1, 10, 0), kst(2026, 2, 1, 21, 0)},
		{"evening hour mark", "저녁 7시", kst(2026, 2, 1, 10, 0), kst(2026, 2, 1, 19, 0)},
		{"afternoon keeps 24h hours", "오후 13:00", kst(2026, 2, 1, 10, 0), kst(2026, 2, 1, 13, 0)},
		{"pm on date", "2026-02-07 9:00 pm", evening, kst(2026, 2, 7, 21, 0)},
		{"empty text", "", evening, evening.Add(DefaultLead)},
		{"no numbers", "곧", evening, evening.Add(DefaultLead)},
		{"zero minutes clamps", "0분", evening, evening.Add(DefaultLead)},
		{"past date clamps", "2025-01-01 10:00", evening, evening.Add(DefaultLead)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DeadlineParser{}.Resolve(tt.text, tt.now)
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.text, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Resolve(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestResolveInvalidFields(t *testing.T) {
	t.Parallel()
	now := kst(2026, 2, 1, 22, 0)

	tests := []struct {
		text  string
		field string
	}{
		{"13월 40일 10시", "month"},
		{"2026-02-30-10:00", "day"},
		{"25:00", "hour"},
		{"10:75", "minute"},
		{"99999999999999999999", "minutes"},
		{"1000000분", "duration"},
		{"12345:", "time"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			got, err := DeadlineParser{}.Resolve(tt.text, now)
			if !errors.Is(err, ErrInvalidSchedule) {
				t.Fatalf("err = %v, want ErrInvalidSchedule", err)
			}
			var se *ScheduleError
			if !errors.As(err, &se) || se.Field != tt.field {
				t.Fatalf("err = %#v, want field %q", err, tt.field)
			}
			if !got.Equal(now.Add(DefaultLead)) {
				t.Fatalf("fallback = %v, want now+30m", got)
			}
		})
	}
}

func TestResolveNeverPast(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"", "0", "00:00", "0분", "0시간", "1분", "23:59", "2000-01-01-00:00", "1-1-0",
		"밤", "오후 0시", "12:00", "-", ":", "24:00", "1.5", "30분 후", "2099-12-31 23:59",
		"2월 29일 10시", "999", "0000",
	}
	nows := []time.Time{
		kst(2026, 2, 1, 0, 0),
		kst(2026, 2, 1, 11, 59),
		kst(2026, 2, 1, 23, 59),
		kst(2028, 2, 29, 12, 0),
		time.Date(2026, 6, 30, 23, 30, 0, 0, time.UTC),
	}
	for _, now := range nows {
		for _, in := range inputs {
			got, _ := DeadlineParser{}.Resolve(in, now)
			if !got.After(now) {
				t.Fatalf("Resolve(%q, %v) = %v, not after now", in, now, got)
			}
		}
	}
}

func TestResolveUsesLocation(t *testing.T) {
	t.Parallel()
	utc := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) // 21:00 KST
	got, err := DeadlineParser{}.Resolve("22:00", utc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := kst(2026, 2, 1, 22, 0); !got.Equal(want) {
		t.Fatalf("Resolve = %v, want %v", got, want)
	}
	if got.Location() != KST {
		t.Fatalf("location = %v, want KST", got.Location())
	}
}

func TestParseCapacity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want int
	}{
		{"6", 6},
		{"3명", 3},
		{" 12 명 ", 12},
		{"", DefaultCapacity},
		{"많이", DefaultCapacity},
		{"0", DefaultCapacity},
		{"99999999999999999999", DefaultCapacity},
	}
	for _, tt := range tests {
		if got := ParseCapacity(tt.in, DefaultCapacity); got != tt.want {
			t.Fatalf("ParseCapacity(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
