package models

import (
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "10:00", want: 600},
		{in: "23:59", want: 1439},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "9:00", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "1:005", wantErr: true},
		{in: "+1:05", wantErr: true},
		{in: "-1:05", wantErr: true},
		{in: "10:5 ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseClock(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseClock(%q): expected error, got %v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseClock(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseClock(%q) = %d, want %d", tc.in, got, tc.want)
		}
		if got.String() != tc.in {
			t.Fatalf("Clock(%d).String() = %q, want %q", got, got.String(), tc.in)
		}
	}
}

func TestClockAdd(t *testing.T) {
	start, _ := ParseClock("10:00")
	end, ok := start.Add(50)
	if !ok || end.String() != "10:50" {
		t.Fatalf("expected 10:50 within day, got %s ok=%v", end, ok)
	}

	late, _ := ParseClock("23:30")
	wrapped, ok := late.Add(50)
	if ok {
		t.Fatal("expected 23:30 + 50 to leave the day")
	}
	if wrapped.String() != "00:20" {
		t.Fatalf("expected wrapped clock 00:20, got %s", wrapped)
	}

	// Every in-day (start, duration) pair keeps end = start + duration.
	for s := Clock(0); s < MinutesPerDay; s += 7 {
		for _, d := range []int{15, 30, 45, 50, 60, 90} {
			e, ok := s.Add(d)
			if int(s)+d < MinutesPerDay {
				if !ok || int(e) != int(s)+d {
					t.Fatalf("%s + %d: got %s ok=%v", s, d, e, ok)
				}
				if e.Hour()*60+e.Minute() != int(s)+d {
					t.Fatalf("%s + %d: hour/minute components %d:%d", s, d, e.Hour(), e.Minute())
				}
			} else if ok {
				t.Fatalf("%s + %d: expected overflow", s, d)
			}
		}
	}
}

func TestDateCompareAndAddDays(t *testing.T) {
	d, err := ParseDate("2026-01-31")
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	next := d.AddDays(1)
	if next.String() != "2026-02-01" {
		t.Fatalf("expected 2026-02-01, got %s", next)
	}
	if !d.Before(next) || !next.After(d) || d.Compare(d) != 0 {
		t.Fatal("date ordering is inconsistent")
	}
	if d.AddDays(-31).String() != "2025-12-31" {
		t.Fatalf("expected 2025-12-31, got %s", d.AddDays(-31))
	}
}

func TestDateOfIgnoresTimeOfDay(t *testing.T) {
	loc := time.FixedZone("test", -5*3600)
	late := time.Date(2026, 3, 4, 23, 59, 0, 0, loc)
	if DateOf(late).String() != "2026-03-04" {
		t.Fatalf("expected 2026-03-04, got %s", DateOf(late))
	}
	if got := At(DateOf(late), ClockOf(late), loc); !got.Equal(late) {
		t.Fatalf("At round trip: got %s want %s", got, late)
	}
}
