package timecode

import (
	"errors"
	"testing"
	"time"
)

var seoul = time.FixedZone("KST", 9*60*60)

// 2025-03-12 is a Wednesday.
func wednesday() time.Time {
	return time.Date(2025, 3, 12, 14, 30, 0, 0, seoul)
}

func clock(day time.Time, h, m int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

func TestParseWednesdayRange(t *testing.T) {
	p := New(DefaultConfig())
	ref := wednesday()

	got, errs := p.Parse("수1-3", ref)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	want := []Interval{
		{clock(ref, 9, 0), clock(ref, 9, 50)},
		{clock(ref, 10, 0), clock(ref, 10, 50)},
		{clock(ref, 11, 0), clock(ref, 11, 50)},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d intervals, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Errorf("interval %d = %v-%v, want %v-%v", i, got[i].Start, got[i].End, want[i].Start, want[i].End)
		}
	}
}

func TestParseNumericPeriodsKeepWeekdayAndDuration(t *testing.T) {
	p := New(DefaultConfig())
	ref := wednesday()

	glyphs := map[string]time.Weekday{
		"월": time.Monday,
		"화": time.Tuesday,
		"수": time.Wednesday,
		"목": time.Thursday,
		"금": time.Friday,
		"토": time.Saturday,
		"일": time.Sunday,
	}

	for glyph, wd := range glyphs {
		for _, code := range []string{glyph + "1", glyph + "1-14", glyph + "3,7", glyph + "12-14"} {
			got, errs := p.Parse(code, ref)
			if len(errs) != 0 {
				t.Errorf("Parse(%q) errors = %v", code, errs)
			}
			if len(got) == 0 {
				t.Errorf("Parse(%q) returned no intervals", code)
			}
			for _, iv := range got {
				if iv.Start.Weekday() != wd {
					t.Errorf("Parse(%q) start weekday = %s, want %s", code, iv.Start.Weekday(), wd)
				}
				if d := iv.End.Sub(iv.Start); d != 50*time.Minute {
					t.Errorf("Parse(%q) duration = %s, want 50m", code, d)
				}
			}
		}
	}
}

func TestParseLetterPeriodsUseConfiguredDuration(t *testing.T) {
	tests := []struct {
		name     string
		stride   time.Duration
		duration time.Duration
		wantB    [2]int // hour, minute of period B start
	}{
		{name: "default stride", stride: 90 * time.Minute, duration: 75 * time.Minute, wantB: [2]int{10, 30}},
		{name: "legacy stride", stride: 105 * time.Minute, duration: 75 * time.Minute, wantB: [2]int{10, 45}},
		{name: "long blocks", stride: 105 * time.Minute, duration: 90 * time.Minute, wantB: [2]int{10, 45}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Letter.Stride = tt.stride
			cfg.Letter.Duration = tt.duration
			p := New(cfg)
			ref := wednesday()

			got, errs := p.Parse("수A-C", ref)
			if len(errs) != 0 {
				t.Fatalf("errors = %v", errs)
			}
			if len(got) != 3 {
				t.Fatalf("got %d intervals, want 3", len(got))
			}
			for _, iv := range got {
				if d := iv.End.Sub(iv.Start); d != tt.duration {
					t.Errorf("duration = %s, want %s", d, tt.duration)
				}
			}
			if !got[0].Start.Equal(clock(ref, 9, 0)) {
				t.Errorf("A starts at %v, want 09:00", got[0].Start)
			}
			if !got[1].Start.Equal(clock(ref, tt.wantB[0], tt.wantB[1])) {
				t.Errorf("B starts at %v, want %02d:%02d", got[1].Start, tt.wantB[0], tt.wantB[1])
			}
		})
	}
}

func TestParseTokenRanges(t *testing.T) {
	tests := []struct {
		tok  string
		want []period
	}{
		{"1-3", []period{{n: 1}, {n: 2}, {n: 3}}},
		{"A-C", []period{{letter: true, n: 0}, {letter: true, n: 1}, {letter: true, n: 2}}},
		{"b-c", []period{{letter: true, n: 1}, {letter: true, n: 2}}},
		{"10-12", []period{{n: 10}, {n: 11}, {n: 12}}},
		{"4", []period{{n: 4}}},
		{"4-4", []period{{n: 4}}},
	}

	for _, tt := range tests {
		t.Run(tt.tok, func(t *testing.T) {
			got, err := parseToken(tt.tok, defaultMaxNumeric)
			if err != nil {
				t.Fatalf("parseToken(%q) error = %v", tt.tok, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseToken(%q) = %v, want %v", tt.tok, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseToken(%q)[%d] = %v, want %v", tt.tok, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseSkipsBadTokensButKeepsOthers(t *testing.T) {
	p := New(DefaultConfig())
	ref := wednesday()

	got, errs := p.Parse("수1,가,3-1,A-2,2", ref)
	if len(got) != 2 {
		t.Fatalf("got %d intervals, want 2 (periods 1 and 2)", len(got))
	}
	if len(errs) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(errs), errs)
	}
	for _, err := range errs {
		var ice *InvalidCodeError
		if !errors.As(err, &ice) {
			t.Errorf("error %v is not *InvalidCodeError", err)
		}
	}
}

func TestParseInvalidWeekday(t *testing.T) {
	p := New(DefaultConfig())

	for _, code := range []string{"", "X1-3", "1-3", "W1"} {
		got, errs := p.Parse(code, wednesday())
		if len(got) != 0 {
			t.Errorf("Parse(%q) returned %d intervals, want 0", code, len(got))
		}
		var ice *InvalidCodeError
		if len(errs) != 1 || !errors.As(errs[0], &ice) {
			t.Errorf("Parse(%q) errs = %v, want one InvalidCodeError", code, errs)
		}
	}
}

func TestParseOutOfRangePeriodsSilentlySkipped(t *testing.T) {
	p := New(DefaultConfig())

	got, errs := p.Parse("수0,15,14", wednesday())
	if len(errs) != 0 {
		t.Errorf("out-of-range periods must not be reported: %v", errs)
	}
	if len(got) != 1 {
		t.Fatalf("got %d intervals, want only period 14", len(got))
	}
	if got[0].Start.Hour() != 22 {
		t.Errorf("period 14 starts at %v, want 22:00", got[0].Start)
	}
}

func TestParseEmptyResults(t *testing.T) {
	p := New(DefaultConfig())

	got, errs := p.Parse("수", wednesday())
	if len(got) != 0 || len(errs) != 0 {
		t.Errorf("Parse(수) = %v, %v; want empty, no error", got, errs)
	}

	cfg := DefaultConfig()
	cfg.DaysWindow = 0
	narrow := New(cfg)
	got, errs = narrow.Parse("목1", wednesday())
	if len(got) != 0 || len(errs) != 0 {
		t.Errorf("Parse(목1) with zero window = %v, %v; want empty, no error", got, errs)
	}
}

func TestParseWindowCoversBothSides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DaysWindow = 7
	p := New(cfg)
	ref := wednesday()

	got, errs := p.Parse("수2", ref)
	if len(errs) != 0 {
		t.Fatalf("errors = %v", errs)
	}
	// ref-7, ref, ref+7
	if len(got) != 3 {
		t.Fatalf("got %d intervals, want 3", len(got))
	}
	wantDays := []int{5, 12, 19}
	for i, iv := range got {
		if iv.Start.Day() != wantDays[i] || iv.Start.Month() != time.March {
			t.Errorf("interval %d on %v, want March %d", i, iv.Start, wantDays[i])
		}
		if iv.Start.Location() != seoul {
			t.Errorf("interval %d location = %v, want reference zone", i, iv.Start.Location())
		}
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("09:30")
	if err != nil {
		t.Fatal(err)
	}
	if d != 9*time.Hour+30*time.Minute {
		t.Errorf("ParseClock = %s", d)
	}
	if _, err := ParseClock("9시"); err == nil {
		t.Error("expected error for malformed clock")
	}
}

func TestParseOversizedRangeIsTokenError(t *testing.T) {
	p := New(DefaultConfig())
	ref := wednesday()

	tests := []struct {
		code      string
		intervals int
	}{
		{"수1,1-9223372036854775806", 1},
		{"수1-100000000", 0},
		{"수1-15", 0},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, errs := p.Parse(tt.code, ref)
			if len(got) != tt.intervals {
				t.Errorf("got %d intervals, want %d", len(got), tt.intervals)
			}
			var ice *InvalidCodeError
			if len(errs) != 1 || !errors.As(errs[0], &ice) {
				t.Errorf("errs = %v, want one InvalidCodeError", errs)
			}
		})
	}
}

func TestNewFallbacks(t *testing.T) {
	got := New(Config{}).Config()
	def := DefaultConfig()

	if got.Numeric != def.Numeric || got.Letter != def.Letter || got.MaxNumeric != def.MaxNumeric {
		t.Errorf("slot geometry = %+v, want defaults %+v", got, def)
	}
	if got.DaysWindow != 0 {
		t.Errorf("DaysWindow = %d, want 0 kept", got.DaysWindow)
	}
	if New(Config{DaysWindow: -1}).Config().DaysWindow != def.DaysWindow {
		t.Error("negative DaysWindow should fall back to the default")
	}
}
