// Package timecode resolves compact timetable codes such as "수1-3" or
// "목A,B" into concrete time intervals around a reference date.
//
// A code is one weekday glyph followed by a comma-separated list of periods.
// Numeric periods are 50-minute class hours starting at 09:00; letter
// periods are 75-minute blocks whose stride is configurable.
package timecode

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/teambition/rrule-go"
)

const (
	defaultDaysWindow = 6
	defaultMaxNumeric = 14
)

// weekdayGlyphs maps the leading glyph to Mon=0 … Sun=6.
var weekdayGlyphs = map[rune]int{
	'월': 0,
	'화': 1,
	'수': 2,
	'목': 3,
	'금': 4,
	'토': 5,
	'일': 6,
}

var rruleWeekdays = [7]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// WeekdayIndex reports the Mon=0 … Sun=6 index of a weekday glyph.
func WeekdayIndex(r rune) (int, bool) {
	i, ok := weekdayGlyphs[r]
	return i, ok
}

// IsWeekdayGlyph reports whether r starts a time code.
func IsWeekdayGlyph(r rune) bool {
	_, ok := weekdayGlyphs[r]
	return ok
}

// SlotRule places period i (0-based) at Start + i*Stride for Duration.
type SlotRule struct {
	Start    time.Duration // offset from midnight
	Stride   time.Duration
	Duration time.Duration
}

// Config controls period geometry and the expansion window.
type Config struct {
	Numeric SlotRule
	// MaxNumeric is the last valid numeric period; larger ones are skipped.
	MaxNumeric int
	Letter     SlotRule
	// DaysWindow expands [ref-DaysWindow, ref+DaysWindow] days.
	DaysWindow int
}

// DefaultConfig returns the 09:00-based campus period layout.
func DefaultConfig() Config {
	return Config{
		Numeric:    SlotRule{Start: 9 * time.Hour, Stride: 60 * time.Minute, Duration: 50 * time.Minute},
		MaxNumeric: defaultMaxNumeric,
		Letter:     SlotRule{Start: 9 * time.Hour, Stride: 90 * time.Minute, Duration: 75 * time.Minute},
		DaysWindow: defaultDaysWindow,
	}
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("timecode: invalid clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Interval is a half-open [Start, End) span.
type Interval struct {
	Start time.Time
	End   time.Time
}

// InvalidCodeError reports an unparsable weekday or period token. It is
// never fatal for the surrounding feed.
type InvalidCodeError struct {
	Code   string
	Token  string
	Reason string
}

func (e *InvalidCodeError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("timecode: invalid code %q: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("timecode: invalid token %q in %q: %s", e.Token, e.Code, e.Reason)
}

// Parser turns time codes into intervals.
type Parser struct {
	cfg Config
}

// New returns a Parser. Non-positive slot fields and MaxNumeric fall back
// to DefaultConfig, so a period layout cannot start at midnight. DaysWindow
// falls back only when negative; zero restricts expansion to the reference
// date.
func New(cfg Config) *Parser {
	def := DefaultConfig()
	if cfg.Numeric.Stride <= 0 {
		cfg.Numeric.Stride = def.Numeric.Stride
	}
	if cfg.Numeric.Duration <= 0 {
		cfg.Numeric.Duration = def.Numeric.Duration
	}
	if cfg.Numeric.Start <= 0 {
		cfg.Numeric.Start = def.Numeric.Start
	}
	if cfg.MaxNumeric <= 0 {
		cfg.MaxNumeric = def.MaxNumeric
	}
	if cfg.Letter.Stride <= 0 {
		cfg.Letter.Stride = def.Letter.Stride
	}
	if cfg.Letter.Duration <= 0 {
		cfg.Letter.Duration = def.Letter.Duration
	}
	if cfg.Letter.Start <= 0 {
		cfg.Letter.Start = def.Letter.Start
	}
	if cfg.DaysWindow < 0 {
		cfg.DaysWindow = def.DaysWindow
	}
	return &Parser{cfg: cfg}
}

// Config returns the effective configuration.
func (p *Parser) Config() Config {
	return p.cfg
}

type period struct {
	letter bool
	n      int // 1-based number, or 0-based letter index
}

// Parse resolves code into intervals on every date of the window around ref
// that falls on the code's weekday.
//
// A bad weekday glyph yields no intervals and a single *InvalidCodeError.
// Bad period tokens are skipped one by one and reported in the error slice;
// the remaining tokens still produce intervals.
func (p *Parser) Parse(code string, ref time.Time) ([]Interval, []error) {
	code = strings.TrimSpace(code)
	first, size := utf8.DecodeRuneInString(code)
	wd, ok := WeekdayIndex(first)
	if !ok {
		return nil, []error{&InvalidCodeError{Code: code, Reason: "unknown weekday glyph"}}
	}

	var errs []error
	var periods []period
	rest := strings.TrimSpace(code[size:])
	if rest != "" {
		for _, tok := range strings.Split(rest, ",") {
			tok = strings.TrimSpace(tok)
			ps, err := parseToken(tok, p.cfg.MaxNumeric)
			if err != nil {
				errs = append(errs, &InvalidCodeError{Code: code, Token: tok, Reason: err.Error()})
				continue
			}
			periods = append(periods, ps...)
		}
	}
	if len(periods) == 0 {
		return nil, errs
	}

	dates, err := p.matchingDates(wd, ref)
	if err != nil {
		return nil, append(errs, err)
	}

	out := make([]Interval, 0, len(dates)*len(periods))
	for _, d := range dates {
		for _, pr := range periods {
			iv, ok := p.slot(d, pr)
			if !ok {
				continue
			}
			out = append(out, iv)
		}
	}
	return out, errs
}

// slot places one period on the given date (midnight in the target zone).
func (p *Parser) slot(day time.Time, pr period) (Interval, bool) {
	var offset, dur time.Duration
	if pr.letter {
		offset = p.cfg.Letter.Start + time.Duration(pr.n)*p.cfg.Letter.Stride
		dur = p.cfg.Letter.Duration
	} else {
		if pr.n < 1 || pr.n > p.cfg.MaxNumeric {
			return Interval{}, false
		}
		offset = p.cfg.Numeric.Start + time.Duration(pr.n-1)*p.cfg.Numeric.Stride
		dur = p.cfg.Numeric.Duration
	}
	if offset+dur > 24*time.Hour {
		return Interval{}, false
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, int(offset/time.Minute), 0, 0, day.Location())
	return Interval{Start: start, End: start.Add(dur)}, true
}

// matchingDates lists the midnights within the window whose weekday is wd.
func (p *Parser) matchingDates(wd int, ref time.Time) ([]time.Time, error) {
	loc := ref.Location()
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, loc)
	from := day.AddDate(0, 0, -p.cfg.DaysWindow)
	until := day.AddDate(0, 0, p.cfg.DaysWindow)

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   from,
		Until:     until,
		Byweekday: []rrule.Weekday{rruleWeekdays[wd]},
	})
	if err != nil {
		return nil, fmt.Errorf("timecode: build weekly rule: %w", err)
	}

	all := r.All()
	out := make([]time.Time, 0, len(all))
	for _, t := range all {
		t = t.In(loc)
		out = append(out, time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc))
	}
	return out, nil
}

// parseToken expands one period token ("3", "B", "1-3", "A-C").
func parseToken(tok string, maxNumeric int) ([]period, error) {
	if tok == "" {
		return nil, fmt.Errorf("empty period")
	}
	if from, to, ok := strings.Cut(tok, "-"); ok {
		return parseRange(strings.TrimSpace(from), strings.TrimSpace(to), maxNumeric)
	}
	pr, err := parseSingle(tok)
	if err != nil {
		return nil, err
	}
	return []period{pr}, nil
}

// parseRange rejects numeric ranges ending past maxNumeric; single periods
// out of range are dropped later without an error.
func parseRange(from, to string, maxNumeric int) ([]period, error) {
	a, errA := parseSingle(from)
	b, errB := parseSingle(to)
	if errA != nil || errB != nil {
		return nil, fmt.Errorf("malformed range %s-%s", from, to)
	}
	if a.letter != b.letter {
		return nil, fmt.Errorf("range mixes numeric and letter periods")
	}
	if a.n > b.n {
		return nil, fmt.Errorf("descending range %s-%s", from, to)
	}
	if !a.letter && b.n > maxNumeric {
		return nil, fmt.Errorf("range %s-%s ends past period %d", from, to, maxNumeric)
	}
	out := make([]period, 0, b.n-a.n+1)
	for n := a.n; n <= b.n; n++ {
		out = append(out, period{letter: a.letter, n: n})
	}
	return out, nil
}

func parseSingle(s string) (period, error) {
	if s == "" {
		return period{}, fmt.Errorf("empty period")
	}
	if isDigits(s) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return period{}, err
		}
		return period{n: n}, nil
	}
	if len(s) == 1 {
		c := strings.ToUpper(s)[0]
		if c >= 'A' && c <= 'Z' {
			return period{letter: true, n: int(c - 'A')}, nil
		}
	}
	return period{}, fmt.Errorf("unknown period %q", s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
