package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"roomcheck/internal/timecode"
)

// PortalConfig describes the space-reservation portal that lists buildings
// and live reservations.
type PortalConfig struct {
	// URL is the reservation status page (ASP.NET postback form).
	URL string `yaml:"url" json:"url"`
	// InsecureSkipVerify disables TLS verification. 포털 인증서 체인이 깨져
	// 있어서 기본값은 true 이다.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	// TimeoutSeconds bounds every portal request.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// UseBrowser renders portal pages through headless Chromium instead of
	// replaying the postback over plain HTTP.
	UseBrowser bool `yaml:"use_browser" json:"use_browser"`
}

// LectureFeedConfig describes the XML timetable feed.
type LectureFeedConfig struct {
	URL string `yaml:"url" json:"url"`
	// CachePath is the bbolt file holding the last fetched body and its
	// ETag/Last-Modified validators.
	CachePath string `yaml:"cache_path" json:"cache_path"`
}

// NumericPeriodConfig controls 1..N class periods.
type NumericPeriodConfig struct {
	Start           string `yaml:"start" json:"start"`
	StrideMinutes   int    `yaml:"stride_minutes" json:"stride_minutes"`
	DurationMinutes int    `yaml:"duration_minutes" json:"duration_minutes"`
	Max             int    `yaml:"max" json:"max"`
}

// LetterPeriodConfig controls A, B, C ... block periods.
//
// The stride has differed between timetable versions (90 vs 105 minutes);
// it stays configurable until the registrar confirms the current value.
type LetterPeriodConfig struct {
	Start           string `yaml:"start" json:"start"`
	StrideMinutes   int    `yaml:"stride_minutes" json:"stride_minutes"`
	DurationMinutes int    `yaml:"duration_minutes" json:"duration_minutes"`
}

type PeriodsConfig struct {
	Numeric NumericPeriodConfig `yaml:"numeric" json:"numeric"`
	Letter  LetterPeriodConfig  `yaml:"letter" json:"letter"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone all timestamps are interpreted in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule for re-fetching the building list
	// and the lecture feed (e.g. "*/30 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// DaysWindow is how many days before and after the reference date the
	// lecture timetable is expanded.
	DaysWindow int `yaml:"days_window" json:"days_window"`

	Periods     PeriodsConfig     `yaml:"periods" json:"periods"`
	Portal      PortalConfig      `yaml:"portal" json:"portal"`
	LectureFeed LectureFeedConfig `yaml:"lecture_feed" json:"lecture_feed"`

	// BuildingAliases maps the short codes used in the lecture feed to the
	// official building names used by the portal.
	BuildingAliases map[string]string `yaml:"building_aliases" json:"building_aliases"`

	// ManualICS, if set, is an .ics file whose events are loaded as manual
	// bookings at startup.
	ManualICS string `yaml:"manual_ics,omitempty" json:"manual_ics,omitempty"`

	Log LogConfig `yaml:"log" json:"log"`
}

// DefaultBuildingAliases returns the campus abbreviation table.
func DefaultBuildingAliases() map[string]string {
	return map[string]string{
		"1공":  "제1공학관",
		"4공":  "제4공학관",
		"5공":  "제5공학관(제2자연관)",
		"건":   "건강과학관(제1자연관)",
		"교":   "교육관",
		"경":   "제1경영관(제1경상관)",
		"문":   "문무관",
		"2경":  "제2경영관(제2경상관)",
		"창":   "창조관",
		"산":   "산학협력관",
		"디":   "디자인관",
		"법":   "법정관",
		"예":   "예술관",
		"고운": "고운관(인문관)",
		"성훈": "성훈관(제3공학관)",
		"국":   "국제어학관(국제교육관)",
		"한":   "한마관",
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Asia/Seoul",
		RefreshCron: "*/30 * * * *",
		DaysWindow:  6,
		Periods: PeriodsConfig{
			Numeric: NumericPeriodConfig{Start: "09:00", StrideMinutes: 60, DurationMinutes: 50, Max: 14},
			Letter:  LetterPeriodConfig{Start: "09:00", StrideMinutes: 90, DurationMinutes: 75},
		},
		Portal: PortalConfig{
			URL:                "https://kutis1.kyungnam.ac.kr/ADFF/AE/AE0561M.aspx",
			InsecureSkipVerify: true,
			TimeoutSeconds:     15,
		},
		LectureFeed: LectureFeedConfig{
			URL:       "https://raw.githubusercontent.com/Nyxthorn/work/main/data.xml",
			CachePath: "./var/roomcheck-cache.db",
		},
		BuildingAliases: DefaultBuildingAliases(),
		Log:             LogConfig{Level: "info"},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.DaysWindow <= 0 {
		c.DaysWindow = def.DaysWindow
	}

	n := &c.Periods.Numeric
	if n.Start == "" {
		n.Start = def.Periods.Numeric.Start
	}
	if n.StrideMinutes <= 0 {
		n.StrideMinutes = def.Periods.Numeric.StrideMinutes
	}
	if n.DurationMinutes <= 0 {
		n.DurationMinutes = def.Periods.Numeric.DurationMinutes
	}
	if n.Max <= 0 {
		n.Max = def.Periods.Numeric.Max
	}

	l := &c.Periods.Letter
	if l.Start == "" {
		l.Start = def.Periods.Letter.Start
	}
	if l.StrideMinutes <= 0 {
		l.StrideMinutes = def.Periods.Letter.StrideMinutes
	}
	if l.DurationMinutes <= 0 {
		l.DurationMinutes = def.Periods.Letter.DurationMinutes
	}

	if c.Portal.URL == "" {
		c.Portal.URL = def.Portal.URL
	}
	if c.Portal.TimeoutSeconds <= 0 {
		c.Portal.TimeoutSeconds = def.Portal.TimeoutSeconds
	}
	if c.LectureFeed.CachePath == "" {
		c.LectureFeed.CachePath = def.LectureFeed.CachePath
	}
	if c.BuildingAliases == nil {
		c.BuildingAliases = def.BuildingAliases
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".roomcheck-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ParserConfig converts the period settings for the time code parser.
func (c *Config) ParserConfig() (timecode.Config, error) {
	numStart, err := timecode.ParseClock(c.Periods.Numeric.Start)
	if err != nil {
		return timecode.Config{}, fmt.Errorf("config: periods.numeric.start: %w", err)
	}
	letterStart, err := timecode.ParseClock(c.Periods.Letter.Start)
	if err != nil {
		return timecode.Config{}, fmt.Errorf("config: periods.letter.start: %w", err)
	}
	return timecode.Config{
		Numeric: timecode.SlotRule{
			Start:    numStart,
			Stride:   time.Duration(c.Periods.Numeric.StrideMinutes) * time.Minute,
			Duration: time.Duration(c.Periods.Numeric.DurationMinutes) * time.Minute,
		},
		MaxNumeric: c.Periods.Numeric.Max,
		Letter: timecode.SlotRule{
			Start:    letterStart,
			Stride:   time.Duration(c.Periods.Letter.StrideMinutes) * time.Minute,
			Duration: time.Duration(c.Periods.Letter.DurationMinutes) * time.Minute,
		},
		DaysWindow: c.DaysWindow,
	}, nil
}
