package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarm-engine/internal/capability"
	domain "github.com/oshokin/alarm-engine/internal/domain/alarm"
)

// Config holds the daemon settings and the declared alarms.
type Config struct {
	// LogLevel is the minimum level for log output (debug/info/warn/error).
	LogLevel string `yaml:"log_level"`
	// StateDir is the directory of the embedded key-value state store.
	StateDir string `yaml:"state_dir"`
	// Tick is the monitoring loop granularity.
	Tick time.Duration `yaml:"tick"`
	// SnoozeMinutes is the default snooze interval.
	SnoozeMinutes int `yaml:"snooze_minutes"`
	// PulseInterval spaces the periodic system alerts while ringing.
	PulseInterval time.Duration `yaml:"pulse_interval"`
	// EmergencyPulses bounds the emergency fallback burst run.
	EmergencyPulses int `yaml:"emergency_pulses"`
	// EmergencySpacing separates consecutive emergency bursts.
	EmergencySpacing time.Duration `yaml:"emergency_spacing"`
	// Capability tunes the grant-state estimation thresholds.
	Capability capability.Policy `yaml:"capability"`
	// Alarms declares the alarms the daemon schedules on start.
	Alarms []AlarmSpec `yaml:"alarms"`
}

// AlarmSpec is the YAML shape of one declared alarm.
type AlarmSpec struct {
	// ID is the alarm identifier.
	ID string `yaml:"id"`
	// Start is the fire time of day, "HH:MM".
	Start string `yaml:"start"`
	// End is the force-stop time of day, "HH:MM".
	End string `yaml:"end"`
	// Repeat is the recurrence kind: none, daily or weekdays.
	Repeat string `yaml:"repeat"`
	// Days lists weekday names for the weekdays rule (mon..sun).
	Days []string `yaml:"days"`
	// Disabled excludes the alarm from scheduling without deleting it.
	Disabled bool `yaml:"disabled"`
	// Sound names the sound profile.
	Sound string `yaml:"sound"`
	// Haptics enables the vibration-capable layers.
	Haptics bool `yaml:"haptics"`
}

const (
	// DefaultConfigFilename is the default filename for daemon settings.
	DefaultConfigFilename = "alarm-engine.yaml"

	// DefaultStateDirname is the default directory for the state store.
	DefaultStateDirname = "alarm-engine-state"

	// DefaultTick is the default monitoring loop granularity.
	DefaultTick = time.Second

	// DefaultSnoozeMinutes is the classic nine-minute snooze.
	DefaultSnoozeMinutes = 9

	// DefaultFilePermissions is the permission mask for the config file.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnknownRepeat is returned for an unrecognized repeat kind.
	errUnknownRepeat = errors.New("unknown repeat kind")
	// errUnknownWeekday is returned for an unrecognized weekday name.
	errUnknownWeekday = errors.New("unknown weekday name")
)

// weekdayNames maps config day names to time.Weekday.
//
//nolint:gochecknoglobals // Static lookup table.
var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks every declared alarm.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDirname
	}

	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}

	if cfg.SnoozeMinutes <= 0 {
		cfg.SnoozeMinutes = DefaultSnoozeMinutes
	}

	if cfg.Capability == (capability.Policy{}) {
		cfg.Capability = capability.DefaultPolicy()
	}

	for i := range cfg.Alarms {
		if _, err := cfg.Alarms[i].ToDomain(); err != nil {
			return fmt.Errorf("alarm %d (%s): %w", i, cfg.Alarms[i].ID, err)
		}
	}

	return nil
}

// ToDomain converts the YAML alarm shape into the engine's domain config.
func (s *AlarmSpec) ToDomain() (*domain.Config, error) {
	start, err := domain.ParseTimeOfDay(s.Start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	end, err := domain.ParseTimeOfDay(s.End)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	repeat, err := parseRepeat(s.Repeat, s.Days)
	if err != nil {
		return nil, err
	}

	cfg := &domain.Config{
		ID:           s.ID,
		Start:        start,
		End:          end,
		Repeat:       repeat,
		Enabled:      !s.Disabled,
		SoundProfile: s.Sound,
		Haptics:      s.Haptics,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseRepeat resolves the repeat kind and weekday list.
func parseRepeat(kind string, days []string) (domain.Repeat, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "none":
		return domain.Repeat{Kind: domain.RepeatNone}, nil
	case "daily":
		return domain.Repeat{Kind: domain.RepeatDaily}, nil
	case "weekdays":
		mask, err := parseDays(days)
		if err != nil {
			return domain.Repeat{}, err
		}

		return domain.Repeat{Kind: domain.RepeatWeekdays, Days: mask}, nil
	default:
		return domain.Repeat{}, fmt.Errorf("%w: %q", errUnknownRepeat, kind)
	}
}

// parseDays converts day names into a weekday mask.
func parseDays(days []string) (domain.WeekdayMask, error) {
	var mask domain.WeekdayMask

	for _, name := range days {
		key := strings.ToLower(strings.TrimSpace(name))
		if len(key) > 3 {
			key = key[:3]
		}

		day, ok := weekdayNames[key]
		if !ok {
			return 0, fmt.Errorf("%w: %q", errUnknownWeekday, name)
		}

		mask |= domain.MaskOf(day)
	}

	return mask, nil
}
