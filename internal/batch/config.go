package batch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// SweepEntry is one scheduled sweep in the schedule file.
type SweepEntry struct {
	Name    string `toml:"name"`
	Cron    string `toml:"cron"`
	Config  string `toml:"config"`
	Workers int    `toml:"workers"`
	Enabled bool   `toml:"enabled"`
	Notify  bool   `toml:"notify"`
}

// ScheduleFile holds all scheduled sweeps.
type ScheduleFile struct {
	Sweeps []SweepEntry `toml:"sweep"`
}

// Validate checks if the entry is valid. Workers 0 means the engine default.
func (e *SweepEntry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("sweep name is required")
	}
	if e.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(e.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if e.Config == "" {
		return fmt.Errorf("config path is required")
	}
	if e.Workers < 0 {
		return fmt.Errorf("workers cannot be negative")
	}
	return nil
}

// LoadScheduleFile loads scheduled sweeps from a TOML file. Relative config
// paths resolve against the schedule file's directory.
func LoadScheduleFile(path string) (*ScheduleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sf ScheduleFile
	if err := toml.Unmarshal(data, &sf); err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range sf.Sweeps {
		if err := sf.Sweeps[i].Validate(); err != nil {
			return nil, fmt.Errorf("sweep %d: %w", i, err)
		}
		if !filepath.IsAbs(sf.Sweeps[i].Config) {
			sf.Sweeps[i].Config = filepath.Join(base, sf.Sweeps[i].Config)
		}
	}

	return &sf, nil
}
