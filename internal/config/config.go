// Package config loads printerd's two configuration layers: process
// environment variables (parsed once at startup) and the persisted
// config.json describing this restaurant, its printers, and its
// routing table.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/natefinch/atomic"

	"github.com/eatsome/printerd/internal/model"
)

// Env is the process-environment layer, parsed with no prefix since
// printerd owns its whole environment namespace (unlike its teacher,
// which shares a host process with other makerspace services).
type Env struct {
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPBindAddr string `env:"HTTP_BIND_ADDR" envDefault:"127.0.0.1:8043"`
	DisableBLE   bool   `env:"DISABLE_BLE" envDefault:"false"`
	ConfigDir    string `env:"CONFIG_DIR"`
}

// LoadEnv parses Env from the process environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parsing environment: %w", err)
	}
	if e.ConfigDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return Env{}, fmt.Errorf("resolving default config dir: %w", err)
		}
		e.ConfigDir = filepath.Join(dir, "printerd")
	}
	return e, nil
}

// QueueFile, ConfigFile, and LogFile are the files persisted under
// ConfigDir.
const (
	QueueFile  = "jobs.db"
	ConfigFile = "config.json"
	LogFile    = "printerd.log"
)

const currentVersion = 1

// File is the persisted config.json document: restaurant identity,
// the cloud credential, and the printer/routing snapshot.
type File struct {
	Version       int                       `json:"version"`
	RestaurantID  string                    `json:"restaurant_id"`
	RestaurantCode string                   `json:"restaurant_code"`
	AuthToken     string                    `json:"auth_token"`
	CloudBaseURL  string                    `json:"cloud_base_url"`
	Printers      []model.Printer           `json:"printers"`
	Routing       RoutingTable              `json:"routing"`
}

// RoutingTable is the routing half of the config document.
type RoutingTable struct {
	Groups      []model.RoutingGroup      `json:"groups"`
	Assignments []model.StationAssignment `json:"assignments"`
}

// Load reads config.json from dir. A missing file is not an error:
// callers get a File at the current version with no printers or
// routing, which the setup wizard (external) populates on first run.
func Load(dir string) (*File, error) {
	path := filepath.Join(dir, ConfigFile)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &File{Version: currentVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &f, nil
}

// Save atomically writes f to dir/config.json (write-temp + rename,
// via natefinch/atomic) so a crash mid-write never leaves a truncated
// config behind.
func Save(dir string, f *File) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	path := filepath.Join(dir, ConfigFile)
	if err := atomic.WriteFile(path, bytes.NewReader(b)); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// PrimaryAndBackups returns the printer IDs assigned to groupID, with
// the primary first (if any), followed by backups in table order.
func (t *RoutingTable) PrimaryAndBackups(groupID string) []string {
	var primary string
	var backups []string
	for _, a := range t.Assignments {
		if a.GroupID != groupID {
			continue
		}
		if a.Role == model.RolePrimary {
			primary = a.PrinterID
		} else {
			backups = append(backups, a.PrinterID)
		}
	}
	if primary == "" {
		return backups
	}
	return append([]string{primary}, backups...)
}
