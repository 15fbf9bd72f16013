package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		Device
		Library
		Transfer
		Reports
		Watch
	}

	Device struct {
		Path         string // device mount point
		DatabasePath string // content database, relative to Path
		SDCard       string // removable-storage mount point
	}
	Library struct {
		DatabasePath        string
		Paths               []string
		TransferableFormats []string
	}
	Transfer struct {
		SettleDelay time.Duration // pause after each copy before re-reading free space
	}
	Reports struct {
		Dir           string
		RetentionDays int // Days to keep run reports (default: 30)
	}
	Watch struct {
		Schedule string // Cron format: "*/15 * * * *" = every 15 minutes
	}
)

// NewConfig loads the configuration from the given directory, falling back
// to <user config dir>/kobomanager when empty. Environment variables
// override file values. A missing file is created from the defaults, with
// currently mounted devices filled in where they can be discovered.
func NewConfig(configDir string) (*Config, error) {
	if configDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate the user config directory: %w", err)
		}
		configDir = filepath.Join(base, "kobomanager")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate the home directory: %w", err)
	}
	username := currentUsername()

	v := viper.New()
	v.AutomaticEnv()
	v.SetConfigName("kobomanager")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetDefault("device_path", filepath.Join("/run/media", username, DefaultDeviceLabel))
	v.SetDefault("device_database", DefaultDeviceDatabasePath)
	v.SetDefault("device_sdcard", filepath.Join("/run/media", username, DefaultSDCardLabel))
	v.SetDefault("library_database", filepath.Join(configDir, LibraryDatabaseName))
	v.SetDefault("library_paths", []string{"~/Documents"})
	v.SetDefault("transferable_formats", []string{"epub", "mobi", "azw3", "cbz", "pdf"})
	v.SetDefault("transfer_settle_delay", "1s")
	v.SetDefault("report_dir", filepath.Join(configDir, "reports"))
	v.SetDefault("report_retention_days", 30)
	v.SetDefault("watch_schedule", "*/15 * * * *")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// First run: pick up whatever is mounted right now and write an
		// editable config file.
		roots := mountRoots(username)
		if devicePath := FindDevicePath(roots); devicePath != "" {
			v.SetDefault("device_path", devicePath)
		}
		if sdcard := FindSDCardPath(roots); sdcard != "" {
			v.SetDefault("device_sdcard", sdcard)
		}
		if err := writeDefaultConfig(v, configDir); err != nil {
			log.Printf("WARNING: failed to write default config file: %v", err)
		}
	}

	return &Config{
		Device: Device{
			Path:         v.GetString("DEVICE_PATH"),
			DatabasePath: v.GetString("DEVICE_DATABASE"),
			SDCard:       v.GetString("DEVICE_SDCARD"),
		},
		Library: Library{
			DatabasePath:        expandHome(home, v.GetString("LIBRARY_DATABASE")),
			Paths:               expandHomeAll(home, v.GetStringSlice("LIBRARY_PATHS")),
			TransferableFormats: v.GetStringSlice("TRANSFERABLE_FORMATS"),
		},
		Transfer: Transfer{
			SettleDelay: v.GetDuration("TRANSFER_SETTLE_DELAY"),
		},
		Reports: Reports{
			Dir:           expandHome(home, v.GetString("REPORT_DIR")),
			RetentionDays: v.GetInt("REPORT_RETENTION_DAYS"),
		},
		Watch: Watch{
			Schedule: v.GetString("WATCH_SCHEDULE"),
		},
	}, nil
}

// Validate rejects configurations no run could use.
func (c *Config) Validate() error {
	if c.Device.Path == "" || c.Device.SDCard == "" {
		return errors.New("device paths must not be empty")
	}
	if len(c.Library.Paths) == 0 {
		return errors.New("no library paths configured")
	}
	if len(c.Library.TransferableFormats) == 0 {
		return errors.New("no transferable formats configured")
	}
	return nil
}

func writeDefaultConfig(v *viper.Viper, configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(configDir, ConfigFileName)
	if err := v.SafeWriteConfigAs(path); err != nil {
		return err
	}
	log.Printf("Created default config file: %s", path)
	return nil
}

func mountRoots(username string) []string {
	return []string{
		filepath.Join("/run/media", username),
		filepath.Join("/media", username),
	}
}

// FindDevicePath looks for a mounted Kobo beneath the given mount roots,
// identified by its .kobo directory.
func FindDevicePath(roots []string) string {
	for _, root := range roots {
		matches, err := filepath.Glob(filepath.Join(root, DefaultDeviceLabel, ".kobo"))
		if err == nil && len(matches) > 0 {
			return filepath.Dir(matches[0])
		}
	}
	return ""
}

// FindSDCardPath looks for a mounted SD card beneath the given mount
// roots. FAT volumes mount under their serial-style label, which carries
// a dash.
func FindSDCardPath(roots []string) string {
	for _, root := range roots {
		matches, err := filepath.Glob(filepath.Join(root, "*-*"))
		if err == nil && len(matches) > 0 {
			return matches[0]
		}
	}
	return ""
}

// expandHome resolves a leading ~ against the home directory.
func expandHome(home, path string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func expandHomeAll(home string, paths []string) []string {
	expanded := make([]string, len(paths))
	for i, p := range paths {
		expanded[i] = expandHome(home, p)
	}
	return expanded
}

func currentUsername() string {
	u, err := user.Current()
	if err != nil {
		return os.Getenv("USER")
	}
	return u.Username
}
