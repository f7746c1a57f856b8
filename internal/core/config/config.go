// Package config provides configuration management for the application.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envFileName is the conventional key=value file the backup command walks
// parent directories to find, the way the teacher's config locates its TOML
// file from the cwd.
const envFileName = ".backup.env"

// Config represents the application configuration structure. Unlike the
// teacher's TOML-backed struct, every field here is sourced from a single
// key=value file plus BACKUP_-prefixed environment variable overrides.
type Config struct {
	Database struct {
		Path          string `mapstructure:"path"`
		MigrationMode string `mapstructure:"migration_mode"`
	} `mapstructure:"database"`
	Rclone struct {
		ConfigPath string `mapstructure:"config_path"`
	} `mapstructure:"rclone"`
	Log struct {
		Level  string            `mapstructure:"level"`
		Levels map[string]string `mapstructure:"-"`
		File   string            `mapstructure:"file"`
	} `mapstructure:"log"`
	App struct {
		DataDir     string `mapstructure:"data_dir"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"app"`
	Backup struct {
		ImmichPath    string `mapstructure:"immich_path"`
		StatsInterval int    `mapstructure:"stats_interval"`
		MaxRetries    int    `mapstructure:"max_retries"`
	} `mapstructure:"backup"`
}

// Cfg is the global configuration instance.
var Cfg Config

// InitConfig initializes the application configuration by walking up from
// startDir to find envFileName, loading its key=value pairs as defaults, and
// letting any BACKUP_-prefixed process environment variable override them.
// It exits the process on a configuration error, matching the teacher's
// InitConfig fail-fast style; callers that need the error returned for
// testing should use Load instead.
func InitConfig(startDir string) {
	cfg, err := Load(startDir)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}
	Cfg = *cfg
}

// Load locates and parses envFileName starting at startDir and walking up
// to the filesystem root, applies defaults, and overlays BACKUP_-prefixed
// environment variables. The environment variable for a setting is BACKUP_
// followed by its dotted key with dots as underscores (BACKUP_LOG_LEVEL for
// log.level, BACKUP_BACKUP_MAX_RETRIES for backup.max_retries), so not every
// name matches the file's key. It returns an error instead of exiting, so tests
// and --check can handle a missing data tree or path explicitly.
func Load(startDir string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BACKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	envPath, found := findEnvFile(startDir)
	fileVars := map[string]string{}
	if found {
		vars, err := parseEnvFile(envPath)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", envPath, err)
		}
		fileVars = vars
		v.Set("app.data_dir", filepath.Dir(envPath))
	}

	for key, val := range fileVars {
		switch key {
		case "BACKUP_IMMICH_PATH":
			v.SetDefault("backup.immich_path", val)
		case "BACKUP_STATS_INTERVAL":
			if n, err := strconv.Atoi(val); err == nil {
				v.SetDefault("backup.stats_interval", n)
			}
		case "BACKUP_MAX_RETRIES":
			if n, err := strconv.Atoi(val); err == nil {
				v.SetDefault("backup.max_retries", n)
			}
		case "BACKUP_LOG_LEVEL":
			v.SetDefault("log.level", val)
		case "BACKUP_DATABASE_PATH":
			v.SetDefault("database.path", val)
		case "BACKUP_RCLONE_CONFIG_PATH":
			v.SetDefault("rclone.config_path", val)
		case "BACKUP_ENVIRONMENT":
			v.SetDefault("app.environment", val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Log.Levels = hierarchicalLogLevels(fileVars)

	if cfg.Backup.ImmichPath == "" {
		return nil, fmt.Errorf("%s: BACKUP_IMMICH_PATH is required", envFileName)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "backup.db")
	v.SetDefault("database.migration_mode", "versioned")
	v.SetDefault("rclone.config_path", "rclone.conf")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "backup.log")
	v.SetDefault("app.data_dir", ".")
	v.SetDefault("app.environment", "production")
	v.SetDefault("backup.stats_interval", 60)
	v.SetDefault("backup.max_retries", 3)
}

// findEnvFile walks from startDir up to the filesystem root looking for
// envFileName, mirroring how the teacher resolves its config file relative
// to the working directory but extended to parent directories since the
// backup command may be invoked from anywhere under the data tree.
func findEnvFile(startDir string) (string, bool) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(dir, envFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// parseEnvFile reads simple KEY=VALUE lines, skipping blank lines and lines
// starting with '#'. Surrounding single or double quotes are stripped from a
// value; no escaping or interpolation is supported.
func parseEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		vars[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(val), `"'`)
	}
	return vars, scanner.Err()
}

// hierarchicalLogLevels extracts BACKUP_LOG_LEVEL_<DOTTED_NAME> entries into
// the map consumed by logger.InitLevelConfig, e.g.
// BACKUP_LOG_LEVEL_SCHEDULER_SYNC=debug becomes "scheduler.sync" -> "debug".
func hierarchicalLogLevels(vars map[string]string) map[string]string {
	const prefix = "BACKUP_LOG_LEVEL_"
	levels := make(map[string]string)
	for key, val := range vars {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		name := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, prefix), "_", "."))
		if name != "" {
			levels[name] = val
		}
	}
	return levels
}
