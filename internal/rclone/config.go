package rclone

import (
	"context"
	"fmt"
	"slices"

	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/config"
	"github.com/rclone/rclone/fs/config/configfile"
	appConfig "github.com/immich-backup/backup/internal/core/config"
	"github.com/immich-backup/backup/internal/core/model"
)

// InitConfig initializes the rclone configuration: where its config file
// lives and the in-process library log level, which must track the
// application's own log level since rclone's library diagnostics feed the
// same log destination.
func InitConfig(configPath string) {
	config.SetConfigPath(configPath)
	configfile.Install()
	SetupLogLevel(appConfig.Cfg.Log.Level)
}

// SetupLogLevel maps the application's log level onto rclone's fs.LogLevel.
// Unknown or unset levels fall back to Notice, rclone's default verbosity.
func SetupLogLevel(level string) {
	var rcloneLevel fs.LogLevel
	switch level {
	case "debug":
		rcloneLevel = fs.LogLevelDebug
	case "info":
		rcloneLevel = fs.LogLevelInfo
	case "warn":
		rcloneLevel = fs.LogLevelNotice
	case "error":
		rcloneLevel = fs.LogLevelError
	default:
		rcloneLevel = fs.LogLevelNotice
	}
	fs.GetConfig(context.Background()).LogLevel = rcloneLevel
}

// ListRemotes lists all configured rclone remotes.
func ListRemotes() []string {
	return config.GetRemoteNames()
}

// GetRemoteInfo reads the persisted type and backing remote of a configured
// remote, for --check diagnostics. It deliberately surfaces only
// these two keys rather than the whole section: a remote's other keys can
// hold credential values, and a diagnostic surface must never risk printing
// a secret to a log or terminal.
func GetRemoteInfo(remoteName string) (*model.RemoteInfo, error) {
	sections := config.FileSections()
	if !slices.Contains(sections, remoteName) {
		return nil, fmt.Errorf("remote %q not found", remoteName)
	}

	info := &model.RemoteInfo{Name: remoteName}
	if val, ok := config.FileGetValue(remoteName, "type"); ok {
		info.Type = val
	}
	if val, ok := config.FileGetValue(remoteName, "remote"); ok {
		info.Remote = val
	}
	return info, nil
}

// CreateRemote creates or updates a remote with the given parameters,
// including "type". An empty value deletes that key instead of writing it,
// so re-running setup with a changed credential overwrites cleanly.
func CreateRemote(remoteName string, params map[string]string) error {
	for key, value := range params {
		if value == "" {
			config.FileDeleteKey(remoteName, key)
			continue
		}
		config.FileSetValue(remoteName, key, value)
	}
	config.SaveConfig()
	return nil
}

// DeleteRemote deletes a remote.
func DeleteRemote(remoteName string) error {
	config.DeleteRemote(remoteName)
	return nil
}
