/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/immich-backup/backup/internal/core/config"
	"github.com/immich-backup/backup/internal/core/db"
	"github.com/immich-backup/backup/internal/core/errs"
	"github.com/immich-backup/backup/internal/core/logger"
	"github.com/immich-backup/backup/internal/core/model"
	"github.com/immich-backup/backup/internal/core/paths"
	"github.com/immich-backup/backup/internal/core/ports"
	"github.com/immich-backup/backup/internal/core/scheduler"
	"github.com/immich-backup/backup/internal/core/setup"
	"github.com/immich-backup/backup/internal/rclone"
	"github.com/immich-backup/backup/internal/secretclient"
)

var (
	flagCheck      bool
	flagSetup      bool
	flagStatus     bool
	flagReset      bool
	flagTo         string
	flagForce      bool
	flagDryRun     bool
	flagBucket     string
	flagRemotePath string
	flagYes        bool
)

// rootCmd is the single backup command described by the CLI surface: every
// mode is an orthogonal flag rather than a cobra subcommand.
var rootCmd = &cobra.Command{
	Use:   "backup",
	Short: "Encrypted, resumable, offsite backup of the media-server data tree",
	RunE:  runBackup,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&flagCheck, "check", false, "run prerequisite diagnostics and exit")
	rootCmd.Flags().BoolVar(&flagSetup, "setup", false, "run the setup wizard for the selected destination")
	rootCmd.Flags().BoolVar(&flagStatus, "status", false, "print a status report for the selected destination")
	rootCmd.Flags().BoolVar(&flagReset, "reset", false, "drop all job rows for the selected destination")
	rootCmd.Flags().StringVar(&flagTo, "to", "b2", "select a named destination")
	rootCmd.Flags().BoolVar(&flagForce, "force", false, "suppress stale-job protection")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "pass dry-run semantics to the sync tool")
	rootCmd.Flags().StringVar(&flagBucket, "bucket", "", "object-store bucket name (required with --setup for a new destination)")
	rootCmd.Flags().StringVar(&flagRemotePath, "remote-path", "", "path prefix inside the bucket (used with --setup)")
	rootCmd.Flags().BoolVar(&flagYes, "yes", false, "skip the confirmation prompt for --reset")
}

func runBackup(cmd *cobra.Command, args []string) error {
	config.InitConfig(".")
	cfg := config.Cfg

	logger.InitLogger(logger.Environment(cfg.App.Environment), logger.LogLevel(cfg.Log.Level), cfg.Log.Levels, cfg.Log.File)
	defer logger.Sync()
	log := logger.Named("cmd.backup")

	rclone.SetupLogLevel(cfg.Log.Level)

	store, err := db.InitDB(db.InitDBOptions{
		DSN:           db.FileSDN(cfg.Database.Path),
		MigrationMode: db.ParseMigrationMode(cfg.Database.MigrationMode),
		Environment:   cfg.App.Environment,
	})
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		return err
	}
	defer db.CloseDB(store)

	driver := rclone.NewDriver("rclone", rclone.NewParser())
	secrets := secretclient.NewClient("op")

	if flagCheck {
		return runCheck(cmd.Context(), driver, secrets)
	}

	if flagSetup {
		return runSetup(cmd.Context(), store, secrets, driver)
	}

	dest, err := store.GetDestination(cmd.Context(), flagTo)
	if err != nil {
		log.Error("destination not found; run with --setup first", zap.String("destination", flagTo))
		return err
	}

	if flagReset {
		return runReset(cmd.Context(), store, dest)
	}

	if flagStatus {
		return runStatus(cmd.Context(), store, dest)
	}

	return runBackupJobs(cmd.Context(), store, driver, cfg, dest)
}

func runCheck(ctx context.Context, driver ports.SyncDriver, secrets ports.SecretClient) error {
	log := logger.Named("cmd.backup.check")
	ok := true

	if !driver.CheckInstalled(ctx) {
		log.Error("sync tool is not installed")
		ok = false
	}
	if !secrets.CheckInstalled(ctx) {
		log.Error("secret manager is not installed")
		ok = false
	} else if !secrets.CheckAuthenticated(ctx) {
		log.Error("secret manager is not authenticated")
		ok = false
	}

	if err := driver.ValidateProvider(ctx, flagTo); err != nil {
		log.Error("unknown backend for --to", zap.String("to", flagTo), zap.Error(err))
		ok = false
	}

	if !ok {
		return errs.ErrPrerequisiteMissing
	}

	if info, err := driver.RemoteInfo(ctx, flagTo+"-base"); err == nil {
		fmt.Printf("base remote %q configured (type=%s, remote=%s)\n", info.Name, info.Type, info.Remote)
	}
	if info, err := driver.RemoteInfo(ctx, flagTo+"-crypt"); err == nil {
		fmt.Printf("encryption overlay %q configured (type=%s, remote=%s)\n", info.Name, info.Type, info.Remote)
	}

	fmt.Println("all prerequisites satisfied")
	return nil
}

func runSetup(ctx context.Context, store ports.Store, secrets ports.SecretClient, driver ports.SyncDriver) error {
	// The destination name doubles as its sync-tool backend type (b2, s3, ...),
	// matching the --to flag's default of "b2" itself being a real backend name.
	ctrl := setup.New(store, secrets, driver, flagTo)
	dest, err := ctrl.Run(ctx, flagTo, flagBucket, flagRemotePath)
	if err != nil {
		return err
	}
	fmt.Printf("destination %q ready (bucket=%s)\n", dest.Name, dest.Bucket)
	return nil
}

func runReset(ctx context.Context, store ports.Store, dest *model.Destination) error {
	if !flagYes && !confirmReset(dest.Name) {
		fmt.Println("reset cancelled")
		return nil
	}
	if err := store.ResetJobs(ctx, dest.ID); err != nil {
		return err
	}
	fmt.Printf("job history for %q cleared\n", dest.Name)
	return nil
}

// confirmReset prompts on stdin before a destructive --reset, since it
// permanently drops every job row (including completed history) for the
// destination. --yes bypasses this for non-interactive use.
func confirmReset(destinationName string) bool {
	fmt.Printf("this will permanently delete all job history for %q. continue? [y/N] ", destinationName)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func runStatus(ctx context.Context, store ports.Store, dest *model.Destination) error {
	jobs, err := store.ListJobs(ctx, dest.ID)
	if err != nil {
		return err
	}
	fmt.Printf("destination %s (last backup: %v)\n", dest.Name, dest.LastBackupAt)
	for _, j := range jobs {
		fmt.Printf("  [%s] %s priority=%d %.1f%% retries=%d\n",
			j.Status, j.SourcePath, j.Priority, j.CompletionPercentage(), j.RetryCount)
	}
	return nil
}

func runBackupJobs(ctx context.Context, store ports.Store, driver ports.SyncDriver, cfg config.Config, dest *model.Destination) error {
	log := logger.Named("cmd.backup.run")

	found := paths.Discover(cfg.Backup.ImmichPath)
	if len(found) == 0 {
		return fmt.Errorf("%w: no source paths found under %s", errs.ErrConfigurationMissing, cfg.Backup.ImmichPath)
	}

	existing, err := store.ListJobs(ctx, dest.ID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, j := range existing {
		seen[j.SourcePath] = true
	}
	for _, sp := range found {
		if seen[sp.Path] {
			continue
		}
		if _, err := store.CreateJob(ctx, dest.ID, sp.Path, sp.Priority); err != nil {
			return err
		}
	}

	sched := scheduler.New(store, driver, nil, cfg.Backup.MaxRetries, cfg.Backup.StatsInterval)
	err = sched.Run(ctx, dest.ID, flagForce, flagDryRun)
	if scheduler.IsStaleErr(err) {
		log.Warn("stale job detected; re-run with --force or --reset")
		return err
	}
	return err
}
