package rclone

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/uuid"

	"github.com/immich-backup/backup/internal/core/model"
	"github.com/immich-backup/backup/internal/core/ports"
)

// Driver is the production ports.SyncDriver: remote management (configure,
// delete, list, connection test) goes through rclone-as-a-library so the
// config file is mutated in-process; the actual transfer shells out to the
// rclone binary so a long-running sync can be cancelled and its progress
// streamed line by line, independent of this process's own lifetime.
type Driver struct {
	binary string
	parser ports.ProgressParser
}

// NewDriver returns a Driver that invokes the named rclone binary (usually
// just "rclone", resolved via PATH) for transfers, and parses its
// diagnostic stream with parser.
func NewDriver(binary string, parser ports.ProgressParser) *Driver {
	if binary == "" {
		binary = "rclone"
	}
	return &Driver{binary: binary, parser: parser}
}

func (d *Driver) CheckInstalled(ctx context.Context) bool {
	_, err := exec.LookPath(d.binary)
	return err == nil
}

func (d *Driver) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, d.binary, "version")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("rclone version: %w", err)
	}
	lines := strings.SplitN(string(out), "\n", 2)
	return strings.TrimSpace(lines[0]), nil
}

func (d *Driver) ListRemotes(ctx context.Context) ([]string, error) {
	return ListRemotes(), nil
}

func (d *Driver) ConfigureRemote(ctx context.Context, name, typ string, options map[string]string) error {
	params := make(map[string]string, len(options)+1)
	for k, v := range options {
		params[k] = v
	}
	params["type"] = typ
	return CreateRemote(name, params)
}

func (d *Driver) DeleteRemote(ctx context.Context, name string) error {
	return DeleteRemote(name)
}

func (d *Driver) TestConnection(ctx context.Context, remote string) (bool, error) {
	if err := TestConfiguredRemote(ctx, remote); err != nil {
		return false, err
	}
	return true, nil
}

// ValidateProvider confirms providerType resolves to a backend this rclone
// build actually registers, ahead of --setup or --check trying to use it.
func (d *Driver) ValidateProvider(ctx context.Context, providerType string) error {
	return findProvider(providerType)
}

// ValidateCredentials proves a set of not-yet-persisted credentials against
// the real backend by building an in-memory Fs from them, without writing
// anything to the sync tool's config file.
func (d *Driver) ValidateCredentials(ctx context.Context, providerType string, options map[string]string) error {
	return TestRemote(ctx, providerType, options)
}

// RemoteInfo returns the persisted type and backing remote of an
// already-configured remote.
func (d *Driver) RemoteInfo(ctx context.Context, remote string) (*model.RemoteInfo, error) {
	return GetRemoteInfo(remote)
}

// TestWrite writes a small probe object under a uuid-named path and deletes
// it again, proving the remote accepts writes (not just reads) before a
// destination is considered usable.
func (d *Driver) TestWrite(ctx context.Context, remote string) (bool, error) {
	probeName := fmt.Sprintf(".backup-probe-%s", uuid.NewString())
	target := fmt.Sprintf("%s:%s", remote, probeName)

	writeCmd := exec.CommandContext(ctx, d.binary, "rcat", target)
	writeCmd.Stdin = strings.NewReader("backup connectivity probe\n")
	var stderr bytes.Buffer
	writeCmd.Stderr = &stderr
	if err := writeCmd.Run(); err != nil {
		return false, fmt.Errorf("test write failed: %w: %s", err, stderr.String())
	}

	deleteCmd := exec.CommandContext(ctx, d.binary, "deletefile", target)
	var delStderr bytes.Buffer
	deleteCmd.Stderr = &delStderr
	if err := deleteCmd.Run(); err != nil {
		return false, fmt.Errorf("test write probe cleanup failed: %w: %s", err, delStderr.String())
	}

	return true, nil
}

// Sync shells out to `rclone sync` and streams its use-json-log diagnostic
// lines back as parsed Progress values. The returned channels are both
// closed when the subprocess exits; the error channel is buffered and
// receives any final error before either channel closes, so a caller
// draining progress before errors never misses it.
func (d *Driver) Sync(ctx context.Context, source, destination string, dryRun bool, statsIntervalSeconds int) (<-chan model.Progress, <-chan error) {
	progressCh := make(chan model.Progress)
	errCh := make(chan error, 1)

	args := []string{
		"sync", source, destination,
		"--use-json-log",
		"--stats", fmt.Sprintf("%ds", statsIntervalSeconds),
		"--stats-one-line",
		"-v",
	}
	if dryRun {
		args = append(args, "--dry-run")
	}

	cmd := exec.CommandContext(ctx, d.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		errCh <- fmt.Errorf("creating stdout pipe: %w", err)
		close(progressCh)
		close(errCh)
		return progressCh, errCh
	}
	cmd.Stderr = cmd.Stdout

	go func() {
		defer close(progressCh)
		defer close(errCh)

		if err := cmd.Start(); err != nil {
			errCh <- fmt.Errorf("starting rclone sync: %w", err)
			return
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if progress, ok := d.parser.Parse(line); ok {
				select {
				case progressCh <- *progress:
				case <-ctx.Done():
				}
			}
		}

		waitErr := cmd.Wait()
		if scanErr := scanner.Err(); scanErr != nil {
			errCh <- fmt.Errorf("reading rclone output: %w", scanErr)
			return
		}
		if waitErr != nil {
			errCh <- fmt.Errorf("rclone sync failed: %w", waitErr)
		}
	}()

	return progressCh, errCh
}
