package rclone

import (
	"context"
	"fmt"

	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/config/configmap"
)

// TestRemote verifies if the remote configuration is valid by attempting to create the Fs
// and doing a lightweight check.
func TestRemote(ctx context.Context, providerName string, params map[string]string) error {
	regItem, err := fs.Find(providerName)
	if err != nil {
		return fmt.Errorf("provider %q not found: %w", providerName, err)
	}

	// Create a ConfigMap from the params
	m := fs.ConfigMap("", regItem.Options, "", configmap.Simple(params))

	// regItem.NewFs doesn't persist config. It creates an Fs instance from arguments.
	// This is exactly what we want for testing without saving.
	// The `name` here is a temporary name for the instance, can be empty.
	// The `root` is empty for the root of the bucket/drive.
	f, err := regItem.NewFs(ctx, "", "", m)
	if err != nil {
		return fmt.Errorf("failed to initialize backend: %w", err)
	}

	// Double check connectivity by listing the root.
	// Some backends initialize without error but fail on the first API call.
	_, err = f.List(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list root of remote: %w", err)
	}

	return nil
}

// TestConfiguredRemote verifies that a remote already saved to the rclone
// config file is reachable, by building its Fs from the persisted
// configuration (rather than from in-memory params) and listing its root.
func TestConfiguredRemote(ctx context.Context, remoteName string) error {
	f, err := fs.NewFs(ctx, remoteName+":")
	if err != nil {
		return fmt.Errorf("failed to initialize remote %q: %w", remoteName, err)
	}
	if _, err := f.List(ctx, ""); err != nil {
		return fmt.Errorf("failed to list root of remote %q: %w", remoteName, err)
	}
	return nil
}
