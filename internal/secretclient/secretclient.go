// Package secretclient wraps the external secret-manager command-line tool
// ("op") to read and create the credentials the backup destinations need.
// Every invocation runs as a short-lived subprocess; no secret value is ever
// logged or persisted by this package.
package secretclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	"github.com/immich-backup/backup/internal/core/errs"
)

// Client shells out to the op CLI for every operation, the same
// stdout/stderr-buffer-then-check pattern used for external tool
// invocations throughout this codebase.
type Client struct {
	binary string
}

// NewClient returns a Client that invokes the named binary (usually just
// "op", resolved via PATH).
func NewClient(binary string) *Client {
	if binary == "" {
		binary = "op"
	}
	return &Client{binary: binary}
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %v: %w: %s", c.binary, args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// CheckInstalled reports whether the op binary is on PATH.
func (c *Client) CheckInstalled(ctx context.Context) bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

// CheckAuthenticated reports whether op has a valid signed-in session by
// running a lightweight whoami call.
func (c *Client) CheckAuthenticated(ctx context.Context) bool {
	_, err := c.run(ctx, "whoami", "--format=json")
	return err == nil
}

type itemField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type item struct {
	Fields []itemField `json:"fields"`
}

// GetItem reads an item's fields by vault and title, returning a
// label-to-value map. Labels are matched exactly, case-sensitively, as op
// itself does.
func (c *Client) GetItem(ctx context.Context, vault, title string) (map[string]string, error) {
	out, err := c.run(ctx, "item", "get", title, "--vault", vault, "--format=json")
	if err != nil {
		return nil, errs.ErrCredentialsIncomplete
	}

	var it item
	if err := json.Unmarshal(out, &it); err != nil {
		return nil, fmt.Errorf("decoding item %q: %w", title, err)
	}

	fields := make(map[string]string, len(it.Fields))
	for _, f := range it.Fields {
		if f.Label != "" {
			fields[f.Label] = f.Value
		}
	}
	return fields, nil
}

// ItemExists reports whether an item with the given title exists in vault,
// without surfacing its field values.
func (c *Client) ItemExists(ctx context.Context, vault, title string) (bool, error) {
	_, err := c.run(ctx, "item", "get", title, "--vault", vault, "--format=json")
	if err != nil {
		return false, nil
	}
	return true, nil
}

// CreateItem creates a new item of category in vault with the given fields.
func (c *Client) CreateItem(ctx context.Context, vault, title, category string, fields map[string]string) error {
	args := []string{"item", "create", "--vault", vault, "--title", title, "--category", category}
	for label, value := range fields {
		args = append(args, fmt.Sprintf("%s[text]=%s", label, value))
	}
	_, err := c.run(ctx, args...)
	if err != nil {
		return errors.Join(errs.ErrCredentialsIncomplete, err)
	}
	return nil
}

// GeneratePassword asks op to generate a high-entropy password of the given
// length, so the encryption password a destination uses is never chosen by
// this process.
func (c *Client) GeneratePassword(ctx context.Context, length int) (string, error) {
	out, err := c.run(ctx, "item", "create", "--category", "password",
		"--generate-password", fmt.Sprintf("length=%d,letters,digits,symbols", length),
		"--title", "backup-password-scratch", "--format=json")
	if err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}

	var created struct {
		Fields []itemField `json:"fields"`
	}
	if err := json.Unmarshal(out, &created); err != nil {
		return "", fmt.Errorf("decoding generated password: %w", err)
	}
	for _, f := range created.Fields {
		if f.Label == "password" {
			return f.Value, nil
		}
	}
	return "", fmt.Errorf("generated item had no password field")
}
