package secretclient

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOp writes a shell script standing in for the op binary, so tests can
// drive Client against scripted output instead of a real signed-in session.
func fakeOp(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary scripts are POSIX shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "op")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestCheckInstalled_NotFound(t *testing.T) {
	c := NewClient("definitely-not-a-real-binary-xyz")
	assert.False(t, c.CheckInstalled(context.Background()))
}

func TestCheckInstalled_Found(t *testing.T) {
	c := NewClient(fakeOp(t, "exit 0\n"))
	assert.True(t, c.CheckInstalled(context.Background()))
}

func TestCheckAuthenticated_Success(t *testing.T) {
	c := NewClient(fakeOp(t, `echo '{"email":"test@example.com"}'`))
	assert.True(t, c.CheckAuthenticated(context.Background()))
}

func TestCheckAuthenticated_Failure(t *testing.T) {
	c := NewClient(fakeOp(t, "exit 1\n"))
	assert.False(t, c.CheckAuthenticated(context.Background()))
}

func TestGetItem_Success(t *testing.T) {
	c := NewClient(fakeOp(t, `echo '{"fields":[{"label":"applicationKeyId","value":"abc123"},{"label":"applicationKey","value":"secret"}]}'`))

	fields, err := c.GetItem(context.Background(), "Backups", "media-backup")
	require.NoError(t, err)
	assert.Equal(t, "abc123", fields["applicationKeyId"])
	assert.Equal(t, "secret", fields["applicationKey"])
}

func TestGetItem_NotFound(t *testing.T) {
	c := NewClient(fakeOp(t, "echo 'item not found' >&2; exit 1\n"))

	_, err := c.GetItem(context.Background(), "Backups", "missing")
	assert.Error(t, err)
}

func TestItemExists(t *testing.T) {
	c := NewClient(fakeOp(t, `echo '{"fields":[]}'`))
	exists, err := c.ItemExists(context.Background(), "Backups", "media-backup")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestItemExists_False(t *testing.T) {
	c := NewClient(fakeOp(t, "exit 1\n"))
	exists, err := c.ItemExists(context.Background(), "Backups", "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateItem(t *testing.T) {
	c := NewClient(fakeOp(t, "exit 0\n"))
	err := c.CreateItem(context.Background(), "Backups", "media-backup", "API Credential", map[string]string{
		"applicationKeyId": "abc123",
	})
	assert.NoError(t, err)
}

func TestGeneratePassword(t *testing.T) {
	c := NewClient(fakeOp(t, `echo '{"fields":[{"label":"password","value":"generated-secret"}]}'`))
	pw, err := c.GeneratePassword(context.Background(), 32)
	require.NoError(t, err)
	assert.Equal(t, "generated-secret", pw)
}
