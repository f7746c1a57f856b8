package rclone

import (
	_ "github.com/rclone/rclone/backend/all" // registers every backend so fs.Find can resolve a provider name
	"github.com/rclone/rclone/fs"
)

// findProvider reports whether providerName is a backend rclone's build
// knows how to instantiate, the check behind ValidateProvider.
func findProvider(providerName string) error {
	_, err := fs.Find(providerName)
	return err
}
