// Package setup implements the idempotent wizard that provisions a
// destination: it checks prerequisites, discovers or creates the secret
// item holding object-store credentials, configures the sync tool's base
// and encryption-overlay remotes, proves the overlay works end-to-end, and
// persists the resulting Destination.
package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/immich-backup/backup/internal/core/errs"
	"github.com/immich-backup/backup/internal/core/logger"
	"github.com/immich-backup/backup/internal/core/model"
	"github.com/immich-backup/backup/internal/core/ports"
)

// placeholderMarker is the substring used to flag an unfilled credential
// field. A heuristic: the spec leaves this undecided and flags it as such.
const placeholderMarker = "REPLACE"

// encryptionPasswordLength is the length of the generated encryption
// password for a new destination.
const encryptionPasswordLength = 32

// vaultName is the secret-manager vault every destination's credentials are
// stored in.
const vaultName = "Backups"

// fieldSynonyms maps each of the four credential fields every destination
// needs to both naming conventions the secret item may use.
var fieldSynonyms = map[string][]string{
	"application_key_id":  {"application_key_id", "applicationKeyId"},
	"application_key":     {"application_key", "applicationKey"},
	"bucket_name":         {"bucket_name", "bucketName"},
	"encryption_password": {"encryption_password", "encryptionPassword"},
}

// Controller runs the setup wizard described for SetupController.
type Controller struct {
	store        ports.Store
	secrets      ports.SecretClient
	driver       ports.SyncDriver
	providerType string
	logger       *zap.Logger
}

// New constructs a Controller. providerType is the sync tool's backend type
// name for the base remote (e.g. "b2", "s3").
func New(store ports.Store, secrets ports.SecretClient, driver ports.SyncDriver, providerType string) *Controller {
	return &Controller{
		store:        store,
		secrets:      secrets,
		driver:       driver,
		providerType: providerType,
		logger:       logger.Named("core.setup"),
	}
}

// Run executes the setup state machine for destinationName end to end. Every
// step is safe to re-run: steps already satisfied no-op.
func (c *Controller) Run(ctx context.Context, destinationName, bucket, remotePath string) (*model.Destination, error) {
	log := c.logger.With(zap.String("destination", destinationName))

	if err := c.checkPrerequisites(ctx); err != nil {
		return nil, err
	}

	bundle, err := c.discoverOrCreateCredentials(ctx, destinationName, bucket)
	if err != nil {
		return nil, err
	}

	if !bundle.Complete() {
		return nil, fmt.Errorf("%w: destination %q", errs.ErrCredentialsIncomplete, destinationName)
	}

	if err := c.validateCredentials(ctx, bundle); err != nil {
		return nil, err
	}
	log.Info("credentials validated against backend")

	baseRemote := destinationName + "-base"
	cryptRemote := destinationName + "-crypt"

	if err := c.configureBaseRemote(ctx, baseRemote, bundle); err != nil {
		return nil, err
	}
	log.Info("base remote configured", zap.String("remote", baseRemote))

	if err := c.configureCryptRemote(ctx, cryptRemote, baseRemote, bundle, remotePath); err != nil {
		return nil, err
	}
	log.Info("encryption overlay configured", zap.String("remote", cryptRemote))

	ok, err := c.driver.TestWrite(ctx, cryptRemote)
	if err != nil || !ok {
		return nil, errors.Join(errs.ErrTestWriteFailed, err)
	}
	log.Info("test write succeeded")

	return c.persistDestination(ctx, destinationName, bundle.BucketName, remotePath)
}

// checkPrerequisites halts setup with an actionable message if either
// external collaborator is missing or unauthenticated.
func (c *Controller) checkPrerequisites(ctx context.Context) error {
	if !c.driver.CheckInstalled(ctx) {
		return fmt.Errorf("%w: sync tool is not installed", errs.ErrPrerequisiteMissing)
	}
	if !c.secrets.CheckInstalled(ctx) {
		return fmt.Errorf("%w: secret manager is not installed", errs.ErrPrerequisiteMissing)
	}
	if !c.secrets.CheckAuthenticated(ctx) {
		return fmt.Errorf("%w: secret manager is not authenticated; run its sign-in command first", errs.ErrPrerequisiteMissing)
	}
	if err := c.driver.ValidateProvider(ctx, c.providerType); err != nil {
		return errors.Join(errs.ErrPrerequisiteMissing, err)
	}
	return nil
}

// validateCredentials proves the discovered bundle against the real backend
// before it is ever written to the sync tool's config file, so a typo'd key
// fails setup with a clear error instead of surfacing later as a broken
// remote.
func (c *Controller) validateCredentials(ctx context.Context, bundle model.CredentialBundle) error {
	options := map[string]string{
		"account": bundle.ApplicationKeyID,
		"key":     bundle.ApplicationKey,
	}
	if err := c.driver.ValidateCredentials(ctx, c.providerType, options); err != nil {
		return errors.Join(errs.ErrCredentialsIncomplete, err)
	}
	return nil
}

// discoverOrCreateCredentials reads the destination's secret item if it
// exists; otherwise it generates an encryption password, creates a
// secret-note item with placeholder credential values. Whenever the item it
// reads back still holds a REPLACE placeholder (always the case right after
// creating it), it returns ErrCredentialsIncomplete telling the user to fill
// in the placeholders and re-run setup.
func (c *Controller) discoverOrCreateCredentials(ctx context.Context, destinationName, bucket string) (model.CredentialBundle, error) {
	title := destinationName

	exists, err := c.secrets.ItemExists(ctx, vaultName, title)
	if err != nil {
		return model.CredentialBundle{}, errors.Join(errs.ErrCredentialsIncomplete, err)
	}

	if !exists {
		password, err := c.secrets.GeneratePassword(ctx, encryptionPasswordLength)
		if err != nil {
			return model.CredentialBundle{}, fmt.Errorf("generating encryption password: %w", err)
		}
		fields := map[string]string{
			"application_key_id":  placeholderMarker + "_APPLICATION_KEY_ID",
			"application_key":     placeholderMarker + "_APPLICATION_KEY",
			"bucket_name":         bucket,
			"encryption_password": password,
		}
		if err := c.secrets.CreateItem(ctx, vaultName, title, "Secure Note", fields); err != nil {
			return model.CredentialBundle{}, fmt.Errorf("creating credential item: %w", err)
		}
		c.logger.Warn("created placeholder credential item; fill in REPLACE fields and re-run setup",
			zap.String("vault", vaultName), zap.String("title", title))
	}

	raw, err := c.secrets.GetItem(ctx, vaultName, title)
	if err != nil {
		return model.CredentialBundle{}, err
	}

	bundle := model.CredentialBundle{
		ApplicationKeyID:   lookupField(raw, "application_key_id"),
		ApplicationKey:     lookupField(raw, "application_key"),
		BucketName:         lookupField(raw, "bucket_name"),
		EncryptionPassword: lookupField(raw, "encryption_password"),
	}
	if hasPlaceholder(bundle) {
		return model.CredentialBundle{}, fmt.Errorf("%w: replace the REPLACE placeholders in item %q and re-run setup", errs.ErrCredentialsIncomplete, title)
	}
	return bundle, nil
}

// lookupField accepts either naming convention for a field and returns the
// first match, or "" if neither is present.
func lookupField(fields map[string]string, canonical string) string {
	for _, name := range fieldSynonyms[canonical] {
		if v, ok := fields[name]; ok {
			return v
		}
	}
	return ""
}

// hasPlaceholder reports whether any credential field still contains the
// REPLACE marker.
func hasPlaceholder(b model.CredentialBundle) bool {
	for _, v := range []string{b.ApplicationKeyID, b.ApplicationKey, b.BucketName, b.EncryptionPassword} {
		if strings.Contains(v, placeholderMarker) {
			return true
		}
	}
	return false
}

func (c *Controller) configureBaseRemote(ctx context.Context, baseRemote string, bundle model.CredentialBundle) error {
	if err := c.driver.DeleteRemote(ctx, baseRemote); err != nil {
		c.logger.Debug("no prior base remote to delete", zap.Error(err))
	}
	options := map[string]string{
		"account": bundle.ApplicationKeyID,
		"key":     bundle.ApplicationKey,
	}
	if err := c.driver.ConfigureRemote(ctx, baseRemote, c.providerType, options); err != nil {
		return errors.Join(errs.ErrRemoteConfigurationFailed, err)
	}
	return nil
}

func (c *Controller) configureCryptRemote(ctx context.Context, cryptRemote, baseRemote string, bundle model.CredentialBundle, remotePath string) error {
	if err := c.driver.DeleteRemote(ctx, cryptRemote); err != nil {
		c.logger.Debug("no prior crypt remote to delete", zap.Error(err))
	}
	options := map[string]string{
		"remote":                    fmt.Sprintf("%s:%s%s", baseRemote, bundle.BucketName, remotePath),
		"password":                  bundle.EncryptionPassword,
		"filename_encryption":       "standard",
		"directory_name_encryption": "true",
	}
	if err := c.driver.ConfigureRemote(ctx, cryptRemote, "crypt", options); err != nil {
		return errors.Join(errs.ErrRemoteConfigurationFailed, err)
	}
	return nil
}

// persistDestination inserts the Destination row unless one of this name
// already exists, making the step idempotent across repeated setup runs.
func (c *Controller) persistDestination(ctx context.Context, name, bucket, remotePath string) (*model.Destination, error) {
	existing, err := c.store.GetDestination(ctx, name)
	if err == nil {
		return existing, nil
	}

	if _, err := c.store.CreateDestination(ctx, name, model.DestinationTypeObjectStoreEncrypted, bucket, remotePath); err != nil {
		return nil, fmt.Errorf("persisting destination: %w", err)
	}
	return c.store.GetDestination(ctx, name)
}

var _ ports.SetupController = (*Controller)(nil)
