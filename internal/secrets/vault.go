package secrets

import (
	"context"
	"fmt"
	"net/http"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/dentalytics/dentasync/internal/config"
)

// VaultManager implements SecretManager against HashiCorp Vault KV v2.
type VaultManager struct {
	client *vault.Client
	cfg    *config.Config
	logger *zap.Logger
}

func NewVaultManager(cfg *config.Config, baseLogger *zap.Logger) (*VaultManager, error) {
	log := baseLogger.Named("vault-manager")
	if !cfg.VaultEnabled {
		log.Info("Vault secret manager is disabled via configuration")
		return &VaultManager{cfg: cfg, logger: log}, nil
	}

	log.Info("Initializing Vault secret manager", zap.String("address", cfg.VaultAddr))

	vConfig := vault.DefaultConfig()
	vConfig.Address = cfg.VaultAddr
	vConfig.Timeout = 10 * time.Second

	tlsConfig := &vault.TLSConfig{
		CACert:   cfg.VaultCACert,
		Insecure: cfg.VaultSkipVerify,
	}
	if err := vConfig.ConfigureTLS(tlsConfig); err != nil {
		return nil, fmt.Errorf("configure Vault TLS: %w", err)
	}

	client, err := vault.NewClient(vConfig)
	if err != nil {
		return nil, fmt.Errorf("create Vault client: %w", err)
	}

	if cfg.VaultToken != "" {
		client.SetToken(cfg.VaultToken)
	} else {
		log.Warn("Vault is enabled but no VAULT_TOKEN provided; other auth methods are not implemented")
	}

	return &VaultManager{
		client: client,
		cfg:    cfg,
		logger: log,
	}, nil
}

func (m *VaultManager) IsEnabled() bool {
	return m.cfg != nil && m.cfg.VaultEnabled && m.client != nil
}

// GetCredentials reads a KV v2 secret. The password is mandatory; the
// username falls back to the static config value when the secret omits it.
func (m *VaultManager) GetCredentials(ctx context.Context, path, usernameKey, passwordKey string) (*Credentials, error) {
	if !m.IsEnabled() {
		return nil, fmt.Errorf("Vault manager is not enabled or not initialized")
	}
	if path == "" {
		return nil, fmt.Errorf("Vault secret path cannot be empty")
	}
	if usernameKey == "" {
		usernameKey = "username"
	}
	if passwordKey == "" {
		passwordKey = "password"
	}

	log := m.logger.With(zap.String("vault_path", path))

	secret, err := m.client.KVv2("secret").Get(ctx, path)
	if err != nil {
		if vaultErr, ok := err.(*vault.ResponseError); ok && vaultErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("secret %q not found in Vault: %w", path, err)
		}
		return nil, fmt.Errorf("read secret %q from Vault: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret data for %q is empty", path)
	}

	passwordVal, pOk := secret.Data[passwordKey]
	if !pOk || passwordVal == nil {
		return nil, fmt.Errorf("password key %q not found in secret %q", passwordKey, path)
	}
	password, pStrOk := passwordVal.(string)
	if !pStrOk || password == "" {
		return nil, fmt.Errorf("password value for key %q in secret %q is not a non-empty string", passwordKey, path)
	}

	username := ""
	if usernameVal, uOk := secret.Data[usernameKey]; uOk && usernameVal != nil {
		username, _ = usernameVal.(string)
	}

	log.Info("Retrieved credentials from Vault")
	return &Credentials{
		Username: username,
		Password: password,
	}, nil
}
