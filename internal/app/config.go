package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/user"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"

	"github.com/AMathur20/rss-to-kobo/internal/callback"
	"github.com/AMathur20/rss-to-kobo/internal/credcodec"
	"github.com/AMathur20/rss-to-kobo/internal/credential"
	"github.com/AMathur20/rss-to-kobo/internal/dropbox"
	"github.com/AMathur20/rss-to-kobo/internal/observability"
	"github.com/AMathur20/rss-to-kobo/internal/secret"
	"github.com/AMathur20/rss-to-kobo/internal/tokensource"
	"github.com/AMathur20/rss-to-kobo/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = observability.FormatText
	LogFormatJSON LogFormat = observability.FormatJSON
)

// Environment selects security defaults.
type Environment string

const (
	// EnvironmentDevelopment permits the built-in development passphrase.
	EnvironmentDevelopment Environment = "development"
	// EnvironmentProduction requires an explicitly provided passphrase.
	EnvironmentProduction Environment = "production"
)

// TokenStorageType represents the different storage types supported for stored tokens.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeEnv     TokenStorageType = "env"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigEnvironment       = EnvironmentDevelopment
	DefaultConfigTelemetryExporter = observability.ExporterNone
	DefaultConfigRedirectHost      = "localhost"
	DefaultConfigRedirectPort      = 5000
	DefaultConfigRedirectPath      = callback.DefaultPath
	DefaultConfigCallbackTimeout   = callback.DefaultTimeout
	DefaultConfigExpiryBuffer      = tokensource.DefaultExpiryBuffer
	DefaultConfigStorage           = TokenStorageTypeFile
	DefaultConfigStorageEnvKey     = "DROPBOX_ACCESS_TOKEN"
	DefaultConfigPassphraseEnv     = secret.DefaultEnvKey
	DefaultConfigPassphraseService = "rss-to-kobo"
	DefaultConfigDropboxTargetDir  = "/Apps/Rakuten Kobo"
	DefaultConfigDropboxAPIURL     = dropbox.DefaultAPIBaseURL
	DefaultConfigDropboxContentURL = dropbox.DefaultContentBaseURL
	DefaultConfigOAuthAuthURL      = "https://www.dropbox.com/oauth2/authorize"
	DefaultConfigOAuthTokenURL     = "https://api.dropboxapi.com/oauth2/token"
	DefaultConfigShutdownTimeout   = 5 * time.Second
)

// TelemetryConfig holds log export configuration.
type TelemetryConfig struct {
	Exporter string `json:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
}

// OAuthConfig holds the registered Dropbox app and redirect settings.
type OAuthConfig struct {
	AppKey    string `json:"app_key"`
	AppSecret string `json:"app_secret"`

	RedirectHost string `json:"redirect_host" validate:"hostname_rfc1123|ip"`
	RedirectPort uint16 `json:"redirect_port"`
	RedirectPath string `json:"redirect_path" validate:"startswith=/"`

	// CallbackTimeout bounds the wait for the browser redirect.
	CallbackTimeout time.Duration `json:"callback_timeout" validate:"gt=0"`
	// ExpiryBuffer is how long before expiry a token is refreshed.
	ExpiryBuffer time.Duration `json:"expiry_buffer" validate:"gte=0"`

	AuthURL  string `json:"auth_url" validate:"url"`
	TokenURL string `json:"token_url" validate:"url"`
}

// StorageConfig selects where credentials are stored.
type StorageConfig struct {
	Backend TokenStorageType `json:"backend" validate:"required,oneof=file env keyring"`

	// Storage-specific settings (used according to Backend)
	Dir            string `json:"dir,omitempty"`             // file: directory holding one file per identity
	EnvKey         string `json:"env_key,omitempty"`         // env: variable holding a static access token
	KeyringService string `json:"keyring_service,omitempty"` // keyring: service name
}

// EncryptionConfig describes where the credential passphrase comes from.
type EncryptionConfig struct {
	PassphraseEnv string `json:"passphrase_env" validate:"required"`
	// KeyringService and KeyringUser locate an externally managed passphrase.
	KeyringService string `json:"keyring_service" validate:"required"`
	KeyringUser    string `json:"keyring_user"`
	// Salt for key derivation; empty selects the built-in salt.
	Salt string `json:"salt,omitempty"`
}

// DropboxConfig holds API endpoints and the upload destination.
type DropboxConfig struct {
	APIBaseURL     string `json:"api_base_url" validate:"url"`
	ContentBaseURL string `json:"content_base_url" validate:"url"`
	TargetDir      string `json:"target_dir" validate:"startswith=/"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for stopping the callback listener and flushing logs.
	Timeout time.Duration `json:"timeout"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level       `json:"log_level"`
	LogFormat   LogFormat        `json:"log_format" validate:"oneof=text json"`
	Environment Environment      `json:"environment" validate:"oneof=development production"`
	Telemetry   TelemetryConfig  `json:"telemetry"`
	OAuth       OAuthConfig      `json:"oauth"`
	Storage     StorageConfig    `json:"storage"`
	Encryption  EncryptionConfig `json:"encryption"`
	Dropbox     DropboxConfig    `json:"dropbox"`
	Shutdown    ShutdownConfig   `json:"shutdown"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Environment == "" {
		c.Environment = DefaultConfigEnvironment
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}

	if c.OAuth.RedirectHost == "" {
		c.OAuth.RedirectHost = DefaultConfigRedirectHost
	}
	if c.OAuth.RedirectPort == 0 {
		c.OAuth.RedirectPort = DefaultConfigRedirectPort
	}
	if c.OAuth.RedirectPath == "" {
		c.OAuth.RedirectPath = DefaultConfigRedirectPath
	}
	if c.OAuth.CallbackTimeout == 0 {
		c.OAuth.CallbackTimeout = DefaultConfigCallbackTimeout
	}
	if c.OAuth.ExpiryBuffer == 0 {
		c.OAuth.ExpiryBuffer = DefaultConfigExpiryBuffer
	}
	if c.OAuth.AuthURL == "" {
		c.OAuth.AuthURL = DefaultConfigOAuthAuthURL
	}
	if c.OAuth.TokenURL == "" {
		c.OAuth.TokenURL = DefaultConfigOAuthTokenURL
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultConfigStorage
	}
	if c.Encryption.PassphraseEnv == "" {
		c.Encryption.PassphraseEnv = DefaultConfigPassphraseEnv
	}
	if c.Encryption.KeyringService == "" {
		c.Encryption.KeyringService = DefaultConfigPassphraseService
	}

	if c.Dropbox.APIBaseURL == "" {
		c.Dropbox.APIBaseURL = DefaultConfigDropboxAPIURL
	}
	if c.Dropbox.ContentBaseURL == "" {
		c.Dropbox.ContentBaseURL = DefaultConfigDropboxContentURL
	}
	if c.Dropbox.TargetDir == "" {
		c.Dropbox.TargetDir = DefaultConfigDropboxTargetDir
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Backend {
	case TokenStorageTypeFile:
		if c.Storage.Dir == "" {
			dir, err := tokenstore.DefaultDir()
			if err != nil {
				return fmt.Errorf("storage.dir required (auto-detect failed: %w)", err)
			}
			c.Storage.Dir = dir
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringService == "" {
			c.Storage.KeyringService = tokenstore.DefaultKeyringService
		}
	case TokenStorageTypeEnv:
		if c.Storage.EnvKey == "" {
			c.Storage.EnvKey = DefaultConfigStorageEnvKey
		}
	}

	if c.Encryption.KeyringUser == "" {
		if currentUser, err := user.Current(); err == nil {
			c.Encryption.KeyringUser = currentUser.Username
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
// Failures wrap credential.ErrConfiguration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", credential.ErrConfiguration, err)
	}

	switch c.Storage.Backend {
	case TokenStorageTypeFile:
		if c.Storage.Dir == "" {
			return fmt.Errorf("%w: storage.dir required for file storage", credential.ErrConfiguration)
		}
	case TokenStorageTypeEnv:
		if c.Storage.EnvKey == "" {
			return fmt.Errorf("%w: storage.env_key required for env storage", credential.ErrConfiguration)
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringService == "" {
			return fmt.Errorf("%w: storage.keyring_service required for keyring storage", credential.ErrConfiguration)
		}
	}

	return nil
}

// RequireAppCredentials reports a configuration error unless the Dropbox app key
// and secret are set. Only commands that talk to the token endpoint need them.
func (c *Config) RequireAppCredentials() error {
	var missing []error
	if c.OAuth.AppKey == "" {
		missing = append(missing, errors.New("APP_KEY (oauth.app_key) is not set"))
	}
	if c.OAuth.AppSecret == "" {
		missing = append(missing, errors.New("APP_SECRET (oauth.app_secret) is not set"))
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %w", credential.ErrConfiguration, errors.Join(missing...))
	}
	return nil
}

// RedirectAddress is the host:port the callback listener binds.
func (c *Config) RedirectAddress() string {
	return fmt.Sprintf("%s:%d", c.OAuth.RedirectHost, c.OAuth.RedirectPort)
}

// PassphraseProvider builds the passphrase lookup chain: environment variable,
// then OS keyring (skipped when unavailable), then, outside production, the
// development passphrase.
func (c *Config) PassphraseProvider() secret.Provider {
	chain := secret.Chain{secret.NewEnvProvider(c.Encryption.PassphraseEnv)}
	if c.Encryption.KeyringUser != "" {
		if kp, err := secret.NewKeyringProvider(c.Encryption.KeyringService, c.Encryption.KeyringUser); err == nil {
			chain = append(chain, secret.Optional{Provider: kp})
		}
	}
	if c.Environment != EnvironmentProduction {
		chain = append(chain, secret.InsecureProvider{})
	}
	return chain
}

// NewCodec resolves the passphrase and derives the credential encryption key.
func (c *Config) NewCodec(ctx context.Context) (*credcodec.Codec, error) {
	passphrase, err := c.PassphraseProvider().Passphrase(ctx)
	if err != nil {
		if errors.Is(err, secret.ErrNotFound) {
			return nil, fmt.Errorf("%w: no credential passphrase found; set %s or run `rsskobo passphrase set`",
				credential.ErrConfiguration, c.Encryption.PassphraseEnv)
		}
		return nil, fmt.Errorf("%w: resolving credential passphrase: %w", credential.ErrConfiguration, err)
	}

	var salt []byte
	if c.Encryption.Salt != "" {
		salt = []byte(c.Encryption.Salt)
	}
	return credcodec.New(passphrase, salt), nil
}

// NewTokenStore creates a token store from the storage configuration.
func (c *Config) NewTokenStore(ctx context.Context) (tokenstore.Store, error) {
	switch c.Storage.Backend {
	case TokenStorageTypeEnv:
		return tokenstore.NewEnvStore(c.Storage.EnvKey)
	case TokenStorageTypeFile, TokenStorageTypeKeyring:
	default:
		return nil, fmt.Errorf("%w: unsupported storage type: %s", credential.ErrConfiguration, c.Storage.Backend)
	}

	codec, err := c.NewCodec(ctx)
	if err != nil {
		return nil, err
	}
	if c.Storage.Backend == TokenStorageTypeKeyring {
		return tokenstore.NewKeyringStore(c.Storage.KeyringService, codec)
	}
	return tokenstore.NewFileStore(c.Storage.Dir, codec)
}

// NewOAuthConfig returns the OAuth2 client configuration for the Dropbox app.
// The redirect URL is left empty; the authorization flow sets it per attempt.
func (c *Config) NewOAuthConfig() *oauth2.Config {
	cfg := tokensource.NewOAuthConfig(c.OAuth.AppKey, c.OAuth.AppSecret, "")
	cfg.Endpoint.AuthURL = c.OAuth.AuthURL
	cfg.Endpoint.TokenURL = c.OAuth.TokenURL
	return cfg
}
