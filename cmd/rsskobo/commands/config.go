package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/AMathur20/rss-to-kobo/internal/app"
	"github.com/AMathur20/rss-to-kobo/internal/credential"
)

// envPrefix is stripped from environment variables during config loading (e.g., RSSKOBO_STORAGE__BACKEND → storage.backend)
const envPrefix = "RSSKOBO_"

// wellKnownEnv maps unprefixed variables shared with the rest of the toolchain to config keys.
var wellKnownEnv = map[string]string{
	"APP_KEY":             "oauth.app_key",
	"APP_SECRET":          "oauth.app_secret",
	"OAUTH_REDIRECT_PORT": "oauth.redirect_port",
}

// loadConfig loads application configuration from various sources with precedence:
// config file → RSSKOBO_ environment variables → well-known environment variables → CLI flags → defaults
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	// 1. Load from config file if provided
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: loading config file: %w", credential.ErrConfiguration, err)
		}
	}

	// 2. Load from prefixed environment variables
	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			stripped := strings.TrimPrefix(key, envPrefix)
			nested := strings.ToLower(strings.ReplaceAll(stripped, "__", "."))
			return nested, value
		},
		EnvironFunc: environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	// 3. Load well-known unprefixed variables (APP_KEY, DEBUG, ...)
	wellKnownProvider := env.Provider(".", env.Opt{
		TransformFunc: transformWellKnownEnv,
		EnvironFunc:   environFunc,
	})
	if err := k.Load(wellKnownProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	// 4. Load from CLI flags if provided
	if cmd != nil {
		flagValues := extractAndTransformFlags(cmd)
		if err := k.Load(confmap.Provider(flagValues, "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling config: %w", credential.ErrConfiguration, err)
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("%w: applying defaults: %w", credential.ErrConfiguration, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// transformWellKnownEnv maps a well-known variable to its config key. An empty key
// makes koanf skip the variable.
func transformWellKnownEnv(key, value string) (string, any) {
	if key == "DEBUG" {
		if debug, err := strconv.ParseBool(value); err == nil && debug {
			return "log_level", "debug"
		}
		return "", nil
	}
	if mapped, ok := wellKnownEnv[key]; ok && value != "" {
		return mapped, value
	}
	return "", nil
}

// extractAndTransformFlags transforms CLI flag names to match config structure.
// Includes parent flags. Examples: --storage--backend → storage.backend, --log-level → log_level
func extractAndTransformFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	// FlagNames() includes flags from parent commands (via lineage)
	for _, name := range cmd.FlagNames() {
		// Command-local flags that are not configuration
		if _, skip := nonConfigFlags[name]; skip {
			continue
		}
		// Skip unset flags to preserve precedence from earlier config sources
		if !cmd.IsSet(name) {
			continue
		}

		if value := cmd.Value(name); value != nil {
			key := strings.ReplaceAll(name, "--", ".")
			key = strings.ReplaceAll(key, "-", "_")
			values[key] = value
		}
	}

	return values
}

var nonConfigFlags = map[string]struct{}{
	"config":     {},
	"no-browser": {},
	"target":     {},
}
