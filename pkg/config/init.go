package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# dittoauth Configuration File
#
# Selects the authentication mechanism and configures logging, tracing and
# metrics. Every key can be overridden with a DITTOAUTH_ environment
# variable, e.g. DITTOAUTH_AUTH_TYPE=auth/jwt.
#
# Mechanism settings go under auth.mechanisms.<name>, for example:
#
#   auth:
#     type: auth/jwt
#     mechanisms:
#       jwt:
#         secret: "at-least-32-characters-of-shared-secret"
#
`

// InitConfig writes a default configuration file at the default location.
// It refuses to overwrite an existing file unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file at path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
