package config

import (
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// defaultTokenFile is the session cache filename placed under the user's home
// directory when LAB_CLIENT_TOKEN_PATH is not set.
const defaultTokenFile = ".remote_lab_auth.json"

// Env holds client-wide settings sourced from the environment.
type Env struct {
	// TokenPath overrides where cached sessions are persisted.
	TokenPath string `envconfig:"LAB_CLIENT_TOKEN_PATH"`
	// DisableAuth turns the auth subsystem off globally: no Authorization
	// headers are attached and no auth manager is constructed. Intended for
	// local servers running without authentication.
	DisableAuth bool `envconfig:"LAB_CLIENT_DISABLE_AUTH"`
	// Debug asks the server for detailed error payloads on every request.
	Debug bool `envconfig:"LAB_CLIENT_DEBUG"`
}

// FromEnv reads the client environment, filling in the default token path
// when no override is present.
func FromEnv() (Env, error) {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return Env{}, errors.Wrap(err, "[config.FromEnv] processing environment")
	}
	if e.TokenPath == "" {
		home, err := homedir.Dir()
		if err != nil {
			return Env{}, errors.Wrap(err, "[config.FromEnv] resolving home directory")
		}
		e.TokenPath = filepath.Join(home, defaultTokenFile)
	}
	return e, nil
}
