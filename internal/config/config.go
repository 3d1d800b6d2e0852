package config

import "time"

type Config interface {
	EnvConfig
	OIDCConfig
	APIConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetMetricsAddr() string
}

type APIConfig interface {
	GetAPIBaseURL() string
	GetAPITimeout() time.Duration
}

type StoreConfig interface {
	GetStoreFolder() string
	GetStorePassphrase() string
}

type mainConfig struct {
	EnvVars
	OIDC
	API
	Store
}

// New returns a Config backed by environment variables only.
func New() Config {
	return newMainConfig(source{})
}

// Load returns a Config backed by environment variables, falling back to the YAML file
// at path for anything the environment does not set.
func Load(path string) (Config, error) {
	values, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return newMainConfig(source{file: values}), nil
}

func newMainConfig(src source) mainConfig {
	return mainConfig{
		EnvVars: EnvVars{src: src},
		OIDC:    OIDC{src: src},
		API:     API{src: src},
		Store:   Store{src: src},
	}
}
