package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	appNameVar     = "APP_NAME"
	envVar         = "ENV"
	logLevelVar    = "LOG_LEVEL"
	metricsAddrVar = "METRICS_ADDR"
	configFileVar  = "CHOIRAPP_CONFIG"
)

type EnvVars struct {
	src source
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.src.get(appNameVar, "Choir App")
}

func (e EnvVars) GetEnv() string {
	return e.src.get(envVar, "DEV")
}

func (e EnvVars) GetLogLevel() string {
	return e.src.get(logLevelVar, "info")
}

// GetMetricsAddr returns the listen address for the metrics endpoint; empty disables it.
func (e EnvVars) GetMetricsAddr() string {
	return e.src.get(metricsAddrVar, "")
}

// GetConfigFile returns the path of the optional YAML config file.
func GetConfigFile() string {
	return GetEnv(configFileVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// source resolves a setting from the environment first, then the config file.
type source struct {
	file map[string]string
}

func (s source) get(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	if v, ok := s.file[name]; ok && v != "" {
		return v
	}
	return defaultValue
}

func (s source) getBool(name string, defaultValue bool) bool {
	v, err := strconv.ParseBool(s.get(name, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return v
}

func (s source) getDuration(name string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(s.get(name, defaultValue.String()))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func (s source) getList(name string, defaultValue []string) []string {
	v := s.get(name, "")
	if v == "" {
		return append([]string(nil), defaultValue...)
	}
	return strings.Fields(strings.ReplaceAll(v, ",", " "))
}
