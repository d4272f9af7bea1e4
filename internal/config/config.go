package config

import (
	"os"
	"time"
)

const (
	// EnvBaseURL overrides the API base URL when set and non-empty.
	EnvBaseURL = "VITE_API_BASE_URL"
	// DefaultBaseURL points at the local development backend.
	DefaultBaseURL = "http://localhost:5000"

	envConfigFile     = "CONFIG_FILE"
	defaultConfigFile = "./config/config.yaml"
)

type Config struct {
	Client Client
	Server Server
	Log    Log
}

type Client struct {
	BaseURL string
}

type Server struct {
	Port            int
	UsersPath       string
	SessionLifetime time.Duration
	AllowedOrigins  []string
}

type Log struct {
	Development bool
}

// ResolveBaseURL returns the value of VITE_API_BASE_URL from lookup, or the
// local development address when it is unset or empty.
func ResolveBaseURL(lookup func(string) string) string {
	return resolveBaseURL(lookup, "")
}

func resolveBaseURL(lookup func(string) string, fallback string) string {
	if v := lookup(EnvBaseURL); v != "" {
		return v
	}
	if fallback != "" {
		return fallback
	}
	return DefaultBaseURL
}

func New() (*Config, error) {
	path := os.Getenv(envConfigFile)
	if path == "" {
		path = defaultConfigFile
	}

	file, err := readFile(path)
	if err != nil {
		return nil, err
	}

	return build(file, os.Getenv), nil
}

func build(file *YamlConfig, lookup func(string) string) *Config {
	c := &Config{
		Client: Client{
			BaseURL: resolveBaseURL(lookup, file.Client.BaseURL),
		},
		Server: Server{
			Port:            5000,
			UsersPath:       "data/users.json",
			SessionLifetime: 24 * time.Hour,
			AllowedOrigins:  file.Server.AllowedOrigins,
		},
		Log: Log{
			Development: file.Log.Development,
		},
	}

	if file.Server.Port != 0 {
		c.Server.Port = file.Server.Port
	}
	if file.Server.UsersPath != "" {
		c.Server.UsersPath = file.Server.UsersPath
	}
	if file.Server.SessionLifetime > 0 {
		c.Server.SessionLifetime = file.Server.SessionLifetime
	}

	return c
}
