package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	errConfigFileIsDir = errors.New("config file is dir")
)

type YamlConfig struct {
	Client struct {
		BaseURL string `yaml:"api_base_url"`
	} `yaml:"client"`
	Server struct {
		Port            int           `yaml:"port"`
		UsersPath       string        `yaml:"users_path"`
		SessionLifetime time.Duration `yaml:"session_lifetime"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"server"`
	Log struct {
		Development bool `yaml:"development"`
	} `yaml:"log"`
}

// readFile parses the yaml config at path. A missing file yields an empty
// config.
func readFile(path string) (*YamlConfig, error) {
	var config YamlConfig

	filename, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	finfo, err := os.Stat(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return &config, nil
	}
	if err != nil {
		return nil, err
	}
	if finfo.IsDir() {
		return nil, errConfigFileIsDir
	}

	yamlFile, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(yamlFile, &config)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	return &config, nil
}
