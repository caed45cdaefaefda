package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".pancakes"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through
// the config file.
type Config struct {
	// MaxWalkDepth is the maximum number of frames the trace commands
	// collect before giving up on a runaway stack.
	MaxWalkDepth *int `yaml:"max-walk-depth,omitempty"`

	// Log enables component logging on startup, as if --log was passed.
	Log bool `yaml:"log"`
	// LogOutput is a comma separated list of components that should
	// produce debug output (walker, decoder, shlib).
	LogOutput string `yaml:"log-output"`
	// LogDest is the file path or file descriptor logs are written to.
	LogDest string `yaml:"log-dest"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	if _, err := os.Stat(fullConfigFile); err != nil {
		if err := writeDefaultConfig(fullConfigFile); err != nil {
			fmt.Printf("Error creating default config file: %v", err)
		}
		return &Config{}
	}

	conf, err := loadConfigFile(fullConfigFile)
	if err != nil {
		fmt.Printf("Unable to load config file: %v.", err)
		return &Config{}
	}
	return conf
}

// SaveConfig will marshal and save the config struct to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return saveConfigFile(conf, fullConfigFile)
}

func loadConfigFile(file string) (*Config, error) {
	data, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func saveConfigFile(conf *Config, file string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(file, out, 0644)
}

func writeDefaultConfig(file string) error {
	return ioutil.WriteFile(file, []byte(
		`# Configuration file for the pancakes stack walker.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Maximum number of frames collected by the trace commands.
# max-walk-depth: 256

# Enable component logging on startup, as if --log was passed.
# log: true

# Comma separated list of components that should produce debug output.
# log-output: walker,decoder,shlib

# File path or file descriptor to write logs to.
# log-dest: pancakes.log
`), 0644)
}

// createConfigPath creates the directory structure at which all config
// files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
