package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
	"strings"
)

const Name = "corvid"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host         string
		HttpPort     int      `yaml:"httpPort"`
		Domain       string   `yaml:"domain"`
		Protocol     string   `yaml:"protocol"`
		BlockedHosts []string `yaml:"blockedHosts"`
	}
}

// BaseURL returns the public origin of this server, e.g. "https://corvid.example".
func (c *AppConfig) BaseURL() string {
	proto := c.Conf.Protocol
	if proto == "" {
		proto = "https"
	}
	return fmt.Sprintf("%s://%s", proto, c.Conf.Domain)
}

// IsLocalURI reports whether uri points at an object owned by this server.
func (c *AppConfig) IsLocalURI(uri string) bool {
	return strings.HasPrefix(uri, c.BaseURL()+"/")
}

// IsBlockedHost reports whether host is on the configured federation block list.
func (c *AppConfig) IsBlockedHost(host string) bool {
	for _, h := range c.Conf.BlockedHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("CORVID_HOST")
	envHttpPort := os.Getenv("CORVID_HTTPPORT")
	envDomain := os.Getenv("CORVID_DOMAIN")
	envProtocol := os.Getenv("CORVID_PROTOCOL")
	envBlockedHosts := os.Getenv("CORVID_BLOCKED_HOSTS")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envDomain != "" {
		c.Conf.Domain = envDomain
	}

	if envProtocol != "" {
		c.Conf.Protocol = envProtocol
	}

	if envBlockedHosts != "" {
		c.Conf.BlockedHosts = strings.Split(envBlockedHosts, ",")
	}

	return c, nil
}
