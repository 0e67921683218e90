package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// ErrMissingAuthConfig routes the application to the configuration-error
// page instead of the chat UI.
var ErrMissingAuthConfig = errors.New("identity provider is not configured: set AUTH0_DOMAIN and AUTH0_CLIENT_ID")

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Database DatabaseConfig `mapstructure:"database"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type AuthConfig struct {
	Domain       string `mapstructure:"domain"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Audience     string `mapstructure:"audience"`
	// UseServiceToken makes the service acquire its own credential via the
	// client-credentials grant instead of forwarding each caller's bearer
	// to the agent API.
	UseServiceToken bool `mapstructure:"use_service_token"`
}

type AgentConfig struct {
	Host string `mapstructure:"host"`
	Path string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	UseLocal bool   `mapstructure:"use_local"`
	DataDir  string `mapstructure:"data_dir"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.use_service_token", false)
	v.SetDefault("agent.path", "/agent")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_local", false)
	v.SetDefault("database.data_dir", "")

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		dbConfig.UseLocal = config.Database.UseLocal
		dbConfig.DataDir = config.Database.DataDir
		config.Database = dbConfig
	}

	// Get other environment variables
	if domain := v.GetString("AUTH0_DOMAIN"); domain != "" {
		config.Auth.Domain = domain
	}
	if clientID := v.GetString("AUTH0_CLIENT_ID"); clientID != "" {
		config.Auth.ClientID = clientID
	}
	if clientSecret := v.GetString("AUTH0_CLIENT_SECRET"); clientSecret != "" {
		config.Auth.ClientSecret = clientSecret
	}
	if audience := v.GetString("AUTH0_API_AUDIENCE"); audience != "" {
		config.Auth.Audience = audience
	}
	if host := v.GetString("AUTH0_API_HOST"); host != "" {
		config.Agent.Host = host
	}
	if port := v.GetInt("PORT"); port != 0 {
		config.Server.Port = port
	}

	return &config, nil
}

// Validate reports whether the configuration is complete enough to serve
// the chat UI.
func (c *Config) Validate() error {
	if c.Auth.Domain == "" || c.Auth.ClientID == "" {
		return ErrMissingAuthConfig
	}
	if c.Agent.Host == "" {
		return errors.New("agent API host is not configured: set AUTH0_API_HOST")
	}
	return nil
}
