package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultListenAddr = ":8080"
	envPrefix         = "QBO"
)

type MysqlConfig struct {
	ConnStr         string `yaml:"connStr"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	ConnMaxIdleTime int    `yaml:"connMaxIdleTime"`
	ConnMaxLifetime int    `yaml:"connMaxLifetime"`
}

type RedisConfig struct {
	// URL enables the redis backend for the auth state store when set.
	URL string `yaml:"url"`
}

// OAuthConfig carries the QuickBooks OAuth 2.0 application settings.
type OAuthConfig struct {
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	RedirectURL  string `yaml:"redirectUrl"`
	AuthURL      string `yaml:"authUrl"`
	TokenURL     string `yaml:"tokenUrl"`
	Scope        string `yaml:"scope"`
	StateSecret  string `yaml:"stateSecret"`
}

// QuickBooksConfig carries the accounting API settings.
type QuickBooksConfig struct {
	APIBaseURL     string `yaml:"apiBaseUrl"`
	SandboxRealmID string `yaml:"sandboxRealmId"`
}

type Config struct {
	Debug      bool             `yaml:"debug"`
	ListenAddr string           `yaml:"listenAddr"`
	Mysql      MysqlConfig      `yaml:"mysql"`
	Redis      RedisConfig      `yaml:"redis"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	QuickBooks QuickBooksConfig `yaml:"quickbooks"`
}

func (c *Config) Sanitize() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	required := map[string]string{
		"oauth.clientId":            c.OAuth.ClientID,
		"oauth.clientSecret":        c.OAuth.ClientSecret,
		"oauth.redirectUrl":         c.OAuth.RedirectURL,
		"oauth.authUrl":             c.OAuth.AuthURL,
		"oauth.tokenUrl":            c.OAuth.TokenURL,
		"oauth.scope":               c.OAuth.Scope,
		"oauth.stateSecret":         c.OAuth.StateSecret,
		"quickbooks.apiBaseUrl":     c.QuickBooks.APIBaseURL,
		"quickbooks.sandboxRealmId": c.QuickBooks.SandboxRealmID,
		"mysql.connStr":             c.Mysql.ConnStr,
	}
	var missing []string
	for key, val := range required {
		if val == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

// LoadConfig reads the YAML config file and applies QBO_* environment
// variable overrides (e.g. QBO_OAUTH_CLIENTSECRET).
func LoadConfig(filename string) (*Config, error) {
	viper.SetConfigFile(filename)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Sanitize(); err != nil {
		return nil, err
	}
	return &config, nil
}
