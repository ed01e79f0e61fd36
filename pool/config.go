// Package pool manages a bounded set of physical connections to one
// MariaDB/MySQL server: acquiring one for a caller, returning it when the
// caller is done, and keeping a minimum number warm.
package pool

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is everything needed to dial and authenticate a connection, plus
// the pool's own sizing knobs. It mirrors the cmd/proxy yaml shape the
// teacher loads with viper, widened to the fields this core's connection
// and pool layers need.
type Config struct {
	Hostname string `mapstructure:"hostname"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`

	TLSEnabled bool `mapstructure:"tls"`

	MaxPoolSize             int  `mapstructure:"max_pool_size"`
	MinIdle                 int  `mapstructure:"min_idle"`
	ConnectTimeoutMS        int  `mapstructure:"connect_timeout_ms"`
	QueryTimeoutMS          int  `mapstructure:"query_timeout_ms"`
	AllowMultipleStatements bool `mapstructure:"allow_multiple_statements"`

	// Charset is the connection charset advertised in the handshake
	// response; it defaults to utf8mb4 (collation id 0x2D) when empty.
	Charset string `mapstructure:"charset"`
}

// Address renders the host:port dial target.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

// ConnectTimeout and QueryTimeout convert the millisecond config fields
// into time.Duration, defaulting to a generous timeout when unset.
func (c Config) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func (c Config) QueryTimeout() time.Duration {
	if c.QueryTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.QueryTimeoutMS) * time.Millisecond
}

// applyDefaults fills in the sizing knobs the teacher's own config layer
// leaves to zero-value Go defaults.
func (c Config) applyDefaults() Config {
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = 10
	}
	if c.MinIdle < 0 {
		c.MinIdle = 0
	}
	if c.MinIdle > c.MaxPoolSize {
		c.MinIdle = c.MaxPoolSize
	}
	if c.Charset == "" {
		c.Charset = "utf8mb4"
	}
	return c
}

// LoadConfig reads a YAML or properties configuration file from path into
// a Config, the way cmd/proxy/main.go loads its own server config: a
// fresh viper instance pointed at the file, rather than the package-level
// global, so multiple pools in one process can load independent configs.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("mysqlcore: reading pool config %q: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("mysqlcore: parsing pool config %q: %w", path, err)
	}
	return cfg.applyDefaults(), nil
}
