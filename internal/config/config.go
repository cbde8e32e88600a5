// Package config loads rbacd settings from a yaml file and RBAC_ environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/medconsole/rbac/types"
)

// supported persist drivers
const (
	DriverMemory   = "memory"
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

// Config of rbacd
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
	Persist PersistConfig `mapstructure:"persist"`

	// Catalog is an optional yaml file holding permissions and seed, it replaces both when set
	Catalog string `mapstructure:"catalog"`

	Permissions []types.Permission  `mapstructure:"permissions" validate:"required,min=1,dive"`
	Seed        map[string][]string `mapstructure:"seed"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type AuthConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret" validate:"required,min=16"`
	AdminPermission string `mapstructure:"admin_permission" validate:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// PersistConfig selects where assignments are kept. DSN is read per driver:
//   - memory: ignored
//   - sqlite: the data directory holding assignments.db, not a sqlite dsn
//   - postgres: a connection url, like postgres://rbac@localhost:5432/rbac
//   - redis: a redis url, like redis://localhost:6379/0
//   - mongo: a mongodb url naming the database, like mongodb://localhost:27017/rbac
type PersistConfig struct {
	Driver       string        `mapstructure:"driver" validate:"oneof=memory sqlite postgres redis mongo"`
	DSN          string        `mapstructure:"dsn" validate:"required_unless=Driver memory"`
	RetryTimeout time.Duration `mapstructure:"retry_timeout" validate:"gte=0"`
}

// Load reads config from path if it is not empty, then applies RBAC_ environment overrides,
// like RBAC_SERVER_ADDR or RBAC_PERSIST_DSN
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RBAC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.admin_permission", "permissions.edit")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("persist.driver", DriverMemory)
	v.SetDefault("persist.retry_timeout", 5*time.Second)

	// AutomaticEnv only takes effect for keys viper knows about
	for _, key := range []string{"auth.jwt_secret", "persist.dsn", "catalog"} {
		if e := v.BindEnv(key); e != nil {
			return nil, e
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if e := v.ReadInConfig(); e != nil {
			return nil, fmt.Errorf("read config %s: %w", path, e)
		}
	}

	cfg := &Config{}
	if e := v.Unmarshal(cfg); e != nil {
		return nil, fmt.Errorf("unmarshal config: %w", e)
	}

	if cfg.Catalog != "" {
		c, e := ReadCatalog(cfg.Catalog)
		if e != nil {
			return nil, e
		}
		cfg.Permissions = c.Permissions
		cfg.Seed = c.Seed
	}

	if e := cfg.Validate(); e != nil {
		return nil, e
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the config is complete enough to start rbacd
func (c *Config) Validate() error {
	if e := validate.Struct(c); e != nil {
		var fields validator.ValidationErrors
		if errors.As(e, &fields) {
			msgs := make([]string, 0, len(fields))
			for _, f := range fields {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", f.Namespace(), f.Tag()))
			}
			return fmt.Errorf("%w: %s", types.ErrValidation, strings.Join(msgs, "; "))
		}
		return e
	}

	if _, e := c.SeedPolicy(); e != nil {
		return e
	}
	for _, p := range c.Permissions {
		if p.ID == c.Auth.AdminPermission {
			return nil
		}
	}
	return fmt.Errorf("%w: admin permission %q is not in the permission catalog", types.ErrValidation, c.Auth.AdminPermission)
}

// SeedPolicy parses role names of the configured seed, they are case insensitive
func (c *Config) SeedPolicy() (map[types.Role][]string, error) {
	seed := make(map[types.Role][]string, len(c.Seed))
	for name, ids := range c.Seed {
		role, e := types.ParseRole(name)
		if e != nil {
			return nil, fmt.Errorf("seed: %w", e)
		}
		seed[role] = append(seed[role], ids...)
	}
	return seed, nil
}

// ReadCatalog parses the catalog file at path
func ReadCatalog(path string) (*Catalog, error) {
	f, e := os.Open(path)
	if e != nil {
		return nil, fmt.Errorf("open catalog: %w", e)
	}
	defer f.Close()

	c, e := ParseCatalog(f)
	if e != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, e)
	}
	return c, nil
}
