package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Tree   TreeConfig
	Server ServerConfig
	DB     DBConfig
	Redis  RedisConfig
	Log    LogConfig
}

type TreeConfig struct {
	Capacity int
	MaxDepth int `mapstructure:"max_depth"`
}

type ServerConfig struct {
	Addr string
}

type DBConfig struct {
	User       string
	Password   string
	DBName     string
	SSLMode    string
	Host       string
	Port       string
	Migrations string
}

// URL returns the connection string in the URL form golang-migrate expects.
func (c DBConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

// DSN returns the key/value connection string lib/pq accepts.
func (c DBConfig) DSN() string {
	return "host=" + c.Host + " port=" + c.Port + " user=" + c.User + " password=" + c.Password +
		" dbname=" + c.DBName + " sslmode=" + c.SSLMode
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

type LogConfig struct {
	Level string
}

var Cfg *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("tree.capacity", 8)
	v.SetDefault("tree.max_depth", 4)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.dbname", "quadtree")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.migrations", "file://database/migrations")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshot_ttl", "30s")
	v.SetDefault("log.level", "info")
}

// Load reads the configuration. An empty path searches the working directory for
// config.yaml; a missing file there is not an error. Environment variables such as
// QUADTREE_TREE_CAPACITY override both the file and the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("quadtree")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "error reading config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unable to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values the tree cannot start without.
func (c *Config) Validate() error {
	if c.Tree.Capacity <= 0 {
		return errors.Errorf("tree.capacity must be positive, got %d", c.Tree.Capacity)
	}
	if c.Tree.MaxDepth < 0 {
		return errors.Errorf("tree.max_depth must not be negative, got %d", c.Tree.MaxDepth)
	}
	if c.Redis.SnapshotTTL < 0 {
		return errors.Errorf("redis.snapshot_ttl must not be negative, got %s", c.Redis.SnapshotTTL)
	}
	return nil
}

// InitConfig loads the configuration into Cfg.
func InitConfig(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	Cfg = cfg
	return nil
}
