package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-dispatch/migrations"
)

// daemonConfig holds the process-level settings that live outside the engine
// config: listeners, backing stores, and the event sink. The engine section is
// passed through untouched so lane and webhook settings keep the same keys in
// the file as they have in code.
type daemonConfig struct {
	HTTP     httpConfig     `yaml:"http"`
	Database databaseConfig `yaml:"database"`
	Redis    redisConfig    `yaml:"redis"`
	Kafka    kafkaConfig    `yaml:"kafka"`
	Engine   map[string]any `yaml:"engine"`
}

type httpConfig struct {
	Addr string `yaml:"addr"`
}

type databaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Debug  bool   `yaml:"debug"`
}

type redisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

type kafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		HTTP: httpConfig{Addr: ":8080"},
		Database: databaseConfig{
			Driver: "sqlite3",
			DSN:    "file:dispatch.db?_foreign_keys=on",
		},
		Kafka: kafkaConfig{Topic: "dispatch.engine.events"},
	}
}

// loadDaemonConfig reads the YAML file at path on top of the built-in
// defaults, then applies environment overrides. An empty path means no file,
// which is fine for local runs against sqlite.
func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return daemonConfig{}, fmt.Errorf("dispatchd: read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return daemonConfig{}, fmt.Errorf("dispatchd: parse config %q: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *daemonConfig) applyEnv() {
	if v := os.Getenv("DISPATCH_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("DISPATCH_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DISPATCH_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("DISPATCH_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("DISPATCH_KAFKA_BROKERS"); v != "" {
		brokers := strings.Split(v, ",")
		c.Kafka.Brokers = c.Kafka.Brokers[:0]
		for _, broker := range brokers {
			if broker = strings.TrimSpace(broker); broker != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, broker)
			}
		}
	}
	if v := os.Getenv("DISPATCH_KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
}

// engineLoader feeds the raw engine section of the daemon config file into
// the engine's own config pipeline.
type engineLoader struct {
	values map[string]any
}

func (l engineLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

type persistenceConfig struct {
	database databaseConfig
}

func (c persistenceConfig) GetDebug() bool {
	return c.database.Debug
}

func (c persistenceConfig) GetDriver() string {
	return c.database.Driver
}

func (c persistenceConfig) GetServer() string {
	return c.database.DSN
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-dispatch"
}

func openPersistence(cfg databaseConfig) (*persistence.Client, error) {
	driver := strings.TrimSpace(strings.ToLower(cfg.Driver))
	var (
		driverName string
		dialect    schema.Dialect
	)
	switch driver {
	case "postgres", "postgresql":
		driverName = "postgres"
		dialect = pgdialect.New()
	case "sqlite", "sqlite3", "":
		driverName = "sqlite3"
		dialect = sqlitedialect.New()
	default:
		return nil, fmt.Errorf("dispatchd: unsupported database driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("dispatchd: open %s database: %w", driverName, err)
	}
	if driverName == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{database: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("dispatchd: new persistence client: %w", err)
	}
	return client, nil
}

func migrationDialect(driver string) string {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "postgres", "postgresql":
		return migrations.DialectPostgres
	default:
		return migrations.DialectSQLite
	}
}

// applyMigrations registers the embedded schema for the active dialect and
// brings the database up to date.
func applyMigrations(ctx context.Context, client *persistence.Client, driver string) error {
	target := migrationDialect(driver)
	_, err := migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != target {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(target))
	if err != nil {
		return fmt.Errorf("dispatchd: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("dispatchd: migrate: %w", err)
	}
	return nil
}
