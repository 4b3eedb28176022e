package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost    = "livesqlbench_postgresql"
	DefaultPort    = 5432
	DefaultUser    = "root"
	DefaultMinConn = 1
	DefaultMaxConn = 5
)

// DB holds the connection settings shared by the query pools and the
// createdb/dropdb/psql admin commands.
type DB struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MinConn  int    `yaml:"minConn"`
	MaxConn  int    `yaml:"maxConn"`
}

// Run holds the settings of one evaluation run.
type Run struct {
	JSONLFile  string `yaml:"jsonlFile"`
	OutputDir  string `yaml:"outputDir"`
	NumThreads int    `yaml:"numThreads"`
	Limit      int    `yaml:"limit"`
	Logging    bool   `yaml:"logging"`

	Database DB `yaml:"database"`
}

func Default() *Run {
	return &Run{
		NumThreads: 4,
		Database: DB{
			Host:     DefaultHost,
			Port:     DefaultPort,
			User:     DefaultUser,
			Password: passwordFromEnv(),
			MinConn:  DefaultMinConn,
			MaxConn:  DefaultMaxConn,
		},
	}
}

// Returns a Run with the information in the configFile layered over the
// defaults. An empty configFile just yields the defaults.
func Load(configFile string) (*Run, error) {
	run := Default()

	if configFile == "" {
		return run, nil
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, run); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if run.Database.Password == "" {
		run.Database.Password = passwordFromEnv()
	}

	return run, nil
}

// DSN builds a lib/pq keyword/value connection string for the given
// database name. Values are quoted, so passwords containing spaces or
// quotes survive.
func (c DB) DSN(dbName string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		quoteDSN(c.Host), c.Port, quoteDSN(c.User), quoteDSN(c.Password), quoteDSN(dbName))
}

func quoteDSN(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func passwordFromEnv() string {
	if p := os.Getenv("LIVESQLBENCH_PG_PASSWORD"); p != "" {
		return p
	}
	return os.Getenv("POSTGRES_PASSWORD")
}
