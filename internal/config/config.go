package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the duel server.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Connection limits
	MaxConnections int `yaml:"max_connections"`
	ReadBufferSize int `yaml:"read_buffer_size"` // per-connection frame buffer cap, bytes

	// Game parameters, announced to both players in the Start message
	Game Game `yaml:"game"`

	// Match history (optional)
	Database DatabaseConfig `yaml:"database"`
}

// Game holds the fixed per-server game parameters.
type Game struct {
	MaxTurns    int    `yaml:"max_turns"`
	TotalPoints uint32 `yaml:"total_points"`
}

// DatabaseConfig holds PostgreSQL connection parameters for the optional
// match history store. Disabled by default: the server never needs a
// database to run games.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// ListenAddr returns the TCP address the server binds to.
func (s Server) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.Port)
}

// DefaultServer returns Server config with sensible defaults.
func DefaultServer() Server {
	return Server{
		BindAddress:    "0.0.0.0",
		Port:           7201,
		MaxConnections: 256,
		ReadBufferSize: 2048,
		Game: Game{
			MaxTurns:    7,
			TotalPoints: 700,
		},
		Database: DatabaseConfig{
			Enabled:  false,
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "duelgo",
			Password: "duelgo",
			DBName:   "duelgo",
			SSLMode:  "disable",
		},
	}
}

// LoadServer loads server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
