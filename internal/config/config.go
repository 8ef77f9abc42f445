package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default oracle feed of the grip-strength challenge
const (
	DefaultQueryID   = "0x0432de7bf6851ebf48cadbf3385044d815edd58208259a01aef949f0e445c9a9"
	DefaultQueryData = "0x00000000000000000000000000000000000000000000000000000000000000400000000000000000000000000000000000000000000000000000000000000080000000000000000000000000000000000000000000000000000000000000000d45746844656e7665723230323500000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000006000000000000000000000000000000000000000000000000000000000000000200000000000000000000000000000000000000000000000000000000000000019677269705f737472656e6774685f64796e616d6f6d6574657200000000000000"
)

// Oracle data sources
const (
	SourceNoStakeReports = "no_stake_reports"
	SourceAggregate      = "aggregate"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Submission  SubmissionConfig  `yaml:"submission"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// OracleConfig holds the node REST API and polling configuration
type OracleConfig struct {
	PrimaryURL        string        `yaml:"primary_url"`
	FallbackURL       string        `yaml:"fallback_url"`
	QueryID           string        `yaml:"query_id"`
	Source            string        `yaml:"source"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollTimeout       time.Duration `yaml:"poll_timeout"`
	MaxEntries        int           `yaml:"max_entries"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	AggregateLookback int           `yaml:"aggregate_lookback"`
}

// LeaderboardConfig holds leaderboard log and view configuration
type LeaderboardConfig struct {
	MaxEntries   int    `yaml:"max_entries"`
	DefaultSort  string `yaml:"default_sort"`
	DefaultOrder string `yaml:"default_order"`
	DefaultLimit int    `yaml:"default_limit"`
	MaxLimit     int    `yaml:"max_limit"`
}

// SubmissionConfig holds the parameters used to build submission
// transactions and CLI commands
type SubmissionConfig struct {
	QueryData  string `yaml:"query_data"`
	ChainID    string `yaml:"chain_id"`
	Binary     string `yaml:"binary"`
	CLIFees    string `yaml:"cli_fees"`
	CLIGas     int    `yaml:"cli_gas"`
	CLINode    string `yaml:"cli_node"`
	WalletFee  string `yaml:"wallet_fee"`
	WalletGas  int    `yaml:"wallet_gas"`
	FeeDenom   string `yaml:"fee_denom"`
	WalletMemo string `yaml:"wallet_memo"`

	// AddressPrefix is the bech32 human-readable part of sender addresses
	AddressPrefix string `yaml:"address_prefix"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	WarmStart       bool          `yaml:"warm_start"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka producer configuration
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Oracle defaults
	if c.Oracle.PrimaryURL == "" {
		c.Oracle.PrimaryURL = "https://node-palmito.tellorlayer.com"
	}
	if c.Oracle.FallbackURL == "" {
		c.Oracle.FallbackURL = "https://tellorlayer.com"
	}
	if c.Oracle.QueryID == "" {
		c.Oracle.QueryID = DefaultQueryID
	}
	if c.Oracle.Source == "" {
		c.Oracle.Source = SourceNoStakeReports
	}
	if c.Oracle.PollInterval == 0 {
		c.Oracle.PollInterval = 5 * time.Second
	}
	if c.Oracle.PollTimeout == 0 {
		c.Oracle.PollTimeout = 30 * time.Second
	}
	if c.Oracle.MaxEntries == 0 {
		c.Oracle.MaxEntries = 500
	}
	if c.Oracle.RequestTimeout == 0 {
		c.Oracle.RequestTimeout = 10 * time.Second
	}
	if c.Oracle.AggregateLookback == 0 {
		c.Oracle.AggregateLookback = 50
	}

	// Leaderboard defaults
	if c.Leaderboard.DefaultSort == "" {
		c.Leaderboard.DefaultSort = "strength"
	}
	if c.Leaderboard.DefaultOrder == "" {
		c.Leaderboard.DefaultOrder = "desc"
	}
	if c.Leaderboard.DefaultLimit == 0 {
		c.Leaderboard.DefaultLimit = 100
	}
	if c.Leaderboard.MaxLimit == 0 {
		c.Leaderboard.MaxLimit = 1000
	}

	// Submission defaults
	if c.Submission.QueryData == "" {
		c.Submission.QueryData = DefaultQueryData
	}
	if c.Submission.ChainID == "" {
		c.Submission.ChainID = "layertest-4"
	}
	if c.Submission.Binary == "" {
		c.Submission.Binary = "layerd"
	}
	if c.Submission.CLIFees == "" {
		c.Submission.CLIFees = "10000loya"
	}
	if c.Submission.CLIGas == 0 {
		c.Submission.CLIGas = 300000
	}
	if c.Submission.CLINode == "" {
		c.Submission.CLINode = "https://node-palmito.tellorlayer.com:26657"
	}
	if c.Submission.WalletFee == "" {
		c.Submission.WalletFee = "15000"
	}
	if c.Submission.WalletGas == 0 {
		c.Submission.WalletGas = 1000000
	}
	if c.Submission.FeeDenom == "" {
		c.Submission.FeeDenom = "loya"
	}
	if c.Submission.AddressPrefix == "" {
		c.Submission.AddressPrefix = "tellor"
	}
	if c.Submission.WalletMemo == "" {
		c.Submission.WalletMemo = "Dynamo Challenge Submission"
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 1
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "grip-strength-entries"
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
