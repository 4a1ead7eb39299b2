package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Supported queue drivers
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// DBConfig holds control-plane database configuration
type DBConfig struct {
	Driver          string
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string for the control-plane database
func (c *DBConfig) GetDSN() string {
	return c.DSNFor(c.DBName, c.User, c.Password)
}

// DSNFor returns a PostgreSQL connection string on the same server for another database and login
func (c *DBConfig) DSNFor(dbName, user, password string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, user, password, dbName, c.SSLMode)
}

// TenantDBConfig holds configuration for the per-tenant databases
type TenantDBConfig struct {
	NamePrefix      string
	DataDir         string // sqlite only
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey   string
	Issuer       string
	AccessHours  int
	RefreshHours int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// QueueConfig holds job queue configuration
type QueueConfig struct {
	Driver         string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	KeyPrefix      string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JobTimeout     time.Duration
}

// BootstrapConfig holds the optional operator account created on start
type BootstrapConfig struct {
	OperatorName     string
	OperatorEmail    string
	OperatorPassword string
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Tenant      TenantDBConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Queue       QueueConfig
	Bootstrap   BootstrapConfig
}

// Load loads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		ServiceName: getEnv("SERVICE_NAME", "crm-service"),
		DB: DBConfig{
			Driver:          getEnv("DB_DRIVER", DriverPostgres),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", "crm_control"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Tenant: TenantDBConfig{
			NamePrefix:      getEnv("TENANT_DB_PREFIX", "tenant_"),
			DataDir:         getEnv("TENANT_DATA_DIR", "./data"),
			MaxIdleConns:    getEnvAsInt("TENANT_DB_MAX_IDLE_CONNS", 2),
			MaxOpenConns:    getEnvAsInt("TENANT_DB_MAX_OPEN_CONNS", 10),
			ConnMaxLifetime: getEnvAsDuration("TENANT_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		JWT: JWTConfig{
			SigningKey:   getEnv("JWT_SIGNING_KEY", "crmservicesecretkey"),
			Issuer:       getEnv("JWT_ISSUER", "crm-service"),
			AccessHours:  getEnvAsInt("JWT_ACCESS_HOURS", 8),
			RefreshHours: getEnvAsInt("JWT_REFRESH_HOURS", 24*7),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Queue: QueueConfig{
			Driver:         getEnv("QUEUE_DRIVER", QueueMemory),
			RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword:  getEnv("REDIS_PASSWORD", ""),
			RedisDB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix:      getEnv("QUEUE_KEY_PREFIX", "crm:jobs"),
			MaxAttempts:    getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
			InitialBackoff: getEnvAsDuration("QUEUE_INITIAL_BACKOFF", 5*time.Second),
			MaxBackoff:     getEnvAsDuration("QUEUE_MAX_BACKOFF", 1*time.Minute),
			JobTimeout:     getEnvAsDuration("QUEUE_JOB_TIMEOUT", 5*time.Minute),
		},
		Bootstrap: BootstrapConfig{
			OperatorName:     getEnv("BOOTSTRAP_OPERATOR_NAME", "System Operator"),
			OperatorEmail:    getEnv("BOOTSTRAP_OPERATOR_EMAIL", ""),
			OperatorPassword: getEnv("BOOTSTRAP_OPERATOR_PASSWORD", ""),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	switch c.Queue.Driver {
	case QueueMemory, QueueRedis:
	default:
		return fmt.Errorf("unsupported QUEUE_DRIVER %q", c.Queue.Driver)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1")
	}
	if c.JWT.SigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	return nil
}

// AccessTTL returns the lifetime of session tokens
func (j JWTConfig) AccessTTL() time.Duration {
	return time.Duration(j.AccessHours) * time.Hour
}

// RefreshTTL returns the lifetime of refresh tokens
func (j JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(j.RefreshHours) * time.Hour
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("db_driver", c.DB.Driver),
		zap.String("db_host", c.DB.Host),
		zap.String("db_port", c.DB.Port),
		zap.String("db_user", c.DB.User),
		zap.String("db_name", c.DB.DBName),
		zap.String("tenant_db_prefix", c.Tenant.NamePrefix),
		zap.String("queue_driver", c.Queue.Driver),
		zap.Int("queue_max_attempts", c.Queue.MaxAttempts),
		zap.String("server_port", c.Server.Port),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
