package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const defaultOTPExpiryMinutes = 10

var (
	current  *Config
	loadOnce sync.Once
)

// Config holds every setting the service reads from the environment
type Config struct {
	Environment   string
	ServiceName   string
	Version       string
	Server        ServerConfig
	Logging       LoggingConfig
	OTP           OTPConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	Hashing       HashingConfig
	KMS           KMSConfig
	Twilio        TwilioConfig
	SMTP          SMTPConfig
	Notification  NotificationConfig
	CORS          CORSConfig
}

type ServerConfig struct {
	Port         int
	BasePath     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// TLS: certificate files win, then autocert for Domain, then a
	// self-signed certificate outside production
	EnableTLS     bool
	CertFile      string
	KeyFile       string
	Domain        string
	AutoCertDir   string
	AutoCertEmail string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type OTPConfig struct {
	// Store selects the OTP backend: redis, scylla or memory
	Store           string
	ExpiryMinutes   int
	DeliveryTimeout time.Duration
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string

	// TLS is enabled when TLSCAFile is set
	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type HashingConfig struct {
	Pepper            string
	PepperCiphertext  string
	Argon2TimeCost    int
	Argon2MemoryCost  int
	Argon2Parallelism int
}

type KMSConfig struct {
	Enabled bool
	Region  string
	KeyID   string
}

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	// Channel is sms or whatsapp
	Channel string
}

type SMTPConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	SenderEmail string
}

type NotificationConfig struct {
	ManagerEmail string
	CompanyName  string
	DashboardURL string
	SupportEmail string
	SupportPhone string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// LoadConfig reads .env (when present) and the process environment
func LoadConfig() *Config {
	loadOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: no .env file loaded, using process environment")
		}
		current = FromEnv()
	})
	return current
}

// Get returns the loaded configuration, loading it on first use
func Get() *Config {
	if current == nil {
		return LoadConfig()
	}
	return current
}

// FromEnv builds a Config from the current environment without touching .env
func FromEnv() *Config {
	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		ServiceName: getEnv("SERVICE_NAME", "enquiry-service"),
		Version:     getEnv("SERVICE_VERSION", "1.0.0"),
		Server: ServerConfig{
			Port:         getEnvInt("PORT", 5000),
			BasePath:     getEnv("API_BASE_PATH", "/api/enquiries"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),

			EnableTLS:     getEnvBool("SERVER_TLS_ENABLED", false),
			CertFile:      getEnv("SERVER_CERT_FILE", ""),
			KeyFile:       getEnv("SERVER_KEY_FILE", ""),
			Domain:        getEnv("SERVER_DOMAIN", ""),
			AutoCertDir:   getEnv("AUTOCERT_DIR", "certs"),
			AutoCertEmail: getEnv("AUTOCERT_EMAIL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		OTP: OTPConfig{
			Store:           strings.ToLower(getEnv("OTP_STORE", "redis")),
			ExpiryMinutes:   ParseExpiryMinutes(os.Getenv("OTP_EXPIRY_MINUTES")),
			DeliveryTimeout: getEnvDuration("DELIVERY_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite")),
			URL:             getEnv("DATABASE_URL", "enquiries.db"),
			MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DATABASE_CONN_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "enquiries"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),

			TLSCAFile:   getEnv("SCYLLA_TLS_CA_FILE", ""),
			TLSCertFile: getEnv("SCYLLA_TLS_CERT_FILE", ""),
			TLSKeyFile:  getEnv("SCYLLA_TLS_KEY_FILE", ""),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "enquiry-events"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      getEnv("ELASTICSEARCH_URL", ""),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_INDEX", "enquiries"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", ""),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "default"),
		},
		Hashing: HashingConfig{
			Pepper:            getEnv("OTP_PEPPER", ""),
			PepperCiphertext:  getEnv("OTP_PEPPER_CIPHERTEXT", ""),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 1),
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 19*1024),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			Region:  getEnv("AWS_REGION", "ap-south-1"),
			KeyID:   getEnv("KMS_KEY_ID", ""),
		},
		Twilio: TwilioConfig{
			AccountSID:  getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
			PhoneNumber: getEnv("TWILIO_PHONE_NUMBER", ""),
			Channel:     strings.ToLower(getEnv("TWILIO_CHANNEL", "sms")),
		},
		SMTP: SMTPConfig{
			Host:        getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:        getEnvInt("SMTP_PORT", 587),
			User:        getEnv("SMTP_USER", ""),
			Password:    getEnv("SMTP_PASS", ""),
			SenderEmail: getEnv("SENDER_EMAIL", ""),
		},
		Notification: NotificationConfig{
			ManagerEmail: getEnv("MANAGER_EMAIL", ""),
			CompanyName:  getEnv("COMPANY_NAME", "Leela Micro Controller"),
			DashboardURL: getEnv("DASHBOARD_URL", "http://localhost:5173/dashboard"),
			SupportEmail: getEnv("SUPPORT_EMAIL", "support@leelamicro.com"),
			SupportPhone: getEnv("SUPPORT_PHONE", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:5173",
				"http://localhost:3000",
				"http://localhost:5000",
			}),
		},
	}
}

// ParseExpiryMinutes falls back to the default for empty, non-numeric or non-positive values
func ParseExpiryMinutes(raw string) int {
	minutes, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || minutes <= 0 {
		return defaultOTPExpiryMinutes
	}
	return minutes
}

// OTPTTL returns the validity window of an issued code
func (c *Config) OTPTTL() time.Duration {
	return time.Duration(c.OTP.ExpiryMinutes) * time.Minute
}

// Validate rejects settings the service must not start with
func (c *Config) Validate() error {
	switch c.OTP.Store {
	case "redis", "scylla":
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("OTP_STORE=memory is not allowed in production: codes would not survive restarts or be shared between instances")
		}
	default:
		return fmt.Errorf("unknown OTP_STORE %q: expected redis, scylla or memory", c.OTP.Store)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func (c *Config) TwilioConfigured() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" && c.Twilio.PhoneNumber != ""
}

func (c *Config) SMTPConfigured() bool {
	return c.SMTP.User != "" && c.SMTP.Password != "" && c.SMTP.SenderEmail != ""
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil && value > 0 {
		return value
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
