package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

type Config struct {
	ServerPort  int
	LogFormat   string
	StoreDriver string
	Database    DatabaseConfig
	Auth        AuthConfig
	Notifier    NotifierConfig
	SMTP        SMTPConfig
	RabbitMQ    RabbitMQConfig
	PubSub      PubSubConfig
	Templates   TemplateConfig
	Minio       MinioConfig
	GCS         GCSConfig
}

type DatabaseConfig struct {
	// URL, when set, takes precedence over the individual fields.
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

// AuthConfig holds the signing and hashing parameters. It is read once at
// startup and never mutated afterwards.
type AuthConfig struct {
	SecretKey      string
	Algorithm      string
	AccessTokenTTL time.Duration
	ResetTokenTTL  time.Duration
	BcryptCost     int
	ResetURL       string
}

type NotifierConfig struct {
	// Backend is one of "log", "smtp", "rabbitmq" or "pubsub".
	Backend string
	Channel string
	Timeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

type TemplateConfig struct {
	// Storage is "", "minio" or "gcs". Empty means the embedded template.
	Storage string
	Key     string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"port":       "server.port",
	"log-format": "log.format",
	"store":      "store.driver",
}

// Load reads the configuration. Precedence, highest first: changed command
// line flags, environment variables, the optional YAML file, defaults.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	src := source{file: koanf.New("."), flags: koanf.New(".")}
	if path != "" {
		if err := src.file.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", src.flags, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := src.flags.Load(provider, nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}

	dbConfig := DatabaseConfig{
		URL:      src.str("database.url", "DATABASE_URL", ""),
		Host:     src.str("database.host", "DB_HOST", "localhost"),
		Port:     src.integer("database.port", "DB_PORT", 5432),
		User:     src.str("database.user", "DB_USER", "keyward"),
		Password: src.str("database.password", "DB_PASSWORD", "password"),
		DBName:   src.str("database.name", "DB_NAME", "keyward_db"),
		UseSSL:   src.boolean("database.ssl", "DB_SSL", false),
	}

	authConfig := AuthConfig{
		SecretKey:      src.str("auth.secret_key", "SECRET_KEY", ""),
		Algorithm:      src.str("auth.algorithm", "ALGORITHM", ""),
		AccessTokenTTL: src.minutes("auth.access_token_expire_minutes", "ACCESS_TOKEN_EXPIRE_MINUTES", 30),
		ResetTokenTTL:  src.minutes("auth.reset_token_expire_minutes", "RESET_TOKEN_EXPIRE_MINUTES", 15),
		BcryptCost:     src.integer("auth.bcrypt_cost", "BCRYPT_COST", 0),
		ResetURL:       src.str("auth.reset_url", "RESET_URL", "http://localhost:8000/reset-password"),
	}

	return Config{
		ServerPort:  src.integer("server.port", "SERVER_PORT", 8080),
		LogFormat:   src.str("log.format", "LOG_FORMAT", "json"),
		StoreDriver: src.str("store.driver", "STORE_DRIVER", StorePostgres),
		Database:    dbConfig,
		Auth:        authConfig,
		Notifier: NotifierConfig{
			Backend: src.str("notifier.backend", "NOTIFIER", "log"),
			Channel: src.str("notifier.channel", "NOTIFY_CHANNEL", "password-reset"),
			Timeout: src.duration("notifier.timeout", "NOTIFY_TIMEOUT", 30*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     src.str("smtp.host", "SMTP_HOST", ""),
			Port:     src.integer("smtp.port", "SMTP_PORT", 587),
			User:     src.str("smtp.user", "SMTP_USER", ""),
			Password: src.str("smtp.password", "SMTP_PASSWORD", ""),
			From:     src.str("smtp.from", "SMTP_FROM", "support@example.com"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:             src.str("rabbitmq.url", "RABBITMQ_URL", ""),
			QueueDurable:    src.boolean("rabbitmq.queue_durable", "RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: src.boolean("rabbitmq.queue_auto_delete", "RABBITMQ_QUEUE_AUTO_DELETE", false),
			PrefetchCount:   src.integer("rabbitmq.prefetch_count", "RABBITMQ_PREFETCH_COUNT", 10),
		},
		PubSub: PubSubConfig{
			ProjectID:          src.str("pubsub.project_id", "PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    src.str("pubsub.credentials_file", "PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: src.str("pubsub.subscription_suffix", "PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
		Templates: TemplateConfig{
			Storage: src.str("templates.storage", "TEMPLATE_STORAGE", ""),
			Key:     src.str("templates.key", "TEMPLATE_KEY", "password-reset.txt"),
		},
		Minio: MinioConfig{
			Endpoint:  src.str("minio.endpoint", "MINIO_ENDPOINT", ""),
			AccessKey: src.str("minio.access_key", "MINIO_ACCESS_KEY", ""),
			SecretKey: src.str("minio.secret_key", "MINIO_SECRET_KEY", ""),
			Bucket:    src.str("minio.bucket", "MINIO_BUCKET", ""),
			UseSSL:    src.boolean("minio.use_ssl", "MINIO_USE_SSL", false),
		},
		GCS: GCSConfig{
			Bucket:          src.str("gcs.bucket", "GCS_BUCKET", ""),
			ProjectID:       src.str("gcs.project_id", "GCS_PROJECT_ID", ""),
			CredentialsFile: src.str("gcs.credentials_file", "GCS_CREDENTIALS_FILE", ""),
		},
	}, nil
}

// DSN returns the Postgres connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	sslmode := "disable"
	if c.UseSSL {
		sslmode = "require"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		User:   url.UserPassword(c.User, c.Password),
		Path:   c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

type source struct {
	file  *koanf.Koanf
	flags *koanf.Koanf
}

func (s source) str(key, env, defaultValue string) string {
	if s.flags.Exists(key) {
		return s.flags.String(key)
	}
	if value, exists := os.LookupEnv(env); exists {
		return value
	}
	if s.file.Exists(key) {
		return s.file.String(key)
	}
	return defaultValue
}

func (s source) integer(key, env string, defaultValue int) int {
	if s.flags.Exists(key) {
		return s.flags.Int(key)
	}
	if _, exists := os.LookupEnv(env); exists {
		return getEnvInt(env, defaultValue)
	}
	if s.file.Exists(key) {
		return s.file.Int(key)
	}
	return defaultValue
}

func (s source) boolean(key, env string, defaultValue bool) bool {
	if s.flags.Exists(key) {
		return s.flags.Bool(key)
	}
	if value, exists := os.LookupEnv(env); exists {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	if s.file.Exists(key) {
		return s.file.Bool(key)
	}
	return defaultValue
}

// minutes reads a whole number of minutes, matching the *_EXPIRE_MINUTES
// variables.
func (s source) minutes(key, env string, defaultMinutes int) time.Duration {
	return time.Duration(s.integer(key, env, defaultMinutes)) * time.Minute
}

func (s source) duration(key, env string, defaultValue time.Duration) time.Duration {
	raw := s.str(key, env, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}
