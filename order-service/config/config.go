package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8082"`
	GRPCAddr string `envconfig:"GRPC_ADDR" default:":50051"`

	DB    DBConfig
	Kafka KafkaConfig
	Redis RedisConfig

	JWTSecret string `envconfig:"JWT_SECRET" default:"your-secret-key"`

	Currency    string `envconfig:"CURRENCY" default:"usd"`
	FrontEndURL string `envconfig:"FRONT_END_URL" default:"http://localhost:3000"`
	// IPNBaseURL of "test" disables the IPN callback on redirect payments.
	IPNBaseURL string `envconfig:"IPN_BASE_URL" default:"http://localhost:8082"`

	StripeSecretKey string `envconfig:"STRIPE_SECRET_KEY"`
	StripeBaseURL   string `envconfig:"STRIPE_BASE_URL" default:"https://api.stripe.com"`
	GlobeeAPIKey    string `envconfig:"GLOBEE_API_KEY"`
	GlobeeBaseURL   string `envconfig:"GLOBEE_BASE_URL" default:"https://globee.com/payment-api/v1"`

	LedgerURL string `envconfig:"TARI_URL" default:"http://localhost:8080"`

	ExternalCallTimeout time.Duration `envconfig:"EXTERNAL_CALL_TIMEOUT" default:"20s"`
	ReservationTTL      time.Duration `envconfig:"RESERVATION_TTL" default:"15m"`
	IPNReplayTTL        time.Duration `envconfig:"IPN_REPLAY_TTL" default:"24h"`

	BreakerMaxFailures  int           `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerResetTimeout time.Duration `envconfig:"BREAKER_RESET_TIMEOUT" default:"30s"`
}

type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"`
	Name     string `envconfig:"DB_NAME" default:"orderdb"`
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	Topic   string   `envconfig:"KAFKA_TOPIC" default:"order_events"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     string `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Load reads the configuration from the environment, after applying an
// optional .env file (ENV_FILE, default ".env").
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return &cfg, nil
}
