package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Observ    ObservabilityConfig
	Business  BusinessConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port string
	Env  string
	// MachineID seeds the id generator. Instances sharing a database need distinct ids.
	MachineID int64
}

type DatabaseConfig struct {
	Driver string
	URL    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers            []string
	TopicOrderEvents   string
	TopicPaymentEvents string
	ConsumerGroup      string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
}

// BusinessConfig holds the tunables of the reservation lifecycle.
type BusinessConfig struct {
	// ReservationWindow is how long a draft or payment_pending order holds
	// its vehicle before it is considered expired.
	ReservationWindow time.Duration
	// CODReleasesAvailability makes a COD confirmation flip the vehicle back
	// to bookable immediately.
	CODReleasesAvailability bool
	OwnerSharePercent       int
}

// SchedulerConfig holds cron specs (seconds precision) for the background sweeps.
type SchedulerConfig struct {
	ExpirySweep        string
	TransactionSweep   string
	VehicleWindowSweep string
	SweepTimeout       time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	windowSeconds, err := getEnvInt("RESERVATION_WINDOW_SECONDS", 600)
	if err != nil {
		return nil, fmt.Errorf("invalid RESERVATION_WINDOW_SECONDS: %w", err)
	}
	if windowSeconds <= 0 {
		return nil, fmt.Errorf("RESERVATION_WINDOW_SECONDS must be > 0")
	}

	ownerShare, err := getEnvInt("OWNER_SHARE_PERCENT", 80)
	if err != nil {
		return nil, fmt.Errorf("invalid OWNER_SHARE_PERCENT: %w", err)
	}
	if ownerShare < 0 || ownerShare > 100 {
		return nil, fmt.Errorf("OWNER_SHARE_PERCENT must be between 0 and 100")
	}

	codRelease, err := strconv.ParseBool(getEnv("COD_RELEASES_AVAILABILITY", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid COD_RELEASES_AVAILABILITY: %w", err)
	}

	sweepTimeout, err := getEnvInt("SWEEP_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_TIMEOUT_SECONDS: %w", err)
	}
	if sweepTimeout <= 0 {
		return nil, fmt.Errorf("SWEEP_TIMEOUT_SECONDS must be > 0")
	}

	machineID, err := getEnvInt("MACHINE_ID", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid MACHINE_ID: %w", err)
	}
	if machineID < 0 || machineID > 1023 {
		return nil, fmt.Errorf("MACHINE_ID must be between 0 and 1023")
	}

	driver := getEnv("DB_DRIVER", "mysql")
	if driver != "mysql" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      getEnv("PORT", "8080"),
			Env:       getEnv("ENV", "development"),
			MachineID: int64(machineID),
		},
		Database: DatabaseConfig{
			Driver: driver,
			URL:    getEnv("DATABASE_URL", "app:secret@tcp(localhost:3306)/rental?parseTime=true"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:            splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
			TopicOrderEvents:   getEnv("KAFKA_TOPIC_ORDER_EVENTS", "rental-order-events"),
			TopicPaymentEvents: getEnv("KAFKA_TOPIC_PAYMENT_EVENTS", "rental-payment-events"),
			ConsumerGroup:      getEnv("KAFKA_CONSUMER_GROUP", "rental-service-group"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		},
		Business: BusinessConfig{
			ReservationWindow:       time.Duration(windowSeconds) * time.Second,
			CODReleasesAvailability: codRelease,
			OwnerSharePercent:       ownerShare,
		},
		Scheduler: SchedulerConfig{
			ExpirySweep:        getEnv("EXPIRY_SWEEP_SPEC", "@every 1s"),
			TransactionSweep:   getEnv("TRANSACTION_SWEEP_SPEC", "@every 10s"),
			VehicleWindowSweep: getEnv("VEHICLE_WINDOW_SWEEP_SPEC", "@every 10s"),
			SweepTimeout:       time.Duration(sweepTimeout) * time.Second,
		},
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}

	log.Printf("Config loaded: env=%s, port=%s, db=%s, window=%s",
		cfg.Server.Env, cfg.Server.Port, cfg.Database.Driver, cfg.Business.ReservationWindow)
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(val)
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
