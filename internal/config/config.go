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
	HTTPPort    string
	CORSOrigins []string

	StoreDriver    string
	DSN            string
	MongoURI       string
	MongoDB        string
	MemorySnapshot string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LocationTTL   time.Duration

	JWTSecret string

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaGroupID string
	KafkaTopic   string

	MaxRadiusKm        float64
	CatalogCacheTTL    time.Duration
	StoreCallTimeout   time.Duration
	AtomicOrders       bool
	SessionTTL         time.Duration
	RateLimitRPS       float64
	RateLimitBurst     int
	OutboxPollInterval time.Duration
	AuditBatchSize     int
	AuditFlushInterval time.Duration
	AuditFilter        string
}

// LoadConfig reads the environment, after loading envFiles (default .env)
// into it. Variables already set win over file values.
func LoadConfig(envFiles ...string) *Config {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		log.Printf("config: load env file: %v", err)
	}
	return &Config{
		HTTPPort:    getEnv("APP_PORT", "9000"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),

		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		DSN:            getEnv("APP_DSN", "host=localhost user=postgres password=postgres dbname=mealmarket sslmode=disable"),
		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:        getEnv("MONGO_DB", "mealmarket"),
		MemorySnapshot: getEnv("MEMORY_SNAPSHOT", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		LocationTTL:   getDuration("LOCATION_TTL", 24*time.Hour),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),

		KafkaEnabled: getBool("KAFKA_ENABLED", false),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "chef-feed"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "order-events"),

		MaxRadiusKm:        getFloat("MAX_RADIUS_KM", 50),
		CatalogCacheTTL:    getDuration("CATALOG_CACHE_TTL", 15*time.Second),
		StoreCallTimeout:   getDuration("STORE_CALL_TIMEOUT", 5*time.Second),
		AtomicOrders:       getBool("ATOMIC_ORDERS", true),
		SessionTTL:         getDuration("SESSION_TTL", 2*time.Hour),
		RateLimitRPS:       getFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getInt("RATE_LIMIT_BURST", 20),
		OutboxPollInterval: getDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		AuditBatchSize:     getInt("AUDIT_BATCH_SIZE", 50),
		AuditFlushInterval: getDuration("AUDIT_FLUSH_INTERVAL", time.Second),
		AuditFilter:        getEnv("AUDIT_FILTER", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return v
}

func getFloat(key string, defaultVal float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}

func getBool(key string, defaultVal bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return v
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.HTTPPort)
}
