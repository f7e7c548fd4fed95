package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures everything the process needs from its environment. All
// values come from VCGATEWAY_* variables so main stays lean.
type Config struct {
	Addr string

	// Client-credentials token acquisition.
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	Scope         string

	// External Verifiable Credentials REST API.
	APIEndpoint string

	// Directory holding the issuance/presentation request templates.
	TemplateDir string

	// Correlation store backend: "memory", "redis" or "postgres".
	StoreBackend string
	Redis        RedisConfig
	PostgresDSN  string

	// Hard ceiling on how long a request record may live; the effective TTL
	// per record is the lesser of this and the upstream-reported expiry.
	RecordTTL time.Duration

	// Bound on each outbound call (token endpoint, VC API).
	UpstreamTimeout time.Duration

	// PermissiveTransitions applies callbacks last-write-wins instead of
	// forward-only transition validation.
	PermissiveTransitions bool

	// StrictPoll makes the poll endpoints answer 404 for unknown or expired
	// ids instead of the empty success body the frontend polls against.
	StrictPoll bool

	// Optional Kafka audit sink; audit stays in-process when unset.
	KafkaBrokers string
	KafkaTopic   string
}

// RedisConfig mirrors the platform redis client knobs.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables with development
// defaults for everything that has a sane one. Credentials have no default.
func FromEnv() Config {
	return Config{
		Addr:          getenv("VCGATEWAY_ADDR", ":8080"),
		TokenEndpoint: os.Getenv("VCGATEWAY_TOKEN_ENDPOINT"),
		ClientID:      os.Getenv("VCGATEWAY_CLIENT_ID"),
		ClientSecret:  os.Getenv("VCGATEWAY_CLIENT_SECRET"),
		Scope:         getenv("VCGATEWAY_SCOPE", "bbb94529-53a3-4be5-a069-7eaf2712b826/.default"),
		APIEndpoint:   os.Getenv("VCGATEWAY_API_ENDPOINT"),
		TemplateDir:   getenv("VCGATEWAY_TEMPLATE_DIR", "."),
		StoreBackend:  getenv("VCGATEWAY_STORE", "memory"),
		Redis: RedisConfig{
			URL:          os.Getenv("VCGATEWAY_REDIS_URL"),
			PoolSize:     getint("VCGATEWAY_REDIS_POOL_SIZE", 10),
			MinIdleConns: getint("VCGATEWAY_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getduration("VCGATEWAY_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getduration("VCGATEWAY_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getduration("VCGATEWAY_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		PostgresDSN:           os.Getenv("VCGATEWAY_POSTGRES_DSN"),
		RecordTTL:             getduration("VCGATEWAY_RECORD_TTL", 30*time.Minute),
		UpstreamTimeout:       getduration("VCGATEWAY_UPSTREAM_TIMEOUT", 10*time.Second),
		PermissiveTransitions: os.Getenv("VCGATEWAY_PERMISSIVE_TRANSITIONS") == "true",
		StrictPoll:            os.Getenv("VCGATEWAY_STRICT_POLL") == "true",
		KafkaBrokers:          os.Getenv("VCGATEWAY_KAFKA_BROKERS"),
		KafkaTopic:            getenv("VCGATEWAY_KAFKA_TOPIC", "vcgateway.audit"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
