package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.yaml.in/yaml/v4"
)

// EnvPrefix prefixes every credential variable, e.g. ORDERBOX_DB_PASSWORD.
const EnvPrefix = "ORDERBOX"

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	OrderBox OrderBoxConfig `yaml:"orderbox"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Partner  PartnerConfig  `yaml:"partner"`

	Secrets Secrets `yaml:"-"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.Username, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.DBName,
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u.RawQuery = url.Values{"sslmode": {sslMode}}.Encode()
	return u.String()
}

type KafkaConfig struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	OrderEventsTopicName string `yaml:"order_events_topic_name"`
}

// Brokers is empty when kafka is not configured.
func (k KafkaConfig) Brokers() []string {
	if k.Host == "" {
		return nil
	}
	return []string{net.JoinHostPort(k.Host, strconv.Itoa(k.Port))}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`
}

func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

type OrderBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	WorkerHTTPAddr     string `yaml:"worker_http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	OrderCacheTTLSeconds   int `yaml:"order_cache_ttl_seconds"`
	MLRateLimitPerMinute   int `yaml:"ml_rate_limit_per_minute"`
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`

	// Timezone whose midnight starts "today" in the order stats.
	Timezone string `yaml:"timezone"`

	// Mercado Libre store id -> branch name.
	StoreNames map[string]string `yaml:"store_names"`
}

func (o OrderBoxConfig) OrderCacheTTL() time.Duration {
	return time.Duration(o.OrderCacheTTLSeconds) * time.Second
}

// Location falls back to UTC when the zone is unknown.
func (o OrderBoxConfig) Location() *time.Location {
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (o OrderBoxConfig) ShutdownTimeout() time.Duration {
	return time.Duration(o.ShutdownTimeoutSeconds) * time.Second
}

// JobsConfig schedules the worker. An interval of 0 disables that job.
type JobsConfig struct {
	TickSeconds int `yaml:"tick_seconds"`
	Concurrency int `yaml:"concurrency"`

	SyncMercadoLibreMinutes int `yaml:"sync_mercadolibre_minutes"`
	SyncWixMinutes          int `yaml:"sync_wix_minutes"`
	SyncFalabellaMinutes    int `yaml:"sync_falabella_minutes"`
	MLStatusMinutes         int `yaml:"ml_status_minutes"`
	PartnerDeliveredMinutes int `yaml:"partner_delivered_minutes"`

	MLStatusDaysBack       int `yaml:"ml_status_days_back"`
	PartnerLookbackMinutes int `yaml:"partner_lookback_minutes"`

	JitterSeconds   int `yaml:"jitter_seconds"`
	Backoff1Seconds int `yaml:"backoff_1_seconds"`
	Backoff2Seconds int `yaml:"backoff_2_seconds"`
	Backoff3Seconds int `yaml:"backoff_3_seconds"`
	Backoff4Seconds int `yaml:"backoff_4_seconds"`
}

func Minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

type PartnerRule struct {
	Channel       string   `yaml:"channel"`
	LogisticTypes []string `yaml:"logistic_types"`
}

type PartnerConfig struct {
	// Empty means the built-in policy.
	Policy []PartnerRule `yaml:"policy"`
}

// Secrets come from the environment only.
type Secrets struct {
	DBPassword    string `envconfig:"DB_PASSWORD" required:"true"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	CronSecret    string `envconfig:"CRON_SECRET"`

	MLClientID     string `envconfig:"ML_CLIENT_ID"`
	MLClientSecret string `envconfig:"ML_CLIENT_SECRET"`
	MLRefreshToken string `envconfig:"ML_REFRESH_TOKEN"`
	MLAccessToken  string `envconfig:"ML_ACCESS_TOKEN"`
	MLSellerID     string `envconfig:"ML_SELLER_ID"`

	WixAPIKey string `envconfig:"WIX_API_KEY"`
	WixSiteID string `envconfig:"WIX_SITE_ID"`

	FalabellaUserID string `envconfig:"FALABELLA_USER_ID"`
	FalabellaAPIKey string `envconfig:"FALABELLA_API_KEY"`

	HalconURL         string `envconfig:"HALCON_API_URL"`
	HalconSecret      string `envconfig:"HALCON_WEBHOOK_SECRET"`
	FirebaseAPIKey    string `envconfig:"FIREBASE_API_KEY"`
	FirebaseProjectID string `envconfig:"FIREBASE_PROJECT_ID"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	config.applyDefaults()

	return &config, nil
}

// Load reads the YAML file, then the secrets from the environment. envFiles
// are loaded into the environment first; missing ones are ignored and
// variables already set win.
func Load(filename string, envFiles ...string) (*Config, error) {
	cfg, err := LoadConfig(filename)
	if err != nil {
		return nil, err
	}
	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	if err := envconfig.Process(EnvPrefix, &cfg.Secrets); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.Database.Password = cfg.Secrets.DBPassword
	return cfg, nil
}

func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Kafka.Port == 0 {
		c.Kafka.Port = 9092
	}
	if c.Kafka.OrderEventsTopicName == "" {
		c.Kafka.OrderEventsTopicName = "orders.events"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	o := &c.OrderBox
	if o.HTTPAddr == "" {
		o.HTTPAddr = ":8080"
	}
	if o.WorkerHTTPAddr == "" {
		o.WorkerHTTPAddr = ":8081"
	}
	if o.KafkaConsumerGroup == "" {
		o.KafkaConsumerGroup = "orderbox-api"
	}
	if o.OrderCacheTTLSeconds == 0 {
		o.OrderCacheTTLSeconds = 300
	}
	if o.MLRateLimitPerMinute == 0 {
		o.MLRateLimitPerMinute = 300
	}
	if o.ShutdownTimeoutSeconds == 0 {
		o.ShutdownTimeoutSeconds = 10
	}
	if o.Timezone == "" {
		o.Timezone = "America/Bogota"
	}

	j := &c.Jobs
	if j.TickSeconds == 0 {
		j.TickSeconds = 5
	}
	if j.Concurrency == 0 {
		j.Concurrency = 2
	}
	if j.MLStatusDaysBack == 0 {
		j.MLStatusDaysBack = 60
	}
	if j.PartnerLookbackMinutes == 0 {
		j.PartnerLookbackMinutes = 30
	}
}
