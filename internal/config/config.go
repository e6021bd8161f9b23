package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/riskibarqy/duel-ingest/internal/platform/logging"
	"github.com/riskibarqy/duel-ingest/internal/platform/resilience"
	"github.com/robfig/cron/v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config stores runtime configuration for the service and the CLI.
type Config struct {
	AppEnv         string
	ServiceName    string
	ServiceVersion string
	HTTPAddr       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	LogLevel       logging.Level

	StoreDriver             string
	DBURL                   string
	DBDisablePreparedBinary bool
	DBAutoMigrate           bool

	DuelsAPIHosts      []string
	DuelsAPITimeout    time.Duration
	DuelsAPIToken      string
	DuelsAPICookieName string
	DuelsPlayerID      string
	DuelsEndpointsFile string
	DuelsCircuit       resilience.CircuitBreakerConfig
	ProfileCacheTTL    time.Duration

	GeoDatasetMirrors []string
	GeoDatasetTimeout time.Duration
	GeoReverseEnabled bool
	GeoReverseURL     string
	GeoReverseTimeout time.Duration

	IngestConcurrency          int
	IngestRetryErrors          bool
	IngestSchedule             string
	IngestMissingRetryAfter    time.Duration
	IngestEnrichmentRetryAfter time.Duration

	InternalJobToken   string
	MetricsEnabled     bool
	CORSAllowedOrigins []string

	UptraceEnabled             bool
	UptraceDSN                 string
	PyroscopeEnabled           bool
	PyroscopeServerAddress     string
	PyroscopeAppName           string
	PyroscopeAuthToken         string
	PyroscopeBasicAuthUser     string
	PyroscopeBasicAuthPassword string
	PyroscopeUploadRate        time.Duration
	PprofEnabled               bool
	PprofAddr                  string
}

// Load reads the process environment, falling back to the dotenv file named
// by APP_ENV_FILE (default .env) for keys the environment does not set.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("APP_ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}

	file, err := godotenv.Read(envFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read env file %s: %w", envFile, err)
		}
		file = nil
	}
	return load(env{file: file})
}

type env struct {
	file map[string]string
}

func (e env) get(key, fallback string) string {
	if value := os.Getenv(key); strings.TrimSpace(value) != "" {
		return value
	}
	if value := e.file[key]; strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func (e env) bool(key string, fallback bool) (bool, error) {
	out, err := strconv.ParseBool(strings.TrimSpace(e.get(key, strconv.FormatBool(fallback))))
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return out, nil
}

func (e env) int(key string, fallback int) (int, error) {
	out, err := strconv.Atoi(strings.TrimSpace(e.get(key, strconv.Itoa(fallback))))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return out, nil
}

// positiveDuration parses key and rejects values <= 0.
func (e env) positiveDuration(key, fallback string) (time.Duration, error) {
	out, err := time.ParseDuration(strings.TrimSpace(e.get(key, fallback)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if out <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return out, nil
}

func load(e env) (Config, error) {
	appEnv, err := parseAppEnv(e.get("APP_ENV", EnvDev))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:             appEnv,
		ServiceName:        strings.TrimSpace(e.get("APP_SERVICE_NAME", "duel-ingest")),
		ServiceVersion:     strings.TrimSpace(e.get("APP_SERVICE_VERSION", "dev")),
		HTTPAddr:           strings.TrimSpace(e.get("APP_HTTP_ADDR", ":8080")),
		LogLevel:           logging.ParseLevel(e.get("APP_LOG_LEVEL", "info")),
		DBURL:              strings.TrimSpace(e.get("DB_URL", "")),
		DuelsAPIToken:      strings.TrimSpace(e.get("DUELS_API_TOKEN", "")),
		DuelsAPICookieName: strings.TrimSpace(e.get("DUELS_API_COOKIE_NAME", "_ncfa")),
		DuelsPlayerID:      strings.TrimSpace(e.get("DUELS_PLAYER_ID", "")),
		DuelsEndpointsFile: strings.TrimSpace(e.get("DUELS_ENDPOINTS_FILE", "")),
		GeoReverseURL:      strings.TrimSpace(e.get("GEO_REVERSE_URL", "https://api.bigdatacloud.net/data/reverse-geocode-client")),
		IngestSchedule:     strings.TrimSpace(e.get("INGEST_SCHEDULE", "")),
		InternalJobToken:   strings.TrimSpace(e.get("INTERNAL_JOB_TOKEN", "")),
		UptraceDSN:         strings.TrimSpace(e.get("UPTRACE_DSN", "")),
		PprofAddr:          strings.TrimSpace(e.get("PPROF_ADDR", ":6060")),
	}
	if cfg.HTTPAddr == "" {
		return Config{}, fmt.Errorf("APP_HTTP_ADDR cannot be empty")
	}
	cfg.CORSAllowedOrigins = splitCSV(e.get("CORS_ALLOWED_ORIGINS", "*"))

	if cfg.ReadTimeout, err = e.positiveDuration("APP_READ_TIMEOUT", "10s"); err != nil {
		return Config{}, err
	}
	if cfg.WriteTimeout, err = e.positiveDuration("APP_WRITE_TIMEOUT", "15s"); err != nil {
		return Config{}, err
	}

	if err := loadStore(e, &cfg); err != nil {
		return Config{}, err
	}
	if err := loadDuelsAPI(e, &cfg); err != nil {
		return Config{}, err
	}
	if err := loadGeo(e, &cfg); err != nil {
		return Config{}, err
	}
	if err := loadIngest(e, &cfg); err != nil {
		return Config{}, err
	}
	if err := loadObservability(e, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadStore(e env, cfg *Config) error {
	driver := strings.ToLower(strings.TrimSpace(e.get("STORE_DRIVER", StoreMemory)))
	switch driver {
	case StoreMemory:
	case StorePostgres, StoreSQLite:
		if cfg.DBURL == "" {
			return fmt.Errorf("DB_URL is required when STORE_DRIVER=%s", driver)
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: valid values are %s, %s, %s", driver, StoreMemory, StorePostgres, StoreSQLite)
	}
	cfg.StoreDriver = driver

	var err error
	if cfg.DBDisablePreparedBinary, err = e.bool("DB_DISABLE_PREPARED_BINARY_RESULT", true); err != nil {
		return err
	}
	if cfg.DBAutoMigrate, err = e.bool("DB_AUTO_MIGRATE", driver == StoreSQLite); err != nil {
		return err
	}
	return nil
}

func loadDuelsAPI(e env, cfg *Config) error {
	hosts, err := parseURLList("DUELS_API_HOSTS", e.get("DUELS_API_HOSTS", ""))
	if err != nil {
		return err
	}
	cfg.DuelsAPIHosts = hosts

	if cfg.DuelsAPITimeout, err = e.positiveDuration("DUELS_API_TIMEOUT", "15s"); err != nil {
		return err
	}
	if cfg.ProfileCacheTTL, err = e.positiveDuration("DUELS_PROFILE_CACHE_TTL", "24h"); err != nil {
		return err
	}
	if cfg.DuelsAPICookieName == "" {
		return fmt.Errorf("DUELS_API_COOKIE_NAME cannot be empty")
	}

	circuit := resilience.DefaultCircuitBreakerConfig()
	if circuit.Enabled, err = e.bool("DUELS_CIRCUIT_ENABLED", true); err != nil {
		return err
	}
	if circuit.FailureThreshold, err = e.int("DUELS_CIRCUIT_FAILURE_COUNT", circuit.FailureThreshold); err != nil {
		return err
	}
	if circuit.OpenTimeout, err = e.positiveDuration("DUELS_CIRCUIT_OPEN_TIMEOUT", circuit.OpenTimeout.String()); err != nil {
		return err
	}
	if circuit.HalfOpenMaxReq, err = e.int("DUELS_CIRCUIT_HALF_OPEN_MAX_REQ", circuit.HalfOpenMaxReq); err != nil {
		return err
	}
	if err := circuit.Validate(); err != nil {
		return fmt.Errorf("DUELS_CIRCUIT_*: %w", err)
	}
	cfg.DuelsCircuit = circuit
	return nil
}

func loadGeo(e env, cfg *Config) error {
	mirrors, err := parseURLList("GEO_DATASET_MIRRORS", e.get("GEO_DATASET_MIRRORS", ""))
	if err != nil {
		return err
	}
	cfg.GeoDatasetMirrors = mirrors

	if cfg.GeoDatasetTimeout, err = e.positiveDuration("GEO_DATASET_TIMEOUT", "60s"); err != nil {
		return err
	}
	if cfg.GeoReverseTimeout, err = e.positiveDuration("GEO_REVERSE_TIMEOUT", "5s"); err != nil {
		return err
	}
	if cfg.GeoReverseEnabled, err = e.bool("GEO_REVERSE_ENABLED", true); err != nil {
		return err
	}
	if cfg.GeoReverseEnabled {
		if _, err := parseURLList("GEO_REVERSE_URL", cfg.GeoReverseURL); err != nil || cfg.GeoReverseURL == "" {
			return fmt.Errorf("GEO_REVERSE_URL must be an http(s) URL when GEO_REVERSE_ENABLED=true")
		}
	}
	return nil
}

func loadIngest(e env, cfg *Config) error {
	var err error
	if cfg.IngestConcurrency, err = e.int("INGEST_CONCURRENCY", 4); err != nil {
		return err
	}
	if cfg.IngestConcurrency < 1 || cfg.IngestConcurrency > 64 {
		return fmt.Errorf("INGEST_CONCURRENCY must be between 1 and 64")
	}
	if cfg.IngestRetryErrors, err = e.bool("INGEST_RETRY_ERRORS", true); err != nil {
		return err
	}
	if cfg.IngestMissingRetryAfter, err = e.positiveDuration("INGEST_MISSING_RETRY_AFTER", "168h"); err != nil {
		return err
	}
	if cfg.IngestEnrichmentRetryAfter, err = e.positiveDuration("INGEST_ENRICHMENT_RETRY_AFTER", "720h"); err != nil {
		return err
	}
	if cfg.IngestSchedule != "" {
		if _, err := cron.ParseStandard(cfg.IngestSchedule); err != nil {
			return fmt.Errorf("parse INGEST_SCHEDULE: %w", err)
		}
	}
	if cfg.MetricsEnabled, err = e.bool("METRICS_ENABLED", true); err != nil {
		return err
	}
	return nil
}

func loadObservability(e env, cfg *Config) error {
	var err error
	if cfg.UptraceEnabled, err = e.bool("UPTRACE_ENABLED", false); err != nil {
		return err
	}
	if cfg.UptraceDSN == "" {
		cfg.UptraceDSN = parseUptraceDSNFromOTLPHeaders(e.get("OTEL_EXPORTER_OTLP_HEADERS", ""))
	}
	if cfg.UptraceEnabled && cfg.UptraceDSN == "" {
		return fmt.Errorf("UPTRACE_DSN is required when UPTRACE_ENABLED=true")
	}

	if cfg.PyroscopeEnabled, err = e.bool("PYROSCOPE_ENABLED", false); err != nil {
		return err
	}
	cfg.PyroscopeServerAddress = strings.TrimSpace(e.get("PYROSCOPE_SERVER_ADDRESS", ""))
	if cfg.PyroscopeEnabled && cfg.PyroscopeServerAddress == "" {
		return fmt.Errorf("PYROSCOPE_SERVER_ADDRESS is required when PYROSCOPE_ENABLED=true")
	}
	cfg.PyroscopeAppName = strings.TrimSpace(e.get("PYROSCOPE_APP_NAME", cfg.ServiceName))
	if cfg.PyroscopeEnabled && cfg.PyroscopeAppName == "" {
		return fmt.Errorf("PYROSCOPE_APP_NAME cannot be empty when PYROSCOPE_ENABLED=true")
	}
	cfg.PyroscopeAuthToken = strings.TrimSpace(e.get("PYROSCOPE_AUTH_TOKEN", ""))
	cfg.PyroscopeBasicAuthUser = strings.TrimSpace(e.get("PYROSCOPE_BASIC_AUTH_USER", ""))
	cfg.PyroscopeBasicAuthPassword = strings.TrimSpace(e.get("PYROSCOPE_BASIC_AUTH_PASSWORD", ""))
	if cfg.PyroscopeUploadRate, err = e.positiveDuration("PYROSCOPE_UPLOAD_RATE", "15s"); err != nil {
		return err
	}

	if cfg.PprofEnabled, err = e.bool("PPROF_ENABLED", false); err != nil {
		return err
	}
	if cfg.PprofEnabled && cfg.PprofAddr == "" {
		return fmt.Errorf("PPROF_ADDR is required when PPROF_ENABLED=true")
	}
	return nil
}

// parseURLList splits a comma separated list of absolute http(s) URLs.
func parseURLList(key, raw string) ([]string, error) {
	items := splitCSV(raw)
	out := make([]string, 0, len(items))
	for _, item := range items {
		u, err := url.Parse(item)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid %s item %q: expected an http(s) URL", key, item)
		}
		out = append(out, strings.TrimRight(item, "/"))
	}
	return out, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}

	return out
}

func parseUptraceDSNFromOTLPHeaders(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	items := strings.Split(raw, ",")
	for _, item := range items {
		parts := strings.SplitN(strings.TrimSpace(item), "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(parts[0]), "uptrace-dsn") {
			value := strings.TrimSpace(parts[1])
			return strings.Trim(value, "\"'")
		}
	}

	return ""
}

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

func parseAppEnv(v string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(v))
	switch value {
	case EnvDev, EnvStage, EnvProd:
		return value, nil
	default:
		return "", fmt.Errorf("invalid APP_ENV %q: valid values are %s, %s, %s", v, EnvDev, EnvStage, EnvProd)
	}
}
