package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points Load at a dotenv file that does not exist.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("APP_ENV", EnvDev)
	t.Setenv("UPTRACE_ENABLED", "false")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DB_URL", "")
}

func TestLoad_AppEnvValidation(t *testing.T) {
	isolate(t)
	t.Setenv("APP_ENV", "invalid")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid APP_ENV")
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceName != "duel-ingest" || cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected service defaults: %+v", cfg)
	}
	if cfg.StoreDriver != StoreMemory {
		t.Fatalf("expected memory store by default, got %q", cfg.StoreDriver)
	}
	if cfg.IngestConcurrency != 4 || !cfg.IngestRetryErrors {
		t.Fatalf("unexpected ingest defaults: concurrency=%d retry=%v", cfg.IngestConcurrency, cfg.IngestRetryErrors)
	}
	if cfg.IngestMissingRetryAfter != 7*24*time.Hour {
		t.Fatalf("unexpected missing retry window: %s", cfg.IngestMissingRetryAfter)
	}
	if cfg.ProfileCacheTTL != 24*time.Hour {
		t.Fatalf("unexpected profile cache ttl: %s", cfg.ProfileCacheTTL)
	}
	if cfg.DuelsAPICookieName != "_ncfa" || !cfg.DuelsCircuit.Enabled {
		t.Fatalf("unexpected duels api defaults: %+v", cfg.DuelsCircuit)
	}
	if !cfg.GeoReverseEnabled || cfg.GeoReverseURL == "" {
		t.Fatalf("expected reverse geocoding enabled by default")
	}
}

func TestLoad_ReadsDotenvBehindProcessEnv(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "test.env")
	body := "DUELS_PLAYER_ID=from-file\nINGEST_CONCURRENCY=9\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("APP_ENV_FILE", path)
	t.Setenv("INGEST_CONCURRENCY", "3")
	t.Setenv("DUELS_PLAYER_ID", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DuelsPlayerID != "from-file" {
		t.Fatalf("expected dotenv value, got %q", cfg.DuelsPlayerID)
	}
	if cfg.IngestConcurrency != 3 {
		t.Fatalf("process env must win over dotenv, got %d", cfg.IngestConcurrency)
	}
	if got := os.Getenv("DUELS_PLAYER_ID"); got != "" {
		t.Fatalf("dotenv must not be written into the process env, got %q", got)
	}
}

func TestLoad_StoreDriver(t *testing.T) {
	isolate(t)

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "mongo")
		if _, err := Load(); err == nil {
			t.Fatalf("expected error for unknown STORE_DRIVER")
		}
	})

	t.Run("sql drivers need a url", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", StorePostgres)
		t.Setenv("DB_URL", "")
		if _, err := Load(); err == nil {
			t.Fatalf("expected error when DB_URL is missing")
		}
	})

	t.Run("sqlite migrates by default", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "SQLite")
		t.Setenv("DB_URL", "sqlite://./duels.db")
		t.Setenv("DB_AUTO_MIGRATE", "")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if cfg.StoreDriver != StoreSQLite || !cfg.DBAutoMigrate {
			t.Fatalf("unexpected store config: driver=%q migrate=%v", cfg.StoreDriver, cfg.DBAutoMigrate)
		}
	})

	t.Run("invalid prepared binary flag", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "")
		t.Setenv("DB_DISABLE_PREPARED_BINARY_RESULT", "not-bool")
		if _, err := Load(); err == nil {
			t.Fatalf("expected error for invalid DB_DISABLE_PREPARED_BINARY_RESULT")
		}
	})
}

func TestLoad_DuelsAPIHosts(t *testing.T) {
	isolate(t)

	t.Run("comma separated parsing", func(t *testing.T) {
		t.Setenv("DUELS_API_HOSTS", " https://a.example.com/, http://localhost:9000 ")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if len(cfg.DuelsAPIHosts) != 2 || cfg.DuelsAPIHosts[0] != "https://a.example.com" || cfg.DuelsAPIHosts[1] != "http://localhost:9000" {
			t.Fatalf("unexpected hosts: %+v", cfg.DuelsAPIHosts)
		}
	})

	t.Run("rejects relative entries", func(t *testing.T) {
		t.Setenv("DUELS_API_HOSTS", "game-server.example")
		if _, err := Load(); err == nil {
			t.Fatalf("expected error for host without scheme")
		}
	})
}

func TestLoad_IngestValidation(t *testing.T) {
	isolate(t)

	t.Run("concurrency range", func(t *testing.T) {
		t.Setenv("INGEST_CONCURRENCY", "0")
		if _, err := Load(); err == nil {
			t.Fatalf("expected error for INGEST_CONCURRENCY=0")
		}
	})

	t.Run("schedule must be a cron expression", func(t *testing.T) {
		t.Setenv("INGEST_CONCURRENCY", "")
		t.Setenv("INGEST_SCHEDULE", "every tuesday")
		if _, err := Load(); err == nil {
			t.Fatalf("expected error for invalid INGEST_SCHEDULE")
		}
	})

	t.Run("valid schedule", func(t *testing.T) {
		t.Setenv("INGEST_CONCURRENCY", "")
		t.Setenv("INGEST_SCHEDULE", "*/30 * * * *")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if cfg.IngestSchedule != "*/30 * * * *" {
			t.Fatalf("unexpected schedule %q", cfg.IngestSchedule)
		}
	})

	t.Run("retry windows must be positive", func(t *testing.T) {
		t.Setenv("INGEST_SCHEDULE", "")
		t.Setenv("INGEST_MISSING_RETRY_AFTER", "-1h")
		if _, err := Load(); err == nil {
			t.Fatalf("expected error for negative INGEST_MISSING_RETRY_AFTER")
		}
	})
}

func TestLoad_UptraceRequiresDSNWhenEnabled(t *testing.T) {
	isolate(t)
	t.Setenv("UPTRACE_ENABLED", "true")
	t.Setenv("UPTRACE_DSN", "")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when UPTRACE_ENABLED=true without UPTRACE_DSN")
	}
}

func TestLoad_UptraceDSNFromOTLPHeaders(t *testing.T) {
	isolate(t)
	t.Setenv("UPTRACE_ENABLED", "true")
	t.Setenv("UPTRACE_DSN", "")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-other=1, uptrace-dsn='https://token@api.uptrace.dev?grpc=4317'")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.UptraceDSN != "https://token@api.uptrace.dev?grpc=4317" {
		t.Fatalf("unexpected dsn %q", cfg.UptraceDSN)
	}
}

func TestLoad_PprofDefaultsAddrWhenEnabled(t *testing.T) {
	isolate(t)
	t.Setenv("PPROF_ENABLED", "true")
	t.Setenv("PPROF_ADDR", "  ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PprofAddr != ":6060" {
		t.Fatalf("expected default pprof addr :6060, got %q", cfg.PprofAddr)
	}
}

func TestLoad_PyroscopeRequiresServerAddressWhenEnabled(t *testing.T) {
	isolate(t)
	t.Setenv("PYROSCOPE_ENABLED", "true")
	t.Setenv("PYROSCOPE_SERVER_ADDRESS", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when PYROSCOPE_ENABLED=true without PYROSCOPE_SERVER_ADDRESS")
	}
}

func TestLoad_PyroscopeAppNameDefaultsToServiceName(t *testing.T) {
	isolate(t)
	t.Setenv("APP_SERVICE_NAME", "duel-ingest-test")
	t.Setenv("PYROSCOPE_ENABLED", "true")
	t.Setenv("PYROSCOPE_SERVER_ADDRESS", "http://localhost:4040")
	t.Setenv("PYROSCOPE_APP_NAME", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PyroscopeAppName != "duel-ingest-test" {
		t.Fatalf("unexpected pyroscope app name: %q", cfg.PyroscopeAppName)
	}
}

func TestLoad_CORSOriginsDefaultAndParsing(t *testing.T) {
	isolate(t)

	t.Run("default wildcard", func(t *testing.T) {
		t.Setenv("CORS_ALLOWED_ORIGINS", "")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
			t.Fatalf("unexpected default CORS origins: %+v", cfg.CORSAllowedOrigins)
		}
	})

	t.Run("comma separated parsing", func(t *testing.T) {
		t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com, http://localhost:5173 ")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://localhost:5173" {
			t.Fatalf("unexpected CORS origins: %+v", cfg.CORSAllowedOrigins)
		}
	})
}
