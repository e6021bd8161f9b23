package app

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/riskibarqy/duel-ingest/internal/config"
)

const maxTracedQueryLength = 512

var queryWhitespaceRegex = regexp.MustCompile(`\s+`)

// storeTarget is what openDB needs to reach one relational backend.
type storeTarget struct {
	driver     string // database/sql driver name
	dsn        string
	migrateURL string // golang-migrate database URL
	system     string // otel db.system
}

func resolveStoreTarget(cfg config.Config) (storeTarget, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		dsn := normalizeDBURL(cfg.DBURL, cfg.DBDisablePreparedBinary)
		return storeTarget{driver: "postgres", dsn: dsn, migrateURL: dsn, system: "postgresql"}, nil
	case config.StoreSQLite:
		path := sqlitePath(cfg.DBURL)
		if path == "" {
			return storeTarget{}, fmt.Errorf("sqlite store needs a file path")
		}
		return storeTarget{driver: "sqlite", dsn: path, migrateURL: "sqlite://" + path, system: "sqlite"}, nil
	}
	return storeTarget{}, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// name is the database name reported on spans and in logs.
func (t storeTarget) name() string {
	if t.system == "sqlite" {
		return strings.TrimSuffix(pathBase(t.dsn), ".db")
	}
	return dbNameFromURL(t.dsn)
}

func normalizeDBURL(raw string, disablePreparedBinaryResult bool) string {
	if !disablePreparedBinaryResult {
		return raw
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}

	query := parsed.Query()
	if query.Get("disable_prepared_binary_result") == "" {
		query.Set("disable_prepared_binary_result", "yes")
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

// dbNameFromURL accepts URL and key=value DSNs.
func dbNameFromURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if parsed, err := url.Parse(trimmed); err == nil && parsed.Scheme != "" {
		if name := strings.TrimSpace(strings.TrimPrefix(parsed.Path, "/")); name != "" {
			return name
		}
	}

	for _, token := range strings.Fields(trimmed) {
		if name, ok := strings.CutPrefix(token, "dbname="); ok {
			if name = strings.Trim(name, `"'`); name != "" {
				return name
			}
		}
	}
	return ""
}

// sqlitePath turns sqlite://path or file:path into the file name the driver opens.
func sqlitePath(raw string) string {
	trimmed := strings.TrimSpace(raw)
	for _, prefix := range []string{"sqlite3://", "sqlite://", "file:"} {
		if rest, ok := strings.CutPrefix(trimmed, prefix); ok {
			return rest
		}
	}
	return trimmed
}

func pathBase(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

func formatDBQueryForTrace(query string) string {
	normalized := queryWhitespaceRegex.ReplaceAllString(strings.TrimSpace(query), " ")
	if len(normalized) <= maxTracedQueryLength {
		return normalized
	}
	return normalized[:maxTracedQueryLength] + "..."
}
