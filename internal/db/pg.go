package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// redactDSN returns a copy of the DSN with password replaced by **** for logging.
func redactDSN(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	if u.User != nil {
		user := u.User.Username()
		u.User = url.UserPassword(user, "****")
	}
	return u.String()
}

// extractDBName returns the database name from URL path ("/messenger" -> "messenger").
func extractDBName(u *url.URL) string {
	if u == nil {
		return ""
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	if idx := strings.Index(dbName, "?"); idx >= 0 {
		dbName = dbName[:idx]
	}
	return strings.TrimSpace(dbName)
}

func isDatabaseDoesNotExist(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	// pq messages (EN + DE)
	return strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "existiert nicht")
}

// Open establishes a connection to PostgreSQL and configures the connection pool.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "db")

	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	// Parse once, properly
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	dbName := extractDBName(u)
	host := u.Hostname()
	port := u.Port()

	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}

	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	logger.Info("connecting to postgres",
		"host", host, "port", port, "db", dbName, "user", user, "dsn", redactDSN(databaseURL))

	// Optional safety check: verify DB exists on this instance by connecting to maintenance DB "postgres"
	if dbName != "" {
		maintenanceURL := *u
		maintenanceURL.Path = "/postgres"
		maintenanceURL.RawPath = ""
		// keep query (sslmode etc.) as-is

		maintDB, err := sql.Open("postgres", maintenanceURL.String())
		if err == nil {
			defer maintDB.Close()

			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			var found string
			rowErr := maintDB.QueryRowContext(checkCtx,
				"SELECT datname FROM pg_database WHERE datname = $1",
				dbName,
			).Scan(&found)

			switch {
			case rowErr == nil:
				logger.Debug("precheck: database exists", "db", found)
			case errors.Is(rowErr, sql.ErrNoRows):
				logger.Warn("precheck: database not found on this instance", "db", dbName)
			default:
				logger.Warn("precheck: could not query pg_database", "error", rowErr)
			}
		} else {
			logger.Warn("precheck: could not open maintenance connection", "error", err)
		}
	}

	// Open connection using exact DATABASE_URL string
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	// Ping to verify connection
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(connectCtx); err != nil {
		_ = db.Close()

		if isDatabaseDoesNotExist(err) {
			return nil, fmt.Errorf(
				"database %q not found on host=%s port=%s; verify you connect to the same Postgres instance as pgAdmin/psql: %w",
				dbName, host, port, err,
			)
		}

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
