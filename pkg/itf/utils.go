// Package itf holds helpers for integration tests that need a real
// PostgreSQL database.
package itf

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/exam-scheduler/pkg/configuration"
)

// PostgreSQL truncates identifiers longer than 63 bytes.
const maxDBNameLength = 63

// RequirePostgres skips the test when the configured database server is not
// reachable. On CI an unreachable server fails the test instead.
func RequirePostgres(tb testing.TB) {
	tb.Helper()

	if CanDialPostgres(tb) {
		return
	}
	if strings.TrimSpace(os.Getenv("CI")) != "" || strings.EqualFold(strings.TrimSpace(os.Getenv("GITHUB_ACTIONS")), "true") {
		tb.Fatalf("postgres is not reachable (DB_HOST/DB_PORT)")
	}
	tb.Skip("postgres is not reachable; skipping integration test")
}

func CanDialPostgres(tb testing.TB) bool {
	tb.Helper()

	host := strings.TrimSpace(os.Getenv("DB_HOST"))
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(os.Getenv("DB_PORT"))
	if port == "" {
		port = "5432"
	}
	addr := net.JoinHostPort(host, port)

	dialer := &net.Dialer{Timeout: 250 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// ReadGooseUpSQL returns the Up section of a goose migration file.
func ReadGooseUpSQL(tb testing.TB, path string) string {
	tb.Helper()

	raw, err := os.ReadFile(path)
	require.NoError(tb, err)
	s := string(raw)
	if idx := strings.Index(s, "-- +goose Down"); idx >= 0 {
		s = s[:idx]
	}
	return s
}

func NewPool(tb testing.TB, dbOpts string) *pgxpool.Pool {
	tb.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dbOpts)
	require.NoError(tb, err)
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	require.NoError(tb, err)
	return pool
}

// DatabaseManager owns a throwaway database named after the test.
type DatabaseManager struct {
	pool   *pgxpool.Pool
	dbName string
}

// NewDatabaseManager recreates the test database, applies the Up section of
// every migration in schemaFiles and closes the pool on cleanup.
func NewDatabaseManager(tb testing.TB, schemaFiles ...string) *DatabaseManager {
	tb.Helper()

	dbName := tb.Name()
	CreateDB(tb, dbName)
	dm := &DatabaseManager{pool: NewPool(tb, DbOpts(dbName)), dbName: dbName}
	tb.Cleanup(dm.Close)

	for _, file := range schemaFiles {
		_, err := dm.pool.Exec(context.Background(), ReadGooseUpSQL(tb, file))
		require.NoError(tb, err, file)
	}
	return dm
}

func (dm *DatabaseManager) Pool() *pgxpool.Pool {
	return dm.pool
}

func (dm *DatabaseManager) Close() {
	if dm.pool != nil {
		dm.pool.Close()
		dm.pool = nil
	}
}

func CreateDB(tb testing.TB, name string) {
	tb.Helper()

	c := configuration.Use()
	adminConnStr := fmt.Sprintf(
		"host=%s port=%s user=%s dbname=postgres password=%s sslmode=disable",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password,
	)
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, adminConnStr)
	require.NoError(tb, err)
	defer func() { _ = conn.Close(ctx) }()

	ident := pgx.Identifier{sanitizeDBName(name)}.Sanitize()
	_, err = conn.Exec(ctx, "DROP DATABASE IF EXISTS "+ident)
	require.NoError(tb, err)
	_, err = conn.Exec(ctx, "CREATE DATABASE "+ident)
	require.NoError(tb, err)
}

func DbOpts(name string) string {
	c := configuration.Use()
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		c.Database.Host, c.Database.Port, c.Database.User, sanitizeDBName(name), c.Database.Password,
	)
}

// sanitizeDBName maps a test name to a valid lower-case database name.
// Names over the identifier limit keep a hash suffix to stay unique.
func sanitizeDBName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	sanitized := b.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "test_db"
	}
	if len(sanitized) <= maxDBNameLength {
		return sanitized
	}
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(name)))[:8]
	return sanitized[:maxDBNameLength-len(hash)-1] + "_" + hash
}
