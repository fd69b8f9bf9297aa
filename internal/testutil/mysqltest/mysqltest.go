// Package mysqltest provides isolated MySQL databases for integration tests.
//
// Tests connect to the server named by PRELOAD_TEST_DSN when it is set.
// Otherwise a MySQL container is started with testcontainers.
package mysqltest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"preloadcounts/internal/sqlutil"
)

const (
	// DSNEnv names an existing server to use instead of a container.
	DSNEnv = "PRELOAD_TEST_DSN"

	defaultImage = "mysql:8.0.36"
)

// TestDB is a database created for one test and dropped at cleanup.
type TestDB struct {
	DB           *sql.DB
	DatabaseName string
	// DSN connects to DatabaseName.
	DSN string

	admin *sql.DB
}

// NewTestDB creates a uniquely named database and registers its teardown.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	serverDSN := os.Getenv(DSNEnv)
	if serverDSN == "" {
		serverDSN = startContainer(t)
	}

	cfg, err := mysql.ParseDSN(serverDSN)
	if err != nil {
		t.Fatalf("Invalid %s: %v", DSNEnv, err)
	}
	cfg.ParseTime = true

	dbName := fmt.Sprintf("test_%s_%d", sanitizeName(t.Name()), time.Now().UnixMilli())
	if !isValidDatabaseName(dbName) {
		t.Fatalf("Invalid database name generated: %s", dbName)
	}

	cfg.DBName = ""
	admin := open(t, cfg.FormatDSN())

	// dbName is validated above.
	if _, err := admin.Exec("CREATE DATABASE IF NOT EXISTS " + sqlutil.QuoteIdentifier(dbName)); err != nil {
		_ = admin.Close()
		t.Fatalf("Failed to create test database %s: %v", dbName, err)
	}

	cfg.DBName = dbName
	dsn := cfg.FormatDSN()

	testDB := &TestDB{
		DB:           open(t, dsn),
		DatabaseName: dbName,
		DSN:          dsn,
		admin:        admin,
	}
	t.Cleanup(func() {
		testDB.Teardown(t)
	})
	return testDB
}

// Teardown drops the database and closes both connections.
func (tdb *TestDB) Teardown(t *testing.T) {
	t.Helper()

	if tdb.DB != nil {
		if err := tdb.DB.Close(); err != nil {
			t.Logf("Warning: failed to close test database connection: %v", err)
		}
	}
	if tdb.admin == nil {
		return
	}
	if isValidDatabaseName(tdb.DatabaseName) {
		if _, err := tdb.admin.Exec("DROP DATABASE IF EXISTS " + sqlutil.QuoteIdentifier(tdb.DatabaseName)); err != nil {
			t.Logf("Warning: Failed to drop test database %s: %v", tdb.DatabaseName, err)
		}
	}
	if err := tdb.admin.Close(); err != nil {
		t.Logf("Warning: failed to close admin connection: %v", err)
	}
}

// LoadSQL runs the semicolon separated statements in path.
func (tdb *TestDB) LoadSQL(t *testing.T, path string) {
	t.Helper()

	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read SQL file %s: %v", path, err)
	}

	for i, stmt := range splitSQL(string(payload)) {
		if _, err := tdb.DB.Exec(stmt); err != nil {
			t.Fatalf("Failed to execute SQL statement %d: %v\nStatement: %s", i+1, err, stmt)
		}
	}
}

func startContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	ctr, err := tcmysql.Run(ctx, defaultImage,
		tcmysql.WithDatabase("preloadcounts"),
		tcmysql.WithUsername("root"),
		tcmysql.WithPassword("password"),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("MySQL container unavailable (set %s to use an existing server): %v", DSNEnv, err)
	}

	dsn, err := ctr.ConnectionString(ctx, "parseTime=true")
	if err != nil {
		t.Fatalf("Failed to read container connection string: %v", err)
	}
	return dsn
}

func open(t *testing.T, dsn string) *sql.DB {
	t.Helper()

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to ping database: %v", err)
	}
	return db
}

// sanitizeName keeps letters and digits and replaces everything else with
// underscores. The result leaves room for a timestamp within MySQL's 64
// character limit.
func sanitizeName(name string) string {
	var result strings.Builder
	for _, ch := range name {
		if isAlnum(ch) {
			result.WriteRune(ch)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	if len(sanitized) > 40 {
		sanitized = sanitized[:40]
	}
	return sanitized
}

// splitSQL does not handle semicolons inside strings or comments.
func splitSQL(sql string) []string {
	var result []string
	for _, stmt := range strings.Split(sql, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			result = append(result, stmt)
		}
	}
	return result
}

func isValidDatabaseName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, ch := range name {
		if !isAlnum(ch) && ch != '_' {
			return false
		}
	}
	return true
}

func isAlnum(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}
