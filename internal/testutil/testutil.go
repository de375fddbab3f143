package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
)

const (
	envTestFile       = ".env.test"
	auditsTestDBKey   = "AUDIT_TEST_DATABASE_URL"
	envSearchMaxDepth = 5
)

// LoadTestEnv points DATABASE_URL at the audits test database for the rest
// of the test. A DATABASE_URL already in the environment (CI) wins;
// otherwise AUDIT_TEST_DATABASE_URL is read from the nearest .env.test.
// When neither exists DATABASE_URL stays empty and store tests skip.
func LoadTestEnv(t *testing.T) {
	t.Helper()

	if os.Getenv("DATABASE_URL") != "" {
		t.Log("Audits database taken from DATABASE_URL")
		return
	}

	path := findUp(envTestFile)
	if path == "" {
		t.Logf("No %s found, audits database tests will skip", envTestFile)
		return
	}

	env, err := godotenv.Read(path)
	if err != nil {
		t.Logf("Could not read %s: %v", path, err)
		return
	}

	dsn := env[auditsTestDBKey]
	if dsn == "" {
		t.Logf("%s has no %s, audits database tests will skip", path, auditsTestDBKey)
		return
	}
	t.Setenv("DATABASE_URL", dsn)
	t.Logf("Audits database taken from %s in %s", auditsTestDBKey, path)
}

// findUp returns the path of name in the working directory or one of its
// parents, or "" when it is not found within envSearchMaxDepth levels.
func findUp(name string) string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for range envSearchMaxDepth {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
