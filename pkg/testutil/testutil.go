// Package testutil holds helpers shared by the store integration tests.
package testutil

import (
	"os"
	"strings"
	"testing"

	"github.com/nimburion/repokit/pkg/observability/logger"
)

// RequireIntegration skips the test in short mode, and in CI unless
// INTEGRATION_TESTS is set. Integration tests start containers.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("INTEGRATION_TESTS") == "" && os.Getenv("CI") != "" {
		t.Skip("skipping integration test (set INTEGRATION_TESTS=1 to run)")
	}
}

// Logger returns a text logger writing to t.Log at debug level, so store
// statements show up only for failing or verbose tests.
func Logger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.DebugLevel,
		Format: logger.TextFormat,
		Output: testWriter{t},
	})
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	return log
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
