// Package testing switches the process into test mode when imported by a test
// binary, so mains and config loading never reach real infrastructure.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// infraEnv lists variables that would point a test run at live services.
var infraEnv = []string{"PG_DSN", "SIGNING_URL", "SIGNING_TOKEN", "SIGNING_WEBHOOK_TOKEN", "REQUIRED_SIGNERS", "REFDATA_FILE"}

var once sync.Once

func prepare() {
	once.Do(func() {
		_ = os.Setenv("STIPEND_TEST_MODE", "1")
		for _, key := range infraEnv {
			_ = os.Unsetenv(key)
		}
	})
}

func init() {
	prepare()
}

// TestMain can be delegated to from packages that declare their own.
func TestMain(m *stdtesting.M) {
	prepare()
	os.Exit(m.Run())
}
