package app

import (
	"os"
	"strconv"
	"sync"
)

// TestModeEnv switches mains into a no-op so test binaries can import them.
const TestModeEnv = "STIPEND_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	return on
})

// InTestMode reports whether the application should skip runtime side effects.
// The environment is read once per process.
func InTestMode() bool {
	return testMode()
}
