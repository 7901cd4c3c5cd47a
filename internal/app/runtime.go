package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// TestModeEnv makes both binaries exit before touching PostgreSQL or Redis.
const TestModeEnv = "STORELEDGER_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeOnce sync.Once
)

func loadTestMode() {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	testMode.Store(err == nil && on)
}

// InTestMode reports whether the binaries should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(loadTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads the flag after the environment changed.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	loadTestMode()
}
