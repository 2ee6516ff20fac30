package app

import (
	"os"
	"strconv"
)

// SkipStartupEnv makes the stock binaries exit before touching Postgres or
// Redis. Smoke tests of the built binaries set it.
const SkipStartupEnv = "STOCK_SKIP_STARTUP"

// SkipStartup reports whether SkipStartupEnv is set to a true value.
func SkipStartup() bool {
	skip, err := strconv.ParseBool(os.Getenv(SkipStartupEnv))
	return err == nil && skip
}
