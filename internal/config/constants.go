package config

import "os"

const (
	// ProjectFile is the workspace manifest listing the unit files to check.
	ProjectFile = "funtrait.yaml"

	// UnitFileExt is the extension of unit manifest files.
	UnitFileExt = ".unit.yaml"

	// StoreFile is the default name of the sqlite unit store.
	StoreFile = "traits.db"

	// DefaultServeAddr is where `funtrait serve` listens and where
	// `funtrait query` connects unless told otherwise.
	DefaultServeAddr = "127.0.0.1:7533"
)

// LocalUnitName is the reserved unit name used when a manifest does not
// name its unit.
const LocalUnitName = "main"

// Environment variables recognized at startup.
const (
	EnvTestMode = "FUNTRAIT_TEST_MODE"
	EnvDebug    = "DEBUG"
)

// IsTestMode reports whether the process runs under FUNTRAIT_TEST_MODE=1.
// Test mode pins output that would otherwise vary between runs.
func IsTestMode() bool {
	return os.Getenv(EnvTestMode) == "1"
}

// Debug reports whether DEBUG=1 verbose tracing is enabled.
func Debug() bool {
	return os.Getenv(EnvDebug) == "1"
}
