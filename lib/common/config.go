package common

import (
	"fmt"
	"strings"
	"time"
)

// CacheConfig holds the configuration of a file cache as read from flags,
// environment and .env files.
type CacheConfig struct {
	// Storage
	BaseDir      string
	Transformer  string
	ClusterDepth int
	Extension    string
	Fsync        bool

	// Synchronization
	SyncTimeout          time.Duration
	LockMode             string
	NestedLockProtection bool
	DebugLocks           bool

	// Logging configuration
	LogLevel string
}

// Validate checks the configuration for values no cache can be created with
func (c *CacheConfig) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base directory must be set")
	}
	if c.SyncTimeout < 0 {
		return fmt.Errorf("sync timeout must not be negative, got %s", c.SyncTimeout)
	}
	switch c.LockMode {
	case "file", "local", "none":
	default:
		return fmt.Errorf("invalid lock mode: %s. must be one of file, local, none", c.LockMode)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *CacheConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Storage")
	addField("Base Directory", c.BaseDir)
	addField("Transformer", c.Transformer)
	addField("Cluster Depth", fmt.Sprintf("%d", c.ClusterDepth))
	addField("Extension", c.Extension)
	addField("Fsync", fmt.Sprintf("%t", c.Fsync))

	addSection("Synchronization")
	addField("Sync Timeout", fmt.Sprintf("%d ms", c.SyncTimeout.Milliseconds()))
	addField("Lock Mode", c.LockMode)
	addField("Nested Lock Protection", fmt.Sprintf("%t", c.NestedLockProtection))
	addField("Debug Locks", fmt.Sprintf("%t", c.DebugLocks))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
