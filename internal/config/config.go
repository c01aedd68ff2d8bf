// Package config reads the two debugger settings the embedding host is
// expected to expose from its own key/value configuration file. Loading the
// rest of the host's configuration is out of scope; we only ever look for
// the two keys below.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPort is used when DebuggerPort is absent from the config file.
	DefaultPort = 12345

	keyPort     = "DebuggerPort"
	keyWaitTime = "DebuggerWaitTime"
)

// Config holds the debugger's own slice of the host's configuration.
type Config struct {
	// DebuggerPort is the TCP port the native listener (C9) binds to.
	DebuggerPort int
	// DebuggerWaitTime is how long the host should sleep after attaching
	// the hooks, before handing control back to the script. Read from its
	// own DebuggerWaitTime key, in seconds, and converted to a time.Duration
	// — never from the port key.
	DebuggerWaitTime time.Duration
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{DebuggerPort: DefaultPort, DebuggerWaitTime: 0}
}

// Load parses a key=value file. Unknown keys are ignored; missing keys fall
// back to their defaults. Lines starting with '#' and blank lines are
// skipped.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case keyPort:
			if port, err := strconv.Atoi(value); err == nil {
				cfg.DebuggerPort = port
			}
		case keyWaitTime:
			if seconds, err := strconv.ParseFloat(value, 64); err == nil {
				cfg.DebuggerWaitTime = time.Duration(seconds * float64(time.Second))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
