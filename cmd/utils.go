package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TEENet-io/watchwallet/database"
	"github.com/TEENet-io/watchwallet/ledger"
)

// fileExists checks if a file exists and is readable
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// OpenLedger opens the database file and the ledger over it.
// The returned func closes both.
func OpenLedger(dbFilePath string, cfg *ledger.Config) (*ledger.Ledger, func(), error) {
	db, err := database.Open(dbFilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db file: %w", err)
	}
	l, err := ledger.New(db, cfg, nil)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return l, func() {
		l.Close()
		db.Close()
	}, nil
}

// ParseAmount reads a non-negative integer amount.
func ParseAmount(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
}

func parseUint(key, s string, def uint64) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

// parseDuration accepts a go duration ("90s") or a bare number of seconds.
func parseDuration(key, s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}
