package logconfig

import (
	"strings"

	myLogger "github.com/sirupsen/logrus"
)

// This output format is used in the test (has terminal).
func ConfigDebugLogger() {
	myLogger.SetReportCaller(true)
	myLogger.SetLevel(myLogger.DebugLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

func ConfigInfoLogger() {
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

// This output format is used in production.
// Scan and ledger logs are consumed by log shippers, so keep them as json.
func ConfigProductionLogger() {
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.JSONFormatter{})
}

// ConfigLoggerByName picks a preset from the LOG_LEVEL setting.
// Unknown names fall back to the production preset.
func ConfigLoggerByName(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		ConfigDebugLogger()
	case "info":
		ConfigInfoLogger()
	case "warn", "warning":
		ConfigProductionLogger()
		myLogger.SetLevel(myLogger.WarnLevel)
	default:
		ConfigProductionLogger()
	}
}
