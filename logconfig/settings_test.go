package logconfig

import (
	"testing"

	myLogger "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestConfigLoggerByName(t *testing.T) {
	defer ConfigInfoLogger()

	ConfigLoggerByName("debug")
	assert.Equal(t, myLogger.DebugLevel, myLogger.GetLevel())

	ConfigLoggerByName(" WARN ")
	assert.Equal(t, myLogger.WarnLevel, myLogger.GetLevel())

	ConfigLoggerByName("whatever")
	assert.Equal(t, myLogger.InfoLevel, myLogger.GetLevel())
	_, isJSON := myLogger.StandardLogger().Formatter.(*myLogger.JSONFormatter)
	assert.True(t, isJSON)
}
