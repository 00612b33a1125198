package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestSetLogLevel_FiltersMessages(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(zapcore.AddSync(&buf))
	t.Cleanup(func() {
		SetLogLevel("INFO")
	})

	SetLogLevel("warn")
	assert.Equal(t, LevelWarn, GetLogLevel())

	Infof("hidden %d", 1)
	Warnf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "WARN")
}

func TestSetLogLevel_UnknownDefaultsToInfo(t *testing.T) {
	SetLogLevel("verbose")
	assert.Equal(t, LevelInfo, GetLogLevel())
}

func TestExtractMeaningfulFunctionName(t *testing.T) {
	assert.Equal(t, "pool.NewModule", extractMeaningfulFunctionName("pool.NewModule.func1"))
	assert.Equal(t, "pool.NewModule", extractMeaningfulFunctionName("pool.NewModule"))
}
