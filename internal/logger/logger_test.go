package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"WARN", zapcore.WarnLevel},
		{" error ", zapcore.ErrorLevel},
		{"debug", zapcore.DebugLevel},
		{"chatty", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		l, err := New(tt.in)
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(tt.want), tt.in)
		if tt.want > zapcore.DebugLevel {
			assert.False(t, l.Core().Enabled(tt.want-1), tt.in)
		}
	}
}

func TestAlert(t *testing.T) {
	f := Alert()
	assert.Equal(t, "alert", f.Key)
	assert.Equal(t, zapcore.BoolType, f.Type)
}
