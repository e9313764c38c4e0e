// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json info", "info", "json", false},
		{"console debug", "debug", "console", false},
		{"bad level", "loud", "json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.level, tt.format)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l.Underlying())
		})
	}
}

func TestContextFields(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithSystemID(ctx, "sys-1")

	tl := NewTestLogger()
	tl.Info(ctx, "hello", zap.Int("n", 3))

	tl.AssertLogged(t, zapcore.InfoLevel, "hello")
	tl.AssertField(t, "hello", "request.id", "req-1")
	tl.AssertField(t, "hello", "system.id", "sys-1")
}

func TestFromContext(t *testing.T) {
	// Missing logger falls back to nop
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithContext(context.Background(), tl.Logger)
	FromContext(ctx).Named("child").Warn(ctx, "stored")
	tl.AssertLogged(t, zapcore.WarnLevel, "stored")
}
