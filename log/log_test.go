package log

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func Test_customer_logger(t *testing.T) {
	logger := NewSugarLogger(NewOptions(
		WithFileName("goxa_test.log"),
		WithLogLevel("info"),
		WithRotation(1, 1, 1, false),
	))
	logger.Info("test customer logger running...")
	logger.With("client", "c1").Infof("with fields, now: %v", time.Now())
}

func Test_default_logger(t *testing.T) {
	now := time.Now()
	Debugf("debug... now: %v", now)
	Infof("info... now: %v", now)
	Warnf("warn... now: %v", now)
	Errorf("error... now: %v", now)

	ctx := context.Background()
	DebugContext(ctx, "debug...")
	DebugContextf(ctx, "debug... now: %v", now)
	InfoContext(ctx, "info...")
	InfoContextf(ctx, "info... now: %v", now)
	WarnContext(ctx, "warn...")
	WarnContextf(ctx, "warn... now: %v", now)
	ErrorContext(ctx, "error...")
	ErrorContextf(ctx, "error... now: %v", now)
}

func Test_context_fields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	origin := GetDefaultLogger()
	SetDefaultLogger(NewZapLogger(zap.New(core)))
	defer SetDefaultLogger(origin)

	ctx := WithContextFields(context.Background(), "client", "c1")
	ctx = WithContextFields(ctx, "xid", "global:01 branch:null format:1")
	InfoContextf(ctx, "prepare, vote: %s", "ok")
	DebugContextf(ctx, "filtered by level")

	entries := logs.All()
	assert.Equal(t, 1, len(entries))
	assert.Equal(t, "prepare, vote: ok", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "c1", fields["client"])
	assert.Equal(t, "global:01 branch:null format:1", fields["xid"])
}
