package telzerolog_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/peterbourgon/telescope"
	"github.com/peterbourgon/telescope/telzerolog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestHook(t *testing.T) {
	t.Parallel()

	var (
		tel    = telescope.New(telescope.DefaultConfig())
		buf    bytes.Buffer
		logger = zerolog.New(&buf).Hook(telzerolog.NewHook(tel, map[string]any{"app": "demo"}))
		ctx    = telescope.WithRequest(context.Background(), telescope.RequestContext{RequestID: "req"})
	)

	logger.Info().Ctx(ctx).Str("k", "v").Msg("with request")
	logger.Warn().Msg("without request")

	logs := tel.Logs(0)
	require.Len(t, logs, 2)

	require.Equal(t, "req", logs[0].ParentID)
	require.Equal(t, telescope.LevelInfo, logs[0].Level)
	require.Equal(t, "with request", logs[0].Message)
	require.Equal(t, map[string]any{"app": "demo"}, logs[0].Context)

	require.Empty(t, logs[1].ParentID)
	require.Equal(t, telescope.LevelWarning, logs[1].Level)

	require.Contains(t, buf.String(), `"k":"v"`)
}

func TestHookLoggerContext(t *testing.T) {
	t.Parallel()

	tel := telescope.New(telescope.DefaultConfig())
	logger := zerolog.New(nil).Hook(telzerolog.NewHook(tel, nil))

	ctx := telescope.WithRequest(context.Background(), telescope.RequestContext{RequestID: "req"})
	ctx = logger.WithContext(ctx)
	zerolog.Ctx(ctx).Error().Ctx(ctx).Msg("failed")

	logs := tel.LogsByParent("req")
	require.Len(t, logs, 1)
	require.Equal(t, telescope.LevelError, logs[0].Level)
}

func TestHookRespectsLevel(t *testing.T) {
	t.Parallel()

	tel := telescope.New(telescope.DefaultConfig())
	logger := zerolog.New(nil).Level(zerolog.InfoLevel).Hook(telzerolog.NewHook(tel, nil))

	logger.Debug().Msg("filtered")
	require.Equal(t, 0, tel.Stats().Logs)
}

func TestLevel(t *testing.T) {
	t.Parallel()

	for level, want := range map[zerolog.Level]telescope.Level{
		zerolog.TraceLevel: telescope.LevelDebug,
		zerolog.DebugLevel: telescope.LevelDebug,
		zerolog.InfoLevel:  telescope.LevelInfo,
		zerolog.NoLevel:    telescope.LevelInfo,
		zerolog.WarnLevel:  telescope.LevelWarning,
		zerolog.ErrorLevel: telescope.LevelError,
		zerolog.FatalLevel: telescope.LevelCritical,
		zerolog.PanicLevel: telescope.LevelCritical,
	} {
		require.Equal(t, want, telzerolog.Level(level), level.String())
	}
}

func TestHookFieldsNotShared(t *testing.T) {
	t.Parallel()

	var (
		tel    = telescope.New(telescope.DefaultConfig())
		fields = map[string]any{"app": "demo"}
		logger = zerolog.New(nil).Hook(telzerolog.NewHook(tel, fields))
	)

	logger.Info().Msg("first")
	fields["app"] = "changed"
	logger.Info().Msg("second")

	logs := tel.Logs(0)
	require.Len(t, logs, 2)
	require.Equal(t, "demo", logs[0].Context["app"])
	require.Equal(t, "changed", logs[1].Context["app"])
}
