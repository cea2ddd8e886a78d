package cmd

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/zfogg/sidechain/clientsync/internal/statusserver"
	"github.com/zfogg/sidechain/clientsync/pkg/config"
	"github.com/zfogg/sidechain/clientsync/pkg/credentials"
	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
	"github.com/zfogg/sidechain/clientsync/pkg/session"
	"github.com/zfogg/sidechain/clientsync/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

// runtime is one command's session plus the process-level pieces around it
type runtime struct {
	sess   *session.Session
	log    *zap.Logger
	status *statusserver.Server
	tracer *trace.TracerProvider
}

// openSession builds a session for the saved credentials
func openSession(ctx context.Context) (*runtime, error) {
	creds, err := credentials.Load()
	if err != nil {
		return nil, err
	}
	if !creds.IsValid() {
		return nil, serrors.AuthError("Not signed in or token expired").
			WithSuggestion("Run 'sidechain-sync auth set-token <token>'")
	}

	settings := config.Load()
	opts := logger.Options{Level: settings.LogLevel, File: settings.LogFile}
	if verbose {
		opts.Console = os.Stderr
	}
	rt := &runtime{log: logger.NewStructured(opts)}

	rt.tracer, err = telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName:    "sidechain-sync",
		ServiceVersion: Version,
		Environment:    "client",
		OTLPEndpoint:   settings.TelemetryEndpoint,
		Enabled:        settings.TelemetryEnabled,
		SamplingRate:   settings.SamplingRate,
	})
	if err != nil {
		rt.log.Warn("Tracing disabled", zap.Error(err))
	}

	rt.sess, err = session.New(ctx, session.ConfigFromSettings(settings), creds, session.WithLogger(rt.log))
	if err != nil {
		rt.close()
		return nil, err
	}

	addr := metricsAddr
	if addr == "" {
		addr = settings.MetricsAddr
	}
	if addr != "" {
		rt.status = statusserver.New(addr, rt.sess, rt.log)
		rt.status.Start()
	}
	return rt, nil
}

// close tears down in reverse order of openSession. It runs on its own
// timeout so an interrupted command still publishes offline presence.
func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if rt.status != nil {
		if err := rt.status.Shutdown(ctx); err != nil {
			rt.log.Warn("Status server shutdown failed", zap.Error(err))
		}
	}
	if rt.sess != nil {
		if err := rt.sess.Close(ctx); err != nil {
			rt.log.Warn("Session close failed", zap.Error(err))
		}
	}
	if rt.tracer != nil {
		_ = rt.tracer.Shutdown(ctx)
	}
	_ = rt.log.Sync()
}

// withSession runs fn with an open session and always closes it
func withSession(ctx context.Context, fn func(rt *runtime) error) error {
	rt, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	return fn(rt)
}
