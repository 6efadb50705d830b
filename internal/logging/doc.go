// Package logging provides structured logging on top of Zap.
//
// # Overview
//
// The package wraps Zap with:
//   - a custom Trace level (-2, below Debug)
//   - automatic context fields (trace_id, span_id, request.id, owner.id)
//   - secret redaction by field name and value pattern
//   - sampling below error level (errors are never sampled)
//   - optional OTLP log export through the otelzap bridge
//
// # Usage
//
//	cfg, err := logging.FromAppConfig(appCfg.Logging)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithOwner(ctx, "owner-42")
//	logger.Info(ctx, "draft generated", zap.String("intent", "follow_up"))
//
// Components below the service layer take a *zap.Logger; pass
// logger.Underlying() to them.
//
// # Redaction
//
// Secrets are redacted at three layers:
//  1. the config.Secret type, which never prints its value
//  2. field names (api_key, token, ...)
//  3. value patterns (bearer tokens, sk- keys)
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "indexing failed", zap.String("draft_id", id))
//	tl.AssertLogged(t, zapcore.InfoLevel, "indexing failed")
//	tl.AssertNoSecrets(t)
package logging
