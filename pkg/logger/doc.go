// Package logger provides the structured logging interface used by every
// pipeline stage.
//
// It wraps zerolog behind the Logger interface:
//   - levels debug, info, warn and error
//   - structured fields via WithField, WithFields and the *WithFields methods
//   - console output on stderr, plus a log file when one is configured
//   - a process-wide logger via Initialize, SetLogger and GetLogger
//
// Usage:
//
//	log, err := logger.New(&cfg.Logging)
//	if err != nil {
//	    return err
//	}
//	log = log.WithField("run_id", runID)
//	logger.SetLogger(log)
//
//	log.WithField("stage", "download").InfoWithFields("Stage finished", map[string]interface{}{
//	    "downloaded": 12,
//	    "failed":     1,
//	})
//
// Components take a Logger in their constructor and fall back to GetLogger
// when given nil. Tests use NewNopLogger, or NewTestLogger to assert on the
// messages a component emitted.
package logger
