package logger

// LogRequest logs the outcome of one HTTP exchange
func LogRequest(l Logger, method, url string, statusCode int, durationMs float64) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": durationMs,
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		l.DebugWithFields("HTTP request completed", fields)
	case statusCode >= 500:
		l.ErrorWithFields("HTTP request server error", fields)
	default:
		l.WarnWithFields("HTTP request client error", fields)
	}
}

// LogItemFailure surfaces a per-item failure as a warning carrying the item id and cause
func LogItemFailure(l Logger, stage, id string, err error) {
	l.WithError(err).WarnWithFields("Item skipped", map[string]interface{}{
		"stage": stage,
		"id":    id,
	})
}

// LogStageStart logs when a pipeline stage starts
func LogStageStart(l Logger, stage string, settings map[string]interface{}) {
	l = l.WithField("stage", stage)
	if len(settings) > 0 {
		l = l.WithFields(settings)
	}
	l.Info("Stage started")
}

// LogStageSummary logs the final counters of a stage
func LogStageSummary(l Logger, stage string, counts map[string]interface{}) {
	fields := map[string]interface{}{"stage": stage}
	for k, v := range counts {
		fields[k] = v
	}
	l.InfoWithFields("Stage finished", fields)
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string)                                  {}
func (nopLogger) Info(string)                                   {}
func (nopLogger) Warn(string)                                   {}
func (nopLogger) Error(string)                                  {}
func (n nopLogger) WithField(string, interface{}) Logger        { return n }
func (n nopLogger) WithFields(map[string]interface{}) Logger    { return n }
func (n nopLogger) WithError(error) Logger                      { return n }
func (nopLogger) DebugWithFields(string, map[string]interface{}) {}
func (nopLogger) InfoWithFields(string, map[string]interface{})  {}
func (nopLogger) WarnWithFields(string, map[string]interface{})  {}
func (nopLogger) ErrorWithFields(string, map[string]interface{}) {}
