package core

import "github.com/hupe1980/agentgraph/logging"

// LoggerAdapter gives actors and processors Log* helpers that always carry
// the same leading attributes, e.g. the actor name and run id. A nil logger
// is replaced by logging.NoOpLogger.
type LoggerAdapter struct {
	logger logging.Logger
	attrs  []any
}

// NewLoggerAdapter returns an adapter that prefixes attrs (key/value pairs)
// to every entry.
func NewLoggerAdapter(l logging.Logger, attrs ...any) *LoggerAdapter {
	return &LoggerAdapter{logger: logging.OrNoOp(l), attrs: attrs}
}

// Logger returns the wrapped logger without the adapter's attributes.
func (l *LoggerAdapter) Logger() logging.Logger { return l.logger }

func (l *LoggerAdapter) with(args []any) []any {
	if len(l.attrs) == 0 {
		return args
	}
	out := make([]any, 0, len(l.attrs)+len(args))
	return append(append(out, l.attrs...), args...)
}

func (l *LoggerAdapter) LogDebug(msg string, args ...any) { l.logger.Debug(msg, l.with(args)...) }

func (l *LoggerAdapter) LogInfo(msg string, args ...any) { l.logger.Info(msg, l.with(args)...) }

func (l *LoggerAdapter) LogWarn(msg string, args ...any) { l.logger.Warn(msg, l.with(args)...) }

func (l *LoggerAdapter) LogError(msg string, args ...any) { l.logger.Error(msg, l.with(args)...) }
