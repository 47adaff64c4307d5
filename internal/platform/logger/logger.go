// Package logger wraps zap with the sanitization the reconciler needs before
// log lines carry lock hostnames, webhook URLs, or owner ids.
package logger

import (
	"strings"

	"go.uber.org/zap"
)

type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zapLogger.Sugar()}, nil
}

func (l *Logger) Sync() {
	if l == nil || l.SugaredLogger == nil {
		return
	}
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(l.SugaredLogger.Debugw, msg, kv) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.log(l.SugaredLogger.Infow, msg, kv) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.log(l.SugaredLogger.Warnw, msg, kv) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(l.SugaredLogger.Errorw, msg, kv) }
func (l *Logger) Fatal(msg string, kv ...interface{}) { l.log(l.SugaredLogger.Fatalw, msg, kv) }

func (l *Logger) log(fn func(string, ...interface{}), msg string, kv []interface{}) {
	if l == nil || l.SugaredLogger == nil {
		return
	}
	fn(msg, sanitizeKVs(kv)...)
}

func (l *Logger) With(kv ...interface{}) *Logger {
	if l == nil || l.SugaredLogger == nil {
		return l
	}
	return &Logger{SugaredLogger: l.SugaredLogger.With(sanitizeKVs(kv)...)}
}

func sanitizeKVs(kv []interface{}) []interface{} {
	if len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key := strings.ToLower(strings.TrimSpace(toString(kv[i])))
		out = append(out, kv[i], sanitizeValue(key, kv[i+1]))
	}
	return out
}

func sanitizeValue(key string, val interface{}) interface{} {
	if key == "" {
		return val
	}
	if isRedactKey(key) {
		return "[REDACTED]"
	}
	return val
}

func isRedactKey(key string) bool {
	switch {
	case strings.Contains(key, "webhook"),
		strings.Contains(key, "secret"),
		strings.Contains(key, "token"),
		strings.Contains(key, "service_account_json"),
		strings.Contains(key, "hostname"),
		strings.Contains(key, "owner_id"):
		return true
	default:
		return false
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
