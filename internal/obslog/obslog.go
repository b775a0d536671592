// Package obslog provides a small logrus field-seeding helper that tags
// entries with a {package, function} shape. It is used by the root
// package; the subsystem packages log through logrus directly.
package obslog

import "github.com/sirupsen/logrus"

// Logger seeds a logrus entry with a package and function name, mirroring
// the per-call-site pattern used across this codebase.
type Logger struct {
	fields logrus.Fields
}

// New returns a Logger tagged with pkg and fn.
func New(pkg, fn string) *Logger {
	return &Logger{fields: logrus.Fields{"package": pkg, "function": fn}}
}

// With returns a copy of the logger with an extra field set.
func (l *Logger) With(key string, value interface{}) *Logger {
	fields := make(logrus.Fields, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Logger{fields: fields}
}

// Entry returns the underlying logrus entry for direct use.
func (l *Logger) Entry() *logrus.Entry {
	return logrus.WithFields(l.fields)
}
