// Package logger wraps logrus with the structured-field conventions the
// rest of this module relies on: every component logs through a
// *Logger created at construction time, never through a package-level
// global.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry pre-populated with component/task/thread
// fields so call sites never have to repeat them.
type Logger struct {
	entry *logrus.Entry
}

// Init configures the process-wide logrus output format and level.
// Called once from main; everything else receives a *Logger, not the
// global logrus instance.
func Init(level logrus.Level) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(level)
}

// New creates a Logger scoped to a component and, where applicable, a
// task/thread pair. taskID and threadID may be empty for loggers that
// aren't tied to a single task (e.g. the HTTP surface).
func New(component, taskID, threadID string) *Logger {
	return &Logger{
		entry: logrus.WithFields(logrus.Fields{
			"component": component,
			"task_id":   taskID,
			"thread_id": threadID,
		}),
	}
}

// WithError attaches an error to the log entry.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithField("error", err.Error())}
}

// WithPayload attaches arbitrary structured fields to the log entry.
func (l *Logger) WithPayload(payload map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithField("payload", payload)}
}

// WithField attaches a single field; a thinner alternative to
// WithPayload for the common case of logging one value.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Info(message string)  { l.entry.Info(message) }
func (l *Logger) Warn(message string)  { l.entry.Warn(message) }
func (l *Logger) Error(message string) { l.entry.Error(message) }
func (l *Logger) Debug(message string) { l.entry.Debug(message) }
func (l *Logger) Fatal(message string) { l.entry.Fatal(message) }
