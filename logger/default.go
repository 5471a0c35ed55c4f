package logger

// defLogger is the package-level logger used by the top-level logging
// functions and returned by GetLogger. It writes to the console at
// InfoLevel until SetLevel changes it.
var defLogger = newSlog(InfoLevel, false)

// Debug logs a message at DebugLevel using the default logger.
func Debug(msg string, keysAndValues ...any) {
	defLogger.Debug(msg, keysAndValues...)
}

// Info logs a message at InfoLevel using the default logger.
func Info(msg string, keysAndValues ...any) {
	defLogger.Info(msg, keysAndValues...)
}

// Warn logs a message at WarnLevel using the default logger.
func Warn(msg string, keysAndValues ...any) {
	defLogger.Warn(msg, keysAndValues...)
}

// Error logs a message at ErrorLevel using the default logger.
func Error(msg string, keysAndValues ...any) {
	defLogger.Error(msg, keysAndValues...)
}

// Fatal logs a message at FatalLevel using the default logger, then exits.
func Fatal(msg string, keysAndValues ...any) {
	defLogger.Fatal(msg, keysAndValues...)
}

// SetLevel changes the severity level of the default logger.
func SetLevel(level Level) {
	defLogger.SetLevel(level)
}

// GetLogger returns the default logger. Packages that accept an optional
// Logger fall back to it when given nil.
func GetLogger() Logger {
	return defLogger
}

// With returns a child of the default logger carrying the given key-value
// pairs on every message.
func With(keyValues ...any) Logger {
	return defLogger.With(keyValues...)
}
