// Package logging provides structured logging for meilidash.
//
// It wraps log/slog with a JSON handler and adds persistent context
// attributes (session, index, component) so that every line written while a
// settings session is open can be traced back to the index it touched.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithIndex("movies").Info("settings fetched", "keys", 12)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"settings fetched","index":"movies","keys":12}
//
// # Log Rotation
//
// [NewLoggerWithRotation] writes through a [RotatingWriter] which renames
// meilidash.log to meilidash.log.1 once it exceeds MaxSizeMB, keeping at most
// MaxBackups files and optionally gzip-compressing them.
//
// # Testing
//
// Use [NopLogger] to discard output.
package logging
