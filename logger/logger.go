// Package logger provides adapters for popular logger libraries to work with diskdb's Logger interface.
//
// The adapters allow you to use your existing logger with diskdb without writing boilerplate.
// Note that the standard library's slog.Logger already implements diskdb.Logger directly.
//
// Example with zap:
//
//	import (
//	    "diskdb"
//	    "diskdb/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    db, err := diskdb.Open(diskdb.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer db.Close()
//	}
package logger
