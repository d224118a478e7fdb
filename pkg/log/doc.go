// Package log provides a logging abstraction for peerlink components.
//
// This package defines a Logger interface that can be implemented by
// any logging library. Default implementations are provided for zerolog
// and a no-op logger for testing.
//
// # Usage
//
// Use the provided zerolog adapter:
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//
// Or use the no-op logger for testing:
//
//	logger := log.NewNoopLogger()
//
// Every unit in the runtime carries a logger scoped to its address:
//
//	l := log.With(logger, log.String("unit", string(addr)))
//	l.Info("connected", log.String("peer", peer))
//
// # Version
//
// See version.go for version constants that can be used programmatically.
package log
