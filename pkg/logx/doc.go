// Package logx is a thin structured-logging wrapper around zerolog.
//
// It exposes a small Field-based API so call sites don't depend on zerolog
// directly, and a Service that allows the log level to be changed on config
// reload without re-plumbing loggers through every component.
package logx
