// Package logx is a thin structured-logging layer over zerolog.
//
// Components receive a value-type Logger with typed Field helpers and
// never touch zerolog directly. The zero Logger is a safe no-op. A
// Service owns the root logger so the level can be changed at runtime
// (config reload) without re-plumbing loggers through the app.
package logx
