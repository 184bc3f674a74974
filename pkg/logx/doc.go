// Package logx wraps zerolog behind a small value-type Logger that stays
// "live" across config hot-reloads: loggers created from a Service pick up
// level and sink changes applied later via Service.Apply.
package logx
