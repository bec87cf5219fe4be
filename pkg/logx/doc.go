// Package logx is the scheduler's structured logging on top of zerolog.
//
// Console output is human readable (short timestamp and caller); without
// console output, and in the optional file sink, lines are JSON so journald
// and log shippers keep the fields. A Logger derived from a Service follows
// every Service.Apply, which is how a config reload changes the level.
package logx
