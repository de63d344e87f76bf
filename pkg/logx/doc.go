// Package logx is commitbot's structured logging: a small Logger facade over
// zerolog with a console writer, an optional JSON file and an optional chat
// sink that forwards warnings to an operator channel.
package logx
