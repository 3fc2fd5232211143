// Package logx is a thin facade over zerolog.
//
// It keeps call sites decoupled from the underlying logging library and
// gives the rest of the codebase a small stable API: a Logger with
// leveled methods and closure-based Fields.
package logx
