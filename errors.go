// errors.go: structured front-end errors and caret-snippet rendering
//
// What this file does
// -------------------
// Two error kinds cover the whole front-end:
//
//   - *ParseError — raised by the lexer and parser; carries the byte offset
//     of the failure into the original source plus a short description of
//     the parser state. Unmatched scope, missing semicolon, unknown pragma,
//     reserved keyword, malformed numeric literal and unknown token all map
//     here.
//   - *ElabError — raised by the visitor and evaluator; carries a
//     human-readable message with no offset (unknown variable, unknown
//     gate, arity mismatch, const assignment, qubit index out of range, …).
//
// `WrapErrorWithSource` turns a *ParseError into a readable snippet with a
// caret pointing at the offending column:
//
//	PARSE ERROR at 3:1: missing ';' after statement
//
//	   2 | x q[0]
//	   3 | h q[1];
//	     | ^
//	   4 | measure q;
//
// (for the source "qubit[2] q;\nx q[0]\nh q[1];\nmeasure q;": the parser
// reports the token where the ';' was expected, so the line missing it
// shows as the preceding context line).
//
// Other errors pass through unchanged. Rendering is plain text, suitable
// for logs and terminals.
package quasar

import (
	"fmt"
	"strings"
)

// ParseError is a lexer/parser failure at a byte offset into the source.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Msg)
}

func parseErrf(off int, format string, args ...any) error {
	return &ParseError{Offset: off, Msg: fmt.Sprintf(format, args...)}
}

// ElabError is a visitor/evaluator failure. No offset: elaboration works on
// the syntax tree, after source positions have been consumed.
type ElabError struct {
	Msg string
}

func (e *ElabError) Error() string { return "elaboration error: " + e.Msg }

func elabErrf(format string, args ...any) error {
	return &ElabError{Msg: fmt.Sprintf(format, args...)}
}

// WrapErrorWithSource augments a *ParseError with a caret-annotated snippet
// of the provided source. Elaboration and other errors are returned as-is.
func WrapErrorWithSource(err error, src string) error {
	pe, ok := err.(*ParseError)
	if !ok {
		return err
	}
	line, col := lineColAt(src, pe.Offset)
	return fmt.Errorf("%s", prettyErrorString(src, "PARSE ERROR", line, col, pe.Msg))
}

// lineColAt converts a byte offset to 1-based (line, col).
func lineColAt(src string, off int) (int, int) {
	if off < 0 {
		off = 0
	}
	if off > len(src) {
		off = len(src)
	}
	line := 1 + strings.Count(src[:off], "\n")
	lastNL := strings.LastIndex(src[:off], "\n")
	if lastNL < 0 {
		return line, off + 1
	}
	return line, off - lastNL
}

// prettyErrorString builds a Python-like snippet with a header and a caret.
// It shows at most one previous and one next line when available.
// Coordinates are 1-based and clamped to the source bounds.
func prettyErrorString(src, header string, line, col int, msg string) string {
	lines := strings.Split(src, "\n")
	if line < 1 {
		line = 1
	}
	if col < 1 {
		col = 1
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	if line > len(lines) {
		line = len(lines)
	}
	lineTxt := lines[line-1]

	var b strings.Builder
	fmt.Fprintf(&b, "%s at %d:%d: %s\n\n", header, line, col, msg)
	if line > 1 {
		fmt.Fprintf(&b, "%4d | %s\n", line-1, lines[line-2])
	}
	fmt.Fprintf(&b, "%4d | %s\n", line, lineTxt)
	caretPad := col - 1
	if caretPad > len(lineTxt) {
		caretPad = len(lineTxt)
	}
	fmt.Fprintf(&b, "     | %s^\n", strings.Repeat(" ", caretPad))
	if line < len(lines) {
		fmt.Fprintf(&b, "%4d | %s\n", line+1, lines[line])
	}
	return b.String()
}
