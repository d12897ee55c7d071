package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// clojureString renders s as a Clojure string literal. Every character that
// could terminate or alter the literal is escaped.
func clojureString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// unquote turns a printed Clojure string back into its text. Well formed
// literals have their escapes decoded; anything else loses at most one
// leading and one trailing quote.
func unquote(printed string) string {
	if s, err := strconv.Unquote(printed); err == nil && strings.HasPrefix(printed, `"`) {
		return s
	}
	s := strings.TrimPrefix(printed, `"`)
	return strings.TrimSuffix(s, `"`)
}

// symbolPattern accepts plausible Clojure symbols: no whitespace, no reader
// macro or delimiter characters, and not a keyword or number.
var symbolPattern = regexp.MustCompile(`^[^\s,;()\[\]{}"'` + "`" + `~@^\\#:0-9][^\s,;()\[\]{}"'` + "`" + `~@^\\]*$`)

func validSymbol(s string) bool {
	return symbolPattern.MatchString(s)
}

func symbolForm(name string) string {
	return "(clojure.core/symbol " + clojureString(name) + ")"
}

func aproposCode(query string) string {
	return "(do (clojure.core/require 'clojure.repl) (clojure.repl/apropos " + clojureString(query) + "))"
}

func docCode(symbol string) string {
	return "(try (clojure.core/some-> (clojure.core/resolve " + symbolForm(symbol) +
		") clojure.core/meta :doc) (catch Throwable _ nil))"
}

func sourceCode(symbol string) string {
	return "(do (clojure.core/require 'clojure.repl) (clojure.repl/source-fn " + symbolForm(symbol) + "))"
}

const namespacesCode = "(clojure.core/doseq [n (clojure.core/all-ns)] (clojure.core/println (clojure.core/ns-name n)))"

// RequireCode is the form that loads namespace ns.
func RequireCode(ns string) string {
	return "(clojure.core/require " + symbolForm(ns) + ")"
}

// blankResult reports whether a printed value carries nothing worth showing.
func blankResult(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "nil":
		return true
	}
	return false
}
