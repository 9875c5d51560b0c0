// Package thinkact parses the THINK:/ACT: convention a model uses to
// request a tool call from free-form text.
//
// A reply may carry a rationale and an action in either order:
//
//	THINK: I need the sum first.
//	ACT: add 15 27
//
// Labels are case-insensitive and must start at a word boundary: the
// preceding rune, in any script, is not a letter, digit or underscore. Each
// section runs to the next label or to the end of the text. A reply with no
// labels is a final answer.
package thinkact

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nugget/ponder/internal/tools"
)

// Section labels, upper-cased.
const (
	ThinkLabel = "THINK:"
	ActLabel   = "ACT:"
)

// Response is the parsed form of a single model reply.
type Response struct {
	Think string // trimmed rationale, if any
	Act   string // trimmed action directive, if any

	HasThink bool
	HasAct   bool

	// IsToolCall is true when the ACT section holds anything after
	// trimming. An ACT label with nothing after it is not a tool call.
	IsToolCall bool
}

// Invocation is a tool call recovered from an ACT directive.
type Invocation struct {
	Name string
	Args []tools.Token
}

// String renders the invocation back to directive form.
func (inv Invocation) String() string {
	if len(inv.Args) == 0 {
		return inv.Name
	}
	return inv.Name + " " + tools.JoinArgs(inv.Args)
}

type label struct {
	kind  string // ThinkLabel or ActLabel
	start int    // offset of the label's first byte
	end   int    // offset just past the colon
}

// Parse extracts the THINK and ACT sections from text. It runs in time
// linear in len(text).
func Parse(text string) Response {
	labels := findLabels(text)

	var r Response
	for i, l := range labels {
		stop := len(text)
		if i+1 < len(labels) {
			stop = labels[i+1].start
		}
		body := strings.TrimSpace(text[l.end:stop])

		switch l.kind {
		case ThinkLabel:
			if !r.HasThink {
				r.HasThink = true
				r.Think = body
			}
		case ActLabel:
			if !r.HasAct {
				r.HasAct = true
				r.Act = body
			}
		}
	}
	r.IsToolCall = r.Act != ""
	return r
}

// Invocation splits the ACT section into a tool name and positional
// arguments. All-digit arguments become integers. It reports false when
// the response is not a tool call.
func (r Response) Invocation() (Invocation, bool) {
	if !r.IsToolCall {
		return Invocation{}, false
	}
	return ParseInvocation(r.Act)
}

// ParseInvocation splits a directive such as "add 15 27" into a tool name
// and arguments.
func ParseInvocation(directive string) (Invocation, bool) {
	fields := strings.Fields(directive)
	if len(fields) == 0 {
		return Invocation{}, false
	}
	return Invocation{Name: fields[0], Args: tools.ParseArgs(fields[1:])}, true
}

// Clean removes every THINK:/ACT: label from raw and trims the result. The
// section text itself is kept.
func Clean(raw string) string {
	labels := findLabels(raw)
	if len(labels) == 0 {
		return strings.TrimSpace(raw)
	}

	var b strings.Builder
	b.Grow(len(raw))
	prev := 0
	for _, l := range labels {
		b.WriteString(raw[prev:l.start])
		prev = l.end
	}
	b.WriteString(raw[prev:])
	return strings.TrimSpace(b.String())
}

// findLabels returns every label occurrence in text in order of position.
func findLabels(text string) []label {
	var out []label
	for i := 0; i < len(text); i++ {
		c := text[i] | 0x20 // ASCII lower-case fold
		if c != 't' && c != 'a' {
			continue
		}
		if i > 0 && endsInWord(text[:i]) {
			continue
		}
		for _, kind := range [...]string{ThinkLabel, ActLabel} {
			if hasLabelAt(text, i, kind) {
				out = append(out, label{kind: kind, start: i, end: i + len(kind)})
				i += len(kind) - 1
				break
			}
		}
	}
	return out
}

func hasLabelAt(text string, i int, kind string) bool {
	if len(text)-i < len(kind) {
		return false
	}
	return strings.EqualFold(text[i:i+len(kind)], kind)
}

// endsInWord reports whether the last rune of s is a letter, digit or
// underscore in any script.
func endsInWord(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
