// Package parser decodes planner output written in the Thought/Action/Answer
// grammar into structured values. Parsing is total: any input yields either a
// parsed response or a classified validation error, never a panic.
package parser

import (
	"strconv"
	"strings"
	"unicode"

	"nestor/internal/agent/ports"
	nerrors "nestor/internal/errors"
)

// Response is the decoded form of one planner turn. Exactly one of Action
// and Answer is set.
type Response struct {
	Thought  string
	Action   *ports.Action
	Answer   string
	IsAnswer bool
}

// Section headers are matched case-insensitively.
const (
	thoughtHeader = "thought:"
	actionHeader  = "action:"
	answerHeader  = "answer:"
)

// Parse decodes a raw planner response. The presence of an Answer header
// anywhere terminates the run; otherwise the first Action line is decoded.
// Text with neither section is a validation error.
func Parse(raw string) (*Response, error) {
	lower := strings.ToLower(raw)

	thoughtAt := strings.Index(lower, thoughtHeader)
	actionAt := strings.Index(lower, actionHeader)
	answerAt := strings.Index(lower, answerHeader)

	resp := &Response{}
	resp.Thought = extractThought(raw, thoughtAt, actionAt, answerAt)

	if answerAt >= 0 {
		resp.IsAnswer = true
		resp.Answer = strings.TrimSpace(raw[answerAt+len(answerHeader):])
		return resp, nil
	}

	if actionAt < 0 {
		return nil, nerrors.New(nerrors.KindValidation, "response contains neither an Action nor an Answer section")
	}

	name, args, err := ParseCall(raw[actionAt+len(actionHeader):])
	if err != nil {
		return nil, err
	}
	resp.Action = &ports.Action{Tool: name, Arguments: args, Reasoning: resp.Thought}
	return resp, nil
}

func extractThought(raw string, thoughtAt, actionAt, answerAt int) string {
	if thoughtAt < 0 {
		return ""
	}
	end := len(raw)
	if actionAt > thoughtAt && actionAt < end {
		end = actionAt
	}
	if answerAt > thoughtAt && answerAt < end {
		end = answerAt
	}
	return strings.TrimSpace(raw[thoughtAt+len(thoughtHeader) : end])
}

// ParseCall decodes a textual tool call of the form
//
//	name(key="value", flag=true, count=3)
//
// Quoted strings keep their literal content; bare true/false become booleans;
// bare decimal digits become integers; every other bareword stays a string.
func ParseCall(text string) (string, map[string]any, error) {
	s := &scanner{input: []rune(text)}
	s.skipSpace()

	name, err := s.ident()
	if err != nil {
		return "", nil, nerrors.Wrap(nerrors.KindValidation, "action is missing a tool name", err)
	}

	s.skipSpace()
	if !s.consume('(') {
		return "", nil, nerrors.Newf(nerrors.KindValidation, "action %q is missing its argument list", name)
	}

	args := make(map[string]any)
	s.skipSpace()
	if s.consume(')') {
		return name, args, nil
	}

	for {
		key, err := s.ident()
		if err != nil {
			return "", nil, nerrors.Wrapf(nerrors.KindValidation, err, "malformed argument in call to %q", name)
		}
		s.skipSpace()
		if !s.consume('=') {
			return "", nil, nerrors.Newf(nerrors.KindValidation, "argument %q in call to %q is missing '='", key, name)
		}
		s.skipSpace()
		value, err := s.value()
		if err != nil {
			return "", nil, nerrors.Wrapf(nerrors.KindValidation, err, "malformed value for %q in call to %q", key, name)
		}
		args[key] = value

		s.skipSpace()
		if s.consume(',') {
			s.skipSpace()
			continue
		}
		if s.consume(')') {
			return name, args, nil
		}
		return "", nil, nerrors.Newf(nerrors.KindValidation, "call to %q is not closed with ')'", name)
	}
}

type scanner struct {
	input []rune
	pos   int
}

func (s *scanner) eof() bool { return s.pos >= len(s.input) }

func (s *scanner) peek() rune {
	if s.eof() {
		return 0
	}
	return s.input[s.pos]
}

func (s *scanner) consume(r rune) bool {
	if !s.eof() && s.input[s.pos] == r {
		s.pos++
		return true
	}
	return false
}

func (s *scanner) skipSpace() {
	for !s.eof() && unicode.IsSpace(s.input[s.pos]) {
		s.pos++
	}
}

// ident reads a name: a letter or underscore followed by letters, digits,
// underscores.
func (s *scanner) ident() (string, error) {
	start := s.pos
	if s.eof() || !(unicode.IsLetter(s.peek()) || s.peek() == '_') {
		return "", nerrors.Newf(nerrors.KindValidation, "expected identifier at position %d", s.pos)
	}
	for !s.eof() && (unicode.IsLetter(s.peek()) || unicode.IsDigit(s.peek()) || s.peek() == '_') {
		s.pos++
	}
	return string(s.input[start:s.pos]), nil
}

func (s *scanner) value() (any, error) {
	if s.peek() == '"' || s.peek() == '\'' {
		return s.quoted(s.peek())
	}
	return s.bareword()
}

func (s *scanner) quoted(quote rune) (string, error) {
	s.pos++ // opening quote
	var b strings.Builder
	for !s.eof() {
		r := s.input[s.pos]
		if r == '\\' && s.pos+1 < len(s.input) {
			next := s.input[s.pos+1]
			if next == quote || next == '\\' {
				b.WriteRune(next)
				s.pos += 2
				continue
			}
		}
		if r == quote {
			s.pos++
			return b.String(), nil
		}
		b.WriteRune(r)
		s.pos++
	}
	return "", nerrors.New(nerrors.KindValidation, "unterminated quoted string")
}

// bareword reads until a comma, closing paren, or whitespace, then types it:
// true/false -> bool, all-decimal-digits -> int, otherwise string.
func (s *scanner) bareword() (any, error) {
	start := s.pos
	for !s.eof() {
		r := s.input[s.pos]
		if r == ',' || r == ')' || unicode.IsSpace(r) {
			break
		}
		s.pos++
	}
	word := string(s.input[start:s.pos])
	if word == "" {
		return nil, nerrors.Newf(nerrors.KindValidation, "expected a value at position %d", start)
	}
	return TypeBareword(word), nil
}

// TypeBareword applies the scalar typing rules shared with schema coercion:
// case-insensitive true/false become booleans, unsigned decimal literals
// become ints, everything else stays a string. Digit runs too large for an
// int stay strings rather than wrapping.
func TypeBareword(word string) any {
	switch strings.ToLower(word) {
	case "true":
		return true
	case "false":
		return false
	}
	if isDecimal(word) {
		if n, err := strconv.Atoi(word); err == nil {
			return n
		}
	}
	return word
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
