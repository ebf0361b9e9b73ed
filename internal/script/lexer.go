package script

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/arpa2/pulley/internal/lexhash"
)

// tokKind classifies one lexer token. Values mirror the hand-full of
// distinct things a pulley script line can contain; HAVE/CMP/BIND in
// internal/binding consume the variables/constants this lexer produces,
// not these token kinds directly.
type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct // single- or two-rune punctuation, spelling carried in text
	tokArrow // "<-"
)

type token struct {
	kind tokKind
	text string
	pos  scanner.Position
}

// statement is one non-blank, comment-stripped physical line of script
// source, the unit this line-oriented grammar dispatches on (§6.1).
type statement struct {
	text string
	line int
}

// splitStatements breaks src into its physical lines, strips each line's
// trailing '#' comment (honouring double-quoted strings, so a literal '#'
// inside a constant is never mistaken for a comment start), and discards
// blank or comment-only lines.
func splitStatements(src string) []statement {
	var out []statement
	for i, raw := range strings.Split(src, "\n") {
		code := strings.TrimSpace(stripHashComment(raw))
		if code == "" {
			continue
		}
		out = append(out, statement{text: code, line: i + 1})
	}
	return out
}

func stripHashComment(line string) string {
	inQuote := false
	for i, r := range line {
		switch r {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

// lexer tokenizes one statement's already comment-stripped source into a
// fixed token slice, grounded on lexhash.h's own token-oriented (not
// character-oriented) hashing discipline: every token this lexer produces
// is also fed to a lexhash.Hasher by the parser so the per-line and
// whole-script hashes match what was actually parsed.
type lexer struct {
	toks []token
	pos  int
}

func newLexer(stmt statement) *lexer {
	return &lexer{toks: lexLine(stmt.text, stmt.line)}
}

// next consumes and returns the current token, staying on the trailing EOF
// sentinel once the statement is exhausted.
func (l *lexer) next() token {
	t := l.toks[l.pos]
	if l.pos < len(l.toks)-1 {
		l.pos++
	}
	return t
}

func (l *lexer) peekTok() token {
	return l.toks[l.pos]
}

// peekAt looks n tokens ahead without consuming, clamped to the trailing EOF.
func (l *lexer) peekAt(n int) token {
	i := l.pos + n
	if i >= len(l.toks) {
		return l.toks[len(l.toks)-1]
	}
	return l.toks[i]
}

// hasArrow reports whether a '<-' appears anywhere in the remaining tokens,
// the structural cue that separates a generator statement (which has one)
// from a bare condition statement (which never does) once a statement has
// already been ruled out as a driver-output by parseStatement.
func (l *lexer) hasArrow() bool {
	for _, t := range l.toks[l.pos:] {
		if t.kind == tokArrow {
			return true
		}
	}
	return false
}

// lexLine tokenizes one statement's text, terminated by a single tokEOF
// sentinel so lookahead never runs off the end of the slice.
func lexLine(line string, lineNum int) []token {
	var s scanner.Scanner
	s.Init(strings.NewReader(line))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings

	var toks []token
	for {
		r := s.Scan()
		pos := s.Position
		pos.Line = lineNum
		switch r {
		case scanner.EOF:
			toks = append(toks, token{kind: tokEOF, pos: pos})
			return toks
		case scanner.Ident:
			toks = append(toks, token{kind: tokIdent, text: s.TokenText(), pos: pos})
		case scanner.Int, scanner.Float:
			toks = append(toks, token{kind: tokNumber, text: s.TokenText(), pos: pos})
		case scanner.String:
			toks = append(toks, token{kind: tokString, text: s.TokenText(), pos: pos})
		case '<':
			if s.Peek() == '-' {
				s.Next()
				toks = append(toks, token{kind: tokArrow, text: "<-", pos: pos})
			} else if s.Peek() == '=' {
				s.Next()
				toks = append(toks, token{kind: tokPunct, text: "<=", pos: pos})
			} else {
				toks = append(toks, token{kind: tokPunct, text: "<", pos: pos})
			}
		case '>':
			if s.Peek() == '=' {
				s.Next()
				toks = append(toks, token{kind: tokPunct, text: ">=", pos: pos})
			} else {
				toks = append(toks, token{kind: tokPunct, text: ">", pos: pos})
			}
		case '!':
			if s.Peek() == '=' {
				s.Next()
				toks = append(toks, token{kind: tokPunct, text: "!=", pos: pos})
			} else {
				toks = append(toks, token{kind: tokPunct, text: "!", pos: pos})
			}
		default:
			toks = append(toks, token{kind: tokPunct, text: string(r), pos: pos})
		}
	}
}

// feedHash replays a token into a lexhash.Hasher, matching the original
// engine's rule that every lexeme (not every character) contributes to the
// line hash.
func feedHash(h *lexhash.Hasher, t token) {
	switch t.kind {
	case tokNumber, tokString:
		h.TokenBlob(int(t.kind), []byte(t.text))
	default:
		h.TokenText(int(t.kind), t.text)
	}
}

func parseIntLiteral(s string) (int64, error) {
	return strconv.ParseInt(s, 0, 64)
}

func parseFloatLiteral(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func (t token) String() string {
	return fmt.Sprintf("%v %q @%s", t.kind, t.text, t.pos)
}
