package analysis

import (
	"strings"

	"github.com/mamaar/vbarefactor/pkg/scanner"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokPunct
	tokSeparator
	tokEOL
)

// token is one lexical element. Positions are 1-indexed; endCol is one past
// the last character.
type token struct {
	kind tokenKind
	text string
	// hint is the type-declaration character of an identifier (s$), which
	// the token's columns include.
	hint    string
	line    int
	col     int
	endLine int
	endCol  int
}

func (t token) is(word string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (t token) punct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

// lex splits module text into tokens. Line continuations are dropped so a
// logical line yields one run of tokens ending in tokEOL. Comments are
// skipped, including comment text continued onto following lines.
func lex(text string) []token {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var toks []token
	commentContinues := false

	atStatementStart := func() bool {
		return len(toks) == 0 || toks[len(toks)-1].kind == tokEOL || toks[len(toks)-1].kind == tokSeparator
	}
	eol := func(line, col int) {
		toks = append(toks, token{kind: tokEOL, line: line, col: col, endLine: line, endCol: col})
	}

	for li, line := range lines {
		n := li + 1
		continued := scanner.EndsWithContinuation(line)
		if commentContinues {
			commentContinues = continued
			if !continued {
				eol(n, len(line)+1)
			}
			continue
		}

		body := line
		if continued {
			body = strings.TrimRight(line, " \t\r")
			body = body[:len(body)-1]
		}

		inComment := false
		for i := 0; i < len(body) && !inComment; {
			c := body[i]
			start := i
			switch {
			case c == ' ' || c == '\t' || c == '\r':
				i++
				continue
			case c == '\'':
				inComment = true
				continue
			case c == '"':
				i++
				for i < len(body) {
					if body[i] == '"' {
						if i+1 < len(body) && body[i+1] == '"' {
							i += 2
							continue
						}
						i++
						break
					}
					i++
				}
				toks = append(toks, token{kind: tokString, text: body[start:i], line: n, col: start + 1, endLine: n, endCol: i + 1})
				continue
			case isIdentStart(c):
				for i < len(body) && isIdentPart(body[i]) {
					i++
				}
				word := body[start:i]
				if strings.EqualFold(word, "rem") && atStatementStart() {
					inComment = true
					continue
				}
				hint := ""
				if i < len(body) && isTypeSuffix(body, i) {
					hint = body[i : i+1]
					i++
				}
				toks = append(toks, token{kind: tokIdent, text: word, hint: hint, line: n, col: start + 1, endLine: n, endCol: i + 1})
				continue
			case c == '[':
				// escaped identifier
				end := strings.IndexByte(body[i:], ']')
				if end < 0 {
					end = len(body) - i - 1
				}
				i += end + 1
				toks = append(toks, token{kind: tokIdent, text: strings.Trim(body[start:i], "[]"), line: n, col: start + 1, endLine: n, endCol: i + 1})
				continue
			case isDigit(c) || c == '.' && i+1 < len(body) && isDigit(body[i+1]) && !afterValue(toks, n, start):
				for i < len(body) && (isIdentPart(body[i]) || body[i] == '.') {
					i++
				}
			case c == '&' && i+1 < len(body) && strings.IndexByte("HhOo", body[i+1]) >= 0:
				i += 2
				for i < len(body) && isIdentPart(body[i]) {
					i++
				}
				if i < len(body) && body[i] == '&' {
					i++
				}
			case c == '#':
				// date literal or file number
				end := strings.IndexByte(body[i+1:], '#')
				if end < 0 || strings.ContainsAny(body[i+1:i+1+end], ",") {
					i++
					toks = append(toks, token{kind: tokPunct, text: "#", line: n, col: start + 1, endLine: n, endCol: i + 1})
					continue
				}
				i += end + 2
			case c == ':':
				if i+1 < len(body) && body[i+1] == '=' {
					i += 2
					toks = append(toks, token{kind: tokPunct, text: ":=", line: n, col: start + 1, endLine: n, endCol: i + 1})
					continue
				}
				i++
				toks = append(toks, token{kind: tokSeparator, text: ":", line: n, col: start + 1, endLine: n, endCol: i + 1})
				continue
			default:
				i++
				if i < len(body) {
					two := body[start : i+1]
					if two == "<>" || two == "<=" || two == ">=" {
						i++
					}
				}
				toks = append(toks, token{kind: tokPunct, text: body[start:i], line: n, col: start + 1, endLine: n, endCol: i + 1})
				continue
			}
			toks = append(toks, token{kind: tokNumber, text: body[start:i], line: n, col: start + 1, endLine: n, endCol: i + 1})
		}

		if inComment && continued {
			commentContinues = true
			continue
		}
		if !continued {
			eol(n, len(line)+1)
		}
	}
	return toks
}

// afterValue reports whether a '.' at col follows an expression on the same
// line, in which case it is member access rather than a decimal point.
func afterValue(toks []token, line, col int) bool {
	if len(toks) == 0 {
		return false
	}
	prev := toks[len(toks)-1]
	if prev.endLine != line || prev.endCol != col+1 {
		return false
	}
	return prev.kind == tokIdent || prev.punct(")")
}

func isTypeSuffix(body string, i int) bool {
	switch body[i] {
	case '$', '%', '@':
		return true
	case '&', '#':
		return i+1 == len(body) || strings.IndexByte("),: \t", body[i+1]) >= 0
	}
	return false
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '_'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
