// Package scanner finds VBA statement boundaries in raw source text.
//
// All functions work on byte offsets. Sanitize keeps the byte length of its
// input, so an offset found in sanitized text is valid in the original text.
package scanner

import "strings"

// Placeholder replaces string literal and comment contents in sanitized text.
const Placeholder = 'x'

// Sanitize masks the contents of string literals, date literals and
// comments with Placeholder. Quotes, the # delimiters, comment markers and
// line breaks are kept, as is the trailing continuation marker of a continued
// comment line.
func Sanitize(text string) string {
	b := []byte(text)
	inString := false
	inComment := false
	atStatementStart := true

	for i := 0; i < len(b); i++ {
		c := b[i]
		if c == '\n' {
			if inComment && !EndsWithContinuation(text[lineStart(text, i):i]) {
				inComment = false
			}
			if inComment {
				restoreContinuation(b, text, i)
			}
			inString = false
			atStatementStart = !inComment
			continue
		}
		switch {
		case inComment:
			b[i] = Placeholder
		case inString:
			if c == '"' {
				if i+1 < len(b) && b[i+1] == '"' {
					b[i] = Placeholder
					b[i+1] = Placeholder
					i++
					continue
				}
				inString = false
				continue
			}
			b[i] = Placeholder
		case c == '"':
			inString = true
			atStatementStart = false
		case c == '\'':
			inComment = true
		case c == '#' && (i == 0 || !isIdentByte(text[i-1])):
			atStatementStart = false
			if end := dateLiteralEnd(text, i); end > 0 {
				for k := i + 1; k < end; k++ {
					b[k] = Placeholder
				}
				i = end
			}
		case atStatementStart && isRem(text, i):
			i += 2
			inComment = true
		case c == ':':
			atStatementStart = i+1 >= len(b) || b[i+1] != '='
		case c == ' ' || c == '\t':
		default:
			atStatementStart = false
		}
	}
	if inComment {
		restoreContinuation(b, text, len(b))
	}
	return string(b)
}

// restoreContinuation puts back a comment line's trailing " _" so that
// continuation checks still see it.
func restoreContinuation(b []byte, text string, end int) {
	line := text[lineStart(text, end):end]
	if !EndsWithContinuation(line) {
		return
	}
	trimmed := strings.TrimRight(line, " \t\r")
	at := lineStart(text, end) + len(trimmed)
	b[at-2] = trimmed[len(trimmed)-2]
	b[at-1] = '_'
}

// dateLiteralEnd returns the offset of the # closing a date literal opened at
// i, or -1 when the # is a file number or directive. A date literal closes on
// its own line and holds no comma or quote.
func dateLiteralEnd(text string, i int) int {
	rest := text[i+1:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	end := strings.IndexByte(rest, '#')
	if end <= 0 || strings.ContainsAny(rest[:end], ",\"") {
		return -1
	}
	return i + 1 + end
}

func lineStart(text string, i int) int {
	return strings.LastIndexByte(text[:i], '\n') + 1
}

func isRem(text string, i int) bool {
	if len(text) < i+3 || !strings.EqualFold(text[i:i+3], "rem") {
		return false
	}
	if i > 0 && isIdentByte(text[i-1]) {
		return false
	}
	return len(text) == i+3 || text[i+3] == ' ' || text[i+3] == '\t' || text[i+3] == '\n'
}

// LastSeparator returns the byte offset of the right-most statement separator
// in sanitized text, or -1 when there is none.
//
// A separator is a colon followed by a character other than '=' on the same
// line, so named arguments (:=) never match. A colon that ends a line or
// closes a leading label (Retry: or 10:) is not a separator either.
func LastSeparator(sanitized string) int {
	for i := len(sanitized) - 2; i >= 0; i-- {
		if sanitized[i] != ':' {
			continue
		}
		next := sanitized[i+1]
		if next == '=' || next == '\n' || next == '\r' {
			continue
		}
		if isLabelColon(sanitized, i) {
			continue
		}
		return i
	}
	return -1
}

// Label returns the offset of the colon closing a label at the start of a
// sanitized physical line (Retry: or 10:), or -1 when the line has none.
func Label(sanitized string) int {
	i := len(sanitized) - len(strings.TrimLeft(sanitized, " \t"))
	for i < len(sanitized) && isIdentByte(sanitized[i]) {
		i++
	}
	if i >= len(sanitized) || sanitized[i] != ':' || i+1 < len(sanitized) && sanitized[i+1] == '=' {
		return -1
	}
	if !isLabelColon(sanitized, i) {
		return -1
	}
	return i
}

// isLabelColon reports whether the colon at i terminates a line label: a
// single word starting its physical line that is not a block keyword.
func isLabelColon(s string, i int) bool {
	j := i
	for j > 0 && isIdentByte(s[j-1]) {
		j--
	}
	if j == i {
		return false
	}
	word := s[j:i]
	for k := j; k > 0; k-- {
		switch s[k-1] {
		case ' ', '\t':
			continue
		case '\n':
			return !isStatementKeyword(word)
		default:
			return false
		}
	}
	return !isStatementKeyword(word)
}

// statementKeywords are complete statements that may be followed by a
// separator at the start of a line.
var statementKeywords = map[string]bool{
	"else": true, "loop": true, "next": true, "wend": true, "do": true,
	"return": true, "stop": true, "end": true, "beep": true, "resume": true,
}

func isStatementKeyword(word string) bool {
	return statementKeywords[strings.ToLower(word)]
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

// EndsWithContinuation reports whether a physical line ends with the VBA
// line continuation marker (a blank followed by an underscore).
func EndsWithContinuation(line string) bool {
	trimmed := strings.TrimRight(line, " \t\r")
	n := len(trimmed)
	return n >= 2 && trimmed[n-1] == '_' && (trimmed[n-2] == ' ' || trimmed[n-2] == '\t')
}

// InlineThen returns the offset just past the Then keyword of a single-line
// If statement in sanitized text, or -1. Separators after that offset belong
// to the If body and must not be split onto their own lines.
func InlineThen(sanitized string) int {
	for i := 0; i < len(sanitized); {
		if !isIdentByte(sanitized[i]) {
			i++
			continue
		}
		j := i
		for j < len(sanitized) && isIdentByte(sanitized[j]) {
			j++
		}
		if strings.EqualFold(sanitized[i:j], "then") && hasTrailingStatement(sanitized[j:]) {
			return j
		}
		i = j
	}
	return -1
}

// hasTrailingStatement reports whether code follows on the logical line.
func hasTrailingStatement(rest string) bool {
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case ' ', '\t':
			continue
		case '\'':
			return false
		case '_':
			if EndsWithContinuation(rest[:i+1]) && strings.TrimSpace(rest[i+1:firstLineEnd(rest, i)]) == "" {
				i = firstLineEnd(rest, i)
				continue
			}
			return true
		case '\n', '\r':
			return false
		default:
			return true
		}
	}
	return false
}

func firstLineEnd(s string, from int) int {
	if k := strings.IndexByte(s[from:], '\n'); k >= 0 {
		return from + k
	}
	return len(s)
}

// SplitStatements puts every statement of text on its own physical line by
// replacing separators, right-most first, with a line break followed by
// indent. Each iteration removes one separator, so the loop terminates.
// Separators inside the body of a single-line If are left alone.
func SplitStatements(text, indent string) string {
	clean := Sanitize(text)
	limit := InlineThen(clean)
	if limit < 0 {
		limit = len(clean)
	}

	for {
		idx := LastSeparator(clean[:limit])
		if idx < 0 {
			return text
		}
		start, end := idx, idx+1
		for start > 0 && (clean[start-1] == ' ' || clean[start-1] == '\t') {
			start--
		}
		for end < len(clean) && (clean[end] == ' ' || clean[end] == '\t') {
			end++
		}
		repl := "\n" + indent
		text = text[:start] + repl + text[end:]
		clean = clean[:start] + repl + clean[end:]
		limit += len(repl) - (end - start)
	}
}

// Indentation returns the leading blanks of a line.
func Indentation(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}
