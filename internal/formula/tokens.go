// Package formula tokenizes formula text into a positional token stream
// (internal/formula/tokens.go), re-emits it with per-range rewrites
// (internal/formula/tokens.go EmitWithRewrites), and shifts parsed
// references under a relative-mode policy for pattern fill and structural
// edits (internal/formula/shift.go). The full formula grammar (functions,
// operator precedence, array constants) is out of scope — the engine only
// needs to find reference tokens and rewrite them byte-preservingly, the
// same narrow slice of work the reference implementations in the pack take
// on (grounded on javajack-xlfill's regex-based cellRefRegex scanner,
// generalized here to a hand-rolled lexer so sheet-qualifiers, quoting,
// and function-name false positives like LOG10(...) are handled correctly
// rather than approximated by a single regex).
package formula

import (
	"strings"

	"github.com/sheetforge/workbookd/internal/addr"
)

// TokenKind classifies a lexical span of formula text.
type TokenKind int

const (
	// TokenOther is any span that is not a cell/range reference: operators,
	// parentheses, commas, function names, numbers, string literals, etc.
	// Its raw text is always preserved byte-for-byte on re-emission.
	TokenOther TokenKind = iota
	// TokenRange is a cell or range reference, optionally sheet-qualified
	// and/or external (workbook-qualified).
	TokenRange
)

// Token is one lexical span of a formula's text, with byte offsets into the
// original string so multiple rewrite passes can be composed without
// re-tokenizing.
type Token struct {
	Kind  TokenKind
	Start int
	End   int
	Text  string // raw text of the whole token, including any sheet qualifier

	// Populated only for TokenRange:
	SheetRaw    string // raw sheet-qualifier text before '!', "" if unqualified
	Sheet       string // unquoted sheet name, "" if unqualified
	SheetQuoted bool
	IsExternal  bool // workbook-qualified, e.g. "[Book1.xlsx]Sheet1!A1"
	RefText     string // the reference part after the sheet qualifier, e.g. "A1:$B$2"
	Bounds      addr.Bounds
}

func isWordByte(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') ||
		b == '_' || b == '.' || b == '$' || b == ':'
}

func isIdentStartByte(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '_' || b == '$'
}

// Tokenize lexes formula text (without a leading '=') into a contiguous,
// gap-free token stream.
func Tokenize(s string) ([]Token, error) {
	var toks []Token
	i := 0
	n := len(s)
	for i < n {
		c := s[i]
		switch {
		case c == '"':
			j := scanStringLiteral(s, i)
			toks = append(toks, Token{Kind: TokenOther, Start: i, End: j, Text: s[i:j]})
			i = j
		case c == '\'':
			start := i
			j := scanQuotedName(s, i)
			if j < n && s[j] == '!' {
				tok, next := scanQualifiedRef(s, start, j+1, s[i+1:j-1], true)
				toks = append(toks, tok)
				i = next
			} else {
				toks = append(toks, Token{Kind: TokenOther, Start: start, End: j, Text: s[start:j]})
				i = j
			}
		case c == '[':
			// Bracketed external workbook reference: [Book1.xlsx]Sheet1!A1
			start := i
			j := i + 1
			for j < n && s[j] != ']' {
				j++
			}
			if j < n {
				j++ // consume ']'
			}
			// Optional quoted or bare sheet name, then '!'
			sheetStart := j
			if j < n && s[j] == '\'' {
				qend := scanQuotedName(s, j)
				if qend < n && s[qend] == '!' {
					tok, next := scanQualifiedRef(s, start, qend+1, s[j+1:qend-1], true)
					tok.IsExternal = true
					tok.SheetRaw = s[start:qend]
					toks = append(toks, tok)
					i = next
					continue
				}
			}
			k := sheetStart
			for k < n && isWordByte(s[k]) && s[k] != ':' {
				k++
			}
			if k < n && s[k] == '!' && k > sheetStart {
				tok, next := scanQualifiedRef(s, start, k+1, s[sheetStart:k], false)
				tok.IsExternal = true
				tok.SheetRaw = s[start:k]
				toks = append(toks, tok)
				i = next
				continue
			}
			toks = append(toks, Token{Kind: TokenOther, Start: start, End: j, Text: s[start:j]})
			i = j
		case isIdentStartByte(c) || (c >= '0' && c <= '9'):
			start := i
			j := i
			for j < n && isWordByte(s[j]) {
				j++
			}
			word := s[start:j]
			if j < n && s[j] == '!' && !strings.Contains(word, ":") {
				tok, next := scanQualifiedRef(s, start, j+1, word, false)
				toks = append(toks, tok)
				i = next
				continue
			}
			// Peek past whitespace for a following '(' => function/name call.
			k := j
			for k < n && (s[k] == ' ' || s[k] == '\t') {
				k++
			}
			if k < n && s[k] == '(' {
				toks = append(toks, Token{Kind: TokenOther, Start: start, End: j, Text: word})
				i = j
				continue
			}
			if b, ok := tryParseBounds(word); ok {
				toks = append(toks, Token{Kind: TokenRange, Start: start, End: j, Text: word, RefText: word, Bounds: b})
			} else {
				toks = append(toks, Token{Kind: TokenOther, Start: start, End: j, Text: word})
			}
			i = j
		default:
			toks = append(toks, Token{Kind: TokenOther, Start: i, End: i + 1, Text: s[i : i+1]})
			i++
		}
	}
	return toks, nil
}

// scanStringLiteral returns the end offset (exclusive) of a double-quoted
// Excel string literal starting at i, honouring "" as an escaped quote.
func scanStringLiteral(s string, i int) int {
	n := len(s)
	j := i + 1
	for j < n {
		if s[j] == '"' {
			if j+1 < n && s[j+1] == '"' {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return n
}

// scanQuotedName returns the end offset (exclusive) of a single-quoted
// sheet name starting at i, honouring '' as an escaped quote.
func scanQuotedName(s string, i int) int {
	n := len(s)
	j := i + 1
	for j < n {
		if s[j] == '\'' {
			if j+1 < n && s[j+1] == '\'' {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return n
}

// scanQualifiedRef scans the reference word immediately following a '!' at
// refStart and builds a Token spanning [tokenStart, end). sheetRaw is the
// unquoted sheet-name text; quoted indicates whether it was single-quoted.
func scanQualifiedRef(s string, tokenStart, refStart int, sheetRaw string, quoted bool) (Token, int) {
	n := len(s)
	j := refStart
	for j < n && isWordByte(s[j]) {
		j++
	}
	refWord := s[refStart:j]
	sheetName := strings.ReplaceAll(sheetRaw, "''", "'")
	tok := Token{
		Start:       tokenStart,
		End:         j,
		Text:        s[tokenStart:j],
		SheetRaw:    sheetRaw,
		Sheet:       sheetName,
		SheetQuoted: quoted,
		RefText:     refWord,
	}
	if b, ok := tryParseBounds(refWord); ok {
		tok.Kind = TokenRange
		tok.Bounds = b
	} else {
		tok.Kind = TokenOther
	}
	return tok, j
}

func tryParseBounds(word string) (addr.Bounds, bool) {
	if word == "" {
		return addr.Bounds{}, false
	}
	b, err := addr.ParseBounds(word)
	if err != nil {
		return addr.Bounds{}, false
	}
	return b, true
}

// EmitWithRewrites reassembles formula text from tokens, replacing each
// TokenRange's text with rewrite(t)'s result when rewrite reports a change;
// all other tokens (including TokenRange tokens rewrite declines to touch)
// are copied verbatim.
func EmitWithRewrites(tokens []Token, rewrite func(Token) (string, bool)) string {
	var b strings.Builder
	for _, t := range tokens {
		if t.Kind == TokenRange && rewrite != nil {
			if newText, changed := rewrite(t); changed {
				b.WriteString(newText)
				continue
			}
		}
		b.WriteString(t.Text)
	}
	return b.String()
}
