// Package directive parses skip marker directives written as comments on test
// functions:
//
//	//mark:skip_if_binaries_missing git docker-compose check_all=false
//	//mark:skip_on_env CI eq="true" reason="flaky on shared runners"
//	func TestDeploy(t *testing.T) {
//
// Directives in the comment group above the package clause apply to every test
// in the file. Function directives follow them, so a function level marker wins
// over a file level marker of the same name.
package directive

import (
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/715d/skipmarkers/pkg/markers"
)

// Prefix introduces a directive comment.
const Prefix = "//mark:"

var (
	ErrEmptyName              = errors.New("missing marker name")
	ErrInvalidName            = errors.New("marker name must be an identifier")
	ErrUnterminatedQuote      = errors.New("unterminated quoted value")
	ErrUnexpectedQuote        = errors.New("unexpected quote inside unquoted value")
	ErrMissingValue           = errors.New("missing value for keyword")
	ErrDuplicateKeyword       = errors.New("duplicate keyword")
	ErrPositionalAfterKeyword = errors.New("positional argument follows keyword argument")
)

// Error reports a malformed directive.
type Error struct {
	Pos  token.Position
	Text string
	Err  error
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: invalid directive %q: %v", e.Pos, e.Text, e.Err)
	}
	return fmt.Sprintf("invalid directive %q: %v", e.Text, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsDirective reports whether a comment line is a marker directive.
func IsDirective(text string) bool {
	return strings.HasPrefix(text, Prefix)
}

// Parse parses one comment line. It returns false if the line is not a
// directive.
func Parse(text string) (markers.Marker, bool, error) {
	rest, ok := strings.CutPrefix(text, Prefix)
	if !ok {
		return markers.Marker{}, false, nil
	}

	toks, err := tokenize(rest)
	if err != nil {
		return markers.Marker{}, true, &Error{Text: text, Err: err}
	}
	if len(toks) == 0 || strings.HasPrefix(rest, " ") || strings.HasPrefix(rest, "\t") {
		return markers.Marker{}, true, &Error{Text: text, Err: ErrEmptyName}
	}

	head := toks[0]
	if head.keyed || head.quoted || !isIdent(head.raw) {
		return markers.Marker{}, true, &Error{Text: text, Err: ErrInvalidName}
	}

	m := markers.Marker{Name: head.raw}
	for _, tok := range toks[1:] {
		if !tok.keyed {
			if len(m.Kwargs) > 0 {
				return markers.Marker{}, true, &Error{Text: text, Err: ErrPositionalAfterKeyword}
			}
			m.Args = append(m.Args, tok.value())
			continue
		}
		if _, dup := m.Kwargs[tok.key]; dup {
			return markers.Marker{}, true, &Error{Text: text, Err: fmt.Errorf("%w %q", ErrDuplicateKeyword, tok.key)}
		}
		if m.Kwargs == nil {
			m.Kwargs = make(map[string]any)
		}
		m.Kwargs[tok.key] = tok.value()
	}
	return m, true, nil
}

// FromCommentGroup parses every directive in cg, in source order.
func FromCommentGroup(fset *token.FileSet, cg *ast.CommentGroup) ([]markers.Marker, error) {
	if cg == nil {
		return nil, nil
	}

	var ms []markers.Marker
	for _, c := range cg.List {
		m, ok, err := Parse(c.Text)
		if err != nil {
			var de *Error
			if errors.As(err, &de) && fset != nil {
				de.Pos = fset.Position(c.Pos())
			}
			return nil, err
		}
		if ok {
			ms = append(ms, m)
		}
	}
	return ms, nil
}

// FromFuncDecl parses the directives in the doc comment of fn.
func FromFuncDecl(fset *token.FileSet, fn *ast.FuncDecl) ([]markers.Marker, error) {
	return FromCommentGroup(fset, fn.Doc)
}

// FromFile parses the file level directives, found in the comment group above
// the package clause.
func FromFile(fset *token.FileSet, file *ast.File) ([]markers.Marker, error) {
	return FromCommentGroup(fset, file.Doc)
}

// IsTestName reports whether name follows the go test naming rule for test
// functions: "Test" followed by nothing or by a character that is not a
// lower case letter.
func IsTestName(name string) bool {
	rest, ok := strings.CutPrefix(name, "Test")
	if !ok {
		return false
	}
	if rest == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return !unicode.IsLower(r)
}

type lexeme struct {
	key    string
	keyed  bool
	raw    string
	quoted bool
}

// value types an unquoted token: true and false are bools, decimal integers
// are ints and anything else is a string.
func (t lexeme) value() any {
	if t.quoted {
		return t.raw
	}
	switch t.raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(t.raw); err == nil {
		return n
	}
	return t.raw
}

func tokenize(s string) ([]lexeme, error) {
	var toks []lexeme
	i := 0
	for {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			return toks, nil
		}

		var tok lexeme
		j := i
		for j < len(s) && isIdentByte(s[j]) {
			j++
		}
		if j > i && j < len(s) && s[j] == '=' && isIdent(s[i:j]) {
			tok.key, tok.keyed = s[i:j], true
			i = j + 1
		}

		if i < len(s) && (s[i] == '"' || s[i] == '`') {
			end, err := quoteEnd(s, i)
			if err != nil {
				return nil, err
			}
			v, err := strconv.Unquote(s[i:end])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", s[i:end], err)
			}
			if end < len(s) && !isSpace(s[end]) {
				return nil, ErrUnexpectedQuote
			}
			tok.raw, tok.quoted = v, true
			i = end
		} else {
			j = i
			for j < len(s) && !isSpace(s[j]) {
				if s[j] == '"' || s[j] == '`' {
					return nil, ErrUnexpectedQuote
				}
				j++
			}
			if tok.keyed && j == i {
				return nil, fmt.Errorf("%w %q", ErrMissingValue, tok.key)
			}
			tok.raw = s[i:j]
			i = j
		}
		toks = append(toks, tok)
	}
}

// quoteEnd returns the index just past the quoted literal starting at s[i].
func quoteEnd(s string, i int) (int, error) {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch {
		case s[j] == '\\' && q == '"':
			j++
		case s[j] == q:
			return j + 1, nil
		}
	}
	return 0, ErrUnterminatedQuote
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func isIdent(s string) bool {
	if s == "" || s[0] >= '0' && s[0] <= '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}
