package query

import (
	"strings"
	"unicode"
)

// forbiddenKeywords are rejected whenever they appear as an identifier
// token, regardless of position. String literals are exempt, so a query may
// still select the text 'drop table'.
var forbiddenKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"ALTER": true, "TRUNCATE": true, "CREATE": true, "REPLACE": true,
	"ATTACH": true, "COPY": true, "PRAGMA": true, "LOAD": true,
	"INSTALL": true, "EXPORT": true, "IMPORT": true, "CALL": true,
	"DETACH": true, "GRANT": true, "REVOKE": true,
}

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenNumber
	tokenString
	tokenPunct
)

type token struct {
	kind tokenKind
	text string
}

// Validate rejects everything but a single read-only statement over the
// bound dataset table. It returns nil or an *Error of kind syntax or
// forbidden.
func Validate(sqlText string) error {
	tokens, err := tokenize(sqlText)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return syntaxErr("empty query")
	}

	first := strings.ToUpper(tokens[0].text)
	if tokens[0].kind != tokenIdent || (first != "SELECT" && first != "WITH") {
		return syntaxErr("only SELECT and WITH statements are allowed")
	}

	for _, t := range tokens {
		if t.kind == tokenIdent && forbiddenKeywords[strings.ToUpper(t.text)] {
			return forbiddenErr("keyword %s is not allowed", strings.ToUpper(t.text))
		}
	}

	return checkTableRefs(tokens)
}

// tokenize splits the statement into identifier, number, string, and
// punctuation tokens. Comments are dropped; a semicolon followed by anything
// other than whitespace is a multi-statement attempt and is rejected here.
func tokenize(input string) ([]token, error) {
	runes := []rune(input)
	tokens := make([]token, 0, 64)
	i := 0

	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}

		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			if i+1 >= len(runes) {
				return nil, syntaxErr("unterminated comment")
			}
			i += 2

		case r == '\'':
			start := i
			i++
			for i < len(runes) {
				if runes[i] == '\'' {
					// '' is an escaped quote inside the literal.
					if i+1 < len(runes) && runes[i+1] == '\'' {
						i += 2
						continue
					}
					break
				}
				i++
			}
			if i >= len(runes) {
				return nil, syntaxErr("unterminated string literal")
			}
			i++
			tokens = append(tokens, token{kind: tokenString, text: string(runes[start:i])})

		case r == '"':
			start := i
			i++
			for i < len(runes) && runes[i] != '"' {
				i++
			}
			if i >= len(runes) {
				return nil, syntaxErr("unterminated quoted identifier")
			}
			i++
			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[start+1 : i-1])})

		case r == ';':
			rest := strings.TrimSpace(string(runes[i+1:]))
			if rest != "" {
				return nil, syntaxErr("multiple statements are not allowed")
			}
			i = len(runes)

		case isIdentStart(r):
			start := i
			for i < len(runes) && isIdentPart(runes[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[start:i])})

		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == 'e' || runes[i] == 'E') {
				i++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[start:i])})

		default:
			tokens = append(tokens, token{kind: tokenPunct, text: string(r)})
			i++
		}
	}
	return tokens, nil
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$'
}

// fromClauseKeywords terminate a FROM clause's table list; an identifier in
// one of these positions is a clause keyword, not a table alias.
var fromClauseKeywords = map[string]bool{
	"WHERE": true, "GROUP": true, "ORDER": true, "LIMIT": true, "OFFSET": true,
	"HAVING": true, "WINDOW": true, "UNION": true, "INTERSECT": true,
	"EXCEPT": true, "JOIN": true, "ON": true, "USING": true, "LEFT": true,
	"RIGHT": true, "INNER": true, "OUTER": true, "CROSS": true,
	"NATURAL": true, "FULL": true,
}

// checkTableRefs requires every name referenced after FROM or JOIN to be the
// bound dataset table or a common table expression defined by the query
// itself. A FROM clause is tracked through commas, so every entry in a
// comma-separated table list is checked.
func checkTableRefs(tokens []token) error {
	allowed := map[string]bool{"DATA": true}

	// A name followed by AS ( can only be a CTE definition.
	for i := 0; i+2 < len(tokens); i++ {
		if tokens[i].kind == tokenIdent &&
			tokens[i+1].kind == tokenIdent && strings.EqualFold(tokens[i+1].text, "AS") &&
			tokens[i+2].kind == tokenPunct && tokens[i+2].text == "(" {
			allowed[strings.ToUpper(tokens[i].text)] = true
		}
	}

	for i := 0; i < len(tokens); i++ {
		if tokens[i].kind != tokenIdent {
			continue
		}
		word := strings.ToUpper(tokens[i].text)
		if word != "FROM" && word != "JOIN" {
			continue
		}
		// FROM takes a comma-separated list; JOIN takes exactly one ref.
		// Subquery tokens skipped here are re-visited by this outer scan, so
		// their own FROM clauses are still checked.
		if err := checkTableList(tokens, i, word == "FROM", allowed); err != nil {
			return err
		}
	}
	return nil
}

func checkTableList(tokens []token, start int, commaList bool, allowed map[string]bool) error {
	word := strings.ToUpper(tokens[start].text)
	i := start + 1

	for {
		if i >= len(tokens) {
			return syntaxErr("dangling %s", word)
		}

		switch t := tokens[i]; {
		case t.kind == tokenPunct && t.text == "(":
			// Subquery or parenthesized join; skip to its closing paren.
			depth := 0
			for ; i < len(tokens); i++ {
				if tokens[i].kind != tokenPunct {
					continue
				}
				if tokens[i].text == "(" {
					depth++
				} else if tokens[i].text == ")" {
					depth--
					if depth == 0 {
						break
					}
				}
			}
			if depth != 0 {
				return syntaxErr("unbalanced parentheses")
			}
			i++

		case t.kind == tokenIdent:
			if !allowed[strings.ToUpper(t.text)] {
				return forbiddenErr("unknown table %q; the dataset is available as \"data\"", t.text)
			}
			// Schema-qualified names always point outside the dataset.
			if i+1 < len(tokens) && tokens[i+1].kind == tokenPunct && tokens[i+1].text == "." {
				return forbiddenErr("qualified table names are not allowed")
			}
			i++

		default:
			return syntaxErr("expected table name after %s", word)
		}

		// Optional alias, with or without AS.
		if i < len(tokens) && tokens[i].kind == tokenIdent {
			if strings.EqualFold(tokens[i].text, "AS") {
				i++
				if i < len(tokens) && tokens[i].kind == tokenIdent {
					i++
				}
			} else if !fromClauseKeywords[strings.ToUpper(tokens[i].text)] {
				i++
			}
		}

		if !commaList {
			return nil
		}
		if i < len(tokens) && tokens[i].kind == tokenPunct && tokens[i].text == "," {
			i++
			continue
		}
		return nil
	}
}
