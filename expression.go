package searchbase

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Expression is a parsed search expression
type Expression interface {
	String() string
}

type (
	// MatchAll matches every document ("*")
	MatchAll struct{}

	// Term matches a text token, in one field or in any text field when
	// Field is empty.
	Term struct {
		Field  string
		Token  string
		Prefix bool
	}

	// TagMatch matches documents whose tag field holds any of Values
	TagMatch struct {
		Field  string
		Values []string
	}

	// NumericRange matches numeric fields within [Min, Max]
	NumericRange struct {
		Field        string
		Min, Max     float64
		ExclusiveMin bool
		ExclusiveMax bool
	}

	// GeoRadius matches geo fields within Radius of a point
	GeoRadius struct {
		Field     string
		Longitude float64
		Latitude  float64
		Radius    float64
		Unit      string
	}

	// And is an intersection
	And struct{ Clauses []Expression }
	// Or is a union
	Or struct{ Clauses []Expression }
	// Not is the complement within the index
	Not struct{ Clause Expression }
)

func (MatchAll) String() string { return "*" }

func (t Term) String() string {
	s := t.Token
	if t.Prefix {
		s += "*"
	}
	if t.Field != "" {
		s = "@" + t.Field + ":" + s
	}
	return s
}

func (t TagMatch) String() string {
	return "@" + t.Field + ":{" + strings.Join(t.Values, "|") + "}"
}

func (r NumericRange) String() string {
	return "@" + r.Field + ":[" + formatBound(r.Min, r.ExclusiveMin) + " " + formatBound(r.Max, r.ExclusiveMax) + "]"
}

func (g GeoRadius) String() string {
	return "@" + g.Field + ":[" + formatFloat(g.Longitude) + " " + formatFloat(g.Latitude) + " " +
		formatFloat(g.Radius) + " " + g.Unit + "]"
}

func (a And) String() string { return "(" + joinExpressions(a.Clauses, " ") + ")" }
func (o Or) String() string  { return "(" + joinExpressions(o.Clauses, "|") + ")" }
func (n Not) String() string { return "-" + n.Clause.String() }

func joinExpressions(clauses []Expression, sep string) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, sep)
}

func formatBound(v float64, exclusive bool) string {
	s := formatFloat(v)
	if exclusive {
		s = "(" + s
	}
	return s
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseExpression parses the query subset understood by the sets index.
//
//	"*"                    every document
//	word  word*            token or token prefix in any text field
//	@f:word  @f:word*      token in text field f
//	@f:(a|b c)             grouped clauses scoped to field f
//	@f:{a|b}               tag membership
//	@f:[min max]           numeric range, "(" for exclusive, -inf/+inf
//	@f:[lon lat r unit]    geo radius, unit one of m km mi ft
//	a b                    intersection
//	a|b                    union, binds tighter than intersection
//	"-a"                   negation
//	( ... )                grouping
func ParseExpression(expr string) (Expression, error) {
	p := &exprParser{src: []rune(expr), expr: expr}
	p.skipSpace()
	if p.eof() {
		return MatchAll{}, nil
	}
	node, err := p.parseAnd("", false)
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, p.errorf("unexpected %q", string(p.peek()))
	}
	return node, nil
}

type exprParser struct {
	src  []rune
	pos  int
	expr string
}

func (p *exprParser) eof() bool  { return p.pos >= len(p.src) }
func (p *exprParser) peek() rune { return p.src[p.pos] }

func (p *exprParser) skipSpace() {
	for !p.eof() && unicode.IsSpace(p.peek()) {
		p.pos++
	}
}

func (p *exprParser) errorf(format string, args ...interface{}) error {
	return WithContext(ErrInvalidQuery, map[string]interface{}{
		"expression": p.expr,
		"position":   p.pos,
		"reason":     fmt.Sprintf(format, args...),
	})
}

// parseAnd reads juxtaposed clauses until end of input or a closing paren
func (p *exprParser) parseAnd(field string, nested bool) (Expression, error) {
	var clauses []Expression
	for {
		p.skipSpace()
		if p.eof() {
			if nested {
				return nil, p.errorf("missing closing parenthesis")
			}
			break
		}
		if p.peek() == ')' {
			if !nested {
				return nil, p.errorf("unbalanced parenthesis")
			}
			break
		}
		clause, err := p.parseOr(field)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	switch len(clauses) {
	case 0:
		return nil, p.errorf("empty group")
	case 1:
		return clauses[0], nil
	}
	return And{Clauses: clauses}, nil
}

func (p *exprParser) parseOr(field string) (Expression, error) {
	first, err := p.parseUnary(field)
	if err != nil {
		return nil, err
	}
	clauses := []Expression{first}
	for {
		save := p.pos
		p.skipSpace()
		if p.eof() || p.peek() != '|' {
			p.pos = save
			break
		}
		p.pos++
		p.skipSpace()
		next, err := p.parseUnary(field)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, next)
	}
	if len(clauses) == 1 {
		return first, nil
	}
	return Or{Clauses: clauses}, nil
}

func (p *exprParser) parseUnary(field string) (Expression, error) {
	if p.eof() {
		return nil, p.errorf("unexpected end of expression")
	}
	if p.peek() == '-' {
		p.pos++
		inner, err := p.parseUnary(field)
		if err != nil {
			return nil, err
		}
		return Not{Clause: inner}, nil
	}
	return p.parsePrimary(field)
}

func (p *exprParser) parsePrimary(field string) (Expression, error) {
	switch r := p.peek(); {
	case r == '(':
		p.pos++
		inner, err := p.parseAnd(field, true)
		if err != nil {
			return nil, err
		}
		p.pos++ // ')'
		return inner, nil
	case r == '*':
		p.pos++
		return MatchAll{}, nil
	case r == '@':
		return p.parseField()
	case isWordRune(r):
		return p.parseTerm(field), nil
	default:
		return nil, p.errorf("unexpected %q", string(r))
	}
}

func (p *exprParser) parseTerm(field string) Expression {
	start := p.pos
	for !p.eof() && isWordRune(p.peek()) {
		p.pos++
	}
	term := Term{Field: field, Token: strings.ToLower(string(p.src[start:p.pos]))}
	if !p.eof() && p.peek() == '*' {
		term.Prefix = true
		p.pos++
	}
	return term
}

func (p *exprParser) parseField() (Expression, error) {
	p.pos++ // '@'
	start := p.pos
	for !p.eof() && isFieldRune(p.peek()) {
		p.pos++
	}
	name := string(p.src[start:p.pos])
	if name == "" {
		return nil, p.errorf("missing field name after @")
	}
	if p.eof() || p.peek() != ':' {
		return nil, p.errorf("expected ':' after field name")
	}
	p.pos++
	if p.eof() {
		return nil, p.errorf("missing value for field")
	}

	switch r := p.peek(); {
	case r == '{':
		return p.parseTags(name)
	case r == '[':
		return p.parseBrackets(name)
	case r == '(':
		return p.parsePrimary(name)
	case isWordRune(r):
		return p.parseTerm(name), nil
	default:
		return nil, p.errorf("unexpected %q", string(r))
	}
}

func (p *exprParser) parseTags(field string) (Expression, error) {
	p.pos++ // '{'
	var (
		values []string
		cur    strings.Builder
	)
	flush := func() {
		if v := strings.ToLower(strings.TrimSpace(cur.String())); v != "" {
			values = append(values, v)
		}
		cur.Reset()
	}
	for {
		if p.eof() {
			return nil, p.errorf("missing closing brace")
		}
		r := p.peek()
		p.pos++
		switch r {
		case '\\':
			if !p.eof() {
				cur.WriteRune(p.peek())
				p.pos++
			}
		case '|':
			flush()
		case '}':
			flush()
			if len(values) == 0 {
				return nil, p.errorf("empty tag list")
			}
			return TagMatch{Field: field, Values: values}, nil
		default:
			cur.WriteRune(r)
		}
	}
}

func (p *exprParser) parseBrackets(field string) (Expression, error) {
	p.pos++ // '['
	start := p.pos
	for !p.eof() && p.peek() != ']' {
		p.pos++
	}
	if p.eof() {
		return nil, p.errorf("missing closing bracket")
	}
	args := strings.Fields(string(p.src[start:p.pos]))
	p.pos++ // ']'

	switch len(args) {
	case 2:
		lo, loExcl, err := parseBound(args[0])
		if err != nil {
			return nil, p.errorf("invalid range bound %s", args[0])
		}
		hi, hiExcl, err := parseBound(args[1])
		if err != nil {
			return nil, p.errorf("invalid range bound %s", args[1])
		}
		return NumericRange{Field: field, Min: lo, Max: hi, ExclusiveMin: loExcl, ExclusiveMax: hiExcl}, nil
	case 4:
		var nums [3]float64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				return nil, p.errorf("invalid geo argument %s", args[i])
			}
			nums[i] = v
		}
		unit := strings.ToLower(args[3])
		switch unit {
		case "m", "km", "mi", "ft":
		default:
			return nil, p.errorf("invalid geo unit %s", args[3])
		}
		if nums[2] < 0 {
			return nil, p.errorf("negative geo radius")
		}
		return GeoRadius{Field: field, Longitude: nums[0], Latitude: nums[1], Radius: nums[2], Unit: unit}, nil
	default:
		return nil, p.errorf("expected [min max] or [lon lat radius unit]")
	}
}

func parseBound(s string) (float64, bool, error) {
	exclusive := strings.HasPrefix(s, "(")
	s = strings.TrimPrefix(s, "(")
	switch strings.ToLower(s) {
	case "-inf":
		return math.Inf(-1), exclusive, nil
	case "+inf", "inf":
		return math.Inf(1), exclusive, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, exclusive, err
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isFieldRune(r rune) bool {
	return isWordRune(r) || r == '_' || r == '.'
}

// Tokenize splits text into the lowercased letter and digit runs that the
// sets index stores as postings.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isWordRune(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
