// Package linepat matches log lines against known line shapes. A line that
// carries the anchors of a shape but does not fit it is reported as
// malformed, naming the first field that cannot be found.
package linepat

import (
	"regexp"
	"strings"

	"github.com/sarchlab/chifabric/errs"
)

type field struct {
	name string
	re   *regexp.Regexp
}

// A Pattern is a line shape.
type Pattern struct {
	name    string
	anchors []string
	full    *regexp.Regexp
	fields  []field
}

// MustCompile creates a pattern from the full expression. A line is
// considered an attempt at the pattern if it contains every anchor.
func MustCompile(name, expr string, anchors ...string) *Pattern {
	if len(anchors) == 0 {
		panic("pattern " + name + " needs at least one anchor")
	}

	return &Pattern{
		name:    name,
		anchors: anchors,
		full:    regexp.MustCompile(expr),
	}
}

// Field registers a sub-expression that must appear in a line of the
// pattern. Fields are checked in registration order.
func (p *Pattern) Field(name, expr string) *Pattern {
	p.fields = append(p.fields, field{name: name, re: regexp.MustCompile(expr)})
	return p
}

// Name returns the name of the pattern.
func (p *Pattern) Name() string {
	return p.name
}

// Attempts tells if the line carries every anchor of the pattern.
func (p *Pattern) Attempts(line string) bool {
	for _, a := range p.anchors {
		if !strings.Contains(line, a) {
			return false
		}
	}

	return true
}

// Match returns the submatches of the line. It returns nil without error if
// the line is not an attempt at the pattern, and a *errs.ParseError if the
// line is an attempt that does not fit.
func (p *Pattern) Match(source string, lineNo int, line string) ([]string, error) {
	if !p.Attempts(line) {
		return nil, nil
	}

	if m := p.full.FindStringSubmatch(line); m != nil {
		return m, nil
	}

	missing := p.name
	for _, f := range p.fields {
		if !f.re.MatchString(line) {
			missing = p.name + " " + f.name
			break
		}
	}

	return nil, &errs.ParseError{
		Source: source,
		Line:   lineNo,
		Text:   line,
		Field:  missing,
	}
}
