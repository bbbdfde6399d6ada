package buckal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/rhansen/buckal/internal/command"
)

// A Cfg is one compile-time condition flag as printed by `rustc --print cfg`: either a bare name
// such as "unix" or a key/value pair such as target_os="linux".
type Cfg struct {
	Name  string
	Value string
	// HasValue distinguishes target_feature="" from a bare name.
	HasValue bool
}

func (c Cfg) String() string {
	if !c.HasValue {
		return c.Name
	}
	return c.Name + "=" + strconv.Quote(c.Value)
}

// A PlatformContext is the active target triple and condition flags that dependency edge
// predicates are evaluated against.
type PlatformContext struct {
	Triple string
	Cfgs   []Cfg
}

func (pc *PlatformContext) has(c Cfg) bool {
	return slices.Contains(pc.Cfgs, c)
}

// ParseCfgs parses the output of `rustc --print cfg`, one flag per line.
func ParseCfgs(out []byte) ([]Cfg, error) {
	var cfgs []Cfg
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		name, val, ok := strings.Cut(line, "=")
		if !ok {
			cfgs = append(cfgs, Cfg{Name: name})
			continue
		}
		v, err := strconv.Unquote(val)
		if err != nil {
			return nil, fmt.Errorf("malformed cfg line %q: %w", line, err)
		}
		cfgs = append(cfgs, Cfg{Name: name, Value: v, HasValue: true})
	}
	return cfgs, sc.Err()
}

// HostPlatform asks rustc for the host triple (`rustc -vV`) and the condition flags of the active
// target (`rustc --print cfg`).  If target is non-empty it is used instead of the host triple.
func HostPlatform(ctx context.Context, rustc, target string) (PlatformContext, error) {
	pc := PlatformContext{Triple: target}
	if pc.Triple == "" {
		out, err := command.Output(ctx, "", rustc, "-vV")
		if err != nil {
			return pc, fmt.Errorf("%w: %w", ErrSubprocess, err)
		}
		for line := range strings.Lines(string(out)) {
			if host, ok := strings.CutPrefix(line, "host:"); ok {
				pc.Triple = strings.TrimSpace(host)
			}
		}
		if pc.Triple == "" {
			return pc, fmt.Errorf("%w: no host triple in `%s -vV` output", ErrSubprocess, rustc)
		}
	}
	out, err := command.Output(ctx, "", rustc, "--print", "cfg", "--target", pc.Triple)
	if err != nil {
		return pc, fmt.Errorf("%w: %w", ErrSubprocess, err)
	}
	if pc.Cfgs, err = ParseCfgs(out); err != nil {
		return pc, err
	}
	return pc, nil
}

// A Platform is a parsed platform predicate: a target triple or a cfg(...) expression.
type Platform interface {
	// Matches reports whether the predicate holds for pc.  It has no side effects.
	Matches(pc *PlatformContext) bool
	fmt.Stringer
}

type triplePlatform string

func (t triplePlatform) Matches(pc *PlatformContext) bool { return string(t) == pc.Triple }
func (t triplePlatform) String() string                   { return string(t) }

type cfgPlatform struct{ expr cfgExpr }

func (c cfgPlatform) Matches(pc *PlatformContext) bool { return c.expr.eval(pc) }
func (c cfgPlatform) String() string                   { return "cfg(" + c.expr.String() + ")" }

type cfgExpr interface {
	eval(pc *PlatformContext) bool
	String() string
}

type cfgValue Cfg

func (v cfgValue) eval(pc *PlatformContext) bool { return pc.has(Cfg(v)) }
func (v cfgValue) String() string                { return Cfg(v).String() }

type cfgAll []cfgExpr

func (a cfgAll) eval(pc *PlatformContext) bool {
	for _, e := range a {
		if !e.eval(pc) {
			return false
		}
	}
	return true
}

func (a cfgAll) String() string { return "all(" + joinExprs(a) + ")" }

type cfgAny []cfgExpr

func (a cfgAny) eval(pc *PlatformContext) bool {
	return slices.ContainsFunc(a, func(e cfgExpr) bool { return e.eval(pc) })
}

func (a cfgAny) String() string { return "any(" + joinExprs(a) + ")" }

type cfgNot struct{ cfgExpr }

func (n cfgNot) eval(pc *PlatformContext) bool { return !n.cfgExpr.eval(pc) }
func (n cfgNot) String() string                { return "not(" + n.cfgExpr.String() + ")" }

func joinExprs(es []cfgExpr) string {
	s := make([]string, len(es))
	for i, e := range es {
		s[i] = e.String()
	}
	return strings.Join(s, ", ")
}

// ParsePlatform parses a dependency edge's platform predicate.  A failure wraps
// [ErrConfiguration].
func ParsePlatform(s string) (Platform, error) {
	s = strings.TrimSpace(s)
	inner, ok := strings.CutPrefix(s, "cfg(")
	if !ok {
		if s == "" || strings.ContainsAny(s, " ()\"=,") {
			return nil, fmt.Errorf("%w: invalid platform predicate %q", ErrConfiguration, s)
		}
		return triplePlatform(s), nil
	}
	if !strings.HasSuffix(inner, ")") {
		return nil, fmt.Errorf("%w: invalid platform predicate %q: missing ')'", ErrConfiguration, s)
	}
	p := &cfgParser{src: s}
	p.sc.Init(strings.NewReader(inner[:len(inner)-1]))
	p.sc.Mode = scanner.ScanIdents | scanner.ScanStrings
	p.sc.IsIdentRune = func(ch rune, i int) bool {
		return ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' ||
			i > 0 && ch >= '0' && ch <= '9'
	}
	p.sc.Error = func(_ *scanner.Scanner, msg string) { p.fail(msg) }
	p.next()
	e := p.parseExpr()
	if p.err == nil && p.tok != scanner.EOF {
		p.fail(fmt.Sprintf("unexpected %s", p.sc.TokenText()))
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfgPlatform{e}, nil
}

// cfgParser is a recursive-descent parser for the body of a cfg(...) predicate:
//
//	expr := ident | ident '=' string | ("all"|"any") '(' [expr {',' expr} [',']] ')' | "not" '(' expr ')'
type cfgParser struct {
	src string
	sc  scanner.Scanner
	tok rune
	err error
}

func (p *cfgParser) next() { p.tok = p.sc.Scan() }

func (p *cfgParser) fail(msg string) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: invalid platform predicate %q: %s", ErrConfiguration, p.src, msg)
	}
	p.tok = scanner.EOF
}

func (p *cfgParser) expect(tok rune) {
	if p.tok != tok {
		p.fail(fmt.Sprintf("expected %s, got %s", scanner.TokenString(tok), scanner.TokenString(p.tok)))
		return
	}
	p.next()
}

func (p *cfgParser) parseExpr() cfgExpr {
	if p.tok != scanner.Ident {
		p.fail(fmt.Sprintf("expected identifier, got %s", scanner.TokenString(p.tok)))
		return nil
	}
	name := p.sc.TokenText()
	p.next()
	switch {
	case p.tok == '(' && (name == "all" || name == "any"):
		p.next()
		var es []cfgExpr
		for p.err == nil && p.tok != ')' {
			es = append(es, p.parseExpr())
			if p.tok != ',' {
				break
			}
			p.next()
		}
		p.expect(')')
		if name == "all" {
			return cfgAll(es)
		}
		return cfgAny(es)
	case p.tok == '(' && name == "not":
		p.next()
		e := p.parseExpr()
		p.expect(')')
		return cfgNot{e}
	case p.tok == '=':
		p.next()
		if p.tok != scanner.String {
			p.fail(fmt.Sprintf("expected string after %s =", name))
			return nil
		}
		v, err := strconv.Unquote(p.sc.TokenText())
		if err != nil {
			p.fail(err.Error())
			return nil
		}
		p.next()
		return cfgValue{Name: name, Value: v, HasValue: true}
	}
	return cfgValue{Name: name}
}

// edgeActive reports whether any of the edge's (kind, predicate) pairs has the given kind and a
// predicate that is absent or true for pc.
func edgeActive(e *Edge, kind DependencyKind, pc *PlatformContext) (bool, error) {
	for _, dk := range e.Kinds {
		if dk.Kind != kind {
			continue
		}
		if dk.Target == "" {
			return true, nil
		}
		p, err := ParsePlatform(dk.Target)
		if err != nil {
			return false, err
		}
		if p.Matches(pc) {
			return true, nil
		}
	}
	return false, nil
}
