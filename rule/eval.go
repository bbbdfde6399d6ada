package rule

import (
	"fmt"
	"os"

	mapset "github.com/deckarep/golang-set/v2"
	"go.starlark.net/syntax"
)

// ParseFile reads a BUCK file and recovers its rules.  See [Parse].
func ParseFile(path string) ([]Rule, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, src)
}

// Parse recovers the rules declared in a BUCK file.  The file is never executed.  Only a small
// declarative subset is accepted:
//
//   - load statements, which are ignored
//   - top-level calls to a known rule constructor with keyword arguments only
//   - argument values that are string or integer literals, True, False, None, lists, dicts with
//     string keys, and glob(...) calls
//
// Anything else fails with an error wrapping [ErrParse] that names the file, line and column.
// Keyword arguments the rule model does not know are kept in the rule's Extra map.
func Parse(filename string, src []byte) ([]Rule, error) {
	f, err := syntax.Parse(filename, src, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	var rules []Rule
	for _, stmt := range f.Stmts {
		switch stmt := stmt.(type) {
		case *syntax.LoadStmt:
		case *syntax.ExprStmt:
			r, err := evalRule(stmt.X)
			if err != nil {
				return nil, err
			}
			rules = append(rules, r)
		default:
			return nil, errorAt(stmt, "only rule declarations are allowed at top level")
		}
	}
	return rules, nil
}

func errorAt(n syntax.Node, format string, args ...any) error {
	start, _ := n.Span()
	return fmt.Errorf("%v: %w: %s", start, ErrParse, fmt.Sprintf(format, args...))
}

// calleeName returns the dotted name of a called function, e.g. "cargo.rust_library".
func calleeName(fn syntax.Expr) (string, bool) {
	switch fn := fn.(type) {
	case *syntax.Ident:
		return fn.Name, true
	case *syntax.DotExpr:
		x, ok := calleeName(fn.X)
		return x + "." + fn.Name.Name, ok
	}
	return "", false
}

func evalRule(x syntax.Expr) (Rule, error) {
	call, ok := x.(*syntax.CallExpr)
	if !ok {
		return nil, errorAt(x, "expected a rule declaration")
	}
	name, ok := calleeName(call.Fn)
	if !ok {
		return nil, errorAt(call.Fn, "unsupported callee")
	}
	k, ok := kindOf(name)
	if !ok {
		return nil, errorAt(call.Fn, "unknown rule constructor %q", name)
	}
	r := New(k)
	known := map[string]attr{}
	for _, a := range r.attrs() {
		known[a.name] = a
	}
	seen := map[string]bool{}
	for _, arg := range call.Args {
		id, val, ok := keywordArg(arg)
		if !ok {
			return nil, errorAt(arg, "%s: only keyword arguments are allowed", name)
		}
		if seen[id.Name] {
			return nil, errorAt(arg, "%s: duplicate argument %s", name, id.Name)
		}
		seen[id.Name] = true
		v, err := evalValue(val)
		if err != nil {
			return nil, err
		}
		a, ok := known[id.Name]
		if !ok {
			ex := r.extra()
			if *ex == nil {
				*ex = map[string]Value{}
			}
			(*ex)[id.Name] = v
			continue
		}
		if err := a.set(v); err != nil {
			return nil, errorAt(val, "%s: argument %s: %v", name, id.Name, err)
		}
	}
	return r, nil
}

func keywordArg(arg syntax.Expr) (*syntax.Ident, syntax.Expr, bool) {
	bin, ok := arg.(*syntax.BinaryExpr)
	if !ok || bin.Op != syntax.EQ {
		return nil, nil, false
	}
	id, ok := bin.X.(*syntax.Ident)
	return id, bin.Y, ok
}

func evalValue(x syntax.Expr) (Value, error) {
	switch x := x.(type) {
	case *syntax.Literal:
		switch v := x.Value.(type) {
		case string:
			if x.Token == syntax.STRING {
				return String(v), nil
			}
		case int64:
			return Int(v), nil
		}
		return nil, errorAt(x, "unsupported literal %s", x.Raw)
	case *syntax.Ident:
		switch x.Name {
		case "True":
			return Bool(true), nil
		case "False":
			return Bool(false), nil
		case "None":
			return None{}, nil
		}
		return nil, errorAt(x, "unsupported identifier %s", x.Name)
	case *syntax.UnaryExpr:
		if lit, ok := x.X.(*syntax.Literal); ok && x.Op == syntax.MINUS {
			if v, ok := lit.Value.(int64); ok {
				return Int(-v), nil
			}
		}
		return nil, errorAt(x, "unsupported %s expression", x.Op)
	case *syntax.ParenExpr:
		return evalValue(x.X)
	case *syntax.ListExpr:
		l := List{}
		for _, e := range x.List {
			v, err := evalValue(e)
			if err != nil {
				return nil, err
			}
			l = append(l, v)
		}
		return l, nil
	case *syntax.DictExpr:
		d := Dict{}
		for _, e := range x.List {
			entry := e.(*syntax.DictEntry)
			k, err := evalValue(entry.Key)
			if err != nil {
				return nil, err
			}
			ks, ok := k.(String)
			if !ok {
				return nil, errorAt(entry.Key, "dict keys must be strings")
			}
			if _, dup := d[string(ks)]; dup {
				return nil, errorAt(entry.Key, "duplicate key %q", string(ks))
			}
			if d[string(ks)], err = evalValue(entry.Value); err != nil {
				return nil, err
			}
		}
		return d, nil
	case *syntax.CallExpr:
		if id, ok := x.Fn.(*syntax.Ident); ok && id.Name == "glob" {
			return evalGlob(x)
		}
		return nil, errorAt(x, "only glob(...) calls are allowed in argument values")
	}
	return nil, errorAt(x, "unsupported expression")
}

// evalGlob accepts glob(["a"]), glob(["a"], exclude = ["b"]) and glob(include = ["a"], exclude =
// ["b"]).
func evalGlob(call *syntax.CallExpr) (*Glob, error) {
	g := &Glob{}
	var gotInclude, gotExclude bool
	for i, arg := range call.Args {
		name, val := "include", arg
		if id, kv, ok := keywordArg(arg); ok {
			name, val = id.Name, kv
		} else if i > 0 {
			return nil, errorAt(arg, "glob: at most one positional argument is allowed")
		}
		v, err := evalValue(val)
		if err != nil {
			return nil, err
		}
		s, err := toSet(v)
		if err != nil {
			return nil, errorAt(val, "glob: %s: %v", name, err)
		}
		switch {
		case name == "include" && !gotInclude:
			g.Include, gotInclude = s, true
		case name == "exclude" && !gotExclude:
			g.Exclude, gotExclude = s, true
		default:
			return nil, errorAt(arg, "glob: unexpected or duplicate argument %s", name)
		}
	}
	if !gotInclude {
		return nil, errorAt(call, "glob: missing include patterns")
	}
	if g.Exclude == nil {
		g.Exclude = NewSet()
	}
	return g, nil
}

func toSet(v Value) (mapset.Set[string], error) {
	l, ok := v.(List)
	if !ok {
		return nil, fmt.Errorf("expected a list of strings, got %T", v)
	}
	s := NewSet()
	for _, e := range l {
		es, ok := e.(String)
		if !ok {
			return nil, fmt.Errorf("expected a list of strings, got element of type %T", e)
		}
		s.Add(string(es))
	}
	return s, nil
}

// set stores a recovered value into the typed attribute.  None leaves the attribute unset.
func (a attr) set(v Value) error {
	if _, ok := v.(None); ok {
		return nil
	}
	switch p := a.ptr.(type) {
	case *string:
		s, ok := v.(String)
		if !ok {
			return fmt.Errorf("expected a string, got %T", v)
		}
		*p = string(s)
	case *bool:
		b, ok := v.(Bool)
		if !ok {
			return fmt.Errorf("expected True or False, got %T", v)
		}
		*p = bool(b)
	case *mapset.Set[string]:
		s, err := toSet(v)
		if err != nil {
			return err
		}
		*p = s
	case *map[string]string:
		d, ok := v.(Dict)
		if !ok {
			return fmt.Errorf("expected a dict, got %T", v)
		}
		m := make(map[string]string, len(d))
		for k, e := range d {
			es, ok := e.(String)
			if !ok {
				return fmt.Errorf("expected string values, got %T for key %q", e, k)
			}
			m[k] = string(es)
		}
		*p = m
	case **Glob:
		g, ok := v.(*Glob)
		if !ok {
			return fmt.Errorf("expected glob(...), got %T", v)
		}
		*p = g
	default:
		panic(fmt.Errorf("bug: attribute %s has unsupported type %T", a.name, a.ptr))
	}
	return nil
}
