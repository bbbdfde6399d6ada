package rule

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Marker is the first line of every rendered file.  A file that does not start with it was not
// generated and is never deleted.
const Marker = "# @generated by buckal"

const indentUnit = "    "

// value converts a typed attribute to its generic form.  The second return value is false if the
// attribute is empty and must be omitted.
func (a attr) value() (Value, bool) {
	switch p := a.ptr.(type) {
	case *string:
		return String(*p), *p != ""
	case *bool:
		return Bool(*p), *p
	case *mapset.Set[string]:
		return stringList(*p), !setEmpty(*p)
	case *map[string]string:
		if len(*p) == 0 {
			return nil, false
		}
		d := Dict{}
		for k, v := range *p {
			d[k] = String(v)
		}
		return d, true
	case **Glob:
		return *p, !(*p).Empty()
	}
	panic(fmt.Errorf("bug: attribute %s has unsupported type %T", a.name, a.ptr))
}

// Render produces the canonical text of a BUCK file declaring rules.  Load directives are merged
// per file and printed first; every other rule follows in the order given.  Within a rule the known
// attributes come in a fixed order (empty ones omitted), followed by any extra attributes sorted by
// name.  Sets and map keys are printed in lexicographic order, so the output depends only on the
// rules' contents.
func Render(rules []Rule) string {
	var b strings.Builder
	b.WriteString(Marker)
	b.WriteString("\n")
	loads := map[string]mapset.Set[string]{}
	for _, r := range rules {
		if l, ok := r.(*Load); ok {
			loads[l.Bzl] = setUnion(loads[l.Bzl], l.Symbols)
		}
	}
	if len(loads) > 0 {
		b.WriteString("\n")
		for _, bzl := range slices.Sorted(maps.Keys(loads)) {
			b.WriteString("load(")
			b.WriteString(strconv.Quote(bzl))
			for _, sym := range Sorted(loads[bzl]) {
				b.WriteString(", ")
				b.WriteString(strconv.Quote(sym))
			}
			b.WriteString(")\n")
		}
	}
	for _, r := range rules {
		if r.Kind() == KindLoad {
			continue
		}
		b.WriteString("\n")
		writeCall(&b, Constructor(r), ruleArgs(r), 0)
		b.WriteString("\n")
	}
	return b.String()
}

type kwarg struct {
	name string
	val  Value
}

func ruleArgs(r Rule) []kwarg {
	var args []kwarg
	for _, a := range r.attrs() {
		if v, ok := a.value(); ok {
			args = append(args, kwarg{a.name, v})
		}
	}
	if ex := r.extra(); ex != nil {
		for _, k := range slices.Sorted(maps.Keys(*ex)) {
			args = append(args, kwarg{k, (*ex)[k]})
		}
	}
	return args
}

func writeIndent(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat(indentUnit, depth))
}

func writeCall(b *strings.Builder, fn string, args []kwarg, depth int) {
	b.WriteString(fn)
	b.WriteString("(\n")
	for _, a := range args {
		writeIndent(b, depth+1)
		b.WriteString(a.name)
		b.WriteString(" = ")
		writeValue(b, a.val, depth+1)
		b.WriteString(",\n")
	}
	writeIndent(b, depth)
	b.WriteString(")")
}

func writeValue(b *strings.Builder, v Value, depth int) {
	switch v := v.(type) {
	case String:
		b.WriteString(strconv.Quote(string(v)))
	case Int:
		b.WriteString(strconv.FormatInt(int64(v), 10))
	case Bool:
		if v {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case None:
		b.WriteString("None")
	case List:
		writeList(b, v, depth)
	case Dict:
		if len(v) == 0 {
			b.WriteString("{}")
			return
		}
		b.WriteString("{\n")
		for _, k := range slices.Sorted(maps.Keys(v)) {
			writeIndent(b, depth+1)
			b.WriteString(strconv.Quote(k))
			b.WriteString(": ")
			writeValue(b, v[k], depth+1)
			b.WriteString(",\n")
		}
		writeIndent(b, depth)
		b.WriteString("}")
	case *Glob:
		include := stringList(v.Include)
		if setEmpty(v.Exclude) {
			b.WriteString("glob(")
			writeList(b, include, depth)
			b.WriteString(")")
			return
		}
		writeCall(b, "glob", []kwarg{
			{"include", include},
			{"exclude", stringList(v.Exclude)},
		}, depth)
	default:
		panic(fmt.Errorf("bug: unsupported value type %T", v))
	}
}

func writeList(b *strings.Builder, l List, depth int) {
	switch len(l) {
	case 0:
		b.WriteString("[]")
	case 1:
		b.WriteString("[")
		writeValue(b, l[0], depth)
		b.WriteString("]")
	default:
		b.WriteString("[\n")
		for _, e := range l {
			writeIndent(b, depth+1)
			writeValue(b, e, depth+1)
			b.WriteString(",\n")
		}
		writeIndent(b, depth)
		b.WriteString("]")
	}
}

func stringList(s mapset.Set[string]) List {
	l := List{}
	for _, e := range Sorted(s) {
		l = append(l, String(e))
	}
	return l
}
