package rule

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

type ruleKey struct {
	kind Kind
	name string
}

// Patch folds what a user added to previously generated rules into freshly compiled ones.  Each
// rule in generated is matched with the first rule in existing of the same kind and name, and its
// patchable attributes are updated in place:
//
//   - sets and glob patterns become the union of both
//   - map entries whose key only exists in the existing rule are copied
//   - optional scalars (out, type) take the existing value if the generated one is unset
//   - extra attributes whose name only exists in the existing rule are copied
//
// Identity attributes (name, crate, crate_root, edition, proc_macro, version, ...) always keep the generated
// value.  If fields is non-empty, only the typed attributes it names are patched; extra attributes
// are always preserved.  Patch never removes anything from a generated rule.
func Patch(generated, existing []Rule, fields mapset.Set[string]) {
	byKey := map[ruleKey]Rule{}
	for _, r := range existing {
		k := ruleKey{r.Kind(), r.RuleName()}
		if _, dup := byKey[k]; !dup {
			byKey[k] = r
		}
	}
	for _, g := range generated {
		if g.Kind() == KindLoad {
			continue
		}
		if e, ok := byKey[ruleKey{g.Kind(), g.RuleName()}]; ok {
			patchRule(g, e, fields)
		}
	}
}

func patchRule(g, e Rule, fields mapset.Set[string]) {
	eAttrs := e.attrs()
	for i, a := range g.attrs() {
		if a.identity || !setEmpty(fields) && !fields.Contains(a.name) {
			continue
		}
		a.merge(eAttrs[i])
	}
	gx, ex := g.extra(), e.extra()
	for k, v := range *ex {
		if _, ok := (*gx)[k]; ok {
			continue
		}
		if *gx == nil {
			*gx = map[string]Value{}
		}
		(*gx)[k] = v
	}
}

// merge patches a from the same attribute of another rule of the same kind.
func (a attr) merge(from attr) {
	switch p := a.ptr.(type) {
	case *string:
		if *p == "" {
			*p = *from.ptr.(*string)
		}
	case *bool:
		if !*p {
			*p = *from.ptr.(*bool)
		}
	case *mapset.Set[string]:
		if o := *from.ptr.(*mapset.Set[string]); !setEmpty(o) {
			*p = setUnion(*p, o)
		}
	case *map[string]string:
		for k, v := range *from.ptr.(*map[string]string) {
			if _, ok := (*p)[k]; ok {
				continue
			}
			if *p == nil {
				*p = map[string]string{}
			}
			(*p)[k] = v
		}
	case **Glob:
		*p = (*p).union(*from.ptr.(**Glob))
	default:
		panic(fmt.Errorf("bug: attribute %s has unsupported type %T", a.name, a.ptr))
	}
}
