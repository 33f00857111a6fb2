package permissions

// Effective is a total allow/deny map over the catalog keys.
type Effective map[Key]bool

// Allowed returns the allowed keys in catalog order.
func (e Effective) Allowed() []Key {
	var out []Key
	for _, f := range catalog {
		if e[f.Key] {
			out = append(out, f.Key)
		}
	}
	return out
}

// Chain is a role's entries followed by its ancestors' entries, nearest first.
type Chain []Entries

// Resolve computes the effective value of each key over chain.
// The nearest explicit entry wins; keys no role sets are denied.
// With no keys given, every catalog key is resolved.
func Resolve(chain Chain, keys ...Key) Effective {
	if len(keys) == 0 {
		keys = Keys()
	}
	out := make(Effective, len(keys))
	pending := make([]Key, 0, len(keys))
	for _, k := range keys {
		out[k] = false
		pending = append(pending, k)
	}
	for _, entries := range chain {
		if len(pending) == 0 {
			break
		}
		remaining := pending[:0]
		for _, k := range pending {
			if allow, ok := entries.Get(k).Value(); ok {
				out[k] = allow
				continue
			}
			remaining = append(remaining, k)
		}
		pending = remaining
	}
	return out
}

// Freeze rewrites child so that resolving it without its parent yields the
// same values it sees with the parent.
//
// with and without are the child's effective permissions resolved through the
// parent and through the parent's own base respectively. Explicit child
// entries are kept; inherited keys whose value would change are pinned to
// with; the rest stay inherited.
func Freeze(child Entries, with, without Effective) Entries {
	out := child.Clone()
	for _, k := range Keys() {
		if child.Get(k).IsExplicit() {
			continue
		}
		if with[k] != without[k] {
			out.Set(k, Explicit(with[k]))
		}
	}
	return out
}

// Diff lists the keys whose value differs between a and b, in catalog order.
func Diff(a, b Effective) []Key {
	var out []Key
	for _, k := range Keys() {
		if a[k] != b[k] {
			out = append(out, k)
		}
	}
	return out
}

// ContainsCycle reports whether making parentID the parent of roleID would
// close a loop. ancestry is parentID's chain of ids, nearest first, starting
// with parentID itself.
func ContainsCycle(roleID int64, ancestry []int64) bool {
	for _, id := range ancestry {
		if id == roleID {
			return true
		}
	}
	return false
}
