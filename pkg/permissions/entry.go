package permissions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Entry is a role's own setting for one key: either Explicit(allow) or Inherited.
// The zero value is Inherited.
type Entry struct {
	explicit bool
	allow    bool
}

var (
	// Inherited defers to the base role.
	Inherited = Entry{}
	// Allow is Explicit(true).
	Allow = Entry{explicit: true, allow: true}
	// Deny is Explicit(false).
	Deny = Entry{explicit: true}
)

// Explicit returns an entry that fixes the key to allow.
func Explicit(allow bool) Entry {
	return Entry{explicit: true, allow: allow}
}

// IsExplicit reports whether the entry overrides its base role.
func (e Entry) IsExplicit() bool {
	return e.explicit
}

// Value returns the explicit value; ok is false for Inherited.
func (e Entry) Value() (allow bool, ok bool) {
	return e.allow, e.explicit
}

func (e Entry) String() string {
	switch {
	case !e.explicit:
		return "inherited"
	case e.allow:
		return "allow"
	default:
		return "deny"
	}
}

// MarshalJSON writes true, false or null.
func (e Entry) MarshalJSON() ([]byte, error) {
	if !e.explicit {
		return []byte("null"), nil
	}
	return json.Marshal(e.allow)
}

// UnmarshalJSON accepts true, false or null.
func (e *Entry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*e = Inherited
		return nil
	}
	var allow bool
	if err := json.Unmarshal(data, &allow); err != nil {
		return fmt.Errorf("permission value must be true, false or null: %s", string(data))
	}
	*e = Explicit(allow)
	return nil
}

// Entries is a role's partial permission map. Keys that are absent are Inherited.
type Entries map[Key]Entry

// Get returns the entry for key, Inherited when absent.
func (e Entries) Get(key Key) Entry {
	if e == nil {
		return Inherited
	}
	return e[key]
}

// Set stores entry under key; Inherited removes the key.
func (e Entries) Set(key Key, entry Entry) {
	if !entry.explicit {
		delete(e, key)
		return
	}
	e[key] = entry
}

// Clone returns a copy holding only explicit entries.
func (e Entries) Clone() Entries {
	out := make(Entries, len(e))
	for k, v := range e {
		if v.explicit {
			out[k] = v
		}
	}
	return out
}

// ExplicitKeys returns the keys with an explicit entry, sorted.
func (e Entries) ExplicitKeys() []Key {
	keys := make([]Key, 0, len(e))
	for k, v := range e {
		if v.explicit {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Equal reports whether both maps hold the same explicit entries.
func (e Entries) Equal(other Entries) bool {
	a, b := e.Clone(), other.Clone()
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Validate rejects keys that are not in the catalog.
func (e Entries) Validate() error {
	for k := range e {
		if !IsKnown(k) {
			return fmt.Errorf("unknown permission key: %q", k)
		}
	}
	return nil
}

// MarshalJSON writes only explicit entries so the stored form stays compact.
func (e Entries) MarshalJSON() ([]byte, error) {
	raw := make(map[Key]bool, len(e))
	for k, v := range e {
		if v.explicit {
			raw[k] = v.allow
		}
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes an object of key to true, false or null.
func (e *Entries) UnmarshalJSON(data []byte) error {
	var raw map[Key]Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Entries, len(raw))
	for k, v := range raw {
		out.Set(k, v)
	}
	*e = out
	return nil
}

// ParseEntries decodes a stored permission blob. Empty input means no entries.
func ParseEntries(blob string) (Entries, error) {
	if len(bytes.TrimSpace([]byte(blob))) == 0 {
		return Entries{}, nil
	}
	var out Entries
	if err := json.Unmarshal([]byte(blob), &out); err != nil {
		return nil, fmt.Errorf("failed to parse permission entries: %w", err)
	}
	if out == nil {
		out = Entries{}
	}
	return out, nil
}
