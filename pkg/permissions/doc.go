// Package permissions defines the field-level permission catalog of the padron
// citizen registry and the pure resolution rules over role chains.
//
// # Catalog
//
// Every queryable citizen-record field has a stable Key, a display label and the
// registry columns it maps to:
//
//	for _, f := range permissions.Catalog() {
//	    fmt.Println(f.Key, f.DisplayKey, f.Columns)
//	}
//
// # Entries
//
// A role stores a partial map of Entry values. An Entry is either Explicit(allow)
// or Inherited; Inherited defers to the base role. The JSON form is an object of
// key to true, false or null.
//
// # Resolution
//
// Resolve walks a Chain (the role's entries followed by its ancestors', nearest
// first). The nearest explicit entry wins and keys that nobody sets resolve to
// false, so the result always covers every requested key:
//
//	eff := permissions.Resolve(permissions.Chain{intern, staff, admin})
//	eff.Allowed() // keys the role may see, in catalog order
//
// Freeze pins a child's inherited entries before its parent is removed from the
// chain so that the child keeps seeing the same values.
package permissions
