package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_TotalOverCatalog(t *testing.T) {
	tests := []struct {
		name  string
		chain Chain
	}{
		{name: "empty chain", chain: nil},
		{name: "single empty role", chain: Chain{{}}},
		{name: "nil entries", chain: Chain{nil, nil}},
		{name: "sparse chain", chain: Chain{{"email": Allow}, {}, {"address": Deny}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eff := Resolve(tt.chain)
			require.Len(t, eff, len(Catalog()))
			for _, k := range Keys() {
				_, ok := eff[k]
				assert.True(t, ok, "missing key %s", k)
			}
		})
	}
}

func TestResolve_DefaultDeny(t *testing.T) {
	eff := Resolve(Chain{{}, {}})
	assert.Empty(t, eff.Allowed())
}

func TestResolve_NearestExplicitWins(t *testing.T) {
	a := Entries{"email": Allow}
	b := Entries{}
	c := Entries{}

	eff := Resolve(Chain{c, b, a})
	assert.True(t, eff["email"], "C should inherit A's grant through B")

	b.Set("email", Deny)
	eff = Resolve(Chain{c, b, a})
	assert.False(t, eff["email"], "B's explicit deny must block A's grant")

	c.Set("email", Allow)
	eff = Resolve(Chain{c, b, a})
	assert.True(t, eff["email"], "C's own entry overrides every ancestor")
}

func TestResolve_SubsetOfKeys(t *testing.T) {
	eff := Resolve(Chain{{"email": Allow, "address": Allow}}, "email", "birthDate")
	assert.Equal(t, Effective{"email": true, "birthDate": false}, eff)
}

func TestResolve_EndToEndScenario(t *testing.T) {
	admin := Entries{"address": Allow, "email": Allow}
	staff := Entries{"address": Deny}
	intern := Entries{}

	want := make(Effective)
	for _, k := range Keys() {
		want[k] = false
	}
	want["email"] = true

	assert.Equal(t, want, Resolve(Chain{staff, admin}))
	assert.Equal(t, want, Resolve(Chain{intern, staff, admin}))
	assert.Equal(t, []Key{"email"}, Resolve(Chain{intern, staff, admin}).Allowed())
}

func TestFreeze(t *testing.T) {
	t.Run("pins value that would change", func(t *testing.T) {
		a := Entries{"address": Allow}
		b := Entries{"address": Deny}
		c := Entries{}

		with := Resolve(Chain{c, b, a})
		without := Resolve(Chain{c, a})
		frozen := Freeze(c, with, without)

		allow, ok := frozen.Get("address").Value()
		require.True(t, ok)
		assert.False(t, allow)
		assert.Equal(t, with, Resolve(Chain{frozen, a}))
	})

	t.Run("keeps explicit child entries", func(t *testing.T) {
		a := Entries{"email": Deny}
		b := Entries{"email": Allow}
		c := Entries{"email": Deny}

		frozen := Freeze(c, Resolve(Chain{c, b, a}), Resolve(Chain{c, a}))
		assert.Equal(t, Deny, frozen.Get("email"))
	})

	t.Run("leaves unaffected keys inherited", func(t *testing.T) {
		a := Entries{"email": Allow}
		b := Entries{}
		c := Entries{}

		frozen := Freeze(c, Resolve(Chain{c, b, a}), Resolve(Chain{c, a}))
		assert.Empty(t, frozen)
	})

	t.Run("pins grant of a removed root", func(t *testing.T) {
		b := Entries{"birthDate": Allow}
		c := Entries{}

		frozen := Freeze(c, Resolve(Chain{c, b}), Resolve(Chain{c}))
		assert.Equal(t, Allow, frozen.Get("birthDate"))
	})

	t.Run("does not mutate input", func(t *testing.T) {
		c := Entries{}
		Freeze(c, Effective{"email": true}, Effective{"email": false})
		assert.Empty(t, c)
	})
}

func TestDiff(t *testing.T) {
	a := Resolve(Chain{{"email": Allow}})
	b := Resolve(Chain{{"address": Allow}})
	assert.Equal(t, []Key{"email", "address"}, Diff(a, b))
	assert.Empty(t, Diff(a, a))
}

func TestContainsCycle(t *testing.T) {
	assert.True(t, ContainsCycle(1, []int64{1}))
	assert.True(t, ContainsCycle(1, []int64{3, 2, 1}))
	assert.False(t, ContainsCycle(1, []int64{3, 2}))
	assert.False(t, ContainsCycle(1, nil))
}
