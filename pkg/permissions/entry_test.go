package permissions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntry_ZeroValueIsInherited(t *testing.T) {
	var e Entry
	assert.Equal(t, Inherited, e)
	assert.False(t, e.IsExplicit())
	_, ok := e.Value()
	assert.False(t, ok)
	assert.Equal(t, "inherited", e.String())
}

func TestEntry_Explicit(t *testing.T) {
	assert.Equal(t, Allow, Explicit(true))
	assert.Equal(t, Deny, Explicit(false))

	allow, ok := Deny.Value()
	assert.True(t, ok)
	assert.False(t, allow)
}

func TestParseEntries(t *testing.T) {
	tests := []struct {
		name    string
		blob    string
		want    Entries
		wantErr bool
	}{
		{name: "empty string", blob: "", want: Entries{}},
		{name: "empty object", blob: "{}", want: Entries{}},
		{name: "json null", blob: "null", want: Entries{}},
		{
			name: "mixed values",
			blob: `{"email": true, "address": false, "birthDate": null}`,
			want: Entries{"email": Allow, "address": Deny},
		},
		{name: "string value", blob: `{"email": "yes"}`, wantErr: true},
		{name: "number value", blob: `{"email": 1}`, wantErr: true},
		{name: "not an object", blob: `[true]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEntries(tt.blob)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}

func TestEntries_MarshalWritesOnlyExplicit(t *testing.T) {
	e := Entries{"email": Allow, "address": Deny, "fullName": Inherited}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"email": true, "address": false}`, string(data))
}

func TestEntries_SetInheritedRemovesKey(t *testing.T) {
	e := Entries{"email": Allow}
	e.Set("email", Inherited)
	assert.Empty(t, e)
	assert.Equal(t, Inherited, e.Get("email"))
}

func TestEntries_Validate(t *testing.T) {
	assert.NoError(t, Entries{"email": Allow, "postalCode": Deny}.Validate())
	assert.Error(t, Entries{"shoeSize": Allow}.Validate())
}

func TestDescriptors_MatchCatalog(t *testing.T) {
	desc := Descriptors()
	require.Len(t, desc, len(Catalog()))
	for i, f := range Catalog() {
		assert.Equal(t, f.Key, desc[i].PermissionKey)
		assert.NotEmpty(t, desc[i].DisplayKey)
		assert.NotEmpty(t, f.Columns)
	}

	field, ok := Lookup("address")
	require.True(t, ok)
	assert.Len(t, field.Columns, 5)

	_, ok = Lookup("idDoc")
	assert.False(t, ok)
}
