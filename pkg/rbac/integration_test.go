package rbac

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/padron/pkg/auth"
	"github.com/platinummonkey/padron/pkg/contextkeys"
)

// headerAuthn trusts X-Test-User in place of a session token
func headerAuthn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if username := r.Header.Get("X-Test-User"); username != "" {
			ctx := contextkeys.WithAuth(r.Context(), &auth.AuthContext{Username: username})
			r = r.WithContext(contextkeys.WithUsername(ctx, username))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := sql.Open(DialectSQLite, "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	m := NewManager(db, newDiscardLogger(), nil, Config{
		Dialect:           DialectSQLite,
		SelfRegistration:  true,
		AuxiliaryUsername: "root",
	})
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)
	return m
}

func TestManager_Initialize(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	root, err := m.GetStore().GetUserByUsername(ctx, "root")
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.True(t, root.IsAuxiliar)

	// idempotent across restarts
	require.NoError(t, m.Initialize(ctx))
	assert.Nil(t, m.GetIntegrityChecker())
}

func TestManager_RegisterRoutes(t *testing.T) {
	m := newTestManager(t)

	var seen []string
	record := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r.Context())
			require.NotNil(t, identity)
			seen = append(seen, identity.User.Username)
			next.ServeHTTP(w, r)
		})
	}

	router := mux.NewRouter()
	api, admin := m.RegisterRoutes(router, headerAuthn, record)
	require.NotNil(t, api)
	require.NotNil(t, admin)

	do := func(path, user string) int {
		req := httptest.NewRequest("GET", path, nil)
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do("/api/me", ""))
	assert.Equal(t, http.StatusOK, do("/api/me", "ana"))
	assert.Equal(t, http.StatusForbidden, do("/admin/roles", "ana"))
	assert.Equal(t, http.StatusOK, do("/admin/roles", "root"))

	// extra middleware sees every identified request, including refused
	// admin calls
	assert.Equal(t, []string{"ana", "ana", "root"}, seen)
}
