// Package auth authenticates portal users and manages their sessions.
//
// Credentials are checked by an Authenticator. StaticAuthenticator compares
// bcrypt hashes from the deployment profile and strips the configured
// "@domain" suffix, so "ana@ayto.es" and "ana" log in as the same user.
//
// Sessions are HS256 JWTs (sub = username, jti = session id) issued by
// SessionManager. Logging out records the jti in a RevocationStore until the
// token would have expired: RedisRevocationStore when redis is configured,
// MemoryRevocationStore otherwise.
//
//	sessions, err := auth.NewSessionManager(secret, 8*time.Hour, auth.NewMemoryRevocationStore(10000, 8*time.Hour))
//	token, authCtx, err := sessions.Issue("ana")
//	authCtx, err = sessions.Validate(ctx, token) // ErrSessionExpired once exp passes
//
// The session token travels as "Authorization: Bearer <token>" or in the
// padron_session cookie set by POST /auth/login.
package auth
