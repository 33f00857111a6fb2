// Package middleware provides the authentication and login throttling
// middleware in front of the portal's API.
//
// AuthMiddleware accepts a session token as "Authorization: Bearer" or in
// the padron_session cookie and stores the *auth.AuthContext in the request
// context. Expired sessions get 401 with "expired": true so clients can
// send the user back to the login form.
//
//	router.Use(middleware.NewAuthMiddleware(sessions, logger).Handler)
//
// LoginThrottle limits POST /auth/login per client address, sharing counts
// through redis when configured:
//
//	limiter := middleware.NewRedisLimiter(redisClient, middleware.DefaultThrottleConfig(), "")
//	login.Use(middleware.LoginThrottle(limiter, proxies, logger, metrics))
package middleware
