// Package audit keeps a trail of who read which citizen record and who
// changed the role hierarchy.
//
// # Events
//
// Access: inhabitant_read, permission_read
// Admin: role_create, role_update, role_delete, role_default, user_create,
// user_update, user_delete
//
// Each event carries the acting username, the resource ID, the request ID
// and the HTTP outcome mapped to success, denied or failure.
//
// # Usage
//
//	dbLogger, err := audit.NewDBLogger(ctx, roleDB, audit.DialectPostgres)
//	fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{Path: "/var/log/padron/audit.log"})
//	trail := audit.NewMultiLogger(dbLogger, fileLogger)
//
//	mw := audit.NewMiddleware(trail, proxies, logger, metrics)
//	api.Use(authn, identity, mw.Handler)
//
// The middleware classifies requests by route template, so it must be
// installed on a gorilla/mux router after authentication. Requests on
// routes it does not know pass through unrecorded.
//
// # Search
//
//	GET /admin/audit/events?username=ana&event_type=access.inhabitant_read&since=2024-01-01T00:00:00Z
package audit
