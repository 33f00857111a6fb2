package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/padron/pkg/contextkeys"
	"github.com/platinummonkey/padron/pkg/httputil"
	"github.com/platinummonkey/padron/pkg/observability"
)

// rule classifies one route. idVar names the mux variable holding the
// resource ID, if any.
type rule struct {
	eventType EventType
	resource  ResourceType
	idVar     string
}

type routeKey struct {
	method   string
	template string
}

// rules lists the audited routes by method and full path template.
// Anything else passes through unrecorded.
var rules = map[routeKey]rule{
	{"GET", "/api/inhabitants/{idDoc}"}: {EventTypeAccessInhabitantRead, ResourceTypeInhabitant, "idDoc"},

	{"GET", "/admin/roles/{id}/effective-permissions"}: {EventTypeAccessPermissionRead, ResourceTypeRole, "id"},
	{"POST", "/admin/roles"}:                           {EventTypeAdminRoleCreate, ResourceTypeRole, ""},
	{"PUT", "/admin/roles/default"}:                    {EventTypeAdminRoleDefault, ResourceTypeRole, ""},
	{"DELETE", "/admin/roles/{id}"}:                    {EventTypeAdminRoleDelete, ResourceTypeRole, "id"},
	{"PUT", "/admin/roles/{id}/name"}:                  {EventTypeAdminRoleUpdate, ResourceTypeRole, "id"},
	{"PUT", "/admin/roles/{id}/admin"}:                 {EventTypeAdminRoleUpdate, ResourceTypeRole, "id"},
	{"PUT", "/admin/roles/{id}/permissions"}:           {EventTypeAdminRoleUpdate, ResourceTypeRole, "id"},
	{"PUT", "/admin/roles/{id}/parent"}:                {EventTypeAdminRoleUpdate, ResourceTypeRole, "id"},

	{"POST", "/admin/users"}:              {EventTypeAdminUserCreate, ResourceTypeUser, ""},
	{"DELETE", "/admin/users/{id}"}:       {EventTypeAdminUserDelete, ResourceTypeUser, "id"},
	{"PUT", "/admin/users/{id}/username"}: {EventTypeAdminUserUpdate, ResourceTypeUser, "id"},
	{"PUT", "/admin/users/{id}/role"}:     {EventTypeAdminUserUpdate, ResourceTypeUser, "id"},
}

// Middleware records citizen record reads and administrative changes
type Middleware struct {
	logger  Logger
	proxies httputil.TrustedProxies
	log     *observability.Logger
	metrics *observability.Metrics
}

// NewMiddleware creates a new audit middleware. The recorded client address
// honours forwarding headers only from proxies. metrics may be nil.
func NewMiddleware(logger Logger, proxies httputil.TrustedProxies, log *observability.Logger, metrics *observability.Metrics) *Middleware {
	return &Middleware{
		logger:  logger,
		proxies: proxies,
		log:     log,
		metrics: metrics,
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Handler must run after authentication so the username is known. Audit
// failures are logged and never change the response.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		event, ok := classify(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		event.IPAddress = m.proxies.ClientIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		event.Timestamp = time.Now()
		event.Status = StatusFromCode(wrapped.statusCode)
		event.StatusCode = wrapped.statusCode
		event.Username = contextkeys.GetUsername(r.Context())
		event.RequestID = contextkeys.GetRequestID(r.Context())

		// the request context may already be cancelled by the client
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()

		if err := m.logger.Log(ctx, event); err != nil {
			m.metrics.RecordStoreError("audit", "log")
			m.log.WithError(err).WithFields(map[string]interface{}{
				"event_type": event.EventType,
				"request_id": event.RequestID,
			}).Error("Failed to record audit event")
		}
	})
}

func classify(r *http.Request) (*Event, bool) {
	route := mux.CurrentRoute(r)
	if route == nil {
		return nil, false
	}
	template, err := route.GetPathTemplate()
	if err != nil {
		return nil, false
	}
	rl, ok := rules[routeKey{r.Method, template}]
	if !ok {
		return nil, false
	}

	event := &Event{
		EventType:    rl.eventType,
		ResourceType: rl.resource,
		Method:       r.Method,
		Path:         r.URL.Path,
	}
	if rl.idVar != "" {
		event.ResourceID = mux.Vars(r)[rl.idVar]
	}
	return event, true
}
