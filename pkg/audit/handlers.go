package audit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/padron/pkg/httputil"
	"github.com/platinummonkey/padron/pkg/observability"
)

// Handlers provides HTTP handlers for audit log API
type Handlers struct {
	searcher Searcher
	logger   *observability.Logger
}

// NewHandlers creates new audit handlers
func NewHandlers(searcher Searcher, logger *observability.Logger) *Handlers {
	return &Handlers{
		searcher: searcher,
		logger:   logger,
	}
}

// RegisterRoutes registers audit log routes on the admin router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.ListEvents).Methods("GET")
}

// ListEvents handles GET /audit/events
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Audit search failed")
		httputil.WriteServiceUnavailable(w, "audit store unavailable")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.limit(),
		"offset": filter.Offset,
	})
}

func parseFilter(r *http.Request) (SearchFilter, error) {
	q := r.URL.Query()
	filter := SearchFilter{
		Username:   q.Get("username"),
		Status:     EventStatus(q.Get("status")),
		ResourceID: q.Get("resource_id"),
	}

	if types := q.Get("event_type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			filter.EventTypes = append(filter.EventTypes, EventType(strings.TrimSpace(t)))
		}
	}

	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("%s must be RFC3339", name)
		}
		*dst = &t
	}

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("%s must be a non-negative integer", name)
		}
		*dst = n
	}

	return filter, nil
}
