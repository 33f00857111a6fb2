// Package httputil provides the JSON response writers, request parsers and
// transport middleware shared by the admin, identity and registry handlers.
//
// Error responses always carry an "error" field; WriteErrorBody adds
// machine-readable flags next to it:
//
//	httputil.WriteErrorBody(w, http.StatusConflict, err.Error(), map[string]interface{}{
//		"duplicate":   true,
//		"existing_id": id,
//	})
//
// Path parameters are read through gorilla/mux:
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	if !ok {
//		return // 400 already written
//	}
package httputil
