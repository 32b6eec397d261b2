package httputil

import (
	"encoding/json"
	"net/http"
)

// ParseJSONOrError decodes the request body into dst. On failure it writes a
// 400 response and returns false, so handlers can bail out with a bare
// return.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}
