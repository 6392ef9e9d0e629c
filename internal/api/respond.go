package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

const maxRequestBodySize = 1 << 20

// errorBody is the envelope every failed request gets.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// decodeBody reads a JSON request body into a T. On failure it has already
// answered 400 and returns false.
func decodeBody[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(&v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return v, false
	}
	return v, true
}

// queryInt reads a positive integer parameter, falling back to def and
// clamping to ceiling.
func queryInt(r *http.Request, key string, def, ceiling int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	switch {
	case err != nil || v <= 0:
		return def
	case v > ceiling:
		return ceiling
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType, format string, args ...any) {
	var body errorBody
	body.Error.Type = errType
	body.Error.Message = fmt.Sprintf(format, args...)
	writeJSON(w, code, body)
}
