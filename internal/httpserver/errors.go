package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"lanmedia/internal/fsutil"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fsutil.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, fsutil.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, fsutil.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fsutil.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is what a client is told about err. Only input errors echo
// the underlying message: those describe the client's own input, while the
// rest can carry filesystem paths.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, fsutil.ErrInvalidFilename):
		return "invalid filename"
	case errors.Is(err, fsutil.ErrInvalidInput):
		return err.Error()
	case errors.Is(err, fsutil.ErrPathTraversal):
		return "path outside media root"
	case errors.Is(err, fsutil.ErrForbidden):
		return "forbidden"
	case errors.Is(err, fsutil.ErrNotFound):
		return "not found"
	case errors.Is(err, fsutil.ErrTooLarge):
		return "file too large"
	default:
		return "internal error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONStatus(w, statusFor(err), map[string]string{"error": publicMessage(err)})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
