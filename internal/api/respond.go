package api

import (
	"net/http"

	"github.com/go-chi/render"
)

type errorBody struct {
	Valid *bool  `json:"valid,omitempty"`
	Error string `json:"error"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	respond(w, r, status, errorBody{Error: msg})
}

// respondInvalid is the error shape of the validation endpoint, which
// always carries valid:false.
func respondInvalid(w http.ResponseWriter, r *http.Request, status int, msg string) {
	f := false
	respond(w, r, status, errorBody{Valid: &f, Error: msg})
}
