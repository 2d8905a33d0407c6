package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/pipeline-web/internal/httpmw"
)

// Users is the placeholder resource router.
type Users struct{}

func (Users) Mount(r chi.Router) {
	r.With(httpmw.Scope("users")).Get("/", listUsers)
}

func listUsers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("respond with a resource"))
}
