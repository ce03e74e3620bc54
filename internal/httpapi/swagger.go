//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "clinicd/docs"
)

// MountSwagger serves the generated OpenAPI document and UI under /swagger/.
func MountSwagger(r chi.Router) bool {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	return true
}
