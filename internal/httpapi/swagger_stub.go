//go:build !swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
)

// MountSwagger reports false: this build carries no OpenAPI document.
// Build with -tags=swagger to serve /swagger/*.
func MountSwagger(chi.Router) bool { return false }
