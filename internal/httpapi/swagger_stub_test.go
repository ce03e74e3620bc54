//go:build !swagger

package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSwaggerRequestedWithoutTag(t *testing.T) {
	h := NewMux(&mockService{ready: true}, Options{Swagger: true})
	rr := do(t, h, http.MethodGet, "/swagger/index.html", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
