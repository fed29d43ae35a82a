package audit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/quota/audit?decision=deny&route=/api/v1/quota/demo&page=3&page_size=50&from=2024-06-01T00:00:00Z&to=bad", nil)

	params := parseListParams(req)

	assert.Equal(t, "deny", params.Decision)
	assert.Equal(t, "/api/v1/quota/demo", params.Route)
	assert.Equal(t, 3, params.Page)
	assert.Equal(t, 50, params.PageSize)
	require.NotNil(t, params.From)
	assert.True(t, params.From.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, params.To)
}

func TestParseListParams_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota/audit?page=-1&page_size=1000", nil)

	params := parseListParams(req)

	assert.Equal(t, DefaultListParams(), params)
}

func TestHandler_ListRequiresIdentity(t *testing.T) {
	h := NewHandler(nil)
	rec := httptest.NewRecorder()

	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/quota/audit", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
