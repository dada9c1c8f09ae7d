package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corsRouter(allowedOrigins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(allowedOrigins))
	r.PATCH("/api/v1/invoices/upload/items/item-1/accept", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestCORSPreflightAllowsPatch(t *testing.T) {
	r := corsRouter([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/invoices/upload/items/item-1/accept", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, allowedMethods, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID")
	assert.Equal(t, "X-Request-ID", rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORSUnknownOriginGetsNoAllowHeader(t *testing.T) {
	r := corsRouter([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/invoices/upload/items/item-1/accept", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSEmptyAllowListAllowsAll(t *testing.T) {
	r := corsRouter(nil)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/invoices/upload/items/item-1/accept", nil)
	req.Header.Set("Origin", "https://anywhere.example.org")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "https://anywhere.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}
