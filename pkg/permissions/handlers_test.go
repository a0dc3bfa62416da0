package permissions

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandlerRouter(service Service) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(service, testLogger()).RegisterRoutes(router)
	return router
}

func TestEffectivePermissionHandler(t *testing.T) {
	router := setupHandlerRouter(&countingService{level: LevelEdit})

	req := httptest.NewRequest("GET", "/internal/v1/permissions/effective?user_id=42&resource_type=document&resource_id=9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "user:42", body["principal"])
	assert.Equal(t, "edit", body["permission"])
	assert.Equal(t, "document", body["resource_type"])
}

func TestEffectivePermissionHandlerGuest(t *testing.T) {
	router := setupHandlerRouter(&countingService{level: LevelRead})

	req := httptest.NewRequest("GET", "/internal/v1/permissions/effective?guest_id=7&resource_type=document&resource_id=9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "guest:7", body["principal"])
}

func TestEffectivePermissionHandlerBadRequests(t *testing.T) {
	router := setupHandlerRouter(&countingService{})

	tests := []struct {
		name string
		url  string
	}{
		{"no principal", "/internal/v1/permissions/effective?resource_type=document&resource_id=9"},
		{"both principals", "/internal/v1/permissions/effective?user_id=42&guest_id=7&resource_type=document&resource_id=9"},
		{"bad user id", "/internal/v1/permissions/effective?user_id=abc&resource_type=document&resource_id=9"},
		{"zero user id", "/internal/v1/permissions/effective?user_id=0&resource_type=document&resource_id=9"},
		{"bad resource type", "/internal/v1/permissions/effective?user_id=42&resource_type=folder&resource_id=9"},
		{"missing resource id", "/internal/v1/permissions/effective?user_id=42&resource_type=document"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.url, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestEffectivePermissionHandlerResolutionFailure(t *testing.T) {
	router := setupHandlerRouter(&countingService{err: errors.New("store down")})

	req := httptest.NewRequest("GET", "/internal/v1/permissions/effective?user_id=42&resource_type=document&resource_id=9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Unanswerable checks surface as errors, never as an allow.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAccessibleResourcesHandler(t *testing.T) {
	router := setupHandlerRouter(&countingService{})

	req := httptest.NewRequest("GET", "/internal/v1/permissions/resources?user_id=42&resource_type=document&min_level=edit", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Principal   string  `json:"principal"`
		MinLevel    string  `json:"min_level"`
		ResourceIDs []int64 `json:"resource_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "user:42", body.Principal)
	assert.Equal(t, "edit", body.MinLevel)
	assert.Equal(t, []int64{1}, body.ResourceIDs)
}

func TestAccessibleResourcesHandlerDefaultsToRead(t *testing.T) {
	router := setupHandlerRouter(&countingService{})

	req := httptest.NewRequest("GET", "/internal/v1/permissions/resources?user_id=42&resource_type=document", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "read", body["min_level"])
}

func TestAccessibleResourcesHandlerUnknownMinLevel(t *testing.T) {
	router := setupHandlerRouter(&countingService{})

	req := httptest.NewRequest("GET", "/internal/v1/permissions/resources?user_id=42&resource_type=document&min_level=superuser", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
