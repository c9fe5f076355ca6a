package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dm-service/internal/mocks"
)

func setupAuthRouter(identity *mocks.IdentityClientMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(identity))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt("userID")})
	})
	return r
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	router := setupAuthRouter(new(mocks.IdentityClientMock))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareInvalidToken(t *testing.T) {
	identity := new(mocks.IdentityClientMock)
	identity.On("ValidateToken", mock.Anything, "bad").Return(0, assert.AnError).Once()
	router := setupAuthRouter(identity)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	identity.AssertExpectations(t)
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	identity := new(mocks.IdentityClientMock)
	identity.On("ValidateToken", mock.Anything, "good").Return(7, nil).Once()
	router := setupAuthRouter(identity)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":7}`, rec.Body.String())
	identity.AssertExpectations(t)
}
