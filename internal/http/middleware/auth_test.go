package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/spark-backend/internal/auth"
)

func authRouter(v auth.Verifier, devHeader bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireAuth(v, devHeader))
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return r
}

var staticVerifier = auth.VerifierFunc(func(_ context.Context, tok string) (string, error) {
	if tok == "good" {
		return "user-1", nil
	}
	return "", auth.ErrUnauthenticated
})

func TestRequireAuth_BearerToken(t *testing.T) {
	r := authRouter(staticVerifier, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer good")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-1", w.Body.String())
}

func TestRequireAuth_Rejections(t *testing.T) {
	r := authRouter(staticVerifier, false)

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic Zm9vOmJhcg==",
		"empty token":    "Bearer ",
		"bad token":      "Bearer nope",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			r.ServeHTTP(w, req)

			require.Equal(t, http.StatusUnauthorized, w.Code)
			require.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.Equal(t, "unauthorized", body["code"])
		})
	}
}

func TestRequireAuth_DevHeader(t *testing.T) {
	t.Run("disabled ignores X-User-ID", func(t *testing.T) {
		r := authRouter(staticVerifier, false)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(HeaderUserID, "mallory")
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("enabled trusts X-User-ID", func(t *testing.T) {
		r := authRouter(nil, true)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(HeaderUserID, "  dev-1 ")
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "dev-1", w.Body.String())
	})

	t.Run("enabled still verifies a bearer token when present", func(t *testing.T) {
		v := auth.VerifierFunc(func(context.Context, string) (string, error) {
			return "", errors.New("boom")
		})
		r := authRouter(v, true)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer x")
		req.Header.Set(HeaderUserID, "dev-1")
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
