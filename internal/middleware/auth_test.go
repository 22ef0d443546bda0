package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apk-registry/apk-registry/internal/auth"
)

func generateTestJWT(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, userID+"@example.com", role, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return token
}

// newAuthRouter echoes the identity the middleware stored.
func newAuthRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/", func(c *gin.Context) {
		id := GetIdentity(c)
		if id == nil {
			c.JSON(http.StatusOK, gin.H{"anonymous": true})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "role": id.Role})
	})
	return r
}

func doAuthRequest(r *gin.Engine, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	r := newAuthRouter(AuthMiddleware())

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{"missing header", "", "Missing authorization header"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "Authorization header must start with 'Bearer '"},
		{"empty token", "Bearer    ", "Authorization token is empty"},
		{"garbage token", "Bearer not-a-jwt", "Invalid credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuthRequest(r, tt.header)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tt.wantMsg {
				t.Errorf("error = %q, want %q", body["error"], tt.wantMsg)
			}
		})
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	r := newAuthRouter(AuthMiddleware())
	w := doAuthRequest(r, "Bearer "+generateTestJWT(t, "user-1", auth.RoleDeveloper))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", w.Code, w.Body.String())
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["user_id"] != "user-1" {
		t.Errorf("user_id = %q, want user-1", body["user_id"])
	}
	if body["role"] != "developer" {
		t.Errorf("role = %q, want developer", body["role"])
	}
}

func TestGetIdentity_WrongType(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(IdentityKey, "not an identity")
	if got := GetIdentity(c); got != nil {
		t.Errorf("GetIdentity() = %v, want nil", got)
	}
}
