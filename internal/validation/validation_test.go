package validation

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidUsername(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"alice", true},
		{"j.smith", true},
		{"jsmith@corp.example", true},
		{"svc-backup_01", true},
		{strings.Repeat("a", MaxUsernameLength), true},

		// Invalid cases
		{"", false},
		{" alice", false},
		{"-leading-dash", false},
		{"alice bob", false},
		{"robert'); DROP TABLE activity_logs;--", false},
		{strings.Repeat("a", MaxUsernameLength+1), false},
	}

	for _, tc := range tests {
		if got := IsValidUsername(tc.name); got != tc.valid {
			t.Errorf("IsValidUsername(%q) = %v, want %v", tc.name, got, tc.valid)
		}
	}
}

func TestValidate(t *testing.T) {
	errors := Validate(
		Required("username", "alice"),
		ValidUsername("username", "alice"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	errors = Validate(
		Required("username", ""),
		ValidUsername("username", ""),
	)
	if len(errors) != 1 {
		t.Errorf("Expected only the required error, got %v", errors)
	}

	errors = Validate(
		Required("username", "bad name"),
		ValidUsername("username", "bad name"),
	)
	if len(errors) != 1 || errors[0].Field != "username" {
		t.Errorf("Expected one username format error, got %v", errors)
	}
	if errors.Error() == "" {
		t.Error("Expected error message")
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16, "/upload"))

	readAll := func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	}
	r.POST("/json", readAll)
	r.POST("/upload", readAll)

	big := strings.Repeat("x", 64)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/json", strings.NewReader(big)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected oversized body to be rejected, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/upload", strings.NewReader(big)))
	if w.Code != http.StatusOK {
		t.Errorf("Expected exempt route to read full body, got %d", w.Code)
	}
}
