package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_IssueAndParse(t *testing.T) {
	s, err := NewSigner("faceattend", "secret")
	require.NoError(t, err)

	pair, err := s.Issue("cam-1", RoleDevice, time.Hour, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := s.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "cam-1", claims.Subject)
	assert.Equal(t, RoleDevice, claims.Role)
}

func TestSigner_Rejects(t *testing.T) {
	s, _ := NewSigner("faceattend", "secret")

	_, err := s.Issue("x", "admin", time.Hour, time.Hour)
	assert.ErrorIs(t, err, ErrUnknownRole)

	other, _ := NewSigner("faceattend", "different")
	pair, _ := other.Issue("cam-1", RoleDevice, time.Hour, time.Hour)
	_, err = s.Parse(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, _ := NewSigner("someone-else", "secret")
	pair, _ = foreign.Issue("cam-1", RoleDevice, time.Hour, time.Hour)
	_, err = s.Parse(pair.AccessToken)
	assert.ErrorIs(t, err, ErrIssuerMismatch)

	past := time.Now().Add(-2 * time.Hour)
	s.now = func() time.Time { return past }
	pair, _ = s.Issue("cam-1", RoleDevice, time.Minute, time.Minute)
	s.now = time.Now
	_, err = s.Parse(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewSigner("faceattend", "")
	assert.Error(t, err)
}

func TestRequire(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _ := NewSigner("faceattend", "secret")

	r := gin.New()
	r.GET("/ops", Require(s, RoleOperator), func(c *gin.Context) {
		claims, ok := FromContext(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject)
	})

	call := func(header string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ops", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		return w
	}

	op, _ := s.Issue("ana", RoleOperator, time.Hour, time.Hour)
	dev, _ := s.Issue("cam-1", RoleDevice, time.Hour, time.Hour)

	w := call("Bearer " + op.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ana", w.Body.String())

	assert.Equal(t, http.StatusForbidden, call("Bearer "+dev.AccessToken).Code)
	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage").Code)
}
