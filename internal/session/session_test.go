package session

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chatsync/internal/model"
)

func token(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return header + "." + body + ".unverified-signature"
}

func TestExpiredFromExpClaim(t *testing.T) {
	past := token(t, map[string]any{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()})
	s := New(model.AuthResponse{Token: past, UserID: "u1", Username: "alice"})
	assert.True(t, s.Expired())

	future := token(t, map[string]any{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()})
	s.SetToken(future)
	assert.False(t, s.Expired())
	assert.Equal(t, future, s.Token())
}

func TestOpaqueTokenNeverExpires(t *testing.T) {
	s := New(model.AuthResponse{Token: "not-a-jwt", UserID: "u1", Username: "alice"})
	assert.False(t, s.Expired())
	assert.Equal(t, "not-a-jwt", s.Token())
}

func TestNoExpClaim(t *testing.T) {
	s := New(model.AuthResponse{Token: token(t, map[string]any{"sub": "u1"}), UserID: "u1"})
	assert.False(t, s.Expired())
}
