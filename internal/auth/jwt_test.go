package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

func testVerifier() *JWTVerifier {
	return NewJWTVerifier(JWTConfig{Secret: "test-secret-key", Issuer: "test-issuer", TokenTTL: time.Minute})
}

func TestJWTVerifier_IssueAndVerify(t *testing.T) {
	v := testVerifier()

	token, err := v.Issue(relay.Identity{ID: "user-123", DisplayName: "Alice"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, relay.Identity{ID: "user-123", DisplayName: "Alice"}, id)
}

func TestJWTVerifier_DisplayNameFallsBackToID(t *testing.T) {
	v := testVerifier()
	token, err := v.Issue(relay.Identity{ID: "user-123"})
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", id.DisplayName)
}

func TestJWTVerifier_Expired(t *testing.T) {
	v := testVerifier()
	v.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := v.Issue(relay.Identity{ID: "user-123"})
	require.NoError(t, err)

	v.now = time.Now
	_, err = v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	var authErr *Error
	assert.ErrorAs(t, err, &authErr)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := testVerifier()
	other := NewJWTVerifier(JWTConfig{Secret: "other-secret", Issuer: "test-issuer", TokenTTL: time.Minute})
	wrongSecret, err := other.Issue(relay.Identity{ID: "u"})
	require.NoError(t, err)

	foreign := NewJWTVerifier(JWTConfig{Secret: "test-secret-key", Issuer: "someone-else", TokenTTL: time.Minute})
	wrongIssuer, err := foreign.Issue(relay.Identity{ID: "u"})
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingCredential},
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"wrong secret", wrongSecret, ErrInvalidToken},
		{"wrong issuer", wrongIssuer, ErrInvalidToken},
		{"alg none", unsigned, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJWTVerifier_IssueRequiresID(t *testing.T) {
	_, err := testVerifier().Issue(relay.Identity{})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCredentialFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		target  string
		want    string
		wantErr error
	}{
		{name: "bearer header", header: "Bearer abc", target: "/ws", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", target: "/ws", want: "abc"},
		{name: "query param", target: "/ws?token=xyz", want: "xyz"},
		{name: "header wins", header: "Bearer abc", target: "/ws?token=xyz", want: "abc"},
		{name: "missing", target: "/ws", wantErr: ErrMissingCredential},
		{name: "basic scheme", header: "Basic abc", target: "/ws", wantErr: ErrInvalidToken},
		{name: "empty bearer", header: "Bearer ", target: "/ws", wantErr: ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := CredentialFromRequest(req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
