package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/conthunt/streamcore/internal/model"
)

type countingSource struct {
	calls int
	err   error
	ttl   time.Duration
}

func (c *countingSource) Token() (*oauth2.Token, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &oauth2.Token{
		AccessToken: "tok-" + string(rune('0'+c.calls)),
		Expiry:      time.Now().Add(c.ttl),
	}, nil
}

func TestStatic(t *testing.T) {
	tok, err := Static("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = Static("  ").Token(context.Background())
	assert.ErrorIs(t, err, model.ErrNoToken)
}

func TestOAuth2Source_CachesUntilRefresh(t *testing.T) {
	base := &countingSource{ttl: time.Hour}
	src := NewOAuth2Source(base)
	ctx := context.Background()

	first, err := src.Token(ctx)
	require.NoError(t, err)
	second, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, base.calls)

	refreshed, err := src.Refresh(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, refreshed)
	assert.Equal(t, 2, base.calls)
}

func TestOAuth2Source_ExpiredTokenRefetched(t *testing.T) {
	base := &countingSource{ttl: -time.Minute}
	src := NewOAuth2Source(base)

	_, err := src.Token(context.Background())
	require.NoError(t, err)
	_, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, base.calls)
}

func TestOAuth2Source_Errors(t *testing.T) {
	src := NewOAuth2Source(&countingSource{err: errors.New("idp down")})
	_, err := src.Token(context.Background())
	assert.ErrorContains(t, err, "idp down")

	_, err = NewOAuth2Source(nil).Token(context.Background())
	assert.ErrorIs(t, err, model.ErrNoToken)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewOAuth2Source(&countingSource{ttl: time.Hour}).Token(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDevTokenSource_RoundTrip(t *testing.T) {
	now := time.Now()
	dev := &DevTokenSource{Secret: "s3cret", UserID: "u1", TTL: time.Minute, Now: func() time.Time { return now }}

	tok, err := dev.Token()
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.WithinDuration(t, now.Add(time.Minute), tok.Expiry, time.Second)

	claims, err := ParseDevToken("s3cret", tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Contains(t, claims.Scopes, "search")

	_, err = ParseDevToken("other", tok.AccessToken)
	assert.Error(t, err)
}

func TestDevTokenSource_RequiresSecret(t *testing.T) {
	_, err := (&DevTokenSource{}).Token()
	assert.ErrorIs(t, err, model.ErrNoToken)
}
