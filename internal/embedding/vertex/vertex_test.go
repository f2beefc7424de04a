package vertex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// mockTokenSource mirrors this codebase's own oauth2.TokenSource test double.
type mockTokenSource struct {
	token *oauth2.Token
}

func (m *mockTokenSource) Token() (*oauth2.Token, error) { return m.token, nil }

// New against a fake token source exercises wiring without ever dialing
// Vertex AI; EncodeBatch itself needs a live endpoint and is not unit-tested
// here.
func TestNewWiresDimensionAndModel(t *testing.T) {
	ts := &mockTokenSource{token: &oauth2.Token{AccessToken: "fake", Expiry: time.Now().Add(time.Hour)}}
	m, err := newWithTokenSource(context.Background(), Config{
		Project:   "test-project",
		Location:  "us-central1",
		Model:     "text-embedding-005",
		Dimension: 768,
	}, ts)
	require.NoError(t, err)
	require.Equal(t, 768, m.Dimension())
	require.NoError(t, m.Close())
}

func TestEncodeBatchEmptyReturnsNil(t *testing.T) {
	ts := &mockTokenSource{token: &oauth2.Token{AccessToken: "fake", Expiry: time.Now().Add(time.Hour)}}
	m, err := newWithTokenSource(context.Background(), Config{Project: "p", Location: "us-central1", Model: "text-embedding-005"}, ts)
	require.NoError(t, err)

	out, err := m.EncodeBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, out)
}
