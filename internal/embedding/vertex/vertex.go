// Package vertex implements embedding.Model against Vertex AI / Gemini
// text-embedding models using google.golang.org/genai as the wire client.
// Credential handling follows this codebase's own Vertex AI token manager:
// a service-account JSON is exchanged for an oauth2.TokenSource scoped to
// cloud-platform, and that source backs the HTTP transport genai dials
// through rather than a hand-rolled REST client.
package vertex

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/genai"

	"github.com/indexforge/ingestcore/internal/auth"
	"github.com/indexforge/ingestcore/internal/coreerrors"
	"github.com/indexforge/ingestcore/internal/embedding"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Config selects the project, region and model backing the adapter.
type Config struct {
	Project         string
	Location        string
	Model           string // e.g. "text-embedding-005"
	Dimension       int32
	CredentialsJSON []byte
}

// Model is an embedding.Model backed by a single genai.Client.
type Model struct {
	client    *genai.Client
	model     string
	dimension int32

	mu     sync.Mutex
	closed bool
}

var _ embedding.Model = (*Model)(nil)

// New exchanges cfg.CredentialsJSON for a Vertex-scoped token source and
// opens a genai client against it.
func New(ctx context.Context, cfg Config) (*Model, error) {
	creds, err := google.CredentialsFromJSON(ctx, cfg.CredentialsJSON, cloudPlatformScope)
	if err != nil {
		return nil, coreerrors.NewModelLoadError(cfg.Model, "failed to load vertex credentials", err)
	}
	return newWithTokenSource(ctx, cfg, creds.TokenSource)
}

// NewWithTokenManager opens a genai client backed by a shared
// auth.VertexTokenManager instead of minting a dedicated oauth2.TokenSource
// per model. Callers that construct many Models against the same service
// account (one per configured collection's embedding model, say) should
// share a single manager so concurrent Encode calls coalesce their token
// refreshes instead of each model refreshing independently.
func NewWithTokenManager(ctx context.Context, cfg Config, tm *auth.VertexTokenManager, credentialName, credentialsFile string) (*Model, error) {
	return newWithTokenSource(ctx, cfg, &tokenManagerSource{
		tm:              tm,
		credentialName:  credentialName,
		credentialsFile: credentialsFile,
		credentialsJSON: string(cfg.CredentialsJSON),
	})
}

// tokenManagerSource adapts a auth.VertexTokenManager into an
// oauth2.TokenSource so it can back a genai HTTP transport directly.
type tokenManagerSource struct {
	tm              *auth.VertexTokenManager
	credentialName  string
	credentialsFile string
	credentialsJSON string
}

func (s *tokenManagerSource) Token() (*oauth2.Token, error) {
	token, err := s.tm.GetToken(s.credentialName, s.credentialsFile, s.credentialsJSON)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}

// newWithTokenSource is split out so tests can substitute a fake token
// source without handing real service-account JSON to google.CredentialsFromJSON.
func newWithTokenSource(ctx context.Context, cfg Config, ts oauth2.TokenSource) (*Model, error) {
	httpClient := oauth2.NewClient(ctx, ts)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:    genai.BackendVertexAI,
		Project:    cfg.Project,
		Location:   cfg.Location,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, coreerrors.NewModelLoadError(cfg.Model, "failed to open vertex client", err)
	}

	return &Model{client: client, model: cfg.Model, dimension: cfg.Dimension}, nil
}

func (m *Model) Dimension() int { return int(m.dimension) }

func (m *Model) Encode(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (m *Model) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{}
	if m.dimension > 0 {
		cfg.OutputDimensionality = &m.dimension
	}

	resp, err := m.client.Models.EmbedContent(ctx, m.model, contents, cfg)
	if err != nil {
		return nil, coreerrors.NewProcessingError(m.model, "embed_content request failed", map[string]any{"batch_size": len(texts)}, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, coreerrors.NewProcessingError(m.model, fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)), nil, nil)
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
