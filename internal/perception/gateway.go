package perception

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"notegraph/internal/config"
	"notegraph/internal/logging"
	"notegraph/internal/transparency"
	"notegraph/internal/types"
	"notegraph/internal/world"
)

// GatewayConfig bounds analyzer usage.
type GatewayConfig struct {
	// Timeout caps each analyzer call.
	Timeout time.Duration
	// MaxContentChars limits how much of a document is sent.
	MaxContentChars int
	// MinInterestScore drops comparisons scoring at or below it.
	MinInterestScore float64
}

// GatewayConfigFrom extracts the gateway settings from cfg.
func GatewayConfigFrom(cfg *config.Config) GatewayConfig {
	return GatewayConfig{
		Timeout:          cfg.GetAnalyzerTimeout(),
		MaxContentChars:  cfg.Analyzer.MaxContentChars,
		MinInterestScore: cfg.Analyzer.MinInterestScore,
	}
}

// Gateway is the analyzer boundary: it builds prompts, calls the backend
// under a timeout and converts responses into typed records. Failures are
// returned as *transparency.ClassifiedError values.
type Gateway struct {
	client LLMClient
	cfg    GatewayConfig
	now    func() time.Time
}

// NewGateway wraps client.
func NewGateway(client LLMClient, cfg GatewayConfig) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = 2000
	}
	return &Gateway{client: client, cfg: cfg, now: time.Now}
}

// Backend returns the backend name.
func (g *Gateway) Backend() string {
	return g.client.Name()
}

const classifyPrompt = `Analyze this note and provide categorization in JSON format.

Title: %s
Content: %s

Provide ONLY a JSON response with these fields:
{
  "primary_topic": "main subject of the note",
  "content_type": "template|project|session|technical|personal|protocol|reference|brain_memory",
  "key_concepts": ["concept1", "concept2", "concept3"],
  "temporal_markers": ["any dates, sessions, versions found"],
  "project_references": ["any project or system names"],
  "relationship_hints": ["types of notes this might connect to"],
  "confidence": 0.85
}

Respond with valid JSON only, no other text.`

const comparePrompt = `Compare these two notes and determine their connection strength.

Note A:
- File: %s
- Topic: %s
- Type: %s
- Concepts: %s

Note B:
- File: %s
- Topic: %s
- Type: %s
- Concepts: %s

Provide ONLY a JSON response:
{
  "connection_score": 0-10,
  "connection_type": "thematic|temporal|project|technical|personal|reference|none",
  "reason": "brief explanation of connection or why no connection",
  "confidence": 0.75,
  "suggested_link": "if score > 4, suggest brief link text"
}

Respond with valid JSON only, no other text.`

// Classify reads the document at path and asks the analyzer to categorize
// it. The returned record carries the fingerprint of the bytes analyzed.
func (g *Gateway) Classify(ctx context.Context, path string) (*types.Classification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, transparency.Filesystem("read document", path, err)
	}

	title := types.DisplayName(path)
	prompt := fmt.Sprintf(classifyPrompt, title, sampleContent(data, g.cfg.MaxContentChars))

	timer := logging.StartTimer(logging.CategoryAPI, "classify "+title)
	response, err := g.call(ctx, prompt)
	timer.Stop()
	if err != nil {
		return nil, transparency.ExternalCall("classify", path, err)
	}

	obj, err := ExtractObject(response)
	if err != nil {
		logging.APIDebug("unparseable classify response for %s: %s", title, truncateString(response, 200))
		return nil, transparency.Parse("classify", path, err)
	}

	return &types.Classification{
		Path:              path,
		PrimaryTopic:      types.FieldString(obj, "primary_topic", "Unknown"),
		ContentType:       types.ParseContentType(types.FieldString(obj, "content_type", "")),
		KeyConcepts:       types.FieldStrings(obj, "key_concepts"),
		TemporalMarkers:   types.FieldStrings(obj, "temporal_markers"),
		ProjectReferences: types.FieldStrings(obj, "project_references"),
		RelationshipHints: types.FieldStrings(obj, "relationship_hints"),
		Confidence:        types.Clamp01(types.FieldFloat64(obj, "confidence", 0.5)),
		AnalyzedAt:        g.now(),
		Fingerprint:       world.FingerprintBytes(data),
	}, nil
}

// CompareConnection asks the analyzer how a relates to b. A nil connection
// with a nil error means the pair is not meaningfully connected: the score
// is at or below the minimum interest or the type is "none".
func (g *Gateway) CompareConnection(ctx context.Context, a, b *types.Classification) (*types.Connection, error) {
	prompt := fmt.Sprintf(comparePrompt,
		filepath.Base(a.Path), a.PrimaryTopic, a.ContentType, formatConcepts(a.KeyConcepts),
		filepath.Base(b.Path), b.PrimaryTopic, b.ContentType, formatConcepts(b.KeyConcepts),
	)

	op := fmt.Sprintf("compare %s", filepath.Base(b.Path))
	response, err := g.call(ctx, prompt)
	if err != nil {
		return nil, transparency.ExternalCall(op, a.Path, err)
	}

	obj, err := ExtractObject(response)
	if err != nil {
		logging.APIDebug("unparseable compare response: %s", truncateString(response, 200))
		return nil, transparency.Parse(op, a.Path, err)
	}

	conn := &types.Connection{
		Source:        a.Path,
		Target:        b.Path,
		Type:          types.ParseConnectionType(types.FieldString(obj, "connection_type", "")),
		Strength:      types.FieldFloat64(obj, "connection_score", 0),
		Confidence:    types.Clamp01(types.FieldFloat64(obj, "confidence", 0.5)),
		Reason:        types.FieldString(obj, "reason", "No reason provided"),
		SuggestedLink: types.FieldString(obj, "suggested_link", ""),
		DiscoveredAt:  g.now(),
	}
	if !conn.IsInteresting(g.cfg.MinInterestScore) {
		logging.APIDebug("%s <-> %s: score %.1f type %s, not kept", a.Name(), b.Name(), conn.Strength, conn.Type)
		return nil, nil
	}
	return conn, nil
}

func (g *Gateway) call(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	return g.client.Complete(ctx, prompt)
}

// sampleContent decodes data best-effort as UTF-8 and keeps the first max
// characters.
func sampleContent(data []byte, max int) string {
	text := strings.ToValidUTF8(string(data), "�")
	if max <= 0 {
		return text
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i]
		}
		n++
	}
	return text
}

func formatConcepts(concepts []string) string {
	if len(concepts) == 0 {
		return "[]"
	}
	quoted := make([]string, len(concepts))
	for i, c := range concepts {
		quoted[i] = "'" + c + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
