package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"geneforge/internal/plugin"
	"geneforge/internal/types"
)

// Configuration credentials the remote annotator's constructor
// requires. Both come from process configuration, never hard-coded.
const (
	CredentialAnnotatorKey = "annotator_api_key"
	CredentialAnnotatorURL = "annotator_url"
)

// RemoteAnnotator is a network-backed annotation capability. Its
// constructor declares credential requirements; instantiation fails
// when either is not configured, and that failure is isolated to this
// candidate during discovery. Calls are bounded by the caller's
// context, so a slow service becomes a per-plugin timeout, never a
// pipeline stall.
type RemoteAnnotator struct {
	apiKey string
	url    string
	client *http.Client
}

// NewRemoteAnnotator is the registered constructor.
func NewRemoteAnnotator(credentials map[string]string) (plugin.Capability, error) {
	key := credentials[CredentialAnnotatorKey]
	if key == "" {
		return nil, fmt.Errorf("%w: %s", plugin.ErrCredentialMissing, CredentialAnnotatorKey)
	}
	url := credentials[CredentialAnnotatorURL]
	if url == "" {
		return nil, fmt.Errorf("%w: %s", plugin.ErrCredentialMissing, CredentialAnnotatorURL)
	}
	return &RemoteAnnotator{apiKey: key, url: url, client: http.DefaultClient}, nil
}

func (a *RemoteAnnotator) Name() string      { return "remote_annotator" }
func (a *RemoteAnnotator) Activate() error   { return nil }
func (a *RemoteAnnotator) Deactivate() error { return nil }

func (a *RemoteAnnotator) Evaluate(ctx context.Context, text string) (string, error) {
	annotation, err := a.annotate(ctx, text)
	if err != nil {
		return "", err
	}
	return text + annotation, nil
}

func (a *RemoteAnnotator) Execute(ctx context.Context, method string, params map[string]any, _ *types.SymbolTable) (any, error) {
	if method != "annotate" {
		return nil, fmt.Errorf("%w: %s", plugin.ErrUnknownMethod, method)
	}
	raw, ok := params["text"]
	if !ok {
		return nil, fmt.Errorf("%w: text", plugin.ErrMissingParameter)
	}
	text, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("parameter text must be a string, got %T", raw)
	}
	return a.annotate(ctx, text)
}

type annotateRequest struct {
	Sequence string `json:"sequence"`
}

type annotateResponse struct {
	Annotation string `json:"annotation"`
}

// annotate posts the sequence to the annotation service and renders
// its answer as an inline annotation.
func (a *RemoteAnnotator) annotate(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(annotateRequest{Sequence: text})
	if err != nil {
		return "", fmt.Errorf("failed to encode annotation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build annotation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("annotation service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("annotation service returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var parsed annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("malformed annotation response: %w", err)
	}
	return fmt.Sprintf("[remote:%s]", parsed.Annotation), nil
}
