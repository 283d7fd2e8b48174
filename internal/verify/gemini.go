// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/template"

	"github.com/pdiddy/evidence-engine/internal/httputil"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// reviewPromptTmpl is the prompt sent to the Gemini API for one chunk of
// decisions. Per prd003-verification R2.1.
var reviewPromptTmpl = template.Must(template.New("review").Parse(`You are an independent verifier for evidence extracted from a clinical study.
Check whether each listed decision is supported by the provided paper text. Use ONLY the paper text; do not guess.

For each decision return exactly one finding:
- verdict "agree" when the paper supports the value
- verdict "disagree-with-correction" when the paper supports a different value; set proposed_value to the minimal corrected value
- verdict "disagree-unsupported" when the paper does not support any value here

Evidence must be short (one sentence), no long quotes. Respond with a JSON object containing a "findings" array; each element has "path", "verdict", "proposed_value", "explanation", "evidence". Echo each path exactly as given. Do not include any text outside the JSON object.

PAPER TEXT:
{{.View}}

DECISIONS TO REVIEW:
{{.Decisions}}
`))

// geminiAPIBase is the Gemini API endpoint root. Package-level var for
// test substitution.
var geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiReviewer reviews decision chunks through the Gemini generateContent
// API.
type GeminiReviewer struct {
	APIKey string
	Model  string
	Client *http.Client
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Review renders the chunk prompt, calls the Gemini API, and parses the
// findings JSON.
func (g *GeminiReviewer) Review(ctx context.Context, req types.ReviewRequest) (types.ReviewResponse, error) {
	prompt, err := renderReviewPrompt(req)
	if err != nil {
		return types.ReviewResponse{}, fmt.Errorf("rendering review prompt: %w", err)
	}

	body := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      0.0,
			ResponseMimeType: "application/json",
		},
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return types.ReviewResponse{}, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", geminiAPIBase, g.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return types.ReviewResponse{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.APIKey)

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, httpReq, 0)
	if err != nil {
		return types.ReviewResponse{}, fmt.Errorf("calling Gemini API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return types.ReviewResponse{}, fmt.Errorf("Gemini API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var gResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gResp); err != nil {
		return types.ReviewResponse{}, fmt.Errorf("decoding Gemini response: %w", err)
	}
	if len(gResp.Candidates) == 0 || len(gResp.Candidates[0].Content.Parts) == 0 {
		return types.ReviewResponse{}, fmt.Errorf("Gemini API returned no candidates")
	}

	var out types.ReviewResponse
	text := gResp.Candidates[0].Content.Parts[0].Text
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return types.ReviewResponse{}, fmt.Errorf("parsing findings JSON: %w", err)
	}
	return out, nil
}

func renderReviewPrompt(req types.ReviewRequest) (string, error) {
	decisions, err := json.Marshal(req.Items)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = reviewPromptTmpl.Execute(&buf, struct {
		View      string
		Decisions string
	}{View: req.View, Decisions: string(decisions)})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
