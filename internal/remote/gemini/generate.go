package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/chmdznr/corpussync/pkg/models"
)

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateBody struct {
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Contents          []content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

// Generate calls generateContent on the configured model. Attached files are
// sent as fileData parts ahead of the prompt text.
func (c *Client) Generate(ctx context.Context, req models.GenerateRequest) (string, error) {
	if c.model == "" {
		return "", fmt.Errorf("generate: model is not configured")
	}
	body, err := json.Marshal(buildGenerateBody(req))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	payload, _, err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"Content-Type": "application/json"}, body)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	if reason := gjson.GetBytes(payload, "promptFeedback.blockReason").String(); reason != "" {
		return "", fmt.Errorf("generate: prompt blocked: %s", reason)
	}
	var sb strings.Builder
	for _, text := range gjson.GetBytes(payload, "candidates.0.content.parts.#.text").Array() {
		sb.WriteString(text.String())
	}
	return sb.String(), nil
}

func buildGenerateBody(req models.GenerateRequest) generateBody {
	out := generateBody{}
	if strings.TrimSpace(req.System) != "" {
		out.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	if req.Temperature > 0 {
		out.GenerationConfig = &generationConfig{Temperature: req.Temperature}
	}
	for _, turn := range req.History {
		out.Contents = append(out.Contents, content{Role: string(turn.Role), Parts: []part{{Text: turn.Text}}})
	}

	last := content{Role: string(models.RoleUser)}
	for _, f := range req.Files {
		if f.URI == "" {
			continue
		}
		last.Parts = append(last.Parts, part{FileData: &fileData{MimeType: f.MimeType, FileURI: f.URI}})
	}
	last.Parts = append(last.Parts, part{Text: req.Prompt})
	out.Contents = append(out.Contents, last)
	return out
}
