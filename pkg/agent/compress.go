package agent

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"

	"github.com/fractionalquest/copilot/pkg/adapter"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

const (
	compressionRatio = 0.7 // Compress first 70% by byte size
)

//go:embed prompt/summarize.md
var summarizePromptRaw string

// isTokenLimitError checks if the error is due to token limit exceeded
func isTokenLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	// Example: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576)."
	return apiErr.Code == 400 &&
		apiErr.Status == "INVALID_ARGUMENT" &&
		strings.HasPrefix(apiErr.Message, "The input token count (") &&
		strings.Contains(apiErr.Message, ") exceeds the maximum number of tokens allowed (")
}

func contentSize(content *genai.Content) int {
	data, err := json.Marshal(content)
	if err != nil {
		return 0
	}
	return len(data)
}

// compressHistory replaces the oldest 70% (by size) of the history with a summary.
// The cut never separates a function call from its response.
func compressHistory(ctx context.Context, gemini adapter.Gemini, contents []*genai.Content) ([]*genai.Content, error) {
	if len(contents) == 0 {
		return nil, goerr.New("history is empty")
	}

	totalBytes := 0
	byteSizes := make([]int, len(contents))
	for i, content := range contents {
		byteSizes[i] = contentSize(content)
		totalBytes += byteSizes[i]
	}
	threshold := int(float64(totalBytes) * compressionRatio)

	cumulative := 0
	cut := 0
	for i, size := range byteSizes {
		cumulative += size
		if cumulative >= threshold {
			cut = i + 1
			break
		}
	}
	for cut < len(contents) && hasFunctionResponse(contents[cut]) {
		cut++
	}

	if cut == 0 || cut >= len(contents) {
		return nil, goerr.New("insufficient content to compress")
	}

	summary, err := summarizeContents(ctx, gemini, contents[:cut])
	if err != nil {
		return nil, goerr.Wrap(err, "failed to summarize contents")
	}

	summaryContent := genai.NewContentFromText("=== Previous Conversation Summary ===\n\n"+summary, genai.RoleUser)
	return append([]*genai.Content{summaryContent}, contents[cut:]...), nil
}

func hasFunctionResponse(c *genai.Content) bool {
	for _, p := range c.Parts {
		if p.FunctionResponse != nil {
			return true
		}
	}
	return false
}

func summarizeContents(ctx context.Context, gemini adapter.Gemini, contents []*genai.Content) (string, error) {
	withPrompt := make([]*genai.Content, 0, len(contents)+1)
	withPrompt = append(withPrompt, contents...)
	withPrompt = append(withPrompt, genai.NewContentFromText(summarizePromptRaw, genai.RoleUser))

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText("You are the assistant of a job board for fractional executives.", ""),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}

	resp, err := gemini.GenerateContent(ctx, withPrompt, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate summary")
	}

	summary := responseText(resp)
	if summary == "" {
		return "", goerr.New("empty summary generated")
	}
	return summary, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
