package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/julianshen/snipvet/internal/corpus"
)

const judgeSystemPrompt = `You are a security review assistant. Given a Python
code snippet, decide whether it contains an exploitable vulnerability.
Respond with a single JSON object and nothing else:
{"is_vulnerable": bool, "severity": "none|low|medium|high|critical",
 "cwe_candidates": ["CWE-..."], "rationale": "one or two sentences"}`

// ErrNoVerdict is returned when the model reply contains no parseable verdict.
var ErrNoVerdict = errors.New("judge reply has no JSON verdict")

// OpenAIJudge asks a chat-completion model for a per-snippet verdict.
type OpenAIJudge struct {
	client *openai.Client
	model  string
}

// NewOpenAIJudge builds a judge over the given client. An empty model falls
// back to GPT-4o.
func NewOpenAIJudge(client *openai.Client, model string) *OpenAIJudge {
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIJudge{client: client, model: model}
}

func (j *OpenAIJudge) JudgeSide(ctx context.Context, code string) (*corpus.SideJudgment, error) {
	resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       j.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: judgeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "```python\n" + code + "\n```"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("judge completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoVerdict
	}
	return parseVerdict(resp.Choices[0].Message.Content)
}

// parseVerdict extracts the outermost JSON object from a model reply, which
// may be wrapped in prose or a code fence.
func parseVerdict(reply string) (*corpus.SideJudgment, error) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return nil, ErrNoVerdict
	}
	var out corpus.SideJudgment
	if err := json.Unmarshal([]byte(reply[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoVerdict, err)
	}
	out.Severity = strings.ToLower(out.Severity)
	return &out, nil
}
