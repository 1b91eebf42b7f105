package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"kotoba.app/nihongo-assistant/internal/store"
)

// GeminiClient adapts the Gemini SDK to the ModelClient contract. It is
// constructed once at startup with a validated API key; there is no lazy
// initialization to fail on first use.
type GeminiClient struct {
	client    *genai.Client
	modelName string
	log       zerolog.Logger
}

func NewGeminiClient(ctx context.Context, apiKey, modelName string, log zerolog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key", ErrModelUnavailable)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{
		client:    client,
		modelName: modelName,
		log:       log.With().Str("component", "gemini").Logger(),
	}, nil
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func (c *GeminiClient) StartExchange(ctx context.Context, instruction string, prompt Prompt) (Exchange, *ModelResponse, error) {
	model := c.client.GenerativeModel(c.modelName)
	model.Tools = toolDeclarations()
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(instruction)},
	}

	session := model.StartChat()

	var parts []genai.Part
	if prompt.Image != nil {
		parts = append(parts, genai.Blob{MIMEType: prompt.Image.MIMEType, Data: prompt.Image.Data})
	}
	parts = append(parts, genai.Text(prompt.Text))

	resp, err := session.SendMessage(ctx, parts...)
	if err != nil {
		return nil, nil, classifyError(err)
	}
	return &geminiExchange{session: session}, toModelResponse(resp), nil
}

type geminiExchange struct {
	session *genai.ChatSession
}

func (e *geminiExchange) Continue(ctx context.Context, results []ToolResult) (*ModelResponse, error) {
	parts := make([]genai.Part, 0, len(results))
	for _, r := range results {
		parts = append(parts, genai.FunctionResponse{Name: r.Name, Response: r.Response})
	}
	resp, err := e.session.SendMessage(ctx, parts...)
	if err != nil {
		return nil, classifyError(err)
	}
	return toModelResponse(resp), nil
}

// classifyError distinguishes safety rejections from plain transport or quota
// failures, since the two surface differently to the user.
func classifyError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "safety") {
		return fmt.Errorf("%w: %v", ErrSafetyFiltered, err)
	}
	return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
}

func toModelResponse(resp *genai.GenerateContentResponse) *ModelResponse {
	out := &ModelResponse{}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason == genai.BlockReasonSafety {
		out.SafetyBlocked = true
	}

	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		if cand.FinishReason == genai.FinishReasonSafety {
			out.SafetyBlocked = true
		}
		if cand.Content != nil {
			var text strings.Builder
			for _, part := range cand.Content.Parts {
				switch p := part.(type) {
				case genai.Text:
					text.WriteString(string(p))
				case genai.FunctionCall:
					out.ToolCalls = append(out.ToolCalls, ToolCall{Name: p.Name, Args: p.Args})
				}
			}
			out.Text = strings.TrimSpace(text.String())
		}
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = &store.UsageStats{
			PromptTokenCount:        u.PromptTokenCount,
			CandidatesTokenCount:    u.CandidatesTokenCount,
			CachedContentTokenCount: u.CachedContentTokenCount,
			TotalTokenCount:         u.TotalTokenCount,
		}
	}
	return out
}

// toolDeclarations describes the functions the model may call. Field
// descriptions are in Chinese because that is the language the assistant
// tutors in.
func toolDeclarations() []*genai.Tool {
	conjugationProps := make(map[string]*genai.Schema, len(conjugationKeys))
	for _, key := range conjugationKeys {
		conjugationProps[key] = &genai.Schema{Type: genai.TypeString}
	}

	return []*genai.Tool{
		{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        string(ToolSaveVocabularies),
					Description: "批量将日语生词保存到用户的生词本中。请分析对话内容，提取所有值得学习的核心词汇，并一次性调用此工具。",
					Parameters: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"vocabularies": {
								Type:        genai.TypeArray,
								Description: "生词列表",
								Items: &genai.Schema{
									Type: genai.TypeObject,
									Properties: map[string]*genai.Schema{
										"original": {
											Type:        genai.TypeString,
											Description: "单词的原型/字典形（如：食べる、学校）。这是词库中的唯一标识。",
										},
										"reading": {
											Type:        genai.TypeString,
											Description: "单词的平假名或片假名读音",
										},
										"meaning": {
											Type:        genai.TypeString,
											Description: "单词的准确中文含义",
										},
										"example": {
											Type:        genai.TypeString,
											Description: "一个包含该单词的典型日语例句，汉字部分请标注振假名",
										},
										"type": {
											Type:        genai.TypeString,
											Description: "词性标签。必须采用以下规范之一：[名词, 动词, 形容词, 副词, 助词, 连词, 感叹词, 短语]",
										},
										"verb_category": {
											Type:        genai.TypeString,
											Description: "仅限动词",
											Enum:        []string{"一类动词", "二类动词", "三类动词"},
										},
										"conjugations": {
											Type:        genai.TypeObject,
											Description: "仅限动词。必须完整提供19种形式",
											Properties:  conjugationProps,
										},
									},
									Required: []string{"original", "reading", "meaning", "example", "type"},
								},
							},
						},
						Required: []string{"vocabularies"},
					},
				},
				{
					Name:        string(ToolSaveGrammarPoints),
					Description: "批量将日语语法点保存到用户的语法本中。请提取对话中出现的重要语法，并一次性调用此工具。",
					Parameters: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"grammar_points": {
								Type:        genai.TypeArray,
								Description: "语法点列表",
								Items: &genai.Schema{
									Type: genai.TypeObject,
									Properties: map[string]*genai.Schema{
										"grammar": {
											Type:        genai.TypeString,
											Description: "语法点名称（如：〜てから、〜ばかり）。这是语法本中的唯一标识。",
										},
										"explanation": {
											Type:        genai.TypeString,
											Description: "语法点的中文解释",
										},
										"structure": {
											Type:        genai.TypeString,
											Description: "接续方式/句型结构",
										},
										"level": {
											Type:        genai.TypeString,
											Description: "JLPT 等级",
											Enum:        []string{"N5", "N4", "N3", "N2", "N1"},
										},
										"example": {
											Type:        genai.TypeString,
											Description: "一个使用该语法的典型日语例句，汉字部分请标注振假名",
										},
									},
									Required: []string{"grammar", "explanation", "structure", "example"},
								},
							},
						},
						Required: []string{"grammar_points"},
					},
				},
			},
		},
	}
}
