package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"kotoba.app/nihongo-assistant/internal/media"
	"kotoba.app/nihongo-assistant/internal/store"
)

// maxModelTurns bounds the tool-call exchange. A misbehaving or adversarial
// model response could otherwise request tool calls forever; hitting the
// ceiling is not an error, the text collected so far is still returned.
const maxModelTurns = 10

// defaultSystemInstruction is the baked-in tutoring behavior. An operator can
// extend it through the prompt override file and callers can add a per-turn
// instruction on top; neither replaces this default.
const defaultSystemInstruction = `你的任务是帮助用户学习日语。
当你收到用户的日语文本或图片时，请执行以下操作：
-解释文本中的语法点和词汇。
-为所有汉字标注振假名，格式为：漢字(かんじ)。
-将输入的日语翻译为简体中文。
-有错误时纠正用户的错误。
-回复内容精炼，无重复，无多余内容，绝对的权威，使用最少的token用中文进行解释。
-使用工具函数 ` + "`save_vocabularies`" + ` 一次性保存文本中所有出现的关键生词，使用 ` + "`save_grammar_points`" + ` 保存重要语法点。`

// defaultImageMessage stands in for the user's text when only an image was
// sent.
const defaultImageMessage = "Image analysis"

var dataURLPattern = regexp.MustCompile(`^data:(image/([a-zA-Z0-9.+-]+));base64,`)

// loopState names the phases of one exchange with the model.
type loopState int

const (
	stateAwaitingModel loopState = iota
	stateExecutingTools
	stateDone
	stateBudgetExhausted
)

// TurnRequest is one inbound chat request.
type TurnRequest struct {
	Message      string
	ImageDataURL string // data URL, optional
	CustomPrompt string // per-call instruction appended to the system prompt
}

// TurnResult is the outcome of a completed exchange.
type TurnResult struct {
	Text           string
	Usage          *store.UsageStats
	UserMessageID  string
	ModelMessageID string
	ImagePath      string
	Turns          int
}

// Orchestrator drives the multi-turn exchange between the client, the model
// and local storage.
type Orchestrator struct {
	model      ModelClient
	tools      *Dispatcher
	store      *store.Store
	media      *media.Store
	promptPath string
	log        zerolog.Logger
}

func NewOrchestrator(model ModelClient, tools *Dispatcher, st *store.Store, mediaStore *media.Store, promptPath string, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		model:      model,
		tools:      tools,
		store:      st,
		media:      mediaStore,
		promptPath: promptPath,
		log:        log.With().Str("component", "orchestrator").Logger(),
	}
}

// ProcessTurn runs one full exchange: persist the user's message, send the
// prompt to the model, execute any requested tool calls until the model stops
// asking or the turn budget runs out, then persist and return the reply.
//
// The user message is written before the model is contacted and is never
// rolled back by a later failure; partial progress beats losing user input.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.Message == "" && req.ImageDataURL == "" {
		return nil, ErrEmptyInput
	}

	image, imagePath, err := o.storeImage(req.ImageDataURL)
	if err != nil {
		return nil, err
	}

	message := req.Message
	if message == "" {
		message = defaultImageMessage
	}

	userMsg, err := o.store.InsertUserMessage(message, imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to record user message: %w", err)
	}

	instruction := o.assembleInstruction(req.CustomPrompt)
	prompt := Prompt{Text: message, Image: image}

	exchange, resp, err := o.model.StartExchange(ctx, instruction, prompt)
	if err != nil {
		return nil, err
	}
	turns := 1

	var texts []string
	totalUsage := &store.UsageStats{}
	safetyBlocked := false

	collect := func(r *ModelResponse) {
		if t := strings.TrimSpace(r.Text); t != "" {
			texts = append(texts, t)
		}
		totalUsage.Add(r.Usage)
		if r.SafetyBlocked {
			safetyBlocked = true
		}
	}
	collect(resp)

	for state := nextState(resp, turns); state == stateExecutingTools; state = nextState(resp, turns) {
		results := make([]ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			if result, handled := o.tools.Dispatch(ctx, call); handled {
				results = append(results, result)
			}
		}

		resp, err = exchange.Continue(ctx, results)
		if err != nil {
			return nil, err
		}
		turns++
		collect(resp)
	}

	if nextState(resp, turns) == stateBudgetExhausted {
		o.log.Warn().Int("turns", turns).Msg("turn budget exhausted, returning accumulated text")
	}

	text := strings.TrimSpace(strings.Join(texts, "\n\n"))
	if text == "" {
		if safetyBlocked {
			return nil, ErrSafetyFiltered
		}
		return nil, ErrEmptyResponse
	}

	var usage *store.UsageStats
	if *totalUsage != (store.UsageStats{}) {
		usage = totalUsage
	}

	modelMsg, err := o.store.InsertModelMessage(text, usage)
	if err != nil {
		return nil, fmt.Errorf("failed to record model message: %w", err)
	}

	result := &TurnResult{
		Text:           text,
		Usage:          usage,
		UserMessageID:  userMsg.ID,
		ModelMessageID: modelMsg.ID,
		Turns:          turns,
	}
	if imagePath != nil {
		result.ImagePath = *imagePath
	}
	return result, nil
}

// nextState decides where the loop goes after a response: keep executing
// tools while the model asks for them and budget remains.
func nextState(resp *ModelResponse, turns int) loopState {
	switch {
	case len(resp.ToolCalls) == 0:
		return stateDone
	case turns >= maxModelTurns:
		return stateBudgetExhausted
	default:
		return stateExecutingTools
	}
}

// storeImage decodes a data-URL payload and persists it content-addressed.
// Only the filename travels further; message records never carry raw bytes.
func (o *Orchestrator) storeImage(dataURL string) (*ImageData, *string, error) {
	if dataURL == "" {
		return nil, nil, nil
	}

	mimeType, ext := "image/jpeg", "jpg"
	if m := dataURLPattern.FindStringSubmatch(dataURL); m != nil {
		mimeType, ext = m[1], m[2]
		dataURL = dataURL[len(m[0]):]
	}

	data, err := base64.StdEncoding.DecodeString(dataURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: malformed image payload", ErrEmptyInput)
	}

	name, err := o.media.Put(data, ext)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store image: %w", err)
	}
	return &ImageData{MIMEType: mimeType, Data: data}, &name, nil
}

// assembleInstruction layers the baked-in default, the operator's override
// file and the per-call custom instruction, in that fixed order.
func (o *Orchestrator) assembleInstruction(custom string) string {
	layers := []string{defaultSystemInstruction}

	if o.promptPath != "" {
		if content, err := os.ReadFile(o.promptPath); err == nil {
			if s := strings.TrimSpace(string(content)); s != "" {
				layers = append(layers, s)
			}
		}
	}
	if s := strings.TrimSpace(custom); s != "" {
		layers = append(layers, s)
	}
	return strings.Join(layers, "\n\n")
}
