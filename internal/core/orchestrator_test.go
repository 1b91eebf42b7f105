package core

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kotoba.app/nihongo-assistant/internal/media"
	"kotoba.app/nihongo-assistant/internal/store"
)

// scriptedExchange replays a fixed sequence of responses; when the script
// runs out it keeps repeating the last entry.
type scriptedExchange struct {
	responses []*ModelResponse
	err       error
	received  [][]ToolResult
	idx       int
}

func (e *scriptedExchange) Continue(ctx context.Context, results []ToolResult) (*ModelResponse, error) {
	e.received = append(e.received, results)
	if e.err != nil {
		return nil, e.err
	}
	if e.idx < len(e.responses)-1 {
		e.idx++
	}
	return e.responses[e.idx], nil
}

type stubModel struct {
	startErr    error
	exchange    *scriptedExchange
	instruction string
	prompt      Prompt
}

func (m *stubModel) StartExchange(ctx context.Context, instruction string, prompt Prompt) (Exchange, *ModelResponse, error) {
	m.instruction = instruction
	m.prompt = prompt
	if m.startErr != nil {
		return nil, nil, m.startErr
	}
	return m.exchange, m.exchange.responses[0], nil
}

type fixture struct {
	orc   *Orchestrator
	store *store.Store
	dir   string
}

func newFixture(t *testing.T, model ModelClient) *fixture {
	t.Helper()
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	mediaStore, err := media.NewStore(dir)
	require.NoError(t, err)

	dispatcher := NewDispatcher(st, zerolog.Nop())
	return &fixture{
		orc:   NewOrchestrator(model, dispatcher, st, mediaStore, "", zerolog.Nop()),
		store: st,
		dir:   dir,
	}
}

func TestProcessTurnRejectsEmptyInput(t *testing.T) {
	f := newFixture(t, &stubModel{})

	_, err := f.orc.ProcessTurn(context.Background(), TurnRequest{})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, total, err := f.store.ListChatHistory(1, 10, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, total, "nothing may be written for empty input")
}

func TestProcessTurnRecordsUserMessageBeforeModelFailure(t *testing.T) {
	model := &stubModel{startErr: ErrModelUnavailable}
	f := newFixture(t, model)

	_, err := f.orc.ProcessTurn(context.Background(), TurnRequest{Message: "こんにちは"})
	assert.ErrorIs(t, err, ErrModelUnavailable)

	messages, total, err := f.store.ListChatHistory(1, 10, -1)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, store.RoleUser, messages[0].Role)
	assert.Equal(t, "こんにちは", messages[0].Content)
}

func TestProcessTurnSimpleTextReply(t *testing.T) {
	model := &stubModel{exchange: &scriptedExchange{
		responses: []*ModelResponse{{Text: "回答です。", Usage: &store.UsageStats{TotalTokenCount: 7}}},
	}}
	f := newFixture(t, model)

	result, err := f.orc.ProcessTurn(context.Background(), TurnRequest{Message: "質問"})
	require.NoError(t, err)
	assert.Equal(t, "回答です。", result.Text)
	assert.Equal(t, 1, result.Turns)
	require.NotNil(t, result.Usage)
	assert.Equal(t, int32(7), result.Usage.TotalTokenCount)

	messages, total, err := f.store.ListChatHistory(1, 10, -1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, store.RoleUser, messages[0].Role)
	assert.Equal(t, store.RoleModel, messages[1].Role)
	assert.Equal(t, result.ModelMessageID, messages[1].ID)
}

func TestProcessTurnToolCallExchange(t *testing.T) {
	// First turn declares a save_vocabularies call and no text; the follow-up
	// turn carries the final answer.
	model := &stubModel{exchange: &scriptedExchange{
		responses: []*ModelResponse{
			{
				ToolCalls: []ToolCall{{
					Name: string(ToolSaveVocabularies),
					Args: map[string]any{
						"vocabularies": []any{map[string]any{
							"original": "おはよう",
							"reading":  "おはよう",
							"meaning":  "早上好",
							"example":  "おはようございます",
							"type":     "感叹词",
						}},
					},
				}},
				Usage: &store.UsageStats{TotalTokenCount: 10},
			},
			{Text: "Good morning.", Usage: &store.UsageStats{TotalTokenCount: 5}},
		},
	}}
	f := newFixture(t, model)

	result, err := f.orc.ProcessTurn(context.Background(), TurnRequest{Message: "おはよう"})
	require.NoError(t, err)

	assert.Equal(t, "Good morning.", result.Text)
	assert.Equal(t, 2, result.Turns)
	require.NotNil(t, result.Usage)
	assert.Equal(t, int32(15), result.Usage.TotalTokenCount, "usage sums across turns")

	// The tool call reached storage.
	entries, total, err := f.store.ListVocabularies(store.ListQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "おはよう", entries[0].Original)

	// One result went back per handled call.
	require.Len(t, model.exchange.received, 1)
	require.Len(t, model.exchange.received[0], 1)
	assert.Equal(t, string(ToolSaveVocabularies), model.exchange.received[0][0].Name)

	messages, total, err := f.store.ListChatHistory(1, 10, -1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "Good morning.", messages[1].Content)
}

func TestProcessTurnUnknownToolCallIsIgnored(t *testing.T) {
	model := &stubModel{exchange: &scriptedExchange{
		responses: []*ModelResponse{
			{ToolCalls: []ToolCall{{Name: "future_tool", Args: map[string]any{}}}},
			{Text: "done"},
		},
	}}
	f := newFixture(t, model)

	result, err := f.orc.ProcessTurn(context.Background(), TurnRequest{Message: "test"})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Text)

	require.Len(t, model.exchange.received, 1)
	assert.Empty(t, model.exchange.received[0], "unknown tools produce no result")
}

func TestProcessTurnTerminatesWithinTurnBudget(t *testing.T) {
	// A model that requests tool calls forever must not spin the loop.
	model := &stubModel{exchange: &scriptedExchange{
		responses: []*ModelResponse{{
			Text:      "fragment",
			ToolCalls: []ToolCall{{Name: "future_tool", Args: map[string]any{}}},
		}},
	}}
	f := newFixture(t, model)

	result, err := f.orc.ProcessTurn(context.Background(), TurnRequest{Message: "loop"})
	require.NoError(t, err)
	assert.Equal(t, maxModelTurns, result.Turns)

	// Hitting the ceiling is not an error; accumulated text still comes back.
	assert.Contains(t, result.Text, "fragment")
}

func TestProcessTurnTextFragmentsAreConcatenated(t *testing.T) {
	model := &stubModel{exchange: &scriptedExchange{
		responses: []*ModelResponse{
			{
				Text:      "第一部分",
				ToolCalls: []ToolCall{{Name: string(ToolSaveVocabularies), Args: map[string]any{"vocabularies": []any{}}}},
			},
			{Text: "第二部分"},
		},
	}}
	f := newFixture(t, model)

	result, err := f.orc.ProcessTurn(context.Background(), TurnRequest{Message: "本文"})
	require.NoError(t, err)
	assert.Equal(t, "第一部分\n\n第二部分", result.Text)
}

func TestProcessTurnEmptyResponse(t *testing.T) {
	model := &stubModel{exchange: &scriptedExchange{
		responses: []*ModelResponse{{Text: "   "}},
	}}
	f := newFixture(t, model)

	_, err := f.orc.ProcessTurn(context.Background(), TurnRequest{Message: "何か"})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	// The user message survives; no model message was written.
	messages, total, err := f.store.ListChatHistory(1, 10, -1)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, store.RoleUser, messages[0].Role)
}

func TestProcessTurnSafetyFiltered(t *testing.T) {
	model := &stubModel{exchange: &scriptedExchange{
		responses: []*ModelResponse{{SafetyBlocked: true}},
	}}
	f := newFixture(t, model)

	_, err := f.orc.ProcessTurn(context.Background(), TurnRequest{Message: "危险内容"})
	assert.ErrorIs(t, err, ErrSafetyFiltered)
}

func TestProcessTurnStoresImageOnce(t *testing.T) {
	payload := []byte("png bytes here")
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)

	model := &stubModel{exchange: &scriptedExchange{
		responses: []*ModelResponse{{Text: "画像を分析しました。"}},
	}}
	f := newFixture(t, model)

	result, err := f.orc.ProcessTurn(context.Background(), TurnRequest{ImageDataURL: dataURL})
	require.NoError(t, err)
	require.NotEmpty(t, result.ImagePath)
	assert.Equal(t, ".png", filepath.Ext(result.ImagePath))

	// The model saw the decoded bytes; the record carries only the filename.
	require.NotNil(t, model.prompt.Image)
	assert.Equal(t, "image/png", model.prompt.Image.MIMEType)
	assert.Equal(t, payload, model.prompt.Image.Data)
	assert.Equal(t, defaultImageMessage, model.prompt.Text)

	messages, _, err := f.store.ListChatHistory(1, 10, -1)
	require.NoError(t, err)
	require.NotNil(t, messages[0].ImagePath)
	assert.Equal(t, result.ImagePath, *messages[0].ImagePath)

	// Same payload again: no second file.
	_, err = f.orc.ProcessTurn(context.Background(), TurnRequest{ImageDataURL: dataURL})
	require.NoError(t, err)
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProcessTurnContinueFailurePropagates(t *testing.T) {
	model := &stubModel{exchange: &scriptedExchange{
		responses: []*ModelResponse{{
			ToolCalls: []ToolCall{{Name: string(ToolSaveVocabularies), Args: map[string]any{"vocabularies": []any{}}}},
		}},
		err: ErrModelUnavailable,
	}}
	f := newFixture(t, model)

	_, err := f.orc.ProcessTurn(context.Background(), TurnRequest{Message: "test"})
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestAssembleInstructionLayers(t *testing.T) {
	f := newFixture(t, &stubModel{})

	promptFile := filepath.Join(t.TempDir(), "user_prompt.txt")
	require.NoError(t, os.WriteFile(promptFile, []byte("运营覆盖层\n"), 0o644))
	f.orc.promptPath = promptFile

	combined := f.orc.assembleInstruction("本次自定义")
	require.True(t, len(combined) > 0)

	defaultIdx := strings.Index(combined, "帮助用户学习日语")
	overrideIdx := strings.Index(combined, "运营覆盖层")
	customIdx := strings.Index(combined, "本次自定义")
	require.GreaterOrEqual(t, defaultIdx, 0)
	require.Greater(t, overrideIdx, defaultIdx, "override follows the default")
	require.Greater(t, customIdx, overrideIdx, "custom instruction comes last")
}

func TestAssembleInstructionMissingOverrideFile(t *testing.T) {
	f := newFixture(t, &stubModel{})
	f.orc.promptPath = filepath.Join(t.TempDir(), "missing.txt")

	combined := f.orc.assembleInstruction("")
	assert.Equal(t, defaultSystemInstruction, combined)
}

func TestErrorsAreDistinguishable(t *testing.T) {
	assert.False(t, errors.Is(ErrEmptyResponse, ErrModelUnavailable))
	assert.False(t, errors.Is(ErrSafetyFiltered, ErrEmptyResponse))
}
