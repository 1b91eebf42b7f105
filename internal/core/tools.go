package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"kotoba.app/nihongo-assistant/internal/store"
)

// ToolName enumerates the functions the model is allowed to call. Dispatch is
// a static mapping built at construction, so an unregistered name is a
// deliberate no-op branch rather than a silent string-match fallthrough.
type ToolName string

const (
	ToolSaveVocabularies  ToolName = "save_vocabularies"
	ToolSaveGrammarPoints ToolName = "save_grammar_points"
)

// conjugationKeys are the English form names the model supplies; they map to
// the labels persisted and rendered by the client.
var conjugationKeys = []string{
	"masu", "nai", "ta", "te", "ba", "tara",
	"volitional", "imperative", "prohibitive", "potential", "passive", "causative",
	"causative_passive", "conjecture", "mizen", "renyo", "shushi", "rentai", "izen",
}

var conjugationLabels = map[string]string{
	"masu":              "ます形",
	"nai":               "ない形",
	"ta":                "た形",
	"te":                "て形",
	"ba":                "ば形",
	"tara":              "たら形",
	"volitional":        "意志形",
	"imperative":        "命令形",
	"prohibitive":       "禁止形",
	"potential":         "可能形",
	"passive":           "被动形",
	"causative":         "使役形",
	"causative_passive": "使役被动形",
	"conjecture":        "推量形",
	"mizen":             "未然形",
	"renyo":             "连用形",
	"shushi":            "终止形",
	"rentai":            "连体形",
	"izen":              "已然形",
}

// ToolHandler executes one tool call against local storage. Handlers report
// failures inside the result; they never raise them into the exchange loop.
type ToolHandler func(ctx context.Context, args map[string]any) map[string]any

// Dispatcher routes model-declared tool calls to their handlers.
type Dispatcher struct {
	handlers map[ToolName]ToolHandler
	log      zerolog.Logger
}

func NewDispatcher(st *store.Store, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[ToolName]ToolHandler),
		log:      log.With().Str("component", "tools").Logger(),
	}
	d.handlers[ToolSaveVocabularies] = d.saveVocabularies(st)
	d.handlers[ToolSaveGrammarPoints] = d.saveGrammarPoints(st)
	return d
}

// Dispatch executes one call. Unknown names are ignored (forward-compatible
// with tool names this build does not know); the bool reports whether a
// result should be sent back to the model.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) (result ToolResult, handled bool) {
	handler, ok := d.handlers[ToolName(call.Name)]
	if !ok {
		d.log.Debug().Str("tool", call.Name).Msg("ignoring unknown tool call")
		return ToolResult{}, false
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("tool", call.Name).Any("panic", r).Msg("tool handler panicked")
			result = ToolResult{Name: call.Name, Response: map[string]any{"error": "internal tool failure"}}
			handled = true
		}
	}()

	return ToolResult{Name: call.Name, Response: handler(ctx, call.Args)}, true
}

type vocabularyArgs struct {
	Original     string            `json:"original"`
	Reading      string            `json:"reading"`
	Meaning      string            `json:"meaning"`
	Example      string            `json:"example"`
	Type         string            `json:"type"`
	VerbCategory string            `json:"verb_category"`
	Conjugations map[string]string `json:"conjugations"`
}

type saveVocabulariesArgs struct {
	Vocabularies []vocabularyArgs `json:"vocabularies"`
}

// saveVocabularies upserts each candidate independently: one malformed entry
// is reported in its slot and does not block the rest of the batch.
func (d *Dispatcher) saveVocabularies(st *store.Store) ToolHandler {
	return func(ctx context.Context, args map[string]any) map[string]any {
		var parsed saveVocabulariesArgs
		if err := decodeArgs(args, &parsed); err != nil {
			d.log.Warn().Err(err).Msg("malformed save_vocabularies arguments")
			return map[string]any{"error": "malformed arguments"}
		}

		d.log.Info().Int("count", len(parsed.Vocabularies)).Msg("saving vocabularies")

		results := make([]map[string]any, 0, len(parsed.Vocabularies))
		for _, candidate := range parsed.Vocabularies {
			saved, err := st.UpsertVocabulary(store.Vocabulary{
				Original:     candidate.Original,
				Reading:      candidate.Reading,
				Meaning:      candidate.Meaning,
				Example:      candidate.Example,
				PartOfSpeech: candidate.Type,
				VerbCategory: candidate.VerbCategory,
				Conjugations: relabelConjugations(candidate.Conjugations),
			})
			if err != nil {
				d.log.Warn().Err(err).Str("original", candidate.Original).Msg("failed to save vocabulary")
				results = append(results, map[string]any{"original": candidate.Original, "error": err.Error()})
				continue
			}
			results = append(results, map[string]any{
				"id":       saved.ID,
				"original": saved.Original,
				"saved":    true,
			})
		}
		return map[string]any{"results": results}
	}
}

type grammarArgs struct {
	Grammar     string `json:"grammar"`
	Explanation string `json:"explanation"`
	Structure   string `json:"structure"`
	Level       string `json:"level"`
	Example     string `json:"example"`
}

type saveGrammarPointsArgs struct {
	GrammarPoints []grammarArgs `json:"grammar_points"`
}

func (d *Dispatcher) saveGrammarPoints(st *store.Store) ToolHandler {
	return func(ctx context.Context, args map[string]any) map[string]any {
		var parsed saveGrammarPointsArgs
		if err := decodeArgs(args, &parsed); err != nil {
			d.log.Warn().Err(err).Msg("malformed save_grammar_points arguments")
			return map[string]any{"error": "malformed arguments"}
		}

		d.log.Info().Int("count", len(parsed.GrammarPoints)).Msg("saving grammar points")

		results := make([]map[string]any, 0, len(parsed.GrammarPoints))
		for _, candidate := range parsed.GrammarPoints {
			saved, err := st.UpsertGrammar(store.Grammar{
				Grammar:     candidate.Grammar,
				Explanation: candidate.Explanation,
				Structure:   candidate.Structure,
				Level:       candidate.Level,
				Example:     candidate.Example,
			})
			if err != nil {
				d.log.Warn().Err(err).Str("grammar", candidate.Grammar).Msg("failed to save grammar point")
				results = append(results, map[string]any{"grammar": candidate.Grammar, "error": err.Error()})
				continue
			}
			results = append(results, map[string]any{
				"id":      saved.ID,
				"grammar": saved.Grammar,
				"saved":   true,
			})
		}
		return map[string]any{"results": results}
	}
}

// relabelConjugations maps the model's English form keys onto the persisted
// labels, dropping anything outside the known set.
func relabelConjugations(conj map[string]string) map[string]string {
	if len(conj) == 0 {
		return nil
	}
	relabeled := make(map[string]string, len(conj))
	for eng, label := range conjugationLabels {
		if v := conj[eng]; v != "" {
			relabeled[label] = v
		}
	}
	if len(relabeled) == 0 {
		return nil
	}
	return relabeled
}

// decodeArgs round-trips the model's loosely typed argument map through JSON
// into a typed struct.
func decodeArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal tool args: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode tool args: %w", err)
	}
	return nil
}
