package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens an in-memory database with a deterministic, strictly
// increasing clock.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var tick int64 = 1700000000000
	s.nowMillis = func() int64 {
		tick++
		return tick
	}
	return s
}

func completeConjugations() map[string]string {
	conj := make(map[string]string, len(ConjugationForms))
	for _, form := range ConjugationForms {
		conj[form] = "食べ" + form
	}
	return conj
}

func TestUpsertVocabularyIdempotentOnNaturalKey(t *testing.T) {
	s := newTestStore(t)

	first, err := s.UpsertVocabulary(Vocabulary{
		Original: "おはよう", Reading: "おはよう", Meaning: "早上好", Example: "おはようございます", PartOfSpeech: "感叹词",
	})
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	assert.False(t, first.Starred)
	assert.False(t, first.Learned)

	second, err := s.UpsertVocabulary(Vocabulary{
		Original: "おはよう", Reading: "おはよう", Meaning: "早安", Example: "おはよう！", PartOfSpeech: "感叹词",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "早安", second.Meaning)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Greater(t, second.UpdatedAt, first.UpdatedAt)

	_, total, err := s.ListVocabularies(ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestUpsertVocabularyConjugations(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.UpsertVocabulary(Vocabulary{
		Original: "食べる", Reading: "たべる", Meaning: "吃", Example: "ご飯を食べる", PartOfSpeech: "动词",
		VerbCategory: "二类动词",
		Conjugations: completeConjugations(),
	})
	require.NoError(t, err)
	assert.Len(t, saved.Conjugations, len(ConjugationForms))
	assert.Equal(t, "二类动词", saved.VerbCategory)

	// A partial form set violates the all-or-nothing invariant.
	partial := completeConjugations()
	delete(partial, "ます形")
	_, err = s.UpsertVocabulary(Vocabulary{
		Original: "飲む", Reading: "のむ", Meaning: "喝", Example: "水を飲む", PartOfSpeech: "动词",
		Conjugations: partial,
	})
	assert.Error(t, err)
}

func TestUpsertVocabularyRequiresOriginal(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertVocabulary(Vocabulary{Meaning: "无原型"})
	assert.Error(t, err)
}

func TestListVocabulariesFilterAndOrder(t *testing.T) {
	s := newTestStore(t)

	for _, w := range []string{"一", "二", "三"} {
		_, err := s.UpsertVocabulary(Vocabulary{Original: w, Meaning: w, PartOfSpeech: "名词"})
		require.NoError(t, err)
	}
	// Star the oldest entry.
	entries, _, err := s.ListVocabularies(ListQuery{SortBy: "created", Order: "asc"})
	require.NoError(t, err)
	starred, err := s.SetVocabularyStarred(entries[0].ID, true)
	require.NoError(t, err)
	require.True(t, starred.Starred)

	// Starred rows sort ahead of unstarred regardless of the ordering.
	entries, total, err := s.ListVocabularies(ListQuery{SortBy: "updated", Order: "desc"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, starred.ID, entries[0].ID)

	only, total, err := s.ListVocabularies(ListQuery{Filter: "starred"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, only, 1)
	assert.Equal(t, starred.ID, only[0].ID)

	rest, total, err := s.ListVocabularies(ListQuery{Filter: "unstarred"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, rest, 2)
}

func TestVocabularyStarToggleAndNotFound(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.UpsertVocabulary(Vocabulary{Original: "学校", Meaning: "学校", PartOfSpeech: "名词"})
	require.NoError(t, err)

	toggled, err := s.ToggleVocabularyStarred(saved.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Starred)

	toggled, err = s.ToggleVocabularyStarred(saved.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Starred)

	missing, err := s.ToggleVocabularyStarred(9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = s.SetVocabularyStarred(9999, true)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteVocabularyIdempotent(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.UpsertVocabulary(Vocabulary{Original: "犬", Meaning: "狗", PartOfSpeech: "名词"})
	require.NoError(t, err)

	deleted, err := s.DeleteVocabulary(saved.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteVocabulary(saved.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestUpsertGrammarIdempotentOnNaturalKey(t *testing.T) {
	s := newTestStore(t)

	first, err := s.UpsertGrammar(Grammar{Grammar: "〜てから", Explanation: "之后", Structure: "V-て + から", Level: "N4", Example: "ご飯を食べてから出かける"})
	require.NoError(t, err)

	second, err := s.UpsertGrammar(Grammar{Grammar: "〜てから", Explanation: "在……之后", Structure: "V-て + から", Level: "N4", Example: "勉強してから寝る"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "在……之后", second.Explanation)
	assert.Greater(t, second.UpdatedAt, first.UpdatedAt)

	_, total, err := s.ListGrammars(ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestGrammarStarAndDelete(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.UpsertGrammar(Grammar{Grammar: "〜ばかり", Explanation: "刚刚", Structure: "V-た + ばかり", Example: "来たばかりです"})
	require.NoError(t, err)

	toggled, err := s.ToggleGrammarStarred(saved.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Starred)

	set, err := s.SetGrammarStarred(saved.ID, false)
	require.NoError(t, err)
	assert.False(t, set.Starred)

	missing, err := s.ToggleGrammarStarred(12345)
	require.NoError(t, err)
	assert.Nil(t, missing)

	deleted, err := s.DeleteGrammar(saved.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteGrammar(saved.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestChatHistoryPaginationIsOldestFirstWithinPage(t *testing.T) {
	s := newTestStore(t)

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		_, err := s.InsertUserMessage(content, nil)
		require.NoError(t, err)
	}

	// First page holds the two newest messages, oldest-first for display.
	page, total, err := s.ListChatHistory(1, 2, -1)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "four", page[0].Content)
	assert.Equal(t, "five", page[1].Content)

	page, _, err = s.ListChatHistory(2, 2, -1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "two", page[0].Content)
	assert.Equal(t, "three", page[1].Content)

	// Explicit offset overrides the page derivation.
	page, _, err = s.ListChatHistory(1, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "one", page[0].Content)
}

func TestChatHistoryKeepsInsertionOrderOnEqualTimestamps(t *testing.T) {
	s := newTestStore(t)

	// All writes land in the same millisecond, the common case for a
	// user/model pair recorded within one exchange.
	s.nowMillis = func() int64 { return 1700000000000 }

	_, err := s.InsertUserMessage("質問", nil)
	require.NoError(t, err)
	_, err = s.InsertModelMessage("回答", nil)
	require.NoError(t, err)
	_, err = s.InsertUserMessage("追問", nil)
	require.NoError(t, err)
	_, err = s.InsertModelMessage("再回答", nil)
	require.NoError(t, err)

	page, total, err := s.ListChatHistory(1, 10, -1)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 4)
	assert.Equal(t, []string{"質問", "回答", "追問", "再回答"},
		[]string{page[0].Content, page[1].Content, page[2].Content, page[3].Content})

	// Pagination cuts on the same order.
	page, _, err = s.ListChatHistory(1, 2, -1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "追問", page[0].Content)
	assert.Equal(t, "再回答", page[1].Content)
}

func TestChatMessageUsageRoundTrip(t *testing.T) {
	s := newTestStore(t)

	usage := &UsageStats{PromptTokenCount: 12, CandidatesTokenCount: 34, TotalTokenCount: 46}
	saved, err := s.InsertModelMessage("reply", usage)
	require.NoError(t, err)

	loaded, err := s.GetChatMessage(saved.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.NotNil(t, loaded.Usage)
	assert.Equal(t, *usage, *loaded.Usage)

	stats, count, err := s.UsageBetween(0, s.nowMillis())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, stats, 1)
	assert.Equal(t, int32(46), stats[0].TotalTokenCount)
}

func TestUsageBetweenToleratesMalformedRows(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertModelMessage("good", &UsageStats{TotalTokenCount: 10})
	require.NoError(t, err)

	// Legacy row with unparseable usage JSON.
	_, err = s.db.Exec(
		"INSERT INTO chat_history (id, role, content, image_path, usage, created_at) VALUES ('legacy', 'model', 'old', NULL, 'not json', ?)",
		s.nowMillis(),
	)
	require.NoError(t, err)

	stats, count, err := s.UsageBetween(0, s.nowMillis())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.Len(t, stats, 1)
	assert.Equal(t, int32(10), stats[0].TotalTokenCount)
}

func TestDeleteChatMessageIdempotent(t *testing.T) {
	s := newTestStore(t)

	msg, err := s.InsertUserMessage("hello", nil)
	require.NoError(t, err)

	deleted, err := s.DeleteChatMessage(msg.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteChatMessage(msg.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	missing, err := s.GetChatMessage(msg.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLoginLogsAndFailureCounting(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.AppendLoginLog("admin", "10.0.0.1", LoginFailure)
		require.NoError(t, err)
	}
	_, err := s.AppendLoginLog("admin", "10.0.0.1", LoginSuccess)
	require.NoError(t, err)
	_, err = s.AppendLoginLog("admin", "10.0.0.2", LoginFailure)
	require.NoError(t, err)

	count, err := s.CountFailedLogins("10.0.0.1", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Cutoff in the future excludes everything.
	count, err = s.CountFailedLogins("10.0.0.1", s.nowMillis()+1)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	logs, total, err := s.ListLoginLogs(1, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, logs, 5)
	// Newest first.
	assert.Equal(t, "10.0.0.2", logs[0].IP)
}
