package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// ConjugationForms is the fixed set of inflection-form labels a verb entry
// must carry when conjugations are recorded at all. Labels match what the
// client renders.
var ConjugationForms = []string{
	"ます形", "ない形", "た形", "て形", "ば形", "たら形",
	"意志形", "命令形", "禁止形", "可能形", "被动形", "使役形",
	"使役被动形", "推量形", "未然形", "连用形", "终止形", "连体形", "已然形",
}

// validateConjugations enforces the all-or-nothing invariant: either every
// form is present or the map is absent entirely.
func validateConjugations(conj map[string]string) error {
	if len(conj) == 0 {
		return nil
	}
	for _, form := range ConjugationForms {
		if conj[form] == "" {
			return fmt.Errorf("conjugations missing form %q", form)
		}
	}
	return nil
}

// UpsertVocabulary inserts a vocabulary entry or, when the dictionary form
// already exists, refreshes its fields in place. The returned row is the
// post-write state including server-assigned id and timestamps.
func (s *Store) UpsertVocabulary(v Vocabulary) (*Vocabulary, error) {
	if v.Original == "" {
		return nil, fmt.Errorf("vocabulary original is required")
	}
	if err := validateConjugations(v.Conjugations); err != nil {
		return nil, err
	}

	var conjJSON sql.NullString
	if len(v.Conjugations) > 0 {
		raw, err := json.Marshal(v.Conjugations)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal conjugations: %w", err)
		}
		conjJSON = sql.NullString{String: string(raw), Valid: true}
	}

	now := s.nowMillis()
	var existingID int64
	err := s.db.QueryRow("SELECT id FROM vocabularies WHERE original = ?", v.Original).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.Exec(
			`INSERT INTO vocabularies (original, reading, meaning, example, type, verb_category, conjugations, starred, learned, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
			v.Original, v.Reading, v.Meaning, v.Example, v.PartOfSpeech, v.VerbCategory, conjJSON, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert vocabulary: %w", err)
		}
		existingID, _ = res.LastInsertId()
	case err != nil:
		return nil, fmt.Errorf("failed to look up vocabulary: %w", err)
	default:
		_, err = s.db.Exec(
			`UPDATE vocabularies SET reading = ?, meaning = ?, example = ?, type = ?, verb_category = ?, conjugations = ?, updated_at = ? WHERE id = ?`,
			v.Reading, v.Meaning, v.Example, v.PartOfSpeech, v.VerbCategory, conjJSON, now, existingID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update vocabulary: %w", err)
		}
	}
	return s.GetVocabulary(existingID)
}

func (s *Store) GetVocabulary(id int64) (*Vocabulary, error) {
	row := s.db.QueryRow(
		"SELECT id, original, reading, meaning, example, type, verb_category, conjugations, starred, learned, created_at, updated_at FROM vocabularies WHERE id = ?", id)
	v, err := scanVocabulary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// ListVocabularies pages through the word book. Starred entries always sort
// ahead of unstarred ones within the requested ordering.
func (s *Store) ListVocabularies(q ListQuery) ([]Vocabulary, int, error) {
	q.Normalize()
	where := filterClause(q.Filter)
	orderCol := "updated_at"
	if q.SortBy == "created" {
		orderCol = "created_at"
	}
	order := "DESC"
	if q.Order == "asc" {
		order = "ASC"
	}

	query := fmt.Sprintf(
		"SELECT id, original, reading, meaning, example, type, verb_category, conjugations, starred, learned, created_at, updated_at FROM vocabularies %s ORDER BY starred DESC, %s %s LIMIT ? OFFSET ?",
		where, orderCol, order,
	)
	rows, err := s.db.Query(query, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query vocabularies: %w", err)
	}
	defer rows.Close()

	var entries []Vocabulary
	for rows.Next() {
		v, err := scanVocabulary(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan vocabulary row: %w", err)
		}
		entries = append(entries, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM vocabularies " + where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count vocabularies: %w", err)
	}
	return entries, total, nil
}

// SetVocabularyStarred sets the flag explicitly. A nil row means not found.
func (s *Store) SetVocabularyStarred(id int64, starred bool) (*Vocabulary, error) {
	res, err := s.db.Exec("UPDATE vocabularies SET starred = ? WHERE id = ?", boolToInt(starred), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update vocabulary star: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil
	}
	return s.GetVocabulary(id)
}

// ToggleVocabularyStarred flips the flag. A nil row means not found.
func (s *Store) ToggleVocabularyStarred(id int64) (*Vocabulary, error) {
	res, err := s.db.Exec("UPDATE vocabularies SET starred = NOT starred WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle vocabulary star: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil
	}
	return s.GetVocabulary(id)
}

func (s *Store) SetVocabularyLearned(id int64, learned bool) (*Vocabulary, error) {
	res, err := s.db.Exec("UPDATE vocabularies SET learned = ? WHERE id = ?", boolToInt(learned), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update vocabulary learned flag: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil
	}
	return s.GetVocabulary(id)
}

// DeleteVocabulary is idempotent; the bool reports whether a row existed.
func (s *Store) DeleteVocabulary(id int64) (bool, error) {
	res, err := s.db.Exec("DELETE FROM vocabularies WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete vocabulary: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func scanVocabulary(row rowScanner) (*Vocabulary, error) {
	var v Vocabulary
	var verbCategory, conjJSON sql.NullString
	var starred, learned int
	if err := row.Scan(&v.ID, &v.Original, &v.Reading, &v.Meaning, &v.Example, &v.PartOfSpeech,
		&verbCategory, &conjJSON, &starred, &learned, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.VerbCategory = verbCategory.String
	v.Starred = starred != 0
	v.Learned = learned != 0
	if conjJSON.Valid && conjJSON.String != "" {
		if err := json.Unmarshal([]byte(conjJSON.String), &v.Conjugations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conjugations: %w", err)
		}
	}
	return &v, nil
}

func filterClause(filter string) string {
	switch filter {
	case "starred":
		return "WHERE starred = 1"
	case "unstarred":
		return "WHERE starred = 0"
	default:
		return ""
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
