package store

import (
	"database/sql"
	"fmt"
)

// UpsertGrammar follows the same natural-key discipline as vocabulary:
// update-in-place on an existing grammar point, insert with default flags
// otherwise. The returned row is the post-write state.
func (s *Store) UpsertGrammar(g Grammar) (*Grammar, error) {
	if g.Grammar == "" {
		return nil, fmt.Errorf("grammar point is required")
	}

	now := s.nowMillis()
	var existingID int64
	err := s.db.QueryRow("SELECT id FROM grammars WHERE grammar = ?", g.Grammar).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.Exec(
			`INSERT INTO grammars (grammar, explanation, structure, level, example, starred, learned, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
			g.Grammar, g.Explanation, g.Structure, g.Level, g.Example, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert grammar: %w", err)
		}
		existingID, _ = res.LastInsertId()
	case err != nil:
		return nil, fmt.Errorf("failed to look up grammar: %w", err)
	default:
		_, err = s.db.Exec(
			`UPDATE grammars SET explanation = ?, structure = ?, level = ?, example = ?, updated_at = ? WHERE id = ?`,
			g.Explanation, g.Structure, g.Level, g.Example, now, existingID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update grammar: %w", err)
		}
	}
	return s.GetGrammar(existingID)
}

func (s *Store) GetGrammar(id int64) (*Grammar, error) {
	row := s.db.QueryRow(
		"SELECT id, grammar, explanation, structure, level, example, starred, learned, created_at, updated_at FROM grammars WHERE id = ?", id)
	g, err := scanGrammar(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return g, err
}

func (s *Store) ListGrammars(q ListQuery) ([]Grammar, int, error) {
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
		"SELECT id, grammar, explanation, structure, level, example, starred, learned, created_at, updated_at FROM grammars %s ORDER BY starred DESC, %s %s LIMIT ? OFFSET ?",
		where, orderCol, order,
	)
	rows, err := s.db.Query(query, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query grammars: %w", err)
	}
	defer rows.Close()

	var entries []Grammar
	for rows.Next() {
		g, err := scanGrammar(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan grammar row: %w", err)
		}
		entries = append(entries, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM grammars " + where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count grammars: %w", err)
	}
	return entries, total, nil
}

func (s *Store) SetGrammarStarred(id int64, starred bool) (*Grammar, error) {
	res, err := s.db.Exec("UPDATE grammars SET starred = ? WHERE id = ?", boolToInt(starred), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update grammar star: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil
	}
	return s.GetGrammar(id)
}

func (s *Store) ToggleGrammarStarred(id int64) (*Grammar, error) {
	res, err := s.db.Exec("UPDATE grammars SET starred = NOT starred WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle grammar star: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil
	}
	return s.GetGrammar(id)
}

func (s *Store) SetGrammarLearned(id int64, learned bool) (*Grammar, error) {
	res, err := s.db.Exec("UPDATE grammars SET learned = ? WHERE id = ?", boolToInt(learned), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update grammar learned flag: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, nil
	}
	return s.GetGrammar(id)
}

func (s *Store) DeleteGrammar(id int64) (bool, error) {
	res, err := s.db.Exec("DELETE FROM grammars WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete grammar: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func scanGrammar(row rowScanner) (*Grammar, error) {
	var g Grammar
	var level sql.NullString
	var starred, learned int
	if err := row.Scan(&g.ID, &g.Grammar, &g.Explanation, &g.Structure, &level, &g.Example,
		&starred, &learned, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Level = level.String
	g.Starred = starred != 0
	g.Learned = learned != 0
	return &g, nil
}
