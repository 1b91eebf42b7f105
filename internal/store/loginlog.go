package store

import "fmt"

// AppendLoginLog records one authentication attempt. The log is append-only;
// nothing updates or deletes these rows.
func (s *Store) AppendLoginLog(username, ip, status string) (*LoginLog, error) {
	entry := &LoginLog{
		Username:  username,
		IP:        ip,
		Status:    status,
		CreatedAt: s.nowMillis(),
	}
	res, err := s.db.Exec(
		"INSERT INTO login_logs (username, ip, status, created_at) VALUES (?, ?, ?, ?)",
		entry.Username, entry.IP, entry.Status, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert login log: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	return entry, nil
}

// ListLoginLogs pages through the audit trail newest-first.
func (s *Store) ListLoginLogs(page, limit int) ([]LoginLog, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	offset := (page - 1) * limit

	rows, err := s.db.Query(
		"SELECT id, username, ip, status, created_at FROM login_logs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query login logs: %w", err)
	}
	defer rows.Close()

	var logs []LoginLog
	for rows.Next() {
		var entry LoginLog
		if err := rows.Scan(&entry.ID, &entry.Username, &entry.IP, &entry.Status, &entry.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan login log row: %w", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM login_logs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count login logs: %w", err)
	}
	return logs, total, nil
}

// CountFailedLogins reports how many failed attempts an address has made
// since the cutoff, for login rate limiting.
func (s *Store) CountFailedLogins(ip string, since int64) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM login_logs WHERE ip = ? AND status = 'failure' AND created_at >= ?",
		ip, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed logins: %w", err)
	}
	return count, nil
}
