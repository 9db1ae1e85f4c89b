package imessage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// messageRow is one unread message joined with its handle and chat rows.
type messageRow struct {
	RowID          int64
	GUID           string
	Text           sql.NullString
	DateNS         int64
	HasAttachments bool
	Sender         sql.NullString
	ChatIdentifier sql.NullString
	DisplayName    sql.NullString
	GroupID        sql.NullString
}

type attachmentRow struct {
	MessageID    int64
	Filename     sql.NullString
	MimeType     sql.NullString
	TransferName sql.NullString
	TotalBytes   sql.NullInt64
}

// openChatDB opens the Messages database read-only. The agent never writes
// to chat.db; mode=ro keeps sqlite from creating journal files next to it.
func openChatDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open chat database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open chat database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}

func maxRowID(ctx context.Context, db *sql.DB) (int64, error) {
	var id int64
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(ROWID), 0) FROM message").Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// fetchMessages returns incoming messages above the watermark in ROWID
// order, at most limit rows.
func fetchMessages(ctx context.Context, db *sql.DB, watermark int64, limit int) ([]messageRow, error) {
	const q = `
		SELECT m.ROWID, m.guid, m.text, m.date, m.cache_has_attachments,
		       h.id, c.chat_identifier, c.display_name, c.group_id
		FROM message m
		LEFT JOIN handle h ON h.ROWID = m.handle_id
		LEFT JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
		LEFT JOIN chat c ON c.ROWID = cmj.chat_id
		WHERE m.ROWID > ? AND m.is_from_me = 0
		ORDER BY m.ROWID ASC
		LIMIT ?`

	rows, err := db.QueryContext(ctx, q, watermark, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []messageRow
	for rows.Next() {
		var r messageRow
		var hasAttachments sql.NullInt64
		if err := rows.Scan(&r.RowID, &r.GUID, &r.Text, &r.DateNS, &hasAttachments,
			&r.Sender, &r.ChatIdentifier, &r.DisplayName, &r.GroupID); err != nil {
			return nil, err
		}
		r.HasAttachments = hasAttachments.Int64 != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// fetchAttachments returns attachment metadata grouped by message id for
// exactly the given messages.
func fetchAttachments(ctx context.Context, db *sql.DB, messageIDs []int64) (map[int64][]attachmentRow, error) {
	if len(messageIDs) == 0 {
		return map[int64][]attachmentRow{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messageIDs)), ",")
	q := fmt.Sprintf(`
		SELECT maj.message_id, a.filename, a.mime_type, a.transfer_name, a.total_bytes
		FROM message_attachment_join maj
		JOIN attachment a ON a.ROWID = maj.attachment_id
		WHERE maj.message_id IN (%s)
		ORDER BY maj.message_id ASC, a.ROWID ASC`, placeholders)

	args := make([]interface{}, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]attachmentRow)
	for rows.Next() {
		var a attachmentRow
		if err := rows.Scan(&a.MessageID, &a.Filename, &a.MimeType, &a.TransferName, &a.TotalBytes); err != nil {
			return nil, err
		}
		out[a.MessageID] = append(out[a.MessageID], a)
	}
	return out, rows.Err()
}

// isSchemaErr distinguishes a chat.db layout we do not understand from
// transient busy/locked failures.
func isSchemaErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "no such table") || strings.Contains(s, "no such column")
}
