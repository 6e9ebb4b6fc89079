package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhoulihan/workdesk/backend/internal/model/workorder"
)

// SQLiteStore implements TicketStore on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ticket store: open: %w", err)
	}

	// WAL keeps readers unblocked while streams flush deltas.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS work_orders (
			order_id         TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			category         TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL,
			tier             TEXT NOT NULL DEFAULT '',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,
			completed_at     TEXT,
			closed_by        TEXT NOT NULL DEFAULT '',
			deleted_by       TEXT NOT NULL DEFAULT '',
			manually_handled INTEGER NOT NULL DEFAULT 0,
			handling_time    TEXT
		);

		CREATE TABLE IF NOT EXISTS dialog_messages (
			order_id     TEXT NOT NULL REFERENCES work_orders(order_id),
			idx          INTEGER NOT NULL,
			id           TEXT NOT NULL,
			author       TEXT NOT NULL,
			author_id    TEXT NOT NULL,
			content_kind TEXT NOT NULL,
			content      TEXT NOT NULL,
			recalled     INTEGER NOT NULL DEFAULT 0,
			time         TEXT NOT NULL,
			PRIMARY KEY (order_id, idx)
		);

		CREATE INDEX IF NOT EXISTS idx_orders_user ON work_orders(user_id);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON work_orders(status);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateTicket(ctx context.Context, t workorder.Ticket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_orders (order_id, user_id, category, description, status, tier,
			created_at, updated_at, completed_at, closed_by, deleted_by, manually_handled, handling_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.OrderID, t.UserID, t.Category, t.Description, string(t.Status), t.Tier,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), formatTimePtr(t.CompletedAt),
		t.ClosedBy, t.DeletedBy, boolToInt(t.ManualHandling.IsManuallyHandled),
		formatTimePtr(t.ManualHandling.HandlingTime))
	if err != nil {
		return fmt.Errorf("%w: create: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) GetTicket(ctx context.Context, orderID string) (workorder.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, user_id, category, description, status, tier,
			created_at, updated_at, completed_at, closed_by, deleted_by, manually_handled, handling_time
		FROM work_orders WHERE order_id = ?
	`, orderID)

	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return workorder.Ticket{}, workorder.ErrOrderNotFound
		}
		return workorder.Ticket{}, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}

	dialog, err := s.GetDialog(ctx, orderID)
	if err != nil {
		return workorder.Ticket{}, err
	}
	t.Dialogs = dialog
	return t, nil
}

func (s *SQLiteStore) UpdateTicket(ctx context.Context, orderID string, upd TicketUpdate) error {
	query := "UPDATE work_orders SET updated_at = ?"
	args := []any{formatTime(time.Now().UTC())}

	if upd.Status != nil {
		query += ", status = ?"
		args = append(args, string(*upd.Status))
	}
	if upd.ClosedBy != nil {
		query += ", closed_by = ?"
		args = append(args, *upd.ClosedBy)
	}
	if upd.DeletedBy != nil {
		query += ", deleted_by = ?"
		args = append(args, *upd.DeletedBy)
	}
	if upd.CompletedAt != nil {
		query += ", completed_at = ?"
		args = append(args, formatTime(*upd.CompletedAt))
	}
	if upd.ManualHandling != nil {
		query += ", manually_handled = ?, handling_time = ?"
		args = append(args, boolToInt(upd.ManualHandling.IsManuallyHandled),
			formatTimePtr(upd.ManualHandling.HandlingTime))
	}

	query += " WHERE order_id = ?"
	args = append(args, orderID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: update: %v", ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update: %v", ErrUnavailable, err)
	}
	if affected == 0 {
		return workorder.ErrOrderNotFound
	}
	return nil
}

func (s *SQLiteStore) ListTickets(ctx context.Context, f Filter) ([]workorder.Ticket, int, error) {
	f = f.Normalize()

	where := " WHERE 1=1"
	var args []any
	if f.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.Category != "" {
		where += " AND category = ?"
		args = append(args, f.Category)
	}
	if !f.CreatedFrom.IsZero() {
		where += " AND created_at >= ?"
		args = append(args, formatTime(f.CreatedFrom))
	}
	if !f.CreatedTo.IsZero() {
		where += " AND created_at <= ?"
		args = append(args, formatTime(f.CreatedTo))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM work_orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: list count: %v", ErrUnavailable, err)
	}

	query := `SELECT order_id, user_id, category, description, status, tier,
		created_at, updated_at, completed_at, closed_by, deleted_by, manually_handled, handling_time
		FROM work_orders` + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	tickets := make([]workorder.Ticket, 0, f.PageSize)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: list scan: %v", ErrUnavailable, err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: list rows: %v", ErrUnavailable, err)
	}
	return tickets, total, nil
}

func (s *SQLiteStore) AppendDialog(ctx context.Context, orderID string, msg workorder.Message) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: append: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	idx, err := s.nextIndex(ctx, tx, orderID)
	if err != nil {
		return 0, err
	}
	if err := insertMessage(ctx, tx, orderID, idx, msg); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: append commit: %v", ErrUnavailable, err)
	}
	return idx, nil
}

func (s *SQLiteStore) ReplaceLastDialog(ctx context.Context, orderID string, pred func(workorder.Message) bool, msg workorder.Message) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: replace: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if err := s.ensureOrder(ctx, tx, orderID); err != nil {
		return 0, err
	}

	row := tx.QueryRowContext(ctx, `
		SELECT idx, id, author, author_id, content_kind, content, recalled, time
		FROM dialog_messages WHERE order_id = ? ORDER BY idx DESC LIMIT 1
	`, orderID)

	var idx int
	last, err := scanMessage(row, &idx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		idx = 0
	case err != nil:
		return 0, fmt.Errorf("%w: replace load: %v", ErrUnavailable, err)
	case pred(last):
		if _, err := tx.ExecContext(ctx, `
			UPDATE dialog_messages SET id = ?, author = ?, author_id = ?, content_kind = ?, content = ?, recalled = ?, time = ?
			WHERE order_id = ? AND idx = ?
		`, msg.ID, string(msg.Author), msg.AuthorID, string(msg.Content.Kind), contentValue(msg.Content),
			boolToInt(msg.Recalled), formatTime(msg.Time), orderID, idx); err != nil {
			return 0, fmt.Errorf("%w: replace update: %v", ErrUnavailable, err)
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("%w: replace commit: %v", ErrUnavailable, err)
		}
		return idx, nil
	default:
		idx++
	}

	if err := insertMessage(ctx, tx, orderID, idx, msg); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: replace commit: %v", ErrUnavailable, err)
	}
	return idx, nil
}

func (s *SQLiteStore) MarkRecalled(ctx context.Context, orderID string, index int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE dialog_messages SET recalled = 1 WHERE order_id = ? AND idx = ?", orderID, index)
	if err != nil {
		return fmt.Errorf("%w: recall: %v", ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: recall: %v", ErrUnavailable, err)
	}
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM work_orders WHERE order_id = ?", orderID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return workorder.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: recall: %v", ErrUnavailable, err)
		}
		return workorder.ErrMessageNotFound
	}
	return nil
}

func (s *SQLiteStore) GetDialog(ctx context.Context, orderID string) ([]workorder.Message, error) {
	if err := s.ensureOrder(ctx, s.db, orderID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, id, author, author_id, content_kind, content, recalled, time
		FROM dialog_messages WHERE order_id = ? ORDER BY idx ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: dialog: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var dialog []workorder.Message
	for rows.Next() {
		var idx int
		msg, err := scanMessage(rows, &idx)
		if err != nil {
			return nil, fmt.Errorf("%w: dialog scan: %v", ErrUnavailable, err)
		}
		dialog = append(dialog, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: dialog rows: %v", ErrUnavailable, err)
	}
	if dialog == nil {
		dialog = []workorder.Message{}
	}
	return dialog, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) ensureOrder(ctx context.Context, q querier, orderID string) error {
	var exists int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM work_orders WHERE order_id = ?", orderID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return workorder.ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: lookup: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) nextIndex(ctx context.Context, tx *sql.Tx, orderID string) (int, error) {
	if err := s.ensureOrder(ctx, tx, orderID); err != nil {
		return 0, err
	}
	var idx int
	err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(idx) + 1, 0) FROM dialog_messages WHERE order_id = ?", orderID).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("%w: next index: %v", ErrUnavailable, err)
	}
	return idx, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, orderID string, idx int, msg workorder.Message) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO dialog_messages (order_id, idx, id, author, author_id, content_kind, content, recalled, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, orderID, idx, msg.ID, string(msg.Author), msg.AuthorID, string(msg.Content.Kind),
		contentValue(msg.Content), boolToInt(msg.Recalled), formatTime(msg.Time))
	if err != nil {
		return fmt.Errorf("%w: insert message: %v", ErrUnavailable, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (workorder.Ticket, error) {
	var (
		t                        workorder.Ticket
		status                   string
		createdAt, updatedAt     string
		completedAt, handlingRaw sql.NullString
		manuallyHandled          int
	)
	if err := row.Scan(&t.OrderID, &t.UserID, &t.Category, &t.Description, &status, &t.Tier,
		&createdAt, &updatedAt, &completedAt, &t.ClosedBy, &t.DeletedBy, &manuallyHandled, &handlingRaw); err != nil {
		return workorder.Ticket{}, err
	}

	t.Status = workorder.Status(status)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if completedAt.Valid && completedAt.String != "" {
		v := parseTime(completedAt.String)
		t.CompletedAt = &v
	}
	t.ManualHandling.IsManuallyHandled = manuallyHandled != 0
	if handlingRaw.Valid && handlingRaw.String != "" {
		v := parseTime(handlingRaw.String)
		t.ManualHandling.HandlingTime = &v
	}
	return t, nil
}

func scanMessage(row rowScanner, idx *int) (workorder.Message, error) {
	var (
		msg          workorder.Message
		author, kind string
		content      string
		recalled     int
		rawTime      string
	)
	if err := row.Scan(idx, &msg.ID, &author, &msg.AuthorID, &kind, &content, &recalled, &rawTime); err != nil {
		return workorder.Message{}, err
	}

	msg.Author = workorder.AuthorKind(author)
	msg.Recalled = recalled != 0
	msg.Time = parseTime(rawTime)
	switch workorder.ContentKind(kind) {
	case workorder.ContentFile:
		msg.Content = workorder.FileContent(content)
	default:
		msg.Content = workorder.TextContent(content)
	}
	return msg, nil
}

func contentValue(c workorder.Content) string {
	if c.Kind == workorder.ContentFile {
		return c.FileURL
	}
	return c.Text
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
