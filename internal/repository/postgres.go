package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"pairchat/internal/domain"
)

// Postgres persists messages in a single append-only table. No transactions
// are needed: inserts are independent and MarkSeen is a commutative update.
type Postgres struct {
	DB *sql.DB
}

func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Postgres{DB: db}, nil
}

// EnsureSchema creates the messages table and the lookup indexes: the
// (sender, recipient) pair in both directions and recipient alone for unseen
// counts.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id         UUID PRIMARY KEY,
			sender     TEXT NOT NULL,
			recipient  TEXT NOT NULL,
			content    TEXT NOT NULL,
			seen       BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (sender, recipient)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient_seen ON messages (recipient, seen)`,
	}
	for _, s := range stmts {
		if _, err := p.DB.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, sender, recipient, content string) (domain.Message, error) {
	msg := domain.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO messages (id, sender, recipient, content, seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		msg.ID,
		msg.Sender,
		msg.Recipient,
		msg.Content,
		msg.Seen,
		msg.CreatedAt,
	)
	if err != nil {
		return domain.Message{}, err
	}

	return msg, nil
}

func (p *Postgres) MarkSeen(ctx context.Context, senderID, recipientID string) (int64, error) {
	res, err := p.DB.ExecContext(ctx, `
		UPDATE messages
		SET seen = TRUE
		WHERE sender = $1
		  AND recipient = $2
		  AND seen = FALSE
	`, senderID, recipientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *Postgres) ListForUser(ctx context.Context, userID string, limit, offset int) ([]domain.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := p.DB.QueryContext(ctx, `
		SELECT id, sender, recipient, content, seen, created_at
		FROM messages
		WHERE sender = $1 OR recipient = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (p *Postgres) Conversation(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	rows, err := p.DB.QueryContext(ctx, `
		SELECT id, sender, recipient, content, seen, created_at
		FROM messages
		WHERE (sender = $1 AND recipient = $2)
		   OR (sender = $2 AND recipient = $1)
		ORDER BY created_at ASC
	`, userA, userB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (p *Postgres) CountUnseen(ctx context.Context, recipientID string) (map[string]int64, error) {
	rows, err := p.DB.QueryContext(ctx, `
		SELECT sender, COUNT(*)
		FROM messages
		WHERE recipient = $1
		  AND seen = FALSE
		GROUP BY sender
	`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var sender string
		var n int64
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, err
		}
		counts[sender] = n
	}
	return counts, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.Sender,
			&msg.Recipient,
			&msg.Content,
			&msg.Seen,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
