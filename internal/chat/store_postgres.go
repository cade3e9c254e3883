package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pigeon/internal/identity"
)

// PostgresStore implements conversation persistence over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// The chats table carries a UNIQUE (user_a, user_b) constraint with
// user_a < user_b, which makes GetOrCreateDirectChat race-safe.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the chat store (default "pigeon").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !identRe.MatchString(schema) {
			return fmt.Errorf("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "pigeon"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("chat: nil pool")
	}
	return st, nil
}

var _ Store = (*PostgresStore)(nil)

const chatColumns = `id, user_a, user_b, created_by, created_at`
const messageColumns = `id, chat_id, sender_id, text, media_type, media_url, server_ts`

func (s *PostgresStore) table(name string) string {
	return `"` + s.schema + `"."` + name + `"`
}

// GetOrCreateDirectChat returns the chat for the pair, creating it on first use.
func (s *PostgresStore) GetOrCreateDirectChat(ctx context.Context, creatorID, otherID string) (Chat, error) {
	const op = "chat.GetOrCreateDirectChat"

	creatorID = strings.TrimSpace(creatorID)
	otherID = strings.TrimSpace(otherID)
	if creatorID == "" || otherID == "" {
		return Chat{}, invalid(op, "missing participant")
	}
	if creatorID == otherID {
		return Chat{}, invalid(op, "cannot chat with self")
	}

	a, b := pairOf(creatorID, otherID)
	chats := s.table("chats")

	var c Chat
	err := s.pool.QueryRow(ctx,
		`SELECT `+chatColumns+` FROM `+chats+` WHERE user_a = $1 AND user_b = $2`,
		a, b,
	).Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedBy, &c.CreatedAt)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, err
	}

	now := time.Now().UTC()
	id, err := identity.NewULID(now)
	if err != nil {
		return Chat{}, err
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+chats+` (id, user_a, user_b, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+chatColumns,
		id, a, b, creatorID, now,
	).Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		// Lost a create race; the winner's row is the chat.
		if isUniqueViolation(err) {
			err = s.pool.QueryRow(ctx,
				`SELECT `+chatColumns+` FROM `+chats+` WHERE user_a = $1 AND user_b = $2`,
				a, b,
			).Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedBy, &c.CreatedAt)
			if err != nil {
				return Chat{}, err
			}
			return c, nil
		}
		return Chat{}, err
	}
	return c, nil
}

// GetChat loads a chat by id.
func (s *PostgresStore) GetChat(ctx context.Context, chatID string) (Chat, error) {
	const op = "chat.GetChat"

	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return Chat{}, invalid(op, "missing chat_id")
	}

	var c Chat
	err := s.pool.QueryRow(ctx,
		`SELECT `+chatColumns+` FROM `+s.table("chats")+` WHERE id = $1`,
		chatID,
	).Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, notFound(op, "chat")
	}
	if err != nil {
		return Chat{}, err
	}
	return c, nil
}

// AppendMessage stamps and persists a message.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "chat.AppendMessage"

	chatID := strings.TrimSpace(in.ChatID)
	senderID := strings.TrimSpace(in.SenderID)
	if chatID == "" || senderID == "" {
		return Message{}, invalid(op, "missing chat_id or sender_id")
	}
	if strings.TrimSpace(in.Text) == "" && strings.TrimSpace(in.MediaURL) == "" {
		return Message{}, invalid(op, "empty message")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := identity.NewULID(now)
	if err != nil {
		return Message{}, err
	}

	m := Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      in.Text,
		MediaType: in.MediaType,
		MediaURL:  in.MediaURL,
		ServerTS:  now,
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table("messages")+` (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ChatID, m.SenderID, m.Text, m.MediaType, m.MediaURL, m.ServerTS,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return Message{}, notFound(op, "chat")
		}
		return Message{}, err
	}
	return m, nil
}

// History returns up to limit messages in ascending server order.
func (s *PostgresStore) History(ctx context.Context, chatID string, limit int) ([]Message, error) {
	const op = "chat.History"

	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, invalid(op, "missing chat_id")
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM `+s.table("messages")+`
		  WHERE chat_id = $1
		  ORDER BY server_ts, id
		  LIMIT $2`,
		chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.MediaType, &m.MediaURL, &m.ServerTS); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ChatsOf lists every chat the user participates in, newest first.
func (s *PostgresStore) ChatsOf(ctx context.Context, userID string) ([]Chat, error) {
	const op = "chat.ChatsOf"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid(op, "missing user_id")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+chatColumns+` FROM `+s.table("chats")+`
		  WHERE user_a = $1 OR user_b = $1
		  ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
