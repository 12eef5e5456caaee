package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const promptColumns = `id, title, role, type, description, content, COALESCE(result, ''), COALESCE(tool, ''), author, views, likes, copy_count, created_at, updated_at`

func scanPrompt(row interface{ Scan(...any) error }) (Prompt, error) {
	var item Prompt
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Role,
		&item.Type,
		&item.Description,
		&item.Content,
		&item.Result,
		&item.Tool,
		&item.Author,
		&item.Views,
		&item.Likes,
		&item.CopyCount,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListPrompts(ctx context.Context) ([]Prompt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+promptColumns+`
		FROM prompts
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	items := make([]Prompt, 0)
	index := make(map[string]int)
	for rows.Next() {
		item, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		item.Comments = make([]Comment, 0)
		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompts: %w", err)
	}

	comments, err := s.listAllComments(ctx)
	if err != nil {
		return nil, err
	}
	for _, comment := range comments {
		if i, ok := index[comment.PromptID]; ok {
			items[i].Comments = append(items[i].Comments, comment)
		}
	}
	return items, nil
}

func (s *PostgresStore) listAllComments(ctx context.Context) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt_id, author, content, created_at
		FROM comments
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.PromptID, &item.Author, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetPrompt(ctx context.Context, promptID string) (Prompt, error) {
	if !validID(promptID) {
		return Prompt{}, sql.ErrNoRows
	}
	item, err := scanPrompt(s.db.QueryRowContext(ctx, `
		SELECT `+promptColumns+`
		FROM prompts
		WHERE id=$1
	`, promptID))
	if err != nil {
		return Prompt{}, err
	}
	item.Comments, err = s.ListComments(ctx, promptID)
	if err != nil {
		return Prompt{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, promptID string) ([]Comment, error) {
	if !validID(promptID) {
		return []Comment{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt_id, author, content, created_at
		FROM comments
		WHERE prompt_id=$1
		ORDER BY created_at ASC
	`, promptID)
	if err != nil {
		return nil, fmt.Errorf("list prompt comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.PromptID, &item.Author, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertPrompt(ctx context.Context, input NewPrompt) (Prompt, error) {
	item, err := scanPrompt(s.db.QueryRowContext(ctx, `
		INSERT INTO prompts (id, title, role, type, description, content, result, tool, author, secret_hash)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, ''))
		RETURNING `+promptColumns+`
	`, uuid.NewString(), input.Title, input.Role, input.Type, input.Description, input.Content, input.Result, input.Tool, input.Author, input.SecretHash))
	if err != nil {
		return Prompt{}, fmt.Errorf("insert prompt: %w", err)
	}
	item.Comments = make([]Comment, 0)
	return item, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, input NewComment) (Comment, error) {
	if !validID(input.PromptID) {
		return Comment{}, sql.ErrNoRows
	}
	var item Comment
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, prompt_id, author, content, secret_hash)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING id, prompt_id, author, content, created_at
	`, uuid.NewString(), input.PromptID, input.Author, input.Content, input.SecretHash).Scan(
		&item.ID,
		&item.PromptID,
		&item.Author,
		&item.Content,
		&item.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return Comment{}, sql.ErrNoRows
		}
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return item, nil
}

// IncrementCounter applies delta to one counter column as a single atomic
// UPDATE and returns the stored value. GREATEST keeps the column from ever
// dropping below zero; the value never passes through application code before
// the write, so concurrent calls cannot lose updates.
func (s *PostgresStore) IncrementCounter(ctx context.Context, promptID string, field CounterField, delta int) (int, error) {
	if !validID(promptID) {
		return 0, sql.ErrNoRows
	}
	var column string
	switch field {
	case FieldViews:
		column = "views"
	case FieldLikes:
		column = "likes"
	case FieldCopyCount:
		column = "copy_count"
	default:
		return 0, fmt.Errorf("unknown counter field %q", field)
	}
	var value int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE prompts
		SET %s = GREATEST(%s + $2, 0), updated_at = NOW()
		WHERE id=$1
		RETURNING %s
	`, column, column, column), promptID, delta).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, sql.ErrNoRows
	}
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", column, err)
	}
	return value, nil
}

// GetPromptSecretHash returns the stored hash for the mutation gateway. An
// empty hash with a nil error means the prompt exists but is unprotected.
func (s *PostgresStore) GetPromptSecretHash(ctx context.Context, promptID string) (string, error) {
	if !validID(promptID) {
		return "", sql.ErrNoRows
	}
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(secret_hash, '') FROM prompts WHERE id=$1`, promptID).Scan(&hash)
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (s *PostgresStore) GetCommentSecretHash(ctx context.Context, commentID string) (string, error) {
	if !validID(commentID) {
		return "", sql.ErrNoRows
	}
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(secret_hash, '') FROM comments WHERE id=$1`, commentID).Scan(&hash)
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (s *PostgresStore) UpdatePromptContent(ctx context.Context, promptID string, update PromptUpdate) (Prompt, error) {
	if !validID(promptID) {
		return Prompt{}, sql.ErrNoRows
	}
	item, err := scanPrompt(s.db.QueryRowContext(ctx, `
		UPDATE prompts
		SET title       = COALESCE($2, title),
		    role        = COALESCE($3, role),
		    type        = COALESCE($4, type),
		    description = COALESCE($5, description),
		    content     = COALESCE($6, content),
		    result      = COALESCE($7, result),
		    tool        = COALESCE($8, tool),
		    author      = COALESCE($9, author),
		    updated_at  = NOW()
		WHERE id=$1
		RETURNING `+promptColumns+`
	`, promptID, update.Title, update.Role, update.Type, update.Description, update.Content, update.Result, update.Tool, update.Author))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Prompt{}, sql.ErrNoRows
		}
		return Prompt{}, fmt.Errorf("update prompt: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateCommentContent(ctx context.Context, commentID string, author, content *string) (Comment, error) {
	if !validID(commentID) {
		return Comment{}, sql.ErrNoRows
	}
	var item Comment
	err := s.db.QueryRowContext(ctx, `
		UPDATE comments
		SET author     = COALESCE($2, author),
		    content    = COALESCE($3, content),
		    updated_at = NOW()
		WHERE id=$1
		RETURNING id, prompt_id, author, content, created_at
	`, commentID, author, content).Scan(
		&item.ID,
		&item.PromptID,
		&item.Author,
		&item.Content,
		&item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Comment{}, sql.ErrNoRows
		}
		return Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return item, nil
}

// DeletePrompt removes a prompt and its comments in one transaction. The FK
// cascade would cover the comments on its own; the explicit delete keeps the
// invariant visible and transactional even if the constraint changes.
func (s *PostgresStore) DeletePrompt(ctx context.Context, promptID string) error {
	if !validID(promptID) {
		return sql.ErrNoRows
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE prompt_id=$1`, promptID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete prompt comments: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM prompts WHERE id=$1`, promptID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete prompt: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete prompt rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	if !validID(commentID) {
		return sql.ErrNoRows
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// validID rejects ids that cannot be uuids before they hit a uuid column;
// Postgres would raise a type error instead of reporting zero rows, which
// leaks the difference between "malformed" and "absent".
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func isForeignKeyViolation(err error) bool {
	type coder interface{ SQLState() string }
	var pgErr coder
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23503"
	}
	return false
}
