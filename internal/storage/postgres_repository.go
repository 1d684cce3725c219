package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"driftcast/internal/models"
)

const uniqueViolation = "23505"

// PostgresStorage is the pgx-backed Repository used in production.
type PostgresStorage struct {
	pool          *pgxpool.Pool
	broadcastBase string
}

// NewPostgresStorage connects, applies migrations, and returns the store.
func NewPostgresStorage(ctx context.Context, dsn, broadcastBase string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if broadcastBase == "" {
		broadcastBase = defaultBroadcastBase
	}
	return &PostgresStorage{pool: pool, broadcastBase: strings.TrimRight(broadcastBase, "/")}, nil
}

// Close releases the connection pool.
func (p *PostgresStorage) Close() {
	p.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (p *PostgresStorage) GetOrCreateCredential(ctx context.Context, ownerID string, profile OwnerProfileParams) (models.StreamCredential, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return models.StreamCredential{}, fmt.Errorf("owner id is required")
	}
	now := time.Now().UTC()

	displayName := strings.TrimSpace(profile.DisplayName)
	if displayName == "" {
		displayName = ownerID
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO owner_profiles (owner_id, display_name, avatar_url, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE owner_profiles.display_name END,
			avatar_url = CASE WHEN EXCLUDED.avatar_url <> '' THEN EXCLUDED.avatar_url ELSE owner_profiles.avatar_url END,
			updated_at = EXCLUDED.updated_at`,
		ownerID, displayName, strings.TrimSpace(profile.AvatarURL), now)
	if err != nil {
		return models.StreamCredential{}, fmt.Errorf("upsert profile: %w", err)
	}

	if credential, ok, err := p.CredentialByOwner(ctx, ownerID); err != nil {
		return models.StreamCredential{}, err
	} else if ok {
		return credential, nil
	}

	key, err := newStreamKey()
	if err != nil {
		return models.StreamCredential{}, err
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return models.StreamCredential{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO stream_credentials (owner_id, stream_key, broadcast_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		ownerID, key, p.broadcastBase, now)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a create race; read the winner's row.
			credential, _, lookupErr := p.CredentialByOwner(ctx, ownerID)
			if lookupErr != nil {
				return models.StreamCredential{}, lookupErr
			}
			return credential, nil
		}
		return models.StreamCredential{}, fmt.Errorf("insert credential: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO stream_sessions (id, owner_id, stream_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		newID(), ownerID, key, now)
	if err != nil {
		return models.StreamCredential{}, fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.StreamCredential{}, fmt.Errorf("commit: %w", err)
	}
	return models.StreamCredential{
		OwnerID:      ownerID,
		StreamKey:    key,
		BroadcastURL: p.broadcastBase,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (p *PostgresStorage) CredentialByOwner(ctx context.Context, ownerID string) (models.StreamCredential, bool, error) {
	var credential models.StreamCredential
	err := p.pool.QueryRow(ctx, `
		SELECT owner_id, stream_key, broadcast_url, created_at, updated_at
		FROM stream_credentials WHERE owner_id = $1`,
		strings.TrimSpace(ownerID)).Scan(
		&credential.OwnerID, &credential.StreamKey, &credential.BroadcastURL,
		&credential.CreatedAt, &credential.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StreamCredential{}, false, nil
	}
	if err != nil {
		return models.StreamCredential{}, false, fmt.Errorf("query credential: %w", err)
	}
	return credential, true, nil
}

func (p *PostgresStorage) RegenerateKey(ctx context.Context, ownerID string) (models.StreamCredential, error) {
	ownerID = strings.TrimSpace(ownerID)
	key, err := newStreamKey()
	if err != nil {
		return models.StreamCredential{}, err
	}
	now := time.Now().UTC()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return models.StreamCredential{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var credential models.StreamCredential
	err = tx.QueryRow(ctx, `
		UPDATE stream_credentials SET stream_key = $1, updated_at = $2
		WHERE owner_id = $3
		RETURNING owner_id, stream_key, broadcast_url, created_at, updated_at`,
		key, now, ownerID).Scan(
		&credential.OwnerID, &credential.StreamKey, &credential.BroadcastURL,
		&credential.CreatedAt, &credential.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StreamCredential{}, ErrNotFound
	}
	if err != nil {
		return models.StreamCredential{}, fmt.Errorf("rotate key: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE stream_sessions SET stream_key = $1, is_active = FALSE, updated_at = $2
		WHERE owner_id = $3`,
		key, now, ownerID)
	if err != nil {
		return models.StreamCredential{}, fmt.Errorf("move session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.StreamCredential{}, fmt.Errorf("commit: %w", err)
	}
	return credential, nil
}

func (p *PostgresStorage) UpdateSessionDetails(ctx context.Context, ownerID string, update SessionDetailsUpdate) (models.StreamSession, error) {
	session, err := scanSession(p.pool.QueryRow(ctx, `
		UPDATE stream_sessions SET
			title = COALESCE($1, title),
			description = COALESCE($2, description),
			thumbnail_url = COALESCE($3, thumbnail_url),
			updated_at = $4
		WHERE owner_id = $5
		RETURNING `+sessionColumns,
		trimPtr(update.Title), trimPtr(update.Description), trimPtr(update.ThumbnailURL),
		time.Now().UTC(), strings.TrimSpace(ownerID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StreamSession{}, ErrNotFound
	}
	if err != nil {
		return models.StreamSession{}, fmt.Errorf("update session: %w", err)
	}
	return session, nil
}

const sessionColumns = `id, owner_id, stream_key, is_active, title, description, thumbnail_url, last_active_at, created_at, updated_at`

func scanSession(row pgx.Row) (models.StreamSession, error) {
	var session models.StreamSession
	err := row.Scan(
		&session.ID, &session.OwnerID, &session.StreamKey, &session.IsActive,
		&session.Title, &session.Description, &session.ThumbnailURL,
		&session.LastActiveAt, &session.CreatedAt, &session.UpdatedAt)
	return session, err
}

func trimPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}

func (p *PostgresStorage) LookupByKey(ctx context.Context, streamKey string) (models.StreamSession, bool, error) {
	session, err := scanSession(p.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM stream_sessions WHERE stream_key = $1`,
		strings.TrimSpace(streamKey)))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StreamSession{}, false, nil
	}
	if err != nil {
		return models.StreamSession{}, false, fmt.Errorf("lookup session: %w", err)
	}
	return session, true, nil
}

func (p *PostgresStorage) SessionByOwner(ctx context.Context, ownerID string) (models.StreamSession, bool, error) {
	session, err := scanSession(p.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM stream_sessions WHERE owner_id = $1`,
		strings.TrimSpace(ownerID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StreamSession{}, false, nil
	}
	if err != nil {
		return models.StreamSession{}, false, fmt.Errorf("lookup session: %w", err)
	}
	return session, true, nil
}

func (p *PostgresStorage) ListActive(ctx context.Context) ([]models.LiveStream, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT s.id, s.owner_id, s.stream_key, s.is_active, s.title, s.description,
			s.thumbnail_url, s.last_active_at, s.created_at, s.updated_at,
			COALESCE(o.display_name, s.owner_id), COALESCE(o.avatar_url, ''), COALESCE(o.updated_at, s.updated_at)
		FROM stream_sessions s
		LEFT JOIN owner_profiles o ON o.owner_id = s.owner_id
		WHERE s.is_active
		ORDER BY COALESCE(s.last_active_at, s.updated_at) DESC, s.id`)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()

	live := make([]models.LiveStream, 0)
	for rows.Next() {
		var entry models.LiveStream
		err := rows.Scan(
			&entry.Session.ID, &entry.Session.OwnerID, &entry.Session.StreamKey,
			&entry.Session.IsActive, &entry.Session.Title, &entry.Session.Description,
			&entry.Session.ThumbnailURL, &entry.Session.LastActiveAt,
			&entry.Session.CreatedAt, &entry.Session.UpdatedAt,
			&entry.Owner.DisplayName, &entry.Owner.AvatarURL, &entry.Owner.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan live stream: %w", err)
		}
		entry.Owner.OwnerID = entry.Session.OwnerID
		live = append(live, entry)
	}
	return live, rows.Err()
}

func (p *PostgresStorage) SetActive(ctx context.Context, streamKey string, active bool) (StreamTransition, error) {
	now := time.Now().UTC()
	var transition StreamTransition
	err := p.pool.QueryRow(ctx, `
		UPDATE stream_sessions s SET
			is_active = $1,
			updated_at = $2,
			last_active_at = CASE WHEN $1 OR prev.is_active THEN $2 ELSE prev.last_active_at END
		FROM stream_sessions prev
		WHERE s.stream_key = $3 AND prev.id = s.id
		RETURNING s.id, s.owner_id, s.stream_key, s.is_active, s.title,
			s.description, s.thumbnail_url, s.last_active_at, s.created_at,
			s.updated_at, prev.is_active`,
		active, now, strings.TrimSpace(streamKey)).Scan(
		&transition.Session.ID, &transition.Session.OwnerID, &transition.Session.StreamKey,
		&transition.Session.IsActive, &transition.Session.Title, &transition.Session.Description,
		&transition.Session.ThumbnailURL, &transition.Session.LastActiveAt,
		&transition.Session.CreatedAt, &transition.Session.UpdatedAt, &transition.WasActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return StreamTransition{}, ErrNotFound
	}
	if err != nil {
		return StreamTransition{}, fmt.Errorf("set active: %w", err)
	}
	return transition, nil
}

func (p *PostgresStorage) CreateVideo(ctx context.Context, params CreateVideoParams) (models.VideoAsset, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.VideoAsset{}, fmt.Errorf("title is required")
	}
	if strings.TrimSpace(params.MediaURL) == "" {
		return models.VideoAsset{}, fmt.Errorf("media url is required")
	}
	now := time.Now().UTC()
	asset := models.VideoAsset{
		ID:           newID(),
		Title:        title,
		StreamKey:    strings.TrimSpace(params.StreamKey),
		SourcePath:   strings.TrimSpace(params.SourcePath),
		MediaURL:     strings.TrimSpace(params.MediaURL),
		ThumbnailURL: strings.TrimSpace(params.ThumbnailURL),
		Status:       models.VideoStatusPrivate,
		UploaderID:   strings.TrimSpace(params.UploaderID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO video_assets (id, title, stream_key, source_path, media_url, thumbnail_url, status, uploader_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		asset.ID, asset.Title, asset.StreamKey, asset.SourcePath, asset.MediaURL,
		asset.ThumbnailURL, asset.Status, asset.UploaderID, now)
	if err != nil {
		if isUniqueViolation(err) {
			return models.VideoAsset{}, ErrConflict
		}
		return models.VideoAsset{}, fmt.Errorf("insert video: %w", err)
	}
	return asset, nil
}

const videoColumns = `id, title, stream_key, source_path, media_url, thumbnail_url, status, uploader_id, created_at, updated_at`

func scanVideo(row pgx.Row) (models.VideoAsset, error) {
	var asset models.VideoAsset
	err := row.Scan(
		&asset.ID, &asset.Title, &asset.StreamKey, &asset.SourcePath,
		&asset.MediaURL, &asset.ThumbnailURL, &asset.Status, &asset.UploaderID,
		&asset.CreatedAt, &asset.UpdatedAt)
	return asset, err
}

func (p *PostgresStorage) VideoByID(ctx context.Context, id string) (models.VideoAsset, bool, error) {
	asset, err := scanVideo(p.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM video_assets WHERE id = $1`, strings.TrimSpace(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.VideoAsset{}, false, nil
	}
	if err != nil {
		return models.VideoAsset{}, false, fmt.Errorf("query video: %w", err)
	}
	return asset, true, nil
}

func (p *PostgresStorage) PublicVideoByID(ctx context.Context, id string) (models.VideoAsset, error) {
	asset, err := scanVideo(p.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM video_assets WHERE id = $1 AND status = $2`,
		strings.TrimSpace(id), models.VideoStatusPublic))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.VideoAsset{}, ErrNotFound
	}
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("query video: %w", err)
	}
	return asset, nil
}

func (p *PostgresStorage) queryVideos(ctx context.Context, query string, args ...any) ([]models.VideoAsset, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query videos: %w", err)
	}
	defer rows.Close()

	assets := make([]models.VideoAsset, 0)
	for rows.Next() {
		asset, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func (p *PostgresStorage) ListPublicVideos(ctx context.Context) ([]models.VideoAsset, error) {
	return p.queryVideos(ctx,
		`SELECT `+videoColumns+` FROM video_assets WHERE status = $1 ORDER BY created_at DESC, id`,
		models.VideoStatusPublic)
}

func (p *PostgresStorage) VideosByUploader(ctx context.Context, uploaderID string) ([]models.VideoAsset, error) {
	uploaderID = strings.TrimSpace(uploaderID)
	if uploaderID == "" {
		return []models.VideoAsset{}, nil
	}
	return p.queryVideos(ctx,
		`SELECT `+videoColumns+` FROM video_assets WHERE uploader_id = $1 ORDER BY created_at DESC, id`,
		uploaderID)
}

func (p *PostgresStorage) VideosByStreamKey(ctx context.Context, streamKey string) ([]models.VideoAsset, error) {
	return p.queryVideos(ctx,
		`SELECT `+videoColumns+` FROM video_assets WHERE stream_key = $1 AND status = $2 ORDER BY created_at DESC, id`,
		strings.TrimSpace(streamKey), models.VideoStatusPublic)
}

func (p *PostgresStorage) SetVideoStatus(ctx context.Context, id, actingUserID, status string) (models.VideoAsset, error) {
	if status != models.VideoStatusPublic && status != models.VideoStatusPrivate {
		return models.VideoAsset{}, fmt.Errorf("invalid video status %q", status)
	}
	return p.mutateVideo(ctx, id, actingUserID, func(asset models.VideoAsset) (models.VideoAsset, error) {
		asset.Status = status
		return asset, nil
	})
}

func (p *PostgresStorage) UpdateVideo(ctx context.Context, id, actingUserID string, update VideoUpdate) (models.VideoAsset, error) {
	return p.mutateVideo(ctx, id, actingUserID, func(asset models.VideoAsset) (models.VideoAsset, error) {
		if update.Title != nil {
			title := strings.TrimSpace(*update.Title)
			if title == "" {
				return models.VideoAsset{}, fmt.Errorf("title cannot be empty")
			}
			asset.Title = title
		}
		if update.ThumbnailURL != nil {
			asset.ThumbnailURL = strings.TrimSpace(*update.ThumbnailURL)
		}
		return asset, nil
	})
}

// mutateVideo applies the ownership check and the merge inside one
// transaction so concurrent mutations serialize on the row lock.
func (p *PostgresStorage) mutateVideo(ctx context.Context, id, actingUserID string, apply func(models.VideoAsset) (models.VideoAsset, error)) (models.VideoAsset, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	asset, err := scanVideo(tx.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM video_assets WHERE id = $1 FOR UPDATE`,
		strings.TrimSpace(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.VideoAsset{}, ErrNotFound
	}
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("lock video: %w", err)
	}
	if !asset.OwnedBy(actingUserID) {
		return models.VideoAsset{}, ErrUnauthorized
	}
	asset, err = apply(asset)
	if err != nil {
		return models.VideoAsset{}, err
	}
	asset.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE video_assets SET title = $1, thumbnail_url = $2, status = $3, updated_at = $4
		WHERE id = $5`,
		asset.Title, asset.ThumbnailURL, asset.Status, asset.UpdatedAt, asset.ID)
	if err != nil {
		return models.VideoAsset{}, fmt.Errorf("update video: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.VideoAsset{}, fmt.Errorf("commit: %w", err)
	}
	return asset, nil
}

func (p *PostgresStorage) DeleteVideo(ctx context.Context, id, actingUserID string) error {
	asset, ok, err := p.VideoByID(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if !asset.OwnedBy(actingUserID) {
		return ErrUnauthorized
	}
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM video_assets WHERE id = $1 AND uploader_id = $2`,
		asset.ID, strings.TrimSpace(actingUserID))
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStorage) CreateChatMessage(ctx context.Context, authorID, text string) (models.ChatMessage, error) {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return models.ChatMessage{}, fmt.Errorf("author id is required")
	}
	if strings.TrimSpace(text) == "" {
		return models.ChatMessage{}, fmt.Errorf("message text is required")
	}
	message := models.ChatMessage{
		ID:        newID(),
		AuthorID:  authorID,
		Text:      text,
		Status:    models.ChatStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, author_id, body, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		message.ID, message.AuthorID, message.Text, message.Status, message.CreatedAt)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("insert message: %w", err)
	}
	return message, nil
}

const messageColumns = `id, author_id, body, status, created_at, edited_at`

func scanMessage(row pgx.Row) (models.ChatMessage, error) {
	var message models.ChatMessage
	err := row.Scan(&message.ID, &message.AuthorID, &message.Text, &message.Status,
		&message.CreatedAt, &message.EditedAt)
	return message, err
}

func (p *PostgresStorage) PendingMessages(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE status = $1 ORDER BY created_at`
	args := []any{models.ChatStatusPending}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending messages: %w", err)
	}
	defer rows.Close()

	pending := make([]models.ChatMessage, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		pending = append(pending, message)
	}
	return pending, rows.Err()
}

func (p *PostgresStorage) MessageByID(ctx context.Context, id string) (models.ChatMessage, bool, error) {
	message, err := scanMessage(p.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM chat_messages WHERE id = $1`, strings.TrimSpace(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ChatMessage{}, false, nil
	}
	if err != nil {
		return models.ChatMessage{}, false, fmt.Errorf("query message: %w", err)
	}
	return message, true, nil
}

func (p *PostgresStorage) FinalizeMessage(ctx context.Context, id, status, text string) (models.ChatMessage, error) {
	if status != models.ChatStatusApproved && status != models.ChatStatusRejected {
		return models.ChatMessage{}, fmt.Errorf("invalid chat status %q", status)
	}
	now := time.Now().UTC()
	message, err := scanMessage(p.pool.QueryRow(ctx, `
		UPDATE chat_messages SET
			status = $1,
			body = CASE WHEN $1 = 'rejected' THEN $2 ELSE body END,
			edited_at = CASE WHEN $1 = 'rejected' THEN $3 ELSE edited_at END
		WHERE id = $4 AND status = 'pending'
		RETURNING `+messageColumns,
		status, text, now, strings.TrimSpace(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		// Row missing, or already finalized by another worker.
		existing, ok, lookupErr := p.MessageByID(ctx, id)
		if lookupErr != nil {
			return models.ChatMessage{}, lookupErr
		}
		if !ok {
			return models.ChatMessage{}, ErrNotFound
		}
		return existing, ErrConflict
	}
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("finalize message: %w", err)
	}
	return message, nil
}

func (p *PostgresStorage) DeleteMessage(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM chat_messages WHERE id = $1`, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStorage) SanctionFor(ctx context.Context, userID string) (models.UserSanction, bool, error) {
	var sanction models.UserSanction
	err := p.pool.QueryRow(ctx, `
		SELECT user_id, banned, muted_until, strikes, updated_at
		FROM user_sanctions WHERE user_id = $1`,
		strings.TrimSpace(userID)).Scan(
		&sanction.UserID, &sanction.Banned, &sanction.MutedUntil,
		&sanction.Strikes, &sanction.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserSanction{}, false, nil
	}
	if err != nil {
		return models.UserSanction{}, false, fmt.Errorf("query sanction: %w", err)
	}
	return sanction, true, nil
}

func (p *PostgresStorage) ApplySanction(ctx context.Context, sanction models.UserSanction) error {
	sanction.UserID = strings.TrimSpace(sanction.UserID)
	if sanction.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO user_sanctions (user_id, banned, muted_until, strikes, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			banned = EXCLUDED.banned,
			muted_until = EXCLUDED.muted_until,
			strikes = EXCLUDED.strikes,
			updated_at = EXCLUDED.updated_at`,
		sanction.UserID, sanction.Banned, sanction.MutedUntil, sanction.Strikes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("apply sanction: %w", err)
	}
	return nil
}

func (p *PostgresStorage) EscalateSanction(ctx context.Context, userID string, now time.Time) (models.UserSanction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return models.UserSanction{}, fmt.Errorf("user id is required")
	}
	mutedUntil := now.Add(muteDuration)
	var sanction models.UserSanction
	err := p.pool.QueryRow(ctx, `
		INSERT INTO user_sanctions (user_id, banned, muted_until, strikes, updated_at)
		VALUES ($1, FALSE, $2, 1, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			strikes = user_sanctions.strikes + 1,
			banned = user_sanctions.strikes + 1 >= $4,
			muted_until = CASE WHEN user_sanctions.strikes + 1 >= $4 THEN NULL ELSE $2 END,
			updated_at = $3
		RETURNING user_id, banned, muted_until, strikes, updated_at`,
		userID, mutedUntil, time.Now().UTC(), muteStrikeLimit).Scan(
		&sanction.UserID, &sanction.Banned, &sanction.MutedUntil,
		&sanction.Strikes, &sanction.UpdatedAt)
	if err != nil {
		return models.UserSanction{}, fmt.Errorf("escalate sanction: %w", err)
	}
	return sanction, nil
}

func (p *PostgresStorage) CreateReport(ctx context.Context, reporterID string, params CreateReportParams) (models.Report, error) {
	reporterID = strings.TrimSpace(reporterID)
	if reporterID == "" {
		return models.Report{}, fmt.Errorf("reporter id is required")
	}
	if strings.TrimSpace(params.ReportedContentID) == "" {
		return models.Report{}, fmt.Errorf("reported content id is required")
	}
	if strings.TrimSpace(params.ReportedUserID) == "" {
		return models.Report{}, fmt.Errorf("reported user id is required")
	}
	if !models.ValidReportContentType(params.ContentType) {
		return models.Report{}, fmt.Errorf("invalid content type %q", params.ContentType)
	}
	if strings.TrimSpace(params.Reason) == "" {
		return models.Report{}, fmt.Errorf("reason is required")
	}
	report := models.Report{
		ID:                newID(),
		ReportedContentID: strings.TrimSpace(params.ReportedContentID),
		ReportedUserID:    strings.TrimSpace(params.ReportedUserID),
		ContentType:       strings.TrimSpace(params.ContentType),
		Reason:            strings.TrimSpace(params.Reason),
		ReporterID:        reporterID,
		Status:            models.ReportStatusNew,
		CreatedAt:         time.Now().UTC(),
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO reports (id, reported_content_id, reported_user_id, content_type, reason, reporter_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		report.ID, report.ReportedContentID, report.ReportedUserID, report.ContentType,
		report.Reason, report.ReporterID, report.Status, report.CreatedAt)
	if err != nil {
		return models.Report{}, fmt.Errorf("insert report: %w", err)
	}
	return report, nil
}
