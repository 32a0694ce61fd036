package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"streamhub/internal/auth"
	"streamhub/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresRepository stores the catalog in Postgres through a pgx pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
	opts options
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository opens a pool for dsn and applies the schema.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (*PostgresRepository, error) {
	cfg := newOptions(opts...)
	poolCfg, err := newPostgresPoolConfig(dsn, cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := EnsurePostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRepository{pool: pool, opts: cfg}, nil
}

// Pool exposes the underlying pool so other components, such as the session
// store, can share connections.
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollbackTx(ctx, tx)
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Users

const userSelect = `SELECT u.id, u.username, u.email, u.avatar_url, u.password_hash, u.created_at,
	COALESCE((SELECT array_agg(l.video_id ORDER BY l.liked_at, l.video_id) FROM video_likes l WHERE l.user_id = u.id), ARRAY[]::TEXT[]),
	COALESCE((SELECT array_agg(h.video_id ORDER BY h.watched_at, h.video_id) FROM watch_history h WHERE h.user_id = u.id), ARRAY[]::TEXT[])
	FROM users u`

func scanUser(row rowScanner) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.AvatarURL, &user.PasswordHash, &user.CreatedAt, &user.LikedVideos, &user.WatchHistory)
	if err != nil {
		return models.User{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	params, err := params.normalize()
	if err != nil {
		return models.User{}, err
	}
	hash, err := auth.HashPasswordWithIterations(params.Password, r.opts.passwordIterations)
	if err != nil {
		return models.User{}, err
	}
	user := models.User{
		ID:           generateID(),
		Username:     params.Username,
		Email:        params.Email,
		AvatarURL:    params.AvatarURL,
		LikedVideos:  []string{},
		WatchHistory: []string{},
		CreatedAt:    r.opts.now(),
	}
	_, err = r.pool.Exec(ctx,
		"INSERT INTO users (id, username, email, avatar_url, password_hash, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		user.ID, user.Username, user.Email, user.AvatarURL, hash, user.CreatedAt)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return models.User{}, fmt.Errorf("user %s: %w", params.Email, ErrDuplicate)
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) AuthenticateUser(ctx context.Context, email, password string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := scanUser(r.pool.QueryRow(ctx, userSelect+" WHERE u.email = $1", email))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	if user.PasswordHash == "" || auth.VerifyPassword(user.PasswordHash, password) != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return sanitizeUser(user), nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, id string) (models.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, userSelect+" WHERE u.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	return sanitizeUser(user), nil
}

func (r *PostgresRepository) ListUsers(ctx context.Context, excludeID string) ([]models.User, error) {
	rows, err := r.pool.Query(ctx, userSelect+" WHERE u.id <> $1 ORDER BY lower(u.username)", excludeID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, sanitizeUser(user))
	}
	return users, rows.Err()
}

func (r *PostgresRepository) userExists(ctx context.Context, q interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}, id string) error {
	var found int
	err := q.QueryRow(ctx, "SELECT 1 FROM users WHERE id = $1", id).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	return nil
}

// Videos

const videoSelect = `SELECT v.id, v.title, v.description, v.video_url, v.thumbnail_url, v.creator_id, v.views,
	v.created_at, v.updated_at, u.username, u.avatar_url,
	COALESCE((SELECT array_agg(l.user_id ORDER BY l.liked_at, l.user_id) FROM video_likes l WHERE l.video_id = v.id), ARRAY[]::TEXT[])
	FROM videos v JOIN users u ON u.id = v.creator_id`

func scanVideo(row rowScanner) (models.Video, error) {
	var (
		video   models.Video
		creator models.Creator
	)
	err := row.Scan(&video.ID, &video.Title, &video.Description, &video.VideoURL, &video.ThumbnailURL,
		&video.CreatorID, &video.Views, &video.CreatedAt, &video.UpdatedAt,
		&creator.Username, &creator.AvatarURL, &video.Likes)
	if err != nil {
		return models.Video{}, err
	}
	creator.ID = video.CreatorID
	video.Creator = &creator
	video.CreatedAt = video.CreatedAt.UTC()
	video.UpdatedAt = video.UpdatedAt.UTC()
	return video, nil
}

func (r *PostgresRepository) queryVideos(ctx context.Context, query string, args ...any) ([]models.Video, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query videos: %w", err)
	}
	defer rows.Close()
	videos := make([]models.Video, 0)
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

func (r *PostgresRepository) CreateVideo(ctx context.Context, params CreateVideoParams) (models.Video, error) {
	params, err := params.normalize()
	if err != nil {
		return models.Video{}, err
	}
	id := generateID()
	now := r.opts.now()
	_, err = r.pool.Exec(ctx,
		`INSERT INTO videos (id, title, description, video_url, thumbnail_url, creator_id, views, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)`,
		id, params.Title, params.Description, params.VideoURL, params.ThumbnailURL, params.CreatorID, now)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return models.Video{}, fmt.Errorf("creator %s: %w", params.CreatorID, ErrNotFound)
		}
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return r.GetVideo(ctx, id)
}

func (r *PostgresRepository) GetVideo(ctx context.Context, id string) (models.Video, error) {
	video, err := scanVideo(r.pool.QueryRow(ctx, videoSelect+" WHERE v.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Video{}, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Video{}, fmt.Errorf("load video: %w", err)
	}
	return video, nil
}

func (r *PostgresRepository) ListVideos(ctx context.Context, limit int) ([]models.Video, error) {
	return r.queryVideos(ctx, videoSelect+" ORDER BY v.created_at DESC, v.id DESC LIMIT $1", normalizeLimit(limit))
}

func (r *PostgresRepository) SearchVideos(ctx context.Context, query string, limit int) ([]models.Video, error) {
	if strings.TrimSpace(query) == "" {
		return r.ListVideos(ctx, limit)
	}
	return r.queryVideos(ctx,
		videoSelect+" WHERE v.search_document @@ plainto_tsquery('simple', $1) ORDER BY v.created_at DESC, v.id DESC LIMIT $2",
		query, normalizeLimit(limit))
}

func (r *PostgresRepository) ListVideosByCreator(ctx context.Context, creatorID string) ([]models.Video, error) {
	return r.queryVideos(ctx, videoSelect+" WHERE v.creator_id = $1 ORDER BY v.created_at DESC, v.id DESC", creatorID)
}

func (r *PostgresRepository) UpdateVideo(ctx context.Context, id string, update VideoUpdate) (models.Video, error) {
	update, err := update.normalize()
	if err != nil {
		return models.Video{}, err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE videos SET title = COALESCE($2::TEXT, title), description = COALESCE($3::TEXT, description), updated_at = $4 WHERE id = $1`,
		id, update.Title, update.Description, r.opts.now())
	if err != nil {
		return models.Video{}, fmt.Errorf("update video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Video{}, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	return r.GetVideo(ctx, id)
}

func (r *PostgresRepository) ToggleLike(ctx context.Context, videoID, userID string) (models.Video, error) {
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var found int
		err := tx.QueryRow(ctx, "SELECT 1 FROM videos WHERE id = $1 FOR UPDATE", videoID).Scan(&found)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("video %s: %w", videoID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock video: %w", err)
		}
		tag, err := tx.Exec(ctx, "DELETE FROM video_likes WHERE video_id = $1 AND user_id = $2", videoID, userID)
		if err != nil {
			return fmt.Errorf("remove like: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		_, err = tx.Exec(ctx, "INSERT INTO video_likes (video_id, user_id, liked_at) VALUES ($1, $2, $3)", videoID, userID, r.opts.now())
		if err != nil {
			if pgErrorCode(err) == pgForeignKeyViolation {
				return fmt.Errorf("user %s: %w", userID, ErrNotFound)
			}
			return fmt.Errorf("add like: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return r.GetVideo(ctx, videoID)
}

func (r *PostgresRepository) RecordView(ctx context.Context, videoID, userID string) (models.Video, error) {
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "UPDATE videos SET views = views + 1 WHERE id = $1", videoID)
		if err != nil {
			return fmt.Errorf("increment views: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("video %s: %w", videoID, ErrNotFound)
		}
		_, err = tx.Exec(ctx,
			"INSERT INTO watch_history (user_id, video_id, watched_at) VALUES ($1, $2, $3) ON CONFLICT (user_id, video_id) DO NOTHING",
			userID, videoID, r.opts.now())
		if err != nil {
			if pgErrorCode(err) == pgForeignKeyViolation {
				return fmt.Errorf("user %s: %w", userID, ErrNotFound)
			}
			return fmt.Errorf("record history: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return r.GetVideo(ctx, videoID)
}

func (r *PostgresRepository) WatchHistory(ctx context.Context, userID string) ([]models.Video, error) {
	if err := r.userExists(ctx, r.pool, userID); err != nil {
		return nil, err
	}
	return r.queryVideos(ctx,
		videoSelect+" JOIN watch_history h ON h.video_id = v.id WHERE h.user_id = $1 ORDER BY h.watched_at, v.id",
		userID)
}

func (r *PostgresRepository) LikedVideos(ctx context.Context, userID string) ([]models.Video, error) {
	if err := r.userExists(ctx, r.pool, userID); err != nil {
		return nil, err
	}
	return r.queryVideos(ctx,
		videoSelect+" JOIN video_likes lk ON lk.video_id = v.id WHERE lk.user_id = $1 ORDER BY lk.liked_at, v.id",
		userID)
}

// Chat

const roomSelect = `SELECT c.id, c.participant_a, c.participant_b, c.last_message, c.created_at, c.updated_at,
	ua.username, ua.avatar_url, ub.username, ub.avatar_url
	FROM chat_rooms c
	JOIN users ua ON ua.id = c.participant_a
	JOIN users ub ON ub.id = c.participant_b`

func scanRoom(row rowScanner) (models.ChatRoom, error) {
	var (
		room models.ChatRoom
		a, b models.Creator
	)
	err := row.Scan(&room.ID, &a.ID, &b.ID, &room.LastMessage, &room.CreatedAt, &room.UpdatedAt,
		&a.Username, &a.AvatarURL, &b.Username, &b.AvatarURL)
	if err != nil {
		return models.ChatRoom{}, err
	}
	room.Participants = []string{a.ID, b.ID}
	room.ParticipantProfiles = []models.Creator{a, b}
	room.CreatedAt = room.CreatedAt.UTC()
	room.UpdatedAt = room.UpdatedAt.UTC()
	return room, nil
}

func (r *PostgresRepository) FindOrCreateChatRoom(ctx context.Context, userID, participantID string) (models.ChatRoom, bool, error) {
	first, second, err := chatPair(userID, participantID)
	if err != nil {
		return models.ChatRoom{}, false, err
	}
	now := r.opts.now()
	var roomID string
	created := true
	err = r.pool.QueryRow(ctx,
		`INSERT INTO chat_rooms (id, participant_a, participant_b, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (participant_a, participant_b) DO NOTHING
		RETURNING id`,
		generateID(), first, second, now).Scan(&roomID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		created = false
		err = r.pool.QueryRow(ctx,
			"SELECT id FROM chat_rooms WHERE participant_a = $1 AND participant_b = $2",
			first, second).Scan(&roomID)
		if err != nil {
			return models.ChatRoom{}, false, fmt.Errorf("load chat room: %w", err)
		}
	case pgErrorCode(err) == pgForeignKeyViolation:
		return models.ChatRoom{}, false, fmt.Errorf("participant: %w", ErrNotFound)
	case err != nil:
		return models.ChatRoom{}, false, fmt.Errorf("insert chat room: %w", err)
	}
	room, err := r.GetChatRoom(ctx, roomID)
	return room, created, err
}

func (r *PostgresRepository) ListChatRooms(ctx context.Context, userID string) ([]models.ChatRoom, error) {
	rows, err := r.pool.Query(ctx,
		roomSelect+" WHERE c.participant_a = $1 OR c.participant_b = $1 ORDER BY c.updated_at DESC, c.id",
		userID)
	if err != nil {
		return nil, fmt.Errorf("list chat rooms: %w", err)
	}
	defer rows.Close()
	rooms := make([]models.ChatRoom, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *PostgresRepository) GetChatRoom(ctx context.Context, id string) (models.ChatRoom, error) {
	room, err := scanRoom(r.pool.QueryRow(ctx, roomSelect+" WHERE c.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ChatRoom{}, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.ChatRoom{}, fmt.Errorf("load chat room: %w", err)
	}
	return room, nil
}

func scanMessage(row rowScanner) (models.Message, error) {
	var (
		message models.Message
		sender  models.Creator
	)
	if err := row.Scan(&message.ID, &message.ChatID, &message.SenderID, &message.Content, &message.Timestamp, &sender.Username, &sender.AvatarURL); err != nil {
		return models.Message{}, err
	}
	sender.ID = message.SenderID
	message.Sender = &sender
	message.Timestamp = message.Timestamp.UTC()
	return message, nil
}

func (r *PostgresRepository) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var found int
	err := r.pool.QueryRow(ctx, "SELECT 1 FROM chat_rooms WHERE id = $1", chatID).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load chat room: %w", err)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.chat_id, m.sender_id, m.content, m.created_at, u.username, u.avatar_url
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.chat_id = $1 ORDER BY m.created_at, m.id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

func (r *PostgresRepository) CreateMessage(ctx context.Context, chatID, senderID, content string) (models.Message, error) {
	content, err := normalizeMessageContent(content)
	if err != nil {
		return models.Message{}, err
	}
	var created models.Message
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		now := r.opts.now()
		tag, err := tx.Exec(ctx, "UPDATE chat_rooms SET last_message = $2, updated_at = $3 WHERE id = $1", chatID, content, now)
		if err != nil {
			return fmt.Errorf("touch chat room: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
		}
		id := generateID()
		if _, err := tx.Exec(ctx,
			"INSERT INTO messages (id, chat_id, sender_id, content, created_at) VALUES ($1, $2, $3, $4, $5)",
			id, chatID, senderID, content, now); err != nil {
			if pgErrorCode(err) == pgForeignKeyViolation {
				return fmt.Errorf("sender %s: %w", senderID, ErrNotFound)
			}
			return fmt.Errorf("insert message: %w", err)
		}
		created, err = scanMessage(tx.QueryRow(ctx,
			`SELECT m.id, m.chat_id, m.sender_id, m.content, m.created_at, u.username, u.avatar_url
			FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.id = $1`, id))
		if err != nil {
			return fmt.Errorf("load message: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	return created, nil
}

// ImportSnapshot replays snap inside one transaction. Rows that already exist
// are left untouched so the import can be re-run.
func (r *PostgresRepository) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		for _, user := range snap.Users {
			if _, err := tx.Exec(ctx,
				"INSERT INTO users (id, username, email, avatar_url, password_hash, created_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING",
				user.ID, user.Username, strings.ToLower(user.Email), user.AvatarURL, user.PasswordHash, user.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("import user %s: %w", user.ID, err)
			}
		}
		for _, video := range snap.Videos {
			if _, err := tx.Exec(ctx,
				`INSERT INTO videos (id, title, description, video_url, thumbnail_url, creator_id, views, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (id) DO NOTHING`,
				video.ID, video.Title, video.Description, video.VideoURL, video.ThumbnailURL, video.CreatorID, video.Views,
				video.CreatedAt.UTC(), video.UpdatedAt.UTC()); err != nil {
				return fmt.Errorf("import video %s: %w", video.ID, err)
			}
			for i, userID := range video.Likes {
				if _, err := tx.Exec(ctx,
					"INSERT INTO video_likes (video_id, user_id, liked_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
					video.ID, userID, video.CreatedAt.UTC().Add(timeOffset(i))); err != nil {
					return fmt.Errorf("import like %s/%s: %w", video.ID, userID, err)
				}
			}
		}
		for _, user := range snap.Users {
			for i, videoID := range user.WatchHistory {
				if _, err := tx.Exec(ctx,
					"INSERT INTO watch_history (user_id, video_id, watched_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
					user.ID, videoID, user.CreatedAt.UTC().Add(timeOffset(i))); err != nil {
					return fmt.Errorf("import history %s/%s: %w", user.ID, videoID, err)
				}
			}
		}
		for _, room := range snap.ChatRooms {
			if len(room.Participants) != 2 {
				return fmt.Errorf("import chat %s: expected two participants", room.ID)
			}
			first, second, err := chatPair(room.Participants[0], room.Participants[1])
			if err != nil {
				return fmt.Errorf("import chat %s: %w", room.ID, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO chat_rooms (id, participant_a, participant_b, last_message, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`,
				room.ID, first, second, room.LastMessage, room.CreatedAt.UTC(), room.UpdatedAt.UTC()); err != nil {
				return fmt.Errorf("import chat %s: %w", room.ID, err)
			}
		}
		for _, message := range snap.Messages {
			if _, err := tx.Exec(ctx,
				"INSERT INTO messages (id, chat_id, sender_id, content, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING",
				message.ID, message.ChatID, message.SenderID, message.Content, message.Timestamp.UTC()); err != nil {
				return fmt.Errorf("import message %s: %w", message.ID, err)
			}
		}
		return nil
	})
}
