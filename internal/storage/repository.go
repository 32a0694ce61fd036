package storage

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"unicode/utf8"

	"streamhub/internal/models"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicate          = errors.New("already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrValidation         = errors.New("validation failed")
)

const (
	// DefaultVideoLimit bounds the public listing and search endpoints.
	DefaultVideoLimit = 20

	maxTitleLength       = 200
	maxDescriptionLength = 5000
	maxMessageLength     = 2000
	minPasswordLength    = 6
)

// Repository is the catalog of users, videos, chat rooms and messages.
// Returned videos carry a populated Creator, messages a populated Sender and
// rooms their ParticipantProfiles.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	ListUsers(ctx context.Context, excludeID string) ([]models.User, error)

	CreateVideo(ctx context.Context, params CreateVideoParams) (models.Video, error)
	GetVideo(ctx context.Context, id string) (models.Video, error)
	ListVideos(ctx context.Context, limit int) ([]models.Video, error)
	SearchVideos(ctx context.Context, query string, limit int) ([]models.Video, error)
	ListVideosByCreator(ctx context.Context, creatorID string) ([]models.Video, error)
	UpdateVideo(ctx context.Context, id string, update VideoUpdate) (models.Video, error)
	// ToggleLike adds userID to the like set, or removes it when present, and
	// mirrors the change in the user's liked list.
	ToggleLike(ctx context.Context, videoID, userID string) (models.Video, error)
	// RecordView increments the view counter and adds the video to the
	// user's watch history set. Views are not deduplicated.
	RecordView(ctx context.Context, videoID, userID string) (models.Video, error)
	WatchHistory(ctx context.Context, userID string) ([]models.Video, error)
	LikedVideos(ctx context.Context, userID string) ([]models.Video, error)

	// FindOrCreateChatRoom returns the room shared by the unordered pair,
	// creating it on first use. created reports whether a new room was made.
	FindOrCreateChatRoom(ctx context.Context, userID, participantID string) (room models.ChatRoom, created bool, err error)
	ListChatRooms(ctx context.Context, userID string) ([]models.ChatRoom, error)
	GetChatRoom(ctx context.Context, id string) (models.ChatRoom, error)
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, chatID, senderID, content string) (models.Message, error)
}

type CreateUserParams struct {
	Username  string
	Email     string
	Password  string
	AvatarURL string
}

type CreateVideoParams struct {
	Title        string
	Description  string
	VideoURL     string
	ThumbnailURL string
	CreatorID    string
}

// VideoUpdate holds the editable fields; nil leaves a field unchanged.
type VideoUpdate struct {
	Title       *string
	Description *string
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func (p CreateUserParams) normalize() (CreateUserParams, error) {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.AvatarURL = strings.TrimSpace(p.AvatarURL)
	if p.Username == "" {
		return p, validationError("username is required")
	}
	if utf8.RuneCountInString(p.Username) > 32 {
		return p, validationError("username must be at most 32 characters")
	}
	if _, err := mail.ParseAddress(p.Email); err != nil || p.Email == "" {
		return p, validationError("a valid email is required")
	}
	if len(p.Password) < minPasswordLength {
		return p, validationError("password must be at least %d characters", minPasswordLength)
	}
	return p, nil
}

func (p CreateVideoParams) normalize() (CreateVideoParams, error) {
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	if err := validateTitle(p.Title); err != nil {
		return p, err
	}
	if err := validateDescription(p.Description); err != nil {
		return p, err
	}
	if strings.TrimSpace(p.VideoURL) == "" {
		return p, validationError("video url is required")
	}
	if strings.TrimSpace(p.ThumbnailURL) == "" {
		return p, validationError("thumbnail url is required")
	}
	if strings.TrimSpace(p.CreatorID) == "" {
		return p, validationError("creator is required")
	}
	return p, nil
}

func (u VideoUpdate) normalize() (VideoUpdate, error) {
	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if err := validateTitle(title); err != nil {
			return u, err
		}
		u.Title = &title
	}
	if u.Description != nil {
		description := strings.TrimSpace(*u.Description)
		if err := validateDescription(description); err != nil {
			return u, err
		}
		u.Description = &description
	}
	return u, nil
}

func validateTitle(title string) error {
	if title == "" {
		return validationError("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return validationError("title must be at most %d characters", maxTitleLength)
	}
	return nil
}

func validateDescription(description string) error {
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return validationError("description must be at most %d characters", maxDescriptionLength)
	}
	return nil
}

func normalizeMessageContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", validationError("message content is required")
	}
	if utf8.RuneCountInString(trimmed) > maxMessageLength {
		return "", validationError("message must be at most %d characters", maxMessageLength)
	}
	return trimmed, nil
}

// chatPair orders two participant ids so the same pair always maps to the
// same key.
func chatPair(a, b string) (string, string, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", "", validationError("participantId is required")
	}
	if a == b {
		return "", "", validationError("cannot start a chat with yourself")
	}
	if a > b {
		a, b = b, a
	}
	return a, b, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultVideoLimit
	}
	return limit
}

func sortVideosNewestFirst(videos []models.Video) {
	sort.SliceStable(videos, func(i, j int) bool {
		if videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].ID > videos[j].ID
		}
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})
}

func sortRoomsRecentFirst(rooms []models.ChatRoom) {
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})
}

func sanitizeUser(user models.User) models.User {
	user.PasswordHash = ""
	if user.LikedVideos == nil {
		user.LikedVideos = []string{}
	}
	if user.WatchHistory == nil {
		user.WatchHistory = []string{}
	}
	return user
}
