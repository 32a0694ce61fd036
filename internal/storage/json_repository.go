package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"streamhub/internal/auth"
	"streamhub/internal/models"
)

type dataset struct {
	Users     map[string]models.User     `json:"users"`
	Videos    map[string]models.Video    `json:"videos"`
	ChatRooms map[string]models.ChatRoom `json:"chatRooms"`
	Messages  map[string]models.Message  `json:"messages"`
}

func newDataset() dataset {
	return dataset{
		Users:     make(map[string]models.User),
		Videos:    make(map[string]models.Video),
		ChatRooms: make(map[string]models.ChatRoom),
		Messages:  make(map[string]models.Message),
	}
}

func (d *dataset) ensureInitialized() {
	if d.Users == nil {
		d.Users = make(map[string]models.User)
	}
	if d.Videos == nil {
		d.Videos = make(map[string]models.Video)
	}
	if d.ChatRooms == nil {
		d.ChatRooms = make(map[string]models.ChatRoom)
	}
	if d.Messages == nil {
		d.Messages = make(map[string]models.Message)
	}
}

// JSONRepository keeps the whole catalog in memory and rewrites a single JSON
// file after every mutation. It suits development and single-instance
// deployments.
type JSONRepository struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	opts     options
	// persistOverride lets tests intercept persist operations.
	persistOverride func(dataset) error
}

var _ Repository = (*JSONRepository)(nil)

// NewJSONRepository loads path, creating an empty dataset when the file does
// not exist yet.
func NewJSONRepository(path string, opts ...Option) (*JSONRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("json repository path required")
	}
	repo := &JSONRepository{filePath: path, opts: newOptions(opts...)}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (s *JSONRepository) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	s.data.ensureInitialized()
	return nil
}

func (s *JSONRepository) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		return s.persistOverride(data)
	}

	dir := filepath.Dir(s.filePath)
	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// mutate applies fn to a copy of the dataset and swaps it in only after the
// copy is durably written, so a failed write leaves memory untouched.
func (s *JSONRepository) mutate(fn func(*dataset) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneDataset(s.data)
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.persistDataset(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()
	for id, user := range src.Users {
		user.LikedVideos = append([]string(nil), user.LikedVideos...)
		user.WatchHistory = append([]string(nil), user.WatchHistory...)
		clone.Users[id] = user
	}
	for id, video := range src.Videos {
		video.Likes = append([]string(nil), video.Likes...)
		clone.Videos[id] = video
	}
	for id, room := range src.ChatRooms {
		room.Participants = append([]string(nil), room.Participants...)
		clone.ChatRooms[id] = room
	}
	for id, message := range src.Messages {
		clone.Messages[id] = message
	}
	return clone
}

// Snapshot returns a deep copy of the dataset, used by the Postgres import tool.
func (s *JSONRepository) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := cloneDataset(s.data)
	snap := Snapshot{}
	for _, user := range data.Users {
		snap.Users = append(snap.Users, user)
	}
	for _, video := range data.Videos {
		snap.Videos = append(snap.Videos, video)
	}
	for _, room := range data.ChatRooms {
		snap.ChatRooms = append(snap.ChatRooms, room)
	}
	for _, message := range data.Messages {
		snap.Messages = append(snap.Messages, message)
	}
	snap.sort()
	return snap
}

func (s *JSONRepository) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := os.Stat(filepath.Dir(s.filePath))
	return err
}

func (s *JSONRepository) Close(context.Context) error {
	return nil
}

// Users

func (s *JSONRepository) CreateUser(_ context.Context, params CreateUserParams) (models.User, error) {
	params, err := params.normalize()
	if err != nil {
		return models.User{}, err
	}
	hash, err := auth.HashPasswordWithIterations(params.Password, s.opts.passwordIterations)
	if err != nil {
		return models.User{}, err
	}
	var created models.User
	err = s.mutate(func(data *dataset) error {
		for _, existing := range data.Users {
			if existing.Email == params.Email {
				return fmt.Errorf("email %s: %w", params.Email, ErrDuplicate)
			}
			if strings.EqualFold(existing.Username, params.Username) {
				return fmt.Errorf("username %s: %w", params.Username, ErrDuplicate)
			}
		}
		created = models.User{
			ID:           generateID(),
			Username:     params.Username,
			Email:        params.Email,
			AvatarURL:    params.AvatarURL,
			PasswordHash: hash,
			LikedVideos:  []string{},
			WatchHistory: []string{},
			CreatedAt:    s.opts.now(),
		}
		data.Users[created.ID] = created
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return sanitizeUser(created), nil
}

func (s *JSONRepository) AuthenticateUser(_ context.Context, email, password string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	var (
		found models.User
		ok    bool
	)
	for _, user := range s.data.Users {
		if user.Email == email {
			found, ok = user, true
			break
		}
	}
	s.mu.RUnlock()
	if !ok || found.PasswordHash == "" {
		return models.User{}, ErrInvalidCredentials
	}
	if err := auth.VerifyPassword(found.PasswordHash, password); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return sanitizeUser(found), nil
}

func (s *JSONRepository) GetUser(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return sanitizeUser(cloneUser(user)), nil
}

func (s *JSONRepository) ListUsers(_ context.Context, excludeID string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.data.Users))
	for id, user := range s.data.Users {
		if id == excludeID {
			continue
		}
		users = append(users, sanitizeUser(cloneUser(user)))
	}
	sort.Slice(users, func(i, j int) bool {
		return strings.ToLower(users[i].Username) < strings.ToLower(users[j].Username)
	})
	return users, nil
}

func cloneUser(user models.User) models.User {
	user.LikedVideos = append([]string(nil), user.LikedVideos...)
	user.WatchHistory = append([]string(nil), user.WatchHistory...)
	return user
}

// Videos

func (s *JSONRepository) CreateVideo(_ context.Context, params CreateVideoParams) (models.Video, error) {
	params, err := params.normalize()
	if err != nil {
		return models.Video{}, err
	}
	var created models.Video
	err = s.mutate(func(data *dataset) error {
		if _, ok := data.Users[params.CreatorID]; !ok {
			return fmt.Errorf("creator %s: %w", params.CreatorID, ErrNotFound)
		}
		now := s.opts.now()
		created = models.Video{
			ID:           generateID(),
			Title:        params.Title,
			Description:  params.Description,
			VideoURL:     params.VideoURL,
			ThumbnailURL: params.ThumbnailURL,
			CreatorID:    params.CreatorID,
			Views:        0,
			Likes:        []string{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		data.Videos[created.ID] = created
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return s.GetVideo(context.Background(), created.ID)
}

func (s *JSONRepository) GetVideo(_ context.Context, id string) (models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	return s.populateVideoLocked(video), nil
}

func (s *JSONRepository) populateVideoLocked(video models.Video) models.Video {
	video.Likes = append([]string{}, video.Likes...)
	if creator, ok := s.data.Users[video.CreatorID]; ok {
		profile := creator.Profile()
		video.Creator = &profile
	}
	return video
}

func (s *JSONRepository) filterVideos(match func(models.Video) bool, limit int) []models.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()
	videos := make([]models.Video, 0)
	for _, video := range s.data.Videos {
		if match(video) {
			videos = append(videos, s.populateVideoLocked(video))
		}
	}
	sortVideosNewestFirst(videos)
	if limit > 0 && len(videos) > limit {
		videos = videos[:limit]
	}
	return videos
}

func (s *JSONRepository) ListVideos(_ context.Context, limit int) ([]models.Video, error) {
	return s.filterVideos(func(models.Video) bool { return true }, normalizeLimit(limit)), nil
}

func (s *JSONRepository) SearchVideos(_ context.Context, query string, limit int) ([]models.Video, error) {
	terms := searchTerms(query)
	return s.filterVideos(func(video models.Video) bool {
		return matchesAllTerms(terms, video.Title, video.Description)
	}, normalizeLimit(limit)), nil
}

func (s *JSONRepository) ListVideosByCreator(_ context.Context, creatorID string) ([]models.Video, error) {
	return s.filterVideos(func(video models.Video) bool { return video.CreatorID == creatorID }, 0), nil
}

func (s *JSONRepository) UpdateVideo(ctx context.Context, id string, update VideoUpdate) (models.Video, error) {
	update, err := update.normalize()
	if err != nil {
		return models.Video{}, err
	}
	err = s.mutate(func(data *dataset) error {
		video, ok := data.Videos[id]
		if !ok {
			return fmt.Errorf("video %s: %w", id, ErrNotFound)
		}
		if update.Title != nil {
			video.Title = *update.Title
		}
		if update.Description != nil {
			video.Description = *update.Description
		}
		video.UpdatedAt = s.opts.now()
		data.Videos[id] = video
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return s.GetVideo(ctx, id)
}

func (s *JSONRepository) ToggleLike(ctx context.Context, videoID, userID string) (models.Video, error) {
	err := s.mutate(func(data *dataset) error {
		video, ok := data.Videos[videoID]
		if !ok {
			return fmt.Errorf("video %s: %w", videoID, ErrNotFound)
		}
		user, userExists := data.Users[userID]
		if likes, removed := removeFromSet(video.Likes, userID); removed {
			video.Likes = likes
			if userExists {
				user.LikedVideos, _ = removeFromSet(user.LikedVideos, videoID)
			}
		} else {
			video.Likes, _ = addToSet(video.Likes, userID)
			if userExists {
				user.LikedVideos, _ = addToSet(user.LikedVideos, videoID)
			}
		}
		data.Videos[videoID] = video
		if userExists {
			data.Users[userID] = user
		}
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return s.GetVideo(ctx, videoID)
}

func (s *JSONRepository) RecordView(ctx context.Context, videoID, userID string) (models.Video, error) {
	err := s.mutate(func(data *dataset) error {
		video, ok := data.Videos[videoID]
		if !ok {
			return fmt.Errorf("video %s: %w", videoID, ErrNotFound)
		}
		video.Views++
		data.Videos[videoID] = video
		if user, ok := data.Users[userID]; ok {
			user.WatchHistory, _ = addToSet(user.WatchHistory, videoID)
			data.Users[userID] = user
		}
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return s.GetVideo(ctx, videoID)
}

func (s *JSONRepository) videosByIDs(userID string, pick func(models.User) []string) ([]models.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	ids := pick(user)
	videos := make([]models.Video, 0, len(ids))
	for _, id := range ids {
		if video, ok := s.data.Videos[id]; ok {
			videos = append(videos, s.populateVideoLocked(video))
		}
	}
	return videos, nil
}

func (s *JSONRepository) WatchHistory(_ context.Context, userID string) ([]models.Video, error) {
	return s.videosByIDs(userID, func(u models.User) []string { return u.WatchHistory })
}

func (s *JSONRepository) LikedVideos(_ context.Context, userID string) ([]models.Video, error) {
	return s.videosByIDs(userID, func(u models.User) []string { return u.LikedVideos })
}

// Chat

func (s *JSONRepository) FindOrCreateChatRoom(ctx context.Context, userID, participantID string) (models.ChatRoom, bool, error) {
	first, second, err := chatPair(userID, participantID)
	if err != nil {
		return models.ChatRoom{}, false, err
	}
	var (
		roomID  string
		created bool
	)
	err = s.mutate(func(data *dataset) error {
		for _, id := range []string{userID, participantID} {
			if _, ok := data.Users[id]; !ok {
				return fmt.Errorf("user %s: %w", id, ErrNotFound)
			}
		}
		for id, room := range data.ChatRooms {
			if len(room.Participants) == 2 && room.Participants[0] == first && room.Participants[1] == second {
				roomID = id
				return nil
			}
		}
		now := s.opts.now()
		room := models.ChatRoom{
			ID:           generateID(),
			Participants: []string{first, second},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		data.ChatRooms[room.ID] = room
		roomID, created = room.ID, true
		return nil
	})
	if err != nil {
		return models.ChatRoom{}, false, err
	}
	room, err := s.GetChatRoom(ctx, roomID)
	return room, created, err
}

func (s *JSONRepository) populateRoomLocked(room models.ChatRoom) models.ChatRoom {
	room.Participants = append([]string(nil), room.Participants...)
	room.ParticipantProfiles = make([]models.Creator, 0, len(room.Participants))
	for _, id := range room.Participants {
		if user, ok := s.data.Users[id]; ok {
			room.ParticipantProfiles = append(room.ParticipantProfiles, user.Profile())
		}
	}
	return room
}

func (s *JSONRepository) ListChatRooms(_ context.Context, userID string) ([]models.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]models.ChatRoom, 0)
	for _, room := range s.data.ChatRooms {
		if room.HasParticipant(userID) {
			rooms = append(rooms, s.populateRoomLocked(room))
		}
	}
	sortRoomsRecentFirst(rooms)
	return rooms, nil
}

func (s *JSONRepository) GetChatRoom(_ context.Context, id string) (models.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.data.ChatRooms[id]
	if !ok {
		return models.ChatRoom{}, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	return s.populateRoomLocked(room), nil
}

func (s *JSONRepository) ListMessages(_ context.Context, chatID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data.ChatRooms[chatID]; !ok {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	messages := make([]models.Message, 0)
	for _, message := range s.data.Messages {
		if message.ChatID == chatID {
			messages = append(messages, s.populateMessageLocked(message))
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages, nil
}

func (s *JSONRepository) populateMessageLocked(message models.Message) models.Message {
	if sender, ok := s.data.Users[message.SenderID]; ok {
		profile := sender.Profile()
		message.Sender = &profile
	}
	return message
}

func (s *JSONRepository) CreateMessage(_ context.Context, chatID, senderID, content string) (models.Message, error) {
	content, err := normalizeMessageContent(content)
	if err != nil {
		return models.Message{}, err
	}
	var created models.Message
	err = s.mutate(func(data *dataset) error {
		room, ok := data.ChatRooms[chatID]
		if !ok {
			return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
		}
		now := s.opts.now()
		created = models.Message{
			ID:        generateID(),
			ChatID:    chatID,
			Content:   content,
			SenderID:  senderID,
			Timestamp: now,
		}
		data.Messages[created.ID] = created
		room.LastMessage = content
		room.UpdatedAt = now
		data.ChatRooms[chatID] = room
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.populateMessageLocked(created), nil
}
