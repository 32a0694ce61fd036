package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"streamhub/internal/models"
)

// RepositoryFactory opens a repository for the cross-backend scenarios below.
type RepositoryFactory func(t *testing.T, opts ...Option) (Repository, func(), error)

func runRepository(t *testing.T, factory RepositoryFactory) Repository {
	t.Helper()
	if factory == nil {
		t.Fatal("repository factory is required")
	}
	clock := newSteppingClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), time.Second)
	repo, cleanup, err := factory(t, WithClock(clock.Now), WithPasswordIterations(1000))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if repo == nil {
		t.Fatal("repository factory returned nil repository")
	}
	if cleanup != nil {
		t.Cleanup(cleanup)
	}
	return repo
}

type steppingClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

func newSteppingClock(start time.Time, step time.Duration) *steppingClock {
	return &steppingClock{next: start, step: step}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.step)
	return now
}

func mustCreateUser(t *testing.T, repo Repository, username string) string {
	t.Helper()
	user, err := repo.CreateUser(context.Background(), CreateUserParams{
		Username: username,
		Email:    strings.ToLower(username) + "@example.com",
		Password: "secret-password",
	})
	if err != nil {
		t.Fatalf("CreateUser %s: %v", username, err)
	}
	return user.ID
}

func mustCreateVideo(t *testing.T, repo Repository, creatorID, title, description string) string {
	t.Helper()
	video, err := repo.CreateVideo(context.Background(), CreateVideoParams{
		Title:        title,
		Description:  description,
		VideoURL:     "https://cdn.example.com/videos/" + title + "/index.m3u8",
		ThumbnailURL: "https://cdn.example.com/thumbnails/" + title + ".jpg",
		CreatorID:    creatorID,
	})
	if err != nil {
		t.Fatalf("CreateVideo %s: %v", title, err)
	}
	return video.ID
}

func titlesOf(videos []models.Video) []string {
	titles := make([]string, 0, len(videos))
	for _, video := range videos {
		titles = append(titles, video.Title)
	}
	return titles
}

// RunRepositoryUserLifecycle covers signup, duplicate detection, login and the
// user directory.
func RunRepositoryUserLifecycle(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)
	ctx := context.Background()

	alice, err := repo.CreateUser(ctx, CreateUserParams{Username: "Alice", Email: " Alice@Example.com ", Password: "secret-password"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if alice.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", alice.Email)
	}
	if alice.PasswordHash != "" {
		t.Fatal("expected password hash to be hidden")
	}
	if len(alice.LikedVideos) != 0 || len(alice.WatchHistory) != 0 {
		t.Fatalf("expected empty sets, got %+v", alice)
	}

	if _, err := repo.CreateUser(ctx, CreateUserParams{Username: "Other", Email: "alice@example.com", Password: "secret-password"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for email, got %v", err)
	}
	if _, err := repo.CreateUser(ctx, CreateUserParams{Username: "Short", Email: "short@example.com", Password: "123"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for short password, got %v", err)
	}

	loggedIn, err := repo.AuthenticateUser(ctx, "ALICE@example.com", "secret-password")
	if err != nil {
		t.Fatalf("AuthenticateUser: %v", err)
	}
	if loggedIn.ID != alice.ID {
		t.Fatalf("expected %s, got %s", alice.ID, loggedIn.ID)
	}
	if _, err := repo.AuthenticateUser(ctx, "alice@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := repo.AuthenticateUser(ctx, "nobody@example.com", "secret-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}

	bobID := mustCreateUser(t, repo, "Bob")
	carolID := mustCreateUser(t, repo, "Carol")

	users, err := repo.ListUsers(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 || users[0].ID != bobID || users[1].ID != carolID {
		t.Fatalf("expected [Bob Carol], got %+v", users)
	}
	for _, user := range users {
		if user.PasswordHash != "" {
			t.Fatalf("expected hidden hash for %s", user.Username)
		}
	}

	if _, err := repo.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// RunRepositoryVideoLifecycle covers creation, listing, search and editing.
func RunRepositoryVideoLifecycle(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)
	ctx := context.Background()

	creatorID := mustCreateUser(t, repo, "Creator")
	otherID := mustCreateUser(t, repo, "Other")

	morning := mustCreateVideo(t, repo, creatorID, "Morning Run", "A run through the park at dawn")
	mustCreateVideo(t, repo, creatorID, "Evening Run", "City lights")
	mustCreateVideo(t, repo, otherID, "Park Cleanup", "Volunteers at work")

	video, err := repo.GetVideo(ctx, morning)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if video.Views != 0 || len(video.Likes) != 0 || video.Likes == nil {
		t.Fatalf("expected fresh counters, got views=%d likes=%v", video.Views, video.Likes)
	}
	if video.Creator == nil || video.Creator.Username != "Creator" {
		t.Fatalf("expected populated creator, got %+v", video.Creator)
	}

	list, err := repo.ListVideos(ctx, 0)
	if err != nil {
		t.Fatalf("ListVideos: %v", err)
	}
	if got := titlesOf(list); strings.Join(got, ",") != "Park Cleanup,Evening Run,Morning Run" {
		t.Fatalf("expected newest first, got %v", got)
	}
	limited, err := repo.ListVideos(ctx, 2)
	if err != nil {
		t.Fatalf("ListVideos limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(limited))
	}

	results, err := repo.SearchVideos(ctx, "run park", 0)
	if err != nil {
		t.Fatalf("SearchVideos: %v", err)
	}
	if len(results) != 1 || results[0].ID != morning {
		t.Fatalf("expected only the morning run, got %v", titlesOf(results))
	}
	results, err = repo.SearchVideos(ctx, "PARK", 0)
	if err != nil {
		t.Fatalf("SearchVideos case: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected two park matches, got %v", titlesOf(results))
	}
	results, err = repo.SearchVideos(ctx, "   ", 0)
	if err != nil {
		t.Fatalf("SearchVideos empty: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected empty query to list everything, got %d", len(results))
	}

	mine, err := repo.ListVideosByCreator(ctx, creatorID)
	if err != nil {
		t.Fatalf("ListVideosByCreator: %v", err)
	}
	if got := titlesOf(mine); strings.Join(got, ",") != "Evening Run,Morning Run" {
		t.Fatalf("expected creator's videos, got %v", got)
	}

	title := "Sunrise Run"
	updated, err := repo.UpdateVideo(ctx, morning, VideoUpdate{Title: &title})
	if err != nil {
		t.Fatalf("UpdateVideo: %v", err)
	}
	if updated.Title != title || updated.Description != "A run through the park at dawn" {
		t.Fatalf("unexpected update result %+v", updated)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatalf("expected updatedAt to advance")
	}
	empty := "  "
	if _, err := repo.UpdateVideo(ctx, morning, VideoUpdate{Title: &empty}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank title, got %v", err)
	}
	if _, err := repo.UpdateVideo(ctx, "missing", VideoUpdate{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := repo.GetVideo(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.CreateVideo(ctx, CreateVideoParams{Title: "x", VideoURL: "a", ThumbnailURL: "b", CreatorID: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown creator, got %v", err)
	}
}

// RunRepositoryLikeToggle checks that likes behave as a set mirrored on the
// user's liked list.
func RunRepositoryLikeToggle(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)
	ctx := context.Background()

	creatorID := mustCreateUser(t, repo, "Creator")
	fanID := mustCreateUser(t, repo, "Fan")
	videoID := mustCreateVideo(t, repo, creatorID, "Clip", "")

	liked, err := repo.ToggleLike(ctx, videoID, fanID)
	if err != nil {
		t.Fatalf("ToggleLike: %v", err)
	}
	if len(liked.Likes) != 1 || liked.Likes[0] != fanID {
		t.Fatalf("expected one like, got %v", liked.Likes)
	}
	unliked, err := repo.ToggleLike(ctx, videoID, fanID)
	if err != nil {
		t.Fatalf("ToggleLike again: %v", err)
	}
	if len(unliked.Likes) != 0 {
		t.Fatalf("expected like removed, got %v", unliked.Likes)
	}

	for i := 0; i < 3; i++ {
		if _, err := repo.ToggleLike(ctx, videoID, fanID); err != nil {
			t.Fatalf("ToggleLike on: %v", err)
		}
		if _, err := repo.ToggleLike(ctx, videoID, fanID); err != nil {
			t.Fatalf("ToggleLike off: %v", err)
		}
	}
	final, err := repo.ToggleLike(ctx, videoID, fanID)
	if err != nil {
		t.Fatalf("ToggleLike final: %v", err)
	}
	if len(final.Likes) != 1 {
		t.Fatalf("expected exactly one like, got %v", final.Likes)
	}

	likedVideos, err := repo.LikedVideos(ctx, fanID)
	if err != nil {
		t.Fatalf("LikedVideos: %v", err)
	}
	if len(likedVideos) != 1 || likedVideos[0].ID != videoID {
		t.Fatalf("expected liked list to contain the video once, got %v", titlesOf(likedVideos))
	}
	if likedVideos[0].Creator == nil {
		t.Fatal("expected creator on liked video")
	}
	user, err := repo.GetUser(ctx, fanID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if len(user.LikedVideos) != 1 {
		t.Fatalf("expected one liked id, got %v", user.LikedVideos)
	}

	if _, err := repo.ToggleLike(ctx, "missing", fanID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// RunRepositoryViewHistory checks that views always count while history
// stays a set.
func RunRepositoryViewHistory(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)
	ctx := context.Background()

	creatorID := mustCreateUser(t, repo, "Creator")
	viewerID := mustCreateUser(t, repo, "Viewer")
	first := mustCreateVideo(t, repo, creatorID, "First", "")
	second := mustCreateVideo(t, repo, creatorID, "Second", "")

	if _, err := repo.RecordView(ctx, first, viewerID); err != nil {
		t.Fatalf("RecordView: %v", err)
	}
	if _, err := repo.RecordView(ctx, second, viewerID); err != nil {
		t.Fatalf("RecordView second: %v", err)
	}
	video, err := repo.RecordView(ctx, first, viewerID)
	if err != nil {
		t.Fatalf("RecordView again: %v", err)
	}
	if video.Views != 2 {
		t.Fatalf("expected 2 views, got %d", video.Views)
	}

	history, err := repo.WatchHistory(ctx, viewerID)
	if err != nil {
		t.Fatalf("WatchHistory: %v", err)
	}
	if got := titlesOf(history); strings.Join(got, ",") != "First,Second" {
		t.Fatalf("expected history [First Second], got %v", got)
	}

	if _, err := repo.RecordView(ctx, "missing", viewerID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.WatchHistory(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

// RunRepositoryChatRooms covers pair deduplication, messages and room order.
func RunRepositoryChatRooms(t *testing.T, factory RepositoryFactory) {
	repo := runRepository(t, factory)
	ctx := context.Background()

	aliceID := mustCreateUser(t, repo, "Alice")
	bobID := mustCreateUser(t, repo, "Bob")
	carolID := mustCreateUser(t, repo, "Carol")

	room, created, err := repo.FindOrCreateChatRoom(ctx, aliceID, bobID)
	if err != nil {
		t.Fatalf("FindOrCreateChatRoom: %v", err)
	}
	if !created {
		t.Fatal("expected a new room")
	}
	if len(room.ParticipantProfiles) != 2 {
		t.Fatalf("expected participant profiles, got %+v", room.ParticipantProfiles)
	}
	again, created, err := repo.FindOrCreateChatRoom(ctx, bobID, aliceID)
	if err != nil {
		t.Fatalf("FindOrCreateChatRoom reversed: %v", err)
	}
	if created || again.ID != room.ID {
		t.Fatalf("expected the existing room %s, got %s (created=%v)", room.ID, again.ID, created)
	}
	if _, _, err := repo.FindOrCreateChatRoom(ctx, aliceID, aliceID); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for self chat, got %v", err)
	}
	if _, _, err := repo.FindOrCreateChatRoom(ctx, aliceID, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown participant, got %v", err)
	}

	other, _, err := repo.FindOrCreateChatRoom(ctx, aliceID, carolID)
	if err != nil {
		t.Fatalf("FindOrCreateChatRoom carol: %v", err)
	}

	if _, err := repo.CreateMessage(ctx, room.ID, aliceID, "hello"); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	reply, err := repo.CreateMessage(ctx, room.ID, bobID, "  hi there  ")
	if err != nil {
		t.Fatalf("CreateMessage reply: %v", err)
	}
	if reply.Content != "hi there" || reply.Sender == nil || reply.Sender.Username != "Bob" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if _, err := repo.CreateMessage(ctx, room.ID, bobID, "   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank message, got %v", err)
	}
	if _, err := repo.CreateMessage(ctx, "missing", bobID, "hi"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown chat, got %v", err)
	}

	messages, err := repo.ListMessages(ctx, room.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 2 || messages[0].Content != "hello" || messages[1].Content != "hi there" {
		t.Fatalf("expected oldest first, got %+v", messages)
	}

	rooms, err := repo.ListChatRooms(ctx, aliceID)
	if err != nil {
		t.Fatalf("ListChatRooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0].ID != room.ID || rooms[1].ID != other.ID {
		t.Fatalf("expected most recently active room first, got %+v", rooms)
	}
	if rooms[0].LastMessage != "hi there" {
		t.Fatalf("expected last message to be tracked, got %q", rooms[0].LastMessage)
	}

	carolRooms, err := repo.ListChatRooms(ctx, carolID)
	if err != nil {
		t.Fatalf("ListChatRooms carol: %v", err)
	}
	if len(carolRooms) != 1 || !carolRooms[0].HasParticipant(carolID) {
		t.Fatalf("expected carol to see one room, got %+v", carolRooms)
	}

	if _, err := repo.ListMessages(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func runRepositoryScenarios(t *testing.T, factory RepositoryFactory) {
	t.Run("Users", func(t *testing.T) { RunRepositoryUserLifecycle(t, factory) })
	t.Run("Videos", func(t *testing.T) { RunRepositoryVideoLifecycle(t, factory) })
	t.Run("Likes", func(t *testing.T) { RunRepositoryLikeToggle(t, factory) })
	t.Run("Views", func(t *testing.T) { RunRepositoryViewHistory(t, factory) })
	t.Run("Chat", func(t *testing.T) { RunRepositoryChatRooms(t, factory) })
}
