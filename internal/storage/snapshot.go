package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"streamhub/internal/models"
)

// Snapshot is a full copy of a catalog that can be replayed into another
// backend. User password hashes are preserved.
type Snapshot struct {
	Users     []models.User     `json:"users"`
	Videos    []models.Video    `json:"videos"`
	ChatRooms []models.ChatRoom `json:"chatRooms"`
	Messages  []models.Message  `json:"messages"`
}

// SnapshotCounts summarises the size of each collection in a Snapshot.
type SnapshotCounts struct {
	Users     int
	Videos    int
	Likes     int
	Views     int
	ChatRooms int
	Messages  int
}

func (s Snapshot) Counts() SnapshotCounts {
	counts := SnapshotCounts{
		Users:     len(s.Users),
		Videos:    len(s.Videos),
		ChatRooms: len(s.ChatRooms),
		Messages:  len(s.Messages),
	}
	for _, video := range s.Videos {
		counts.Likes += len(video.Likes)
	}
	for _, user := range s.Users {
		counts.Views += len(user.WatchHistory)
	}
	return counts
}

func (s *Snapshot) sort() {
	sort.Slice(s.Users, func(i, j int) bool { return s.Users[i].CreatedAt.Before(s.Users[j].CreatedAt) })
	sort.Slice(s.Videos, func(i, j int) bool { return s.Videos[i].CreatedAt.Before(s.Videos[j].CreatedAt) })
	sort.Slice(s.ChatRooms, func(i, j int) bool { return s.ChatRooms[i].CreatedAt.Before(s.ChatRooms[j].CreatedAt) })
	sort.Slice(s.Messages, func(i, j int) bool { return s.Messages[i].Timestamp.Before(s.Messages[j].Timestamp) })
}

// LoadSnapshotFromJSON reads the dataset file written by JSONRepository.
func LoadSnapshotFromJSON(path string) (Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	var data dataset
	if err := json.NewDecoder(file).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	data.ensureInitialized()

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
	return snap, nil
}

// timeOffset spaces imported set members so their insertion order survives
// in the timestamp columns that order them.
func timeOffset(i int) time.Duration {
	return time.Duration(i) * time.Millisecond
}
