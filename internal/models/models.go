package models

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	AvatarURL    string    `json:"avatarUrl"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	LikedVideos  []string  `json:"likedVideos"`
	WatchHistory []string  `json:"watchHistory"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Profile returns the public projection embedded in videos and messages.
func (u User) Profile() Creator {
	return Creator{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
}

// Creator is the populated author reference shown alongside videos, chat
// participants and message senders.
type Creator struct {
	ID        string `json:"_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

type Video struct {
	ID           string    `json:"_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	VideoURL     string    `json:"videoUrl"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	CreatorID    string    `json:"creatorId"`
	Creator      *Creator  `json:"creator,omitempty"`
	Views        int64     `json:"views"`
	Likes        []string  `json:"likes"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// LikedBy reports whether userID is in the like set.
func (v Video) LikedBy(userID string) bool {
	for _, id := range v.Likes {
		if id == userID {
			return true
		}
	}
	return false
}

type ChatRoom struct {
	ID                  string    `json:"_id"`
	Participants        []string  `json:"participantIds"`
	ParticipantProfiles []Creator `json:"participants,omitempty"`
	LastMessage         string    `json:"lastMessage"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is one of the room's two members.
func (c ChatRoom) HasParticipant(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID        string    `json:"_id"`
	ChatID    string    `json:"chatId"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	Sender    *Creator  `json:"sender,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PresenceEntry describes one online user as broadcast on the realtime channel.
type PresenceEntry struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}
