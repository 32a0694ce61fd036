package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"streamhub/internal/auth"
	"streamhub/internal/models"
)

type mongoUser struct {
	ID            string    `bson:"_id"`
	Username      string    `bson:"username"`
	UsernameLower string    `bson:"usernameLower"`
	Email         string    `bson:"email"`
	AvatarURL     string    `bson:"avatarUrl"`
	PasswordHash  string    `bson:"passwordHash"`
	LikedVideos   []string  `bson:"likedVideos"`
	WatchHistory  []string  `bson:"watchHistory"`
	CreatedAt     time.Time `bson:"createdAt"`
}

func (d mongoUser) model() models.User {
	return models.User{
		ID:           d.ID,
		Username:     d.Username,
		Email:        d.Email,
		AvatarURL:    d.AvatarURL,
		PasswordHash: d.PasswordHash,
		LikedVideos:  d.LikedVideos,
		WatchHistory: d.WatchHistory,
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

type mongoVideo struct {
	ID           string    `bson:"_id"`
	Title        string    `bson:"title"`
	Description  string    `bson:"description"`
	VideoURL     string    `bson:"videoUrl"`
	ThumbnailURL string    `bson:"thumbnailUrl"`
	CreatorID    string    `bson:"creator"`
	Views        int64     `bson:"views"`
	Likes        []string  `bson:"likes"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func (d mongoVideo) model() models.Video {
	likes := d.Likes
	if likes == nil {
		likes = []string{}
	}
	return models.Video{
		ID:           d.ID,
		Title:        d.Title,
		Description:  d.Description,
		VideoURL:     d.VideoURL,
		ThumbnailURL: d.ThumbnailURL,
		CreatorID:    d.CreatorID,
		Views:        d.Views,
		Likes:        likes,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

type mongoRoom struct {
	ID           string    `bson:"_id"`
	ParticipantA string    `bson:"participantA"`
	ParticipantB string    `bson:"participantB"`
	Participants []string  `bson:"participants"`
	LastMessage  string    `bson:"lastMessage"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

type mongoMessage struct {
	ID        string    `bson:"_id"`
	ChatID    string    `bson:"chatId"`
	SenderID  string    `bson:"sender"`
	Content   string    `bson:"content"`
	Timestamp time.Time `bson:"timestamp"`
}

// MongoRepository stores the catalog in MongoDB, one collection per entity.
type MongoRepository struct {
	client   *mongo.Client
	users    *mongo.Collection
	videos   *mongo.Collection
	rooms    *mongo.Collection
	messages *mongo.Collection
	opts     options
}

var _ Repository = (*MongoRepository)(nil)

// NewMongoRepository connects to uri, selects database and ensures the
// collection indexes exist.
func NewMongoRepository(ctx context.Context, uri, database string, opts ...Option) (*MongoRepository, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("mongo uri required")
	}
	if strings.TrimSpace(database) == "" {
		database = "streamhub"
	}
	cfg := newOptions(opts...)
	clientOpts := mongooptions.Client().ApplyURI(uri)
	if cfg.applicationName != "" {
		clientOpts.SetAppName(cfg.applicationName)
	}
	if cfg.connectTimeout > 0 {
		clientOpts.SetConnectTimeout(cfg.connectTimeout)
	}
	if cfg.maxConnections > 0 {
		clientOpts.SetMaxPoolSize(uint64(cfg.maxConnections))
	}
	if cfg.minConnections > 0 {
		clientOpts.SetMinPoolSize(uint64(cfg.minConnections))
	}
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	db := client.Database(database)
	repo := &MongoRepository{
		client:   client,
		users:    db.Collection("users"),
		videos:   db.Collection("videos"),
		rooms:    db.Collection("chats"),
		messages: db.Collection("messages"),
		opts:     cfg,
	}
	if err := repo.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	if err := repo.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return repo, nil
}

func (r *MongoRepository) ensureIndexes(ctx context.Context) error {
	unique := mongooptions.Index().SetUnique(true)
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		r.users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "usernameLower", Value: 1}}, Options: unique},
		},
		r.videos: {
			{Keys: bson.D{{Key: "title", Value: "text"}, {Key: "description", Value: "text"}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "creator", Value: 1}}},
		},
		r.rooms: {
			{Keys: bson.D{{Key: "participantA", Value: 1}, {Key: "participantB", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updatedAt", Value: -1}}},
		},
		r.messages: {
			{Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "timestamp", Value: 1}}},
		},
	}
	for collection, specs := range indexes {
		if _, err := collection.Indexes().CreateMany(ctx, specs); err != nil {
			return fmt.Errorf("create %s indexes: %w", collection.Name(), err)
		}
	}
	return nil
}

func (r *MongoRepository) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opts.operationTimeout)
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	if err := r.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// Users

func (r *MongoRepository) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	params, err := params.normalize()
	if err != nil {
		return models.User{}, err
	}
	hash, err := auth.HashPasswordWithIterations(params.Password, r.opts.passwordIterations)
	if err != nil {
		return models.User{}, err
	}
	doc := mongoUser{
		ID:            generateID(),
		Username:      params.Username,
		UsernameLower: strings.ToLower(params.Username),
		Email:         params.Email,
		AvatarURL:     params.AvatarURL,
		PasswordHash:  hash,
		LikedVideos:   []string{},
		WatchHistory:  []string{},
		CreatedAt:     r.opts.now(),
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	if _, err := r.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.User{}, fmt.Errorf("user %s: %w", params.Email, ErrDuplicate)
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return sanitizeUser(doc.model()), nil
}

func (r *MongoRepository) findUser(ctx context.Context, filter bson.M) (mongoUser, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	var doc mongoUser
	err := r.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return mongoUser{}, ErrNotFound
	}
	if err != nil {
		return mongoUser{}, fmt.Errorf("load user: %w", err)
	}
	return doc, nil
}

func (r *MongoRepository) AuthenticateUser(ctx context.Context, email, password string) (models.User, error) {
	doc, err := r.findUser(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
	if errors.Is(err, ErrNotFound) {
		return models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, err
	}
	if doc.PasswordHash == "" || auth.VerifyPassword(doc.PasswordHash, password) != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return sanitizeUser(doc.model()), nil
}

func (r *MongoRepository) GetUser(ctx context.Context, id string) (models.User, error) {
	doc, err := r.findUser(ctx, bson.M{"_id": id})
	if errors.Is(err, ErrNotFound) {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.User{}, err
	}
	return sanitizeUser(doc.model()), nil
}

func (r *MongoRepository) ListUsers(ctx context.Context, excludeID string) ([]models.User, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	cursor, err := r.users.Find(ctx, bson.M{"_id": bson.M{"$ne": excludeID}},
		mongooptions.Find().SetSort(bson.D{{Key: "usernameLower", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var docs []mongoUser
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	users := make([]models.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, sanitizeUser(doc.model()))
	}
	return users, nil
}

func (r *MongoRepository) profiles(ctx context.Context, ids []string) (map[string]models.Creator, error) {
	out := make(map[string]models.Creator, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cursor, err := r.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		mongooptions.Find().SetProjection(bson.M{"username": 1, "avatarUrl": 1}))
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	var docs []mongoUser
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	for _, doc := range docs {
		out[doc.ID] = models.Creator{ID: doc.ID, Username: doc.Username, AvatarURL: doc.AvatarURL}
	}
	return out, nil
}

// Videos

func (r *MongoRepository) populateVideos(ctx context.Context, docs []mongoVideo) ([]models.Video, error) {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.CreatorID)
	}
	creators, err := r.profiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	videos := make([]models.Video, 0, len(docs))
	for _, doc := range docs {
		video := doc.model()
		if creator, ok := creators[doc.CreatorID]; ok {
			video.Creator = &creator
		}
		videos = append(videos, video)
	}
	return videos, nil
}

func (r *MongoRepository) findVideos(ctx context.Context, filter any, limit int) ([]models.Video, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	findOpts := mongooptions.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cursor, err := r.videos.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find videos: %w", err)
	}
	var docs []mongoVideo
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode videos: %w", err)
	}
	return r.populateVideos(ctx, docs)
}

func (r *MongoRepository) CreateVideo(ctx context.Context, params CreateVideoParams) (models.Video, error) {
	params, err := params.normalize()
	if err != nil {
		return models.Video{}, err
	}
	if _, err := r.GetUser(ctx, params.CreatorID); err != nil {
		return models.Video{}, fmt.Errorf("creator: %w", err)
	}
	now := r.opts.now()
	doc := mongoVideo{
		ID:           generateID(),
		Title:        params.Title,
		Description:  params.Description,
		VideoURL:     params.VideoURL,
		ThumbnailURL: params.ThumbnailURL,
		CreatorID:    params.CreatorID,
		Likes:        []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	if _, err := r.videos.InsertOne(opCtx, doc); err != nil {
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return r.GetVideo(ctx, doc.ID)
}

func (r *MongoRepository) GetVideo(ctx context.Context, id string) (models.Video, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	var doc mongoVideo
	err := r.videos.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Video{}, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Video{}, fmt.Errorf("load video: %w", err)
	}
	videos, err := r.populateVideos(ctx, []mongoVideo{doc})
	if err != nil {
		return models.Video{}, err
	}
	return videos[0], nil
}

func (r *MongoRepository) ListVideos(ctx context.Context, limit int) ([]models.Video, error) {
	return r.findVideos(ctx, bson.M{}, normalizeLimit(limit))
}

// SearchVideos quotes every term so the text index matches all of them.
func (r *MongoRepository) SearchVideos(ctx context.Context, query string, limit int) ([]models.Video, error) {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return r.ListVideos(ctx, limit)
	}
	quoted := make([]string, 0, len(fields))
	for _, field := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(field, `"`, "")+`"`)
	}
	filter := bson.M{"$text": bson.M{"$search": strings.Join(quoted, " "), "$diacriticSensitive": false}}
	return r.findVideos(ctx, filter, normalizeLimit(limit))
}

func (r *MongoRepository) ListVideosByCreator(ctx context.Context, creatorID string) ([]models.Video, error) {
	return r.findVideos(ctx, bson.M{"creator": creatorID}, 0)
}

func (r *MongoRepository) UpdateVideo(ctx context.Context, id string, update VideoUpdate) (models.Video, error) {
	update, err := update.normalize()
	if err != nil {
		return models.Video{}, err
	}
	set := bson.M{"updatedAt": r.opts.now()}
	if update.Title != nil {
		set["title"] = *update.Title
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	res, err := r.videos.UpdateOne(opCtx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return models.Video{}, fmt.Errorf("update video: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.Video{}, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	return r.GetVideo(ctx, id)
}

// ToggleLike adds the like only when it is absent, so a concurrent toggle
// cannot insert a duplicate. A zero match means the like was present.
func (r *MongoRepository) ToggleLike(ctx context.Context, videoID, userID string) (models.Video, error) {
	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	added, err := r.videos.UpdateOne(opCtx,
		bson.M{"_id": videoID, "likes": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"likes": userID}})
	if err != nil {
		return models.Video{}, fmt.Errorf("add like: %w", err)
	}
	userUpdate := bson.M{"$addToSet": bson.M{"likedVideos": videoID}}
	if added.MatchedCount == 0 {
		removed, err := r.videos.UpdateOne(opCtx, bson.M{"_id": videoID}, bson.M{"$pull": bson.M{"likes": userID}})
		if err != nil {
			return models.Video{}, fmt.Errorf("remove like: %w", err)
		}
		if removed.MatchedCount == 0 {
			return models.Video{}, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
		}
		userUpdate = bson.M{"$pull": bson.M{"likedVideos": videoID}}
	}
	if _, err := r.users.UpdateOne(opCtx, bson.M{"_id": userID}, userUpdate); err != nil {
		return models.Video{}, fmt.Errorf("update liked videos: %w", err)
	}
	return r.GetVideo(ctx, videoID)
}

func (r *MongoRepository) RecordView(ctx context.Context, videoID, userID string) (models.Video, error) {
	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	res, err := r.videos.UpdateOne(opCtx, bson.M{"_id": videoID}, bson.M{"$inc": bson.M{"views": 1}})
	if err != nil {
		return models.Video{}, fmt.Errorf("increment views: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.Video{}, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}
	if _, err := r.users.UpdateOne(opCtx, bson.M{"_id": userID}, bson.M{"$addToSet": bson.M{"watchHistory": videoID}}); err != nil {
		return models.Video{}, fmt.Errorf("record history: %w", err)
	}
	return r.GetVideo(ctx, videoID)
}

func (r *MongoRepository) videosInOrder(ctx context.Context, ids []string) ([]models.Video, error) {
	if len(ids) == 0 {
		return []models.Video{}, nil
	}
	found, err := r.findVideos(ctx, bson.M{"_id": bson.M{"$in": ids}}, 0)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Video, len(found))
	for _, video := range found {
		byID[video.ID] = video
	}
	videos := make([]models.Video, 0, len(ids))
	for _, id := range ids {
		if video, ok := byID[id]; ok {
			videos = append(videos, video)
		}
	}
	return videos, nil
}

func (r *MongoRepository) WatchHistory(ctx context.Context, userID string) ([]models.Video, error) {
	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.videosInOrder(ctx, user.WatchHistory)
}

func (r *MongoRepository) LikedVideos(ctx context.Context, userID string) ([]models.Video, error) {
	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.videosInOrder(ctx, user.LikedVideos)
}

// Chat

func (r *MongoRepository) populateRooms(ctx context.Context, docs []mongoRoom) ([]models.ChatRoom, error) {
	var ids []string
	for _, doc := range docs {
		ids = append(ids, doc.ParticipantA, doc.ParticipantB)
	}
	profiles, err := r.profiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	rooms := make([]models.ChatRoom, 0, len(docs))
	for _, doc := range docs {
		room := models.ChatRoom{
			ID:                  doc.ID,
			Participants:        []string{doc.ParticipantA, doc.ParticipantB},
			ParticipantProfiles: make([]models.Creator, 0, 2),
			LastMessage:         doc.LastMessage,
			CreatedAt:           doc.CreatedAt.UTC(),
			UpdatedAt:           doc.UpdatedAt.UTC(),
		}
		for _, id := range room.Participants {
			if profile, ok := profiles[id]; ok {
				room.ParticipantProfiles = append(room.ParticipantProfiles, profile)
			}
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (r *MongoRepository) FindOrCreateChatRoom(ctx context.Context, userID, participantID string) (models.ChatRoom, bool, error) {
	first, second, err := chatPair(userID, participantID)
	if err != nil {
		return models.ChatRoom{}, false, err
	}
	for _, id := range []string{first, second} {
		if _, err := r.GetUser(ctx, id); err != nil {
			return models.ChatRoom{}, false, err
		}
	}
	now := r.opts.now()
	candidate := generateID()
	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	var doc mongoRoom
	err = r.rooms.FindOneAndUpdate(opCtx,
		bson.M{"participantA": first, "participantB": second},
		bson.M{"$setOnInsert": bson.M{
			"_id":          candidate,
			"participants": []string{first, second},
			"lastMessage":  "",
			"createdAt":    now,
			"updatedAt":    now,
		}},
		mongooptions.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(mongooptions.After),
	).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// Lost an upsert race on the unique pair index; the winner's room exists now.
		err = r.rooms.FindOne(opCtx, bson.M{"participantA": first, "participantB": second}).Decode(&doc)
	}
	if err != nil {
		return models.ChatRoom{}, false, fmt.Errorf("upsert chat room: %w", err)
	}
	rooms, err := r.populateRooms(opCtx, []mongoRoom{doc})
	if err != nil {
		return models.ChatRoom{}, false, err
	}
	return rooms[0], doc.ID == candidate, nil
}

func (r *MongoRepository) ListChatRooms(ctx context.Context, userID string) ([]models.ChatRoom, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	cursor, err := r.rooms.Find(ctx, bson.M{"participants": userID},
		mongooptions.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list chat rooms: %w", err)
	}
	var docs []mongoRoom
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode chat rooms: %w", err)
	}
	return r.populateRooms(ctx, docs)
}

func (r *MongoRepository) GetChatRoom(ctx context.Context, id string) (models.ChatRoom, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	var doc mongoRoom
	err := r.rooms.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ChatRoom{}, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.ChatRoom{}, fmt.Errorf("load chat room: %w", err)
	}
	rooms, err := r.populateRooms(ctx, []mongoRoom{doc})
	if err != nil {
		return models.ChatRoom{}, err
	}
	return rooms[0], nil
}

func (r *MongoRepository) populateMessages(ctx context.Context, docs []mongoMessage) ([]models.Message, error) {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.SenderID)
	}
	senders, err := r.profiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	messages := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		message := models.Message{
			ID:        doc.ID,
			ChatID:    doc.ChatID,
			Content:   doc.Content,
			SenderID:  doc.SenderID,
			Timestamp: doc.Timestamp.UTC(),
		}
		if sender, ok := senders[doc.SenderID]; ok {
			message.Sender = &sender
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func (r *MongoRepository) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	if _, err := r.GetChatRoom(ctx, chatID); err != nil {
		return nil, err
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	cursor, err := r.messages.Find(ctx, bson.M{"chatId": chatID},
		mongooptions.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return r.populateMessages(ctx, docs)
}

func (r *MongoRepository) CreateMessage(ctx context.Context, chatID, senderID, content string) (models.Message, error) {
	content, err := normalizeMessageContent(content)
	if err != nil {
		return models.Message{}, err
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	now := r.opts.now()
	res, err := r.rooms.UpdateOne(ctx, bson.M{"_id": chatID},
		bson.M{"$set": bson.M{"lastMessage": content, "updatedAt": now}})
	if err != nil {
		return models.Message{}, fmt.Errorf("touch chat room: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.Message{}, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	doc := mongoMessage{ID: generateID(), ChatID: chatID, SenderID: senderID, Content: content, Timestamp: now}
	if _, err := r.messages.InsertOne(ctx, doc); err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	messages, err := r.populateMessages(ctx, []mongoMessage{doc})
	if err != nil {
		return models.Message{}, err
	}
	return messages[0], nil
}
