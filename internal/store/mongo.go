package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"campusforum/api/internal/forum"
)

const mongoPostsCollection = "forum_posts"

// MongoStore keeps posts in the same document shape the forum has always used
// in MongoDB: one document per post with the reply tree embedded.
type MongoStore struct {
	client *mongo.Client
	posts  *mongo.Collection
}

func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return NewMongoStore(ctx, client, database)
}

func NewMongoStore(ctx context.Context, client *mongo.Client, database string) (*MongoStore, error) {
	posts := client.Database(database).Collection(mongoPostsCollection)
	_, err := posts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "author.id", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("ensure mongo indexes: %w", err)
	}
	return &MongoStore{client: client, posts: posts}, nil
}

func (s *MongoStore) InsertPost(ctx context.Context, post *forum.Post) error {
	if post.Version <= 0 {
		post.Version = 1
	}
	post.Normalize()
	if _, err := s.posts.InsertOne(ctx, post); err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (s *MongoStore) LoadPost(ctx context.Context, postID string) (forum.Post, error) {
	var post forum.Post
	err := s.posts.FindOne(ctx, bson.D{{Key: "_id", Value: postID}}).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return forum.Post{}, ErrNotFound
	}
	if err != nil {
		return forum.Post{}, fmt.Errorf("load post: %w", err)
	}
	post.Normalize()
	return post, nil
}

func (s *MongoStore) SavePost(ctx context.Context, post *forum.Post) error {
	post.Normalize()
	next := *post
	next.Version = post.Version + 1

	result, err := s.posts.ReplaceOne(ctx, bson.D{
		{Key: "_id", Value: post.ID},
		{Key: "version", Value: post.Version},
	}, next)
	if err != nil {
		return fmt.Errorf("save post: %w", err)
	}
	if result.MatchedCount == 0 {
		count, err := s.posts.CountDocuments(ctx, bson.D{{Key: "_id", Value: post.ID}})
		if err != nil {
			return fmt.Errorf("check post: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	post.Version = next.Version
	return nil
}

func (s *MongoStore) ListPosts(ctx context.Context, filter PostFilter) ([]forum.Post, error) {
	query := bson.D{}
	if category := strings.TrimSpace(filter.Category); category != "" {
		query = append(query, bson.E{Key: "category", Value: category})
	}
	if authorID := strings.TrimSpace(filter.AuthorID); authorID != "" {
		query = append(query, bson.E{Key: "author.id", Value: authorID})
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := s.posts.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]forum.Post, 0)
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	for i := range items {
		items[i].Normalize()
	}
	return items, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
