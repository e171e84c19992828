package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	streamsCollection = "streams"
	tasksCollection   = "tasks"
)

// Documents carry a seq ObjectID next to the domain fields. ObjectIDs grow
// monotonically within a process, so seq breaks created_at ties in insert order.
type streamDoc struct {
	domain.Stream `bson:",inline"`
	Seq           primitive.ObjectID `bson:"seq"`
}

type taskDoc struct {
	domain.Task `bson:",inline"`
	Seq         primitive.ObjectID `bson:"seq"`
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}}

// Store implements domain.Store on a MongoDB database.
type Store struct {
	db      *mongo.Database
	streams *mongo.Collection
	tasks   *mongo.Collection
}

var _ domain.Store = (*Store)(nil)

func NewStore(db *mongo.Database) *Store {
	return &Store{
		db:      db,
		streams: db.Collection(streamsCollection),
		tasks:   db.Collection(tasksCollection),
	}
}

// EnsureIndexes creates the indexes backing the newest-first listings.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.streams.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: newestFirst}); err != nil {
		return fmt.Errorf("failed to create stream index: %w", err)
	}

	taskKeys := append(bson.D{{Key: "stream_id", Value: 1}}, newestFirst...)
	if _, err := s.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: taskKeys}); err != nil {
		return fmt.Errorf("failed to create task index: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

func (s *Store) CreateStream(ctx context.Context, stream *domain.Stream) error {
	doc := streamDoc{Stream: *stream, Seq: primitive.NewObjectID()}
	if _, err := s.streams.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert stream: %w", err)
	}
	return nil
}

func (s *Store) GetStream(ctx context.Context, id string) (*domain.Stream, error) {
	var doc streamDoc
	err := s.streams.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	return &doc.Stream, nil
}

func (s *Store) ListStreams(ctx context.Context) ([]domain.Stream, error) {
	cur, err := s.streams.Find(ctx, bson.M{}, options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}

	var docs []streamDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode streams: %w", err)
	}

	streams := make([]domain.Stream, len(docs))
	for i := range docs {
		streams[i] = docs[i].Stream
	}
	return streams, nil
}

func (s *Store) CreateTask(ctx context.Context, task *domain.Task) error {
	n, err := s.streams.CountDocuments(ctx, bson.M{"_id": task.StreamID}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("failed to check stream: %w", err)
	}
	if n == 0 {
		return domain.ErrStreamNotFound
	}

	doc := taskDoc{Task: *task, Seq: primitive.NewObjectID()}
	if _, err := s.tasks.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var doc taskDoc
	err := s.tasks.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &doc.Task, nil
}

func (s *Store) ListTasks(ctx context.Context, streamID string) ([]domain.Task, error) {
	cur, err := s.tasks.Find(ctx, bson.M{"stream_id": streamID}, options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	var docs []taskDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}

	tasks := make([]domain.Task, len(docs))
	for i := range docs {
		tasks[i] = docs[i].Task
	}
	return tasks, nil
}

// IncrementVotes uses $inc so concurrent votes are applied server side.
func (s *Store) IncrementVotes(ctx context.Context, id string) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"votes": 1})

	var out struct {
		Votes int64 `bson:"votes"`
	}
	err := s.tasks.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"votes": int64(1)}}, opts).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, domain.ErrTaskNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment votes: %w", err)
	}
	return out.Votes, nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status domain.Status) (*domain.Task, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc taskDoc
	err := s.tasks.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"status": status}}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set status: %w", err)
	}
	return &doc.Task, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.tasks.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}
