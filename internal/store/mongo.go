// ABOUTME: MongoDB implementation of the DocumentStore interface
// ABOUTME: Keeps assistants, admins and logs in three collections of one database

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	assistantsCollection = "assistants"
	adminsCollection     = "admins"
	logsCollection       = "logs"
)

// MongoStore implements DocumentStore on MongoDB
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
	seq    atomic.Int64
}

type assistantDoc struct {
	ID            int64      `bson:"_id"`
	Seq           int64      `bson:"seq"`
	Handle        string     `bson:"handle"`
	Credentials   []byte     `bson:"credentials"`
	Health        string     `bson:"health"`
	AddedBy       int64      `bson:"added_by"`
	CreatedAt     time.Time  `bson:"created_at"`
	LastCheckedAt *time.Time `bson:"last_checked_at,omitempty"`
}

type adminDoc struct {
	UserID    int64     `bson:"_id"`
	AddedBy   int64     `bson:"added_by"`
	CreatedAt time.Time `bson:"created_at"`
}

type logDoc struct {
	ID          string         `bson:"_id"`
	Seq         int64          `bson:"seq"`
	Kind        string         `bson:"kind"`
	Description string         `bson:"description"`
	ActorID     int64          `bson:"actor_id"`
	Detail      map[string]any `bson:"detail,omitempty"`
	CreatedAt   time.Time      `bson:"created_at"`
}

// NewMongoStore connects to uri, verifies the connection and ensures indexes exist.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	logger := slog.Default().With("component", "store")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(database),
		logger: logger,
	}
	// Seq orders records inserted by this process; nanosecond start keeps it ahead of earlier runs.
	s.seq.Store(time.Now().UnixNano())

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	logger.Info("MongoDB store initialized", "database", database)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		assistantsCollection: {
			{Keys: bson.D{{Key: "seq", Value: 1}}},
		},
		logsCollection: {
			{Keys: bson.D{{Key: "seq", Value: -1}}},
			{Keys: bson.D{{Key: "actor_id", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("indexing %s: %w", coll, err)
		}
	}
	return nil
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping verifies the server is reachable
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// CreateAssistant inserts a new assistant document
func (s *MongoStore) CreateAssistant(ctx context.Context, a *Assistant) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Health == "" {
		a.Health = HealthUnknown
	}

	doc := assistantDoc{
		ID:            a.ID,
		Seq:           s.seq.Add(1),
		Handle:        a.Handle,
		Credentials:   a.Credentials,
		Health:        a.Health,
		AddedBy:       a.AddedBy,
		CreatedAt:     a.CreatedAt.UTC(),
		LastCheckedAt: a.LastCheckedAt,
	}

	if _, err := s.db.Collection(assistantsCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting assistant: %w", err)
	}

	s.logger.Debug("created assistant", "id", a.ID, "handle", a.Handle)
	return nil
}

// GetAssistant retrieves an assistant by id
func (s *MongoStore) GetAssistant(ctx context.Context, id int64) (*Assistant, error) {
	var doc assistantDoc
	err := s.db.Collection(assistantsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying assistant: %w", err)
	}
	return doc.toAssistant(), nil
}

// ListAssistants returns every assistant in insertion order
func (s *MongoStore) ListAssistants(ctx context.Context) ([]*Assistant, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cur, err := s.db.Collection(assistantsCollection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("querying assistants: %w", err)
	}
	defer cur.Close(ctx)

	var docs []assistantDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding assistants: %w", err)
	}

	out := make([]*Assistant, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toAssistant())
	}
	return out, nil
}

// UpdateAssistantHealth records a probe outcome without upserting
func (s *MongoStore) UpdateAssistantHealth(ctx context.Context, id int64, health string, checkedAt time.Time) error {
	if !IsKnownHealth(health) {
		return fmt.Errorf("unknown health state %q", health)
	}

	res, err := s.db.Collection(assistantsCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"health": health, "last_checked_at": checkedAt.UTC()}},
	)
	if err != nil {
		return fmt.Errorf("updating assistant health: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAssistant removes an assistant document
func (s *MongoStore) DeleteAssistant(ctx context.Context, id int64) error {
	res, err := s.db.Collection(assistantsCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting assistant: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	s.logger.Debug("deleted assistant", "id", id)
	return nil
}

// AddAdmin grants admin privilege
func (s *MongoStore) AddAdmin(ctx context.Context, a *Admin) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	doc := adminDoc{UserID: a.UserID, AddedBy: a.AddedBy, CreatedAt: a.CreatedAt.UTC()}
	if _, err := s.db.Collection(adminsCollection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting admin: %w", err)
	}
	return nil
}

// RemoveAdmin revokes admin privilege
func (s *MongoStore) RemoveAdmin(ctx context.Context, userID int64) error {
	res, err := s.db.Collection(adminsCollection).DeleteOne(ctx, bson.M{"_id": userID})
	if err != nil {
		return fmt.Errorf("deleting admin: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// IsAdmin reports whether userID holds admin privilege
func (s *MongoStore) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	n, err := s.db.Collection(adminsCollection).CountDocuments(ctx, bson.M{"_id": userID})
	if err != nil {
		return false, fmt.Errorf("querying admin: %w", err)
	}
	return n > 0, nil
}

// ListAdmins returns admins ordered by grant time
func (s *MongoStore) ListAdmins(ctx context.Context) ([]*Admin, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.db.Collection(adminsCollection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("querying admins: %w", err)
	}
	defer cur.Close(ctx)

	var docs []adminDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding admins: %w", err)
	}

	out := make([]*Admin, 0, len(docs))
	for _, d := range docs {
		out = append(out, &Admin{UserID: d.UserID, AddedBy: d.AddedBy, CreatedAt: d.CreatedAt})
	}
	return out, nil
}

// AppendLog appends an audit entry
func (s *MongoStore) AppendLog(ctx context.Context, r *LogRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	doc := logDoc{
		ID:          r.ID,
		Seq:         s.seq.Add(1),
		Kind:        r.Kind,
		Description: r.Description,
		ActorID:     r.ActorID,
		Detail:      r.Detail,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if _, err := s.db.Collection(logsCollection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}
	return nil
}

// ListLogs returns up to limit entries, newest first
func (s *MongoStore) ListLogs(ctx context.Context, limit int) ([]*LogRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetLimit(int64(normalizeLimit(limit)))

	cur, err := s.db.Collection(logsCollection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	defer cur.Close(ctx)

	var docs []logDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding logs: %w", err)
	}

	out := make([]*LogRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, &LogRecord{
			ID:          d.ID,
			Kind:        d.Kind,
			Description: d.Description,
			ActorID:     d.ActorID,
			Detail:      d.Detail,
			CreatedAt:   d.CreatedAt,
		})
	}
	return out, nil
}

func (d *assistantDoc) toAssistant() *Assistant {
	return &Assistant{
		ID:            d.ID,
		Handle:        d.Handle,
		Credentials:   d.Credentials,
		Health:        d.Health,
		AddedBy:       d.AddedBy,
		CreatedAt:     d.CreatedAt,
		LastCheckedAt: d.LastCheckedAt,
	}
}

// Compile-time check that MongoStore implements DocumentStore
var _ DocumentStore = (*MongoStore)(nil)
