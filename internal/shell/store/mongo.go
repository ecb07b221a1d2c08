package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/examai/backend/internal/core/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultMongoDatabase is used when no database name is configured.
const DefaultMongoDatabase = "examai"

// =============================================================================
// MongoStore
// =============================================================================

// MongoStore implements Store using MongoDB. Exam papers and users are kept
// in the same document shape clients send and receive.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to uri, checks the connection and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = DefaultMongoDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, NewStoreError("NewMongoStore", "", "", err.Error(), ErrConnectionFailed)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, NewStoreError("NewMongoStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	s := &MongoStore{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, NewStoreError("NewMongoStore", "", "", err.Error(), ErrMigrationFailed)
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	unique := mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	for _, name := range []string{CollectionExamPapers, CollectionUsers, CollectionJobs} {
		if _, err := s.db.Collection(name).Indexes().CreateOne(ctx, unique); err != nil {
			return err
		}
	}
	_, err := s.db.Collection(CollectionJobs).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_run_at", Value: 1}},
	})
	return err
}

// Ping checks the server connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return NewStoreError("Ping", "", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// =============================================================================
// Exam Papers
// =============================================================================

func (s *MongoStore) InsertExamPaper(ctx context.Context, paper *domain.ExamPaper) error {
	preparePaper(paper)

	doc, err := toDocument(paper)
	if err != nil {
		return NewStoreError("InsertExamPaper", "exam_paper", paper.ID, "failed to serialize paper", ErrInvalidData)
	}
	doc = append(bson.D{{Key: "_id", Value: primitive.NewObjectID()}}, doc...)

	if _, err := s.db.Collection(CollectionExamPapers).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return NewStoreError("InsertExamPaper", "exam_paper", paper.ID, "exam paper with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("InsertExamPaper", "exam_paper", paper.ID, err.Error(), err)
	}
	return nil
}

func (s *MongoStore) GetExamPaper(ctx context.Context, id string) (*domain.ExamPaper, error) {
	res := s.db.Collection(CollectionExamPapers).FindOne(ctx, bson.M{"id": id})
	return decodePaper(res, "GetExamPaper", id)
}

// LatestExamPaper returns the most recently inserted paper. ObjectIDs grow
// with insertion time, so the highest _id is the newest.
func (s *MongoStore) LatestExamPaper(ctx context.Context) (*domain.ExamPaper, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})
	res := s.db.Collection(CollectionExamPapers).FindOne(ctx, bson.D{}, opts)
	return decodePaper(res, "LatestExamPaper", "")
}

func (s *MongoStore) ListExamPapers(ctx context.Context, opts ListOptions) ([]domain.ExamPaper, error) {
	opts = opts.Normalize()
	findOpts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetSkip(int64(opts.Offset)).
		SetLimit(int64(opts.Limit))

	cur, err := s.db.Collection(CollectionExamPapers).Find(ctx, bson.D{}, findOpts)
	if err != nil {
		return nil, NewStoreError("ListExamPapers", "exam_paper", "", err.Error(), err)
	}
	defer cur.Close(ctx)

	papers := []domain.ExamPaper{}
	for cur.Next(ctx) {
		var paper domain.ExamPaper
		if err := fromDocument(cur.Current, &paper); err != nil {
			return nil, NewStoreError("ListExamPapers", "exam_paper", "", "failed to parse paper", ErrInvalidData)
		}
		papers = append(papers, paper)
	}
	if err := cur.Err(); err != nil {
		return nil, NewStoreError("ListExamPapers", "exam_paper", "", err.Error(), err)
	}
	return papers, nil
}

func decodePaper(res *mongo.SingleResult, op, id string) (*domain.ExamPaper, error) {
	raw, err := res.Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewStoreError(op, "exam_paper", id, "exam paper not found", ErrNotFound)
		}
		return nil, NewStoreError(op, "exam_paper", id, err.Error(), err)
	}

	var paper domain.ExamPaper
	if err := fromDocument(raw, &paper); err != nil {
		return nil, NewStoreError(op, "exam_paper", id, "failed to parse paper", ErrInvalidData)
	}
	return &paper, nil
}

// =============================================================================
// Users
// =============================================================================

type userDocument struct {
	ID        string    `bson:"id"`
	GenInfo   bson.D    `bson:"gen_info"`
	CreatedAt time.Time `bson:"created_at"`
}

type storedUserDocument struct {
	ID        string    `bson:"id"`
	GenInfo   bson.Raw  `bson:"gen_info"`
	CreatedAt time.Time `bson:"created_at"`
}

func (s *MongoStore) CreateUser(ctx context.Context, user *domain.User) error {
	prepareUser(user)

	genInfo, err := toDocument(user.GenInfo)
	if err != nil {
		return NewStoreError("CreateUser", "user", user.ID, "failed to serialize gen_info", ErrInvalidData)
	}

	doc := userDocument{ID: user.ID, GenInfo: genInfo, CreatedAt: user.CreatedAt}
	if _, err := s.db.Collection(CollectionUsers).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return NewStoreError("CreateUser", "user", user.ID, "user with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateUser", "user", user.ID, err.Error(), err)
	}
	return nil
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var doc storedUserDocument
	err := s.db.Collection(CollectionUsers).FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewStoreError("GetUser", "user", id, "user not found", ErrNotFound)
		}
		return nil, NewStoreError("GetUser", "user", id, err.Error(), err)
	}

	user := &domain.User{ID: doc.ID, CreatedAt: doc.CreatedAt.UTC()}
	if err := fromDocument(doc.GenInfo, &user.GenInfo); err != nil {
		return nil, NewStoreError("GetUser", "user", id, "failed to parse gen_info", ErrInvalidData)
	}
	return user, nil
}

// =============================================================================
// Jobs
// =============================================================================

type jobDocument struct {
	ID               string    `bson:"id"`
	Status           string    `bson:"status"`
	BlobName         string    `bson:"blob_name"`
	OriginalFilename string    `bson:"original_filename"`
	ContentType      string    `bson:"content_type"`
	Folder           string    `bson:"folder"`
	Attempts         int       `bson:"attempts"`
	MaxAttempts      int       `bson:"max_attempts"`
	NextRunAt        time.Time `bson:"next_run_at"`
	LastError        string    `bson:"last_error"`
	ExamPaperID      string    `bson:"exam_paper_id"`
	TextLength       int       `bson:"text_length"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func jobToDocument(job *domain.Job) jobDocument {
	return jobDocument{
		ID:               job.ID,
		Status:           string(job.Status),
		BlobName:         job.BlobName,
		OriginalFilename: job.OriginalFilename,
		ContentType:      job.ContentType,
		Folder:           job.Folder,
		Attempts:         job.Attempts,
		MaxAttempts:      job.MaxAttempts,
		NextRunAt:        job.NextRunAt.UTC(),
		LastError:        job.LastError,
		ExamPaperID:      job.ExamPaperID,
		TextLength:       job.TextLength,
		CreatedAt:        job.CreatedAt.UTC(),
		UpdatedAt:        job.UpdatedAt.UTC(),
	}
}

func (d jobDocument) toJob() *domain.Job {
	return &domain.Job{
		ID:               d.ID,
		Status:           domain.JobStatus(d.Status),
		BlobName:         d.BlobName,
		OriginalFilename: d.OriginalFilename,
		ContentType:      d.ContentType,
		Folder:           d.Folder,
		Attempts:         d.Attempts,
		MaxAttempts:      d.MaxAttempts,
		NextRunAt:        d.NextRunAt.UTC(),
		LastError:        d.LastError,
		ExamPaperID:      d.ExamPaperID,
		TextLength:       d.TextLength,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
}

func (s *MongoStore) CreateJob(ctx context.Context, job *domain.Job) error {
	if _, err := s.db.Collection(CollectionJobs).InsertOne(ctx, jobToDocument(job)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return NewStoreError("CreateJob", "job", job.ID, "job with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateJob", "job", job.ID, err.Error(), err)
	}
	return nil
}

func (s *MongoStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var doc jobDocument
	err := s.db.Collection(CollectionJobs).FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewStoreError("GetJob", "job", id, "job not found", ErrNotFound)
		}
		return nil, NewStoreError("GetJob", "job", id, err.Error(), err)
	}
	return doc.toJob(), nil
}

func (s *MongoStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	res, err := s.db.Collection(CollectionJobs).ReplaceOne(ctx, bson.M{"id": job.ID}, jobToDocument(job))
	if err != nil {
		return NewStoreError("UpdateJob", "job", job.ID, err.Error(), err)
	}
	if res.MatchedCount == 0 {
		return NewStoreError("UpdateJob", "job", job.ID, "job not found", ErrNotFound)
	}
	return nil
}

func (s *MongoStore) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = DefaultListOptions().Limit
	}

	filter := bson.M{
		"status":      bson.M{"$in": bson.A{string(domain.JobPending), string(domain.JobRunning)}},
		"next_run_at": bson.M{"$lte": now.UTC()},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "next_run_at", Value: 1}, {Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.db.Collection(CollectionJobs).Find(ctx, filter, opts)
	if err != nil {
		return nil, NewStoreError("ListDueJobs", "job", "", err.Error(), err)
	}

	var docs []jobDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, NewStoreError("ListDueJobs", "job", "", err.Error(), err)
	}

	jobs := make([]domain.Job, 0, len(docs))
	for _, d := range docs {
		jobs = append(jobs, *d.toJob())
	}
	return jobs, nil
}

// =============================================================================
// Document Conversion
// =============================================================================

// toDocument converts a value to BSON through its JSON form so the stored
// document keeps the JSON keys.
func toDocument(v any) (bson.D, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// fromDocument decodes a BSON document into v through relaxed extended JSON.
func fromDocument(raw bson.Raw, v any) error {
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
