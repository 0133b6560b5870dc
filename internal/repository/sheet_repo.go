package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gradeflow/internal/logger"
	"gradeflow/internal/model"
)

// SheetFilter narrows sheet listings
type SheetFilter struct {
	ExamID      string
	Status      model.SheetStatus
	FlaggedOnly bool
	UploadedBy  string
}

// SheetRepo handles MongoDB operations for answer sheets
type SheetRepo interface {
	Create(ctx context.Context, sheet *model.AnswerSheet) error
	GetByID(ctx context.Context, id string) (*model.AnswerSheet, error)
	FindActiveByStudent(ctx context.Context, examID, studentID string) (*model.AnswerSheet, error)
	FindActiveByContentHash(ctx context.Context, examID, hash string) (*model.AnswerSheet, error)
	List(ctx context.Context, filter SheetFilter) ([]*model.AnswerSheet, error)
	ListStaleProcessing(ctx context.Context, startedBefore time.Time) ([]*model.AnswerSheet, error)
	Save(ctx context.Context, sheet *model.AnswerSheet) error
}

type sheetRepo struct {
	collection *mongo.Collection
}

// NewSheetRepo creates a new answer sheet repository with indexes
func NewSheetRepo(db *mongo.Database) SheetRepo {
	repo := &sheetRepo{
		collection: db.Collection("answer_sheets"),
	}
	repo.ensureIndexes(context.Background())
	return repo
}

func (r *sheetRepo) ensureIndexes(ctx context.Context) {
	// One active matched sheet per (exam, student). Unmatched sheets have no studentId field.
	r.createIndex(ctx, bson.D{
		{Key: "examId", Value: 1},
		{Key: "studentId", Value: 1},
	}, true, bson.M{
		"isActive":  true,
		"studentId": bson.M{"$type": "string"},
	})
	// Storage keys are globally unique; stubs have none.
	r.createIndex(ctx, bson.D{{Key: "storageKey", Value: 1}}, true, bson.M{
		"storageKey": bson.M{"$type": "string"},
	})

	r.createIndex(ctx, bson.D{{Key: "examId", Value: 1}, {Key: "status", Value: 1}}, false, nil)
	r.createIndex(ctx, bson.D{{Key: "examId", Value: 1}, {Key: "hasCriticalFlags", Value: 1}, {Key: "flagCount", Value: -1}}, false, nil)
	r.createIndex(ctx, bson.D{{Key: "examId", Value: 1}, {Key: "contentHash", Value: 1}}, false, nil)
	r.createIndex(ctx, bson.D{{Key: "uploadedBy", Value: 1}, {Key: "uploadedAt", Value: -1}}, false, nil)
	r.createIndex(ctx, bson.D{{Key: "status", Value: 1}, {Key: "processingStartedAt", Value: 1}}, false, nil)

	logger.Infof("[SheetRepo] indexes ensured")
}

func (r *sheetRepo) createIndex(ctx context.Context, keys bson.D, unique bool, partial bson.M) {
	opts := options.Index().SetUnique(unique)
	if partial != nil {
		opts.SetPartialFilterExpression(partial)
	}
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: opts})
	if err != nil {
		logger.Warnf("[SheetRepo] failed to create index on %s: %v", r.collection.Name(), err)
	}
}

func (r *sheetRepo) Create(ctx context.Context, sheet *model.AnswerSheet) error {
	now := time.Now()
	if sheet.ID == "" {
		sheet.ID = primitive.NewObjectID().Hex()
	}
	sheet.Version = 1
	sheet.CreatedAt = now
	sheet.UpdatedAt = now
	model.ApplyFlagStats(sheet)

	_, err := r.collection.InsertOne(ctx, sheet)
	if isDuplicateKey(err) {
		return ErrDuplicateSheet
	}
	return err
}

func (r *sheetRepo) GetByID(ctx context.Context, id string) (*model.AnswerSheet, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *sheetRepo) FindActiveByStudent(ctx context.Context, examID, studentID string) (*model.AnswerSheet, error) {
	return r.findOne(ctx, bson.M{"examId": examID, "studentId": studentID, "isActive": true})
}

func (r *sheetRepo) FindActiveByContentHash(ctx context.Context, examID, hash string) (*model.AnswerSheet, error) {
	return r.findOne(ctx, bson.M{"examId": examID, "contentHash": hash, "isActive": true})
}

func (r *sheetRepo) findOne(ctx context.Context, filter bson.M) (*model.AnswerSheet, error) {
	var sheet model.AnswerSheet
	err := r.collection.FindOne(ctx, filter).Decode(&sheet)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sheet, nil
}

func (r *sheetRepo) List(ctx context.Context, filter SheetFilter) ([]*model.AnswerSheet, error) {
	q := bson.M{"isActive": true}
	if filter.ExamID != "" {
		q["examId"] = filter.ExamID
	}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	if filter.FlaggedOnly {
		q["flags"] = bson.M{"$elemMatch": bson.M{"resolved": false}}
	}
	if filter.UploadedBy != "" {
		q["uploadedBy"] = filter.UploadedBy
	}

	opts := options.Find().SetSort(bson.D{{Key: "uploadedAt", Value: 1}})
	return r.find(ctx, q, opts)
}

func (r *sheetRepo) ListStaleProcessing(ctx context.Context, startedBefore time.Time) ([]*model.AnswerSheet, error) {
	return r.find(ctx, bson.M{
		"isActive":            true,
		"status":              model.SheetStatusProcessing,
		"processingStartedAt": bson.M{"$lt": startedBefore},
	}, nil)
}

func (r *sheetRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.AnswerSheet, error) {
	var findOpts []*options.FindOptions
	if opts != nil {
		findOpts = append(findOpts, opts)
	}
	cursor, err := r.collection.Find(ctx, filter, findOpts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sheets []*model.AnswerSheet
	if err := cursor.All(ctx, &sheets); err != nil {
		return nil, err
	}
	return sheets, nil
}

// Save replaces the document if nobody else saved it since it was read.
// On success sheet.Version is incremented.
func (r *sheetRepo) Save(ctx context.Context, sheet *model.AnswerSheet) error {
	model.ApplyFlagStats(sheet)

	expected := sheet.Version
	sheet.Version = expected + 1
	sheet.UpdatedAt = time.Now()

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": sheet.ID, "version": expected}, sheet)
	if err != nil {
		sheet.Version = expected
		if isDuplicateKey(err) {
			return ErrDuplicateSheet
		}
		return err
	}
	if res.MatchedCount == 0 {
		sheet.Version = expected
		return ErrVersionConflict
	}
	return nil
}
