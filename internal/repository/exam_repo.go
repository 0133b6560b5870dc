package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"gradeflow/internal/model"
)

// ExamRepo handles MongoDB operations for exams
type ExamRepo interface {
	Create(ctx context.Context, exam *model.Exam) error
	GetByID(ctx context.Context, id string) (*model.Exam, error)
}

type examRepo struct {
	collection *mongo.Collection
}

// NewExamRepo creates a new exam repository
func NewExamRepo(db *mongo.Database) ExamRepo {
	return &examRepo{
		collection: db.Collection("exams"),
	}
}

func (r *examRepo) Create(ctx context.Context, exam *model.Exam) error {
	if exam.ID == "" {
		exam.ID = primitive.NewObjectID().Hex()
	}
	exam.CreatedAt = time.Now()
	_, err := r.collection.InsertOne(ctx, exam)
	return err
}

func (r *examRepo) GetByID(ctx context.Context, id string) (*model.Exam, error) {
	var exam model.Exam
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&exam)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &exam, nil
}
