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

// ClassRepo handles MongoDB operations for classes and their rosters
type ClassRepo interface {
	CreateClass(ctx context.Context, class *model.Class) error
	GetClass(ctx context.Context, id string) (*model.Class, error)
	CreateStudent(ctx context.Context, student *model.Student) error
	GetStudent(ctx context.Context, id string) (*model.Student, error)
	ListActiveStudents(ctx context.Context, classID string) ([]*model.Student, error)
}

type classRepo struct {
	classes  *mongo.Collection
	students *mongo.Collection
}

// NewClassRepo creates a new class repository with indexes
func NewClassRepo(db *mongo.Database) ClassRepo {
	repo := &classRepo{
		classes:  db.Collection("classes"),
		students: db.Collection("students"),
	}

	_, err := repo.students.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "classId", Value: 1}, {Key: "rollNumber", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"isActive": true}),
	})
	if err != nil {
		logger.Warnf("[ClassRepo] failed to create index on students: %v", err)
	}
	return repo
}

func (r *classRepo) CreateClass(ctx context.Context, class *model.Class) error {
	if class.ID == "" {
		class.ID = primitive.NewObjectID().Hex()
	}
	class.CreatedAt = time.Now()
	_, err := r.classes.InsertOne(ctx, class)
	return err
}

func (r *classRepo) GetClass(ctx context.Context, id string) (*model.Class, error) {
	var class model.Class
	err := r.classes.FindOne(ctx, bson.M{"_id": id}).Decode(&class)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &class, nil
}

func (r *classRepo) CreateStudent(ctx context.Context, student *model.Student) error {
	if student.ID == "" {
		student.ID = primitive.NewObjectID().Hex()
	}
	student.CreatedAt = time.Now()
	_, err := r.students.InsertOne(ctx, student)
	if isDuplicateKey(err) {
		return ErrDuplicateRollNumber
	}
	return err
}

func (r *classRepo) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	var student model.Student
	err := r.students.FindOne(ctx, bson.M{"_id": id}).Decode(&student)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &student, nil
}

func (r *classRepo) ListActiveStudents(ctx context.Context, classID string) ([]*model.Student, error) {
	opts := options.Find().SetSort(bson.D{{Key: "rollNumber", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.students.Find(ctx, bson.M{"classId": classID, "isActive": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var students []*model.Student
	if err := cursor.All(ctx, &students); err != nil {
		return nil, err
	}
	return students, nil
}
