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

// NotificationRepo handles MongoDB operations for notifications
type NotificationRepo interface {
	Create(ctx context.Context, n *model.Notification) error
	GetByID(ctx context.Context, id string) (*model.Notification, error)
	ListByRecipient(ctx context.Context, recipientID string, status model.NotificationStatus, limit int64) ([]*model.Notification, error)
	Update(ctx context.Context, n *model.Notification) error
	AcknowledgeByEntity(ctx context.Context, ref model.EntityRef, by string, at time.Time) (int64, error)
}

type notificationRepo struct {
	collection *mongo.Collection
}

// NewNotificationRepo creates a new notification repository with indexes
func NewNotificationRepo(db *mongo.Database) NotificationRepo {
	repo := &notificationRepo{
		collection: db.Collection("notifications"),
	}
	repo.ensureIndexes(context.Background())
	return repo
}

func (r *notificationRepo) ensureIndexes(ctx context.Context) {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "recipientId", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "related.type", Value: 1}, {Key: "related.id", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, models); err != nil {
		logger.Warnf("[NotificationRepo] failed to create indexes: %v", err)
	}
}

func (r *notificationRepo) Create(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = primitive.NewObjectID().Hex()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Status == "" {
		n.Status = model.NotificationUnread
	}
	_, err := r.collection.InsertOne(ctx, n)
	return err
}

func (r *notificationRepo) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	var n model.Notification
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&n)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepo) ListByRecipient(ctx context.Context, recipientID string, status model.NotificationStatus, limit int64) ([]*model.Notification, error) {
	filter := bson.M{"recipientId": recipientID}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var list []*model.Notification
	if err := cursor.All(ctx, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *notificationRepo) Update(ctx context.Context, n *model.Notification) error {
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": n.ID}, n)
	return err
}

func (r *notificationRepo) AcknowledgeByEntity(ctx context.Context, ref model.EntityRef, by string, at time.Time) (int64, error) {
	res, err := r.collection.UpdateMany(ctx,
		bson.M{
			"related.type": ref.Type,
			"related.id":   ref.ID,
			"status":       bson.M{"$in": []model.NotificationStatus{model.NotificationUnread, model.NotificationRead}},
		},
		bson.M{"$set": bson.M{
			"status":         model.NotificationAcknowledged,
			"acknowledgedAt": at,
			"acknowledgedBy": by,
		}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
