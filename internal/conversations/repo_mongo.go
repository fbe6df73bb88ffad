package conversations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepo stores conversations and messages in two collections. Sequence
// numbers come from an atomic $inc on the conversation's next_seq field.
type MongoRepo struct {
	convs *mongo.Collection
	msgs  *mongo.Collection
}

type mongoConversation struct {
	ID           string    `bson:"_id"`
	TenantID     string    `bson:"tenant_id"`
	Title        string    `bson:"title"`
	NextSeq      int64     `bson:"next_seq"`
	MessageCount int       `bson:"message_count"`
	LastMessage  string    `bson:"last_message"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

type mongoMessage struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	TenantID       string    `bson:"tenant_id"`
	Seq            int64     `bson:"seq"`
	Role           string    `bson:"role"`
	Content        string    `bson:"content"`
	Sources        []Source  `bson:"sources,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

func NewMongoRepo(database *mongo.Database) *MongoRepo {
	return &MongoRepo{
		convs: database.Collection("conversations"),
		msgs:  database.Collection("messages"),
	}
}

// EnsureIndexes creates the lookup indexes; safe to call on every start.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	if _, err := r.convs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "updated_at", Value: -1}},
	}); err != nil {
		return fmt.Errorf("conversations index: %w", err)
	}
	if _, err := r.msgs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("messages index: %w", err)
	}
	return nil
}

func (r *MongoRepo) Create(ctx context.Context, conv Conversation) (Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	conv.CreatedAt, conv.UpdatedAt = now, now
	conv.MessageCount, conv.LastMessage = 0, ""
	_, err := r.convs.InsertOne(ctx, mongoConversation{
		ID:        conv.ID,
		TenantID:  conv.TenantID,
		Title:     conv.Title,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

func (r *MongoRepo) Get(ctx context.Context, tenantID, id string) (Conversation, error) {
	var doc mongoConversation
	err := r.convs.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	return doc.conversation(), nil
}

func (r *MongoRepo) List(ctx context.Context, tenantID string, limit, offset int) ([]Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.convs.Find(ctx, bson.M{"tenant_id": tenantID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]Conversation, 0)
	for cur.Next(ctx) {
		var doc mongoConversation
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.conversation())
	}
	return out, cur.Err()
}

func (r *MongoRepo) Append(ctx context.Context, tenantID, conversationID string, msgs ...Message) ([]Message, error) {
	if len(msgs) == 0 {
		_, err := r.Get(ctx, tenantID, conversationID)
		return []Message{}, err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	n := int64(len(msgs))

	var updated mongoConversation
	err := r.convs.FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID, "tenant_id": tenantID},
		bson.M{
			"$inc": bson.M{"next_seq": n, "message_count": n},
			"$set": bson.M{"updated_at": now, "last_message": preview(msgs[len(msgs)-1].Content)},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// the range (next_seq-n, next_seq] now belongs to this call alone
	first := updated.NextSeq - n + 1
	stored := make([]Message, len(msgs))
	docs := make([]any, len(msgs))
	for i, m := range msgs {
		m.ID = uuid.NewString()
		m.ConversationID = conversationID
		m.Seq = first + int64(i)
		m.CreatedAt = now
		stored[i] = m
		docs[i] = mongoMessage{
			ID:             m.ID,
			ConversationID: conversationID,
			TenantID:       tenantID,
			Seq:            m.Seq,
			Role:           string(m.Role),
			Content:        m.Content,
			Sources:        m.Sources,
			CreatedAt:      now,
		}
	}
	if _, err := r.msgs.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return nil, fmt.Errorf("insert messages: %w", err)
	}
	return stored, nil
}

func (r *MongoRepo) Messages(ctx context.Context, tenantID, conversationID string, limit, offset int) ([]Message, error) {
	if _, err := r.Get(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.msgs.Find(ctx, bson.M{"conversation_id": conversationID, "tenant_id": tenantID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]Message, 0)
	for cur.Next(ctx) {
		var doc mongoMessage
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, Message{
			ID:             doc.ID,
			ConversationID: doc.ConversationID,
			Seq:            doc.Seq,
			Role:           Role(doc.Role),
			Content:        doc.Content,
			Sources:        doc.Sources,
			CreatedAt:      doc.CreatedAt,
		})
	}
	return out, cur.Err()
}

func (r *MongoRepo) DeleteEmpty(ctx context.Context, tenantID, id string) error {
	_, err := r.convs.DeleteOne(ctx, bson.M{"_id": id, "tenant_id": tenantID, "next_seq": 0})
	return err
}

func (d mongoConversation) conversation() Conversation {
	return Conversation{
		ID:           d.ID,
		TenantID:     d.TenantID,
		Title:        d.Title,
		MessageCount: d.MessageCount,
		LastMessage:  d.LastMessage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

var _ Repo = (*MongoRepo)(nil)
