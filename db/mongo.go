package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stopshop/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps carts, orders and users in MongoDB. Document ids are
// uuid strings.
type MongoStore struct {
	Client *mongo.Client

	CartCollection  *mongo.Collection
	OrderCollection *mongo.Collection
	UserCollection  *mongo.Collection
}

// Connect opens the database and makes sure the indexes exist.
func Connect(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	d := client.Database(database)
	s := &MongoStore{
		Client:          client,
		CartCollection:  d.Collection("cart"),
		OrderCollection: d.Collection("orders"),
		UserCollection:  d.Collection("users"),
	}
	if err := s.createIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	_, err := s.CartCollection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "productId", Value: 1}, {Key: "color", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("cart index: %w", err)
	}
	_, err = s.UserCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("user index: %w", err)
	}
	_, err = s.OrderCollection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "idempotencyKey", Value: 1}},
		Options: options.Index().SetUnique(true).
			SetPartialFilterExpression(bson.M{"idempotencyKey": bson.M{"$type": "string"}}),
	})
	if err != nil {
		return fmt.Errorf("order index: %w", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

func (s *MongoStore) ListCart(ctx context.Context, userID string) ([]models.CartItem, error) {
	cursor, err := s.CartCollection.Find(ctx, bson.M{"userId": userID},
		options.Find().SetSort(bson.D{{Key: "addedAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find cart: %w", err)
	}
	defer cursor.Close(ctx)

	var items []models.CartItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	if len(items) == 0 {
		items = []models.CartItem{}
	}
	return items, nil
}

func (s *MongoStore) AddOrMerge(ctx context.Context, item models.CartItem) (models.CartItem, error) {
	filter := bson.M{
		"userId":    item.UserID,
		"productId": item.ProductID,
		"color":     item.Color,
	}
	update := bson.M{
		"$inc": bson.M{"quantity": item.Quantity},
		"$set": bson.M{
			"price":        item.Price,
			"productName":  item.ProductName,
			"productImage": item.ProductImage,
		},
		"$setOnInsert": bson.M{
			"_id":     uuid.NewString(),
			"addedAt": time.Now(),
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out models.CartItem
	if err := s.CartCollection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out); err != nil {
		return models.CartItem{}, fmt.Errorf("upsert cart item: %w", err)
	}
	return out, nil
}

// ownerCheck tells a missing line apart from someone else's.
func (s *MongoStore) ownerCheck(ctx context.Context, itemID string) error {
	err := s.CartCollection.FindOne(ctx, bson.M{"_id": itemID}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find cart item: %w", err)
	}
	return ErrForbidden
}

func (s *MongoStore) UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (models.CartItem, error) {
	var out models.CartItem
	err := s.CartCollection.FindOneAndUpdate(ctx,
		bson.M{"_id": itemID, "userId": userID},
		bson.M{"$set": bson.M{"quantity": quantity}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.CartItem{}, s.ownerCheck(ctx, itemID)
	}
	if err != nil {
		return models.CartItem{}, fmt.Errorf("update cart item: %w", err)
	}
	return out, nil
}

func (s *MongoStore) RemoveItem(ctx context.Context, userID, itemID string) error {
	res, err := s.CartCollection.DeleteOne(ctx, bson.M{"_id": itemID, "userId": userID})
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	if res.DeletedCount == 0 {
		return s.ownerCheck(ctx, itemID)
	}
	return nil
}

func (s *MongoStore) ClearCart(ctx context.Context, userID string) error {
	if _, err := s.CartCollection.DeleteMany(ctx, bson.M{"userId": userID}); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// orderDoc stores the idempotency key next to the order without exposing
// it on the wire.
type orderDoc struct {
	models.Order   `bson:",inline"`
	IdempotencyKey string `bson:"idempotencyKey,omitempty"`
}

func (s *MongoStore) CreateOrder(ctx context.Context, order models.Order, idempotencyKey string) (models.Order, error) {
	if idempotencyKey != "" {
		var existing orderDoc
		err := s.OrderCollection.FindOne(ctx, bson.M{"userId": order.UserID, "idempotencyKey": idempotencyKey}).Decode(&existing)
		if err == nil {
			return existing.Order, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return models.Order{}, fmt.Errorf("find order: %w", err)
		}
	}

	order.ID = models.FlexID(uuid.NewString())
	order.CreatedAt = time.Now().UTC()
	if _, err := s.OrderCollection.InsertOne(ctx, orderDoc{Order: order, IdempotencyKey: idempotencyKey}); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return s.CreateOrder(ctx, order, idempotencyKey)
		}
		return models.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return order, nil
}

func (s *MongoStore) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	cursor, err := s.OrderCollection.Find(ctx, bson.M{"userId": userID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find orders: %w", err)
	}
	defer cursor.Close(ctx)

	orders := []models.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return orders, nil
}

func (s *MongoStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	var order models.Order
	err := s.OrderCollection.FindOne(ctx, bson.M{"_id": id}).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("find order: %w", err)
	}
	return order, nil
}

func (s *MongoStore) SetOrderStatus(ctx context.Context, id string, status models.OrderStatus) (models.Order, error) {
	var order models.Order
	err := s.OrderCollection.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("update order: %w", err)
	}
	return order, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, u models.User) error {
	u.Email = strings.ToLower(u.Email)
	if _, err := s.UserCollection.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := s.UserCollection.FindOne(ctx, bson.M{"email": strings.ToLower(email)}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *MongoStore) TouchLogin(ctx context.Context, userID string) error {
	_, err := s.UserCollection.UpdateOne(ctx,
		bson.M{"userid": userID},
		bson.M{"$set": bson.M{"last_login": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return nil
}
