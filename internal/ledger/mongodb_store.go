package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akriventsev/stockledger/internal/domain"
)

// MongoDBStoreConfig конфигурация для MongoDB ledger store
type MongoDBStoreConfig struct {
	URI                 string
	Database            string
	EventsCollection    string
	SnapshotsCollection string
	Timeout             time.Duration
	MaxPoolSize         int
}

// Validate проверяет корректность конфигурации
func (c *MongoDBStoreConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("URI cannot be empty")
	}
	if c.Database == "" {
		c.Database = "stockledger"
	}
	if c.EventsCollection == "" {
		c.EventsCollection = "stock_events"
	}
	if c.SnapshotsCollection == "" {
		c.SnapshotsCollection = "stock_snapshots"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return nil
}

// DefaultMongoDBStoreConfig возвращает конфигурацию по умолчанию
func DefaultMongoDBStoreConfig() MongoDBStoreConfig {
	return MongoDBStoreConfig{
		Database:            "stockledger",
		EventsCollection:    "stock_events",
		SnapshotsCollection: "stock_snapshots",
		Timeout:             10 * time.Second,
		MaxPoolSize:         100,
	}
}

// eventDocument документ события в MongoDB
type eventDocument struct {
	EventID    string    `bson:"event_id"`
	StockID    string    `bson:"stock_id"`
	VariantID  string    `bson:"variant_id"`
	EventType  string    `bson:"event_type"`
	EventData  string    `bson:"event_data"`
	Version    int64     `bson:"version"`
	OccurredAt time.Time `bson:"occurred_at"`
	CreatedAt  time.Time `bson:"created_at"`
}

// snapshotDocument документ снапшота в MongoDB
type snapshotDocument struct {
	VariantID string    `bson:"variant_id"`
	StockID   string    `bson:"stock_id"`
	Quantity  int       `bson:"quantity"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoDBStore реализация Store для MongoDB.
// Атомарность условного append обеспечивается уникальным индексом
// (variant_id, version) на коллекции событий: из двух конкурентных writer'ов
// вставку одной и той же версии выполнит ровно один.
type MongoDBStore struct {
	config    MongoDBStoreConfig
	client    *mongo.Client
	events    *mongo.Collection
	snapshots *mongo.Collection
}

// NewMongoDBStore создает новый MongoDB ledger store
func NewMongoDBStore(ctx context.Context, config MongoDBStoreConfig) (*MongoDBStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongodb config: %w", err)
	}

	opts := options.Client().
		ApplyURI(config.URI).
		SetMaxPoolSize(uint64(config.MaxPoolSize)).
		SetTimeout(config.Timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(config.Database)
	store := &MongoDBStore{
		config:    config,
		client:    client,
		events:    db.Collection(config.EventsCollection),
		snapshots: db.Collection(config.SnapshotsCollection),
	}

	if err := store.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// ensureIndexes создает уникальные индексы, на которых держится конкурентность
func (s *MongoDBStore) ensureIndexes(ctx context.Context) error {
	// Уникальность по (variant_id, version): поток принадлежит варианту,
	// и два конкурентных создателя с разными stock_id оба целятся в
	// версию 1 - индекс по варианту отклоняет проигравшего
	eventIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "variant_id", Value: 1}, {Key: "version", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := s.events.Indexes().CreateMany(ctx, eventIndexes); err != nil {
		return fmt.Errorf("failed to create event indexes: %w", err)
	}

	snapshotIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "variant_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := s.snapshots.Indexes().CreateMany(ctx, snapshotIndexes); err != nil {
		return fmt.Errorf("failed to create snapshot indexes: %w", err)
	}
	return nil
}

// Close закрывает подключение к MongoDB
func (s *MongoDBStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// LoadLatest возвращает снапшот агрегата варианта
func (s *MongoDBStore) LoadLatest(ctx context.Context, variantID string) (Snapshot, error) {
	var doc snapshotDocument
	err := s.snapshots.FindOne(ctx, bson.M{"variant_id": variantID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return Snapshot{
		StockID:   doc.StockID,
		VariantID: doc.VariantID,
		Quantity:  doc.Quantity,
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// AppendIfVersion добавляет событие с проверкой версии для оптимистичной конкурентности
func (s *MongoDBStore) AppendIfVersion(ctx context.Context, variantID string, expectedVersion int64, event domain.Event) (int64, error) {
	var stockID string
	var quantity int

	var snap snapshotDocument
	err := s.snapshots.FindOne(ctx, bson.M{"variant_id": variantID}).Decode(&snap)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		if expectedVersion != 0 {
			return 0, ErrNotFound
		}
		created, ok := event.(*domain.StockCreated)
		if !ok {
			return 0, fmt.Errorf("stream for variant %s does not exist: first event must be %s", variantID, domain.EventTypeStockCreated)
		}
		stockID = created.Stock
	case err != nil:
		return 0, fmt.Errorf("failed to load snapshot: %w", err)
	case expectedVersion == 0:
		return 0, ErrAlreadyExists
	case snap.Version != expectedVersion:
		return 0, fmt.Errorf("%w: expected %d, got %d", ErrVersionConflict, expectedVersion, snap.Version)
	default:
		stockID = snap.StockID
		quantity = snap.Quantity
	}

	newQuantity, err := domain.ApplyToQuantity(quantity, event)
	if err != nil {
		return 0, err
	}
	newVersion := expectedVersion + 1

	eventData, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	// Вставка события является CAS-примитивом: уникальный индекс
	// (variant_id, version) отклонит проигравшего конкурента, включая
	// конкурентное создание потока под разными stock_id.
	_, err = s.events.InsertOne(ctx, eventDocument{
		EventID:    event.EventID(),
		StockID:    stockID,
		VariantID:  variantID,
		EventType:  event.EventType(),
		EventData:  string(eventData),
		Version:    newVersion,
		OccurredAt: event.OccurredAt(),
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if expectedVersion == 0 {
				return 0, ErrAlreadyExists
			}
			return 0, fmt.Errorf("%w: concurrent append detected", ErrVersionConflict)
		}
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	// Снапшот догоняет событие. Условие по версии защищает от
	// отката более свежего снапшота при отставшем writer'е.
	update := s.snapshots.FindOneAndUpdate(ctx,
		bson.M{"variant_id": variantID, "version": expectedVersion},
		bson.M{"$set": bson.M{
			"stock_id":   stockID,
			"quantity":   newQuantity,
			"version":    newVersion,
			"updated_at": time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetUpsert(expectedVersion == 0),
	)
	if update.Err() != nil && !errors.Is(update.Err(), mongo.ErrNoDocuments) {
		if mongo.IsDuplicateKeyError(update.Err()) {
			return 0, ErrAlreadyExists
		}
		return 0, fmt.Errorf("failed to update snapshot: %w", update.Err())
	}

	return newVersion, nil
}

// LoadHistory возвращает события агрегата начиная с указанной версии
func (s *MongoDBStore) LoadHistory(ctx context.Context, variantID string, fromVersion int64) ([]StoredEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})
	cursor, err := s.events.Find(ctx, bson.M{
		"variant_id": variantID,
		"version":    bson.M{"$gte": fromVersion},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer cursor.Close(ctx)

	var result []StoredEvent
	for cursor.Next(ctx) {
		var doc eventDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}

		event, err := domain.DeserializeEvent(doc.EventType, []byte(doc.EventData))
		if err != nil {
			return nil, err
		}
		result = append(result, StoredEvent{
			ID:         doc.EventID,
			StockID:    doc.StockID,
			VariantID:  doc.VariantID,
			EventType:  doc.EventType,
			EventData:  event,
			Version:    doc.Version,
			Position:   doc.Version,
			OccurredAt: doc.OccurredAt,
			CreatedAt:  doc.CreatedAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	// Пустой результат: либо потока нет (ErrNotFound по снапшоту),
	// либо fromVersion за концом истории - тогда пустая история
	if len(result) == 0 {
		if _, err := s.LoadLatest(ctx, variantID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return result, nil
}
