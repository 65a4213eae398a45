// Package mongo — реализация storage.Documents поверх MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/pribylovaa/apparel-admin/internal/config"
	"github.com/pribylovaa/apparel-admin/internal/storage"
)

const defaultDBName = "apparel"

// Mongo — тонкий адаптер подключения к MongoDB.
// Коллекции берутся по имени на каждый вызов: контракт storage.Documents коллекционно-параметризован.
type Mongo struct {
	client *mongodriver.Client
	db     *mongodriver.Database
}

// New подключается к MongoDB, проверяет соединение и создаёт индексы.
func New(ctx context.Context, cfg *config.Config) (*Mongo, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mongo: nil config")
	}

	if cfg.DB.URL == "" {
		return nil, fmt.Errorf("mongo: empty cfg.DB.URL")
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(cfg.DB.URL))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	m := &Mongo{
		client: cli,
		db:     cli.Database(databaseFromURI(cfg.DB.URL)),
	}

	if err := m.ensureIndexes(ctx); err != nil {
		_ = m.Close(ctx)
		return nil, err
	}

	return m, nil
}

// NewWithDatabase оборачивает уже открытую базу (без создания индексов).
func NewWithDatabase(db *mongodriver.Database) *Mongo {
	return &Mongo{client: db.Client(), db: db}
}

// Close закрывает соединение.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Ping — проверка готовности для /healthz.
func (m *Mongo) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("storage/mongo/Ping: %w", mapErr(err))
	}
	return nil
}

// ensureIndexes создаёт индексы:
//   - уникальные составные ключи из storage.UniqueIndexes (pickups: exhibition_id + code);
//   - выборка подборок выставки: pickups.exhibition_id;
//   - активные выдачи образца: loans.item_id + status;
//   - сортировка по умолчанию мастер-данных: created_at + _id.
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	for coll, uniques := range storage.UniqueIndexes {
		var models []mongodriver.IndexModel
		for _, fields := range uniques {
			keys := bson.D{}
			for _, f := range fields {
				keys = append(keys, bson.E{Key: f, Value: 1})
			}
			models = append(models, mongodriver.IndexModel{
				Keys:    keys,
				Options: options.Index().SetName("uniq_" + strings.Join(fields, "_")).SetUnique(true),
			})
		}

		if _, err := m.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongo ensure indexes %s: %w", coll, err)
		}
	}

	plain := map[string]bson.D{
		"pickups":     {{Key: "exhibition_id", Value: 1}},
		"loans":       {{Key: "item_id", Value: 1}, {Key: "status", Value: 1}},
		"items":       {{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
		"fabrics":     {{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
		"patterns":    {{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
		"exhibitions": {{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	}

	for coll, keys := range plain {
		if _, err := m.db.Collection(coll).Indexes().CreateOne(ctx, mongodriver.IndexModel{Keys: keys}); err != nil {
			return fmt.Errorf("mongo ensure indexes %s: %w", coll, err)
		}
	}

	return nil
}

// mapErr переводит ошибки драйвера в ошибки контракта storage.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongodriver.ErrNoDocuments):
		return storage.ErrNotFound
	case mongodriver.IsDuplicateKeyError(err):
		return storage.ErrConflict
	case mongodriver.IsNetworkError(err),
		mongodriver.IsTimeout(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, mongodriver.ErrClientDisconnected):
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	return err
}

// databaseFromURI извлекает имя базы данных из URI-пути mongodb.
// Если оно отсутствует или не поддается расшифровке, возвращает значение по умолчанию.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}
	return defaultDBName
}
