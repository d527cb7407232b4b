// Package mongodb drives a MongoDB deployment through the native driver.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/weiihann/crudbench/bench"
	"github.com/weiihann/crudbench/dataset"
	"github.com/weiihann/crudbench/store"
)

// Config holds connection settings for a MongoDB deployment.
type Config struct {
	URI       string
	Database  string
	ScanLimit int
}

// Client is a session against one MongoDB database.
type Client struct {
	client    *mongo.Client
	db        *mongo.Database
	scanLimit int64
}

var _ store.Backend = (*Client)(nil)

// Connect dials the deployment and verifies it answers a ping.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URI, err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)

		return nil, fmt.Errorf("ping %s: %w", cfg.URI, err)
	}

	scanLimit := int64(cfg.ScanLimit)
	if scanLimit <= 0 {
		scanLimit = 300
	}

	return &Client{
		client:    client,
		db:        client.Database(cfg.Database),
		scanLimit: scanLimit,
	}, nil
}

// Name implements store.Store.
func (c *Client) Name() string { return "MongoDB" }

// Bind implements store.Store.
func (c *Client) Bind(ctx context.Context, name string) (store.Operations, error) {
	coll := c.db.Collection(name)

	if _, err := firstDoc(ctx, coll); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.Operations{}, fmt.Errorf("%s: %w", name, store.ErrEmptyDataset)
		}

		return store.Operations{}, fmt.Errorf("probe %s: %w", name, err)
	}

	return store.Operations{
		Read: func(ctx context.Context) error {
			return coll.FindOne(ctx, bson.D{}).Err()
		},
		Scan: func(ctx context.Context) error {
			cur, err := coll.Find(ctx, bson.D{}, options.Find().SetLimit(c.scanLimit))
			if err != nil {
				return err
			}

			var docs []bson.M

			return cur.All(ctx, &docs)
		},
		Insert: func(ctx context.Context) error {
			doc, err := firstDoc(ctx, coll)
			if err != nil {
				return err
			}

			delete(doc, "_id")
			_, err = coll.InsertOne(ctx, doc)

			return err
		},
		Update: func(ctx context.Context) error {
			return increment(ctx, coll, "__bench_update")
		},
	}, nil
}

// AddToCart implements store.Store.
func (c *Client) AddToCart(ctx context.Context) (bench.Operation, error) {
	products := c.db.Collection("products")
	orders := c.db.Collection("orders")

	for _, coll := range []*mongo.Collection{products, orders} {
		if _, err := firstDoc(ctx, coll); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				err = store.ErrEmptyDataset
			}

			return nil, fmt.Errorf("prepare add-to-cart %s: %w", coll.Name(), err)
		}
	}

	return func(ctx context.Context) error {
		if err := products.FindOne(ctx, bson.D{}).Err(); err != nil {
			return err
		}

		return increment(ctx, orders, "cart_items")
	}, nil
}

// Close implements store.Store.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Load implements store.Loader with InsertMany batches.
func (c *Client) Load(
	ctx context.Context,
	spec dataset.Spec,
	records []dataset.Record,
	opts store.LoadOptions,
) (int, error) {
	coll := c.db.Collection(spec.Name)
	written := 0

	err := store.Batches(ctx, records, opts,
		func(_ int, batch []dataset.Record) error {
			docs := make([]any, 0, len(batch))
			for _, rec := range batch {
				docs = append(docs, bson.M(rec))
			}

			res, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
			if res != nil {
				written += len(res.InsertedIDs)
			}

			return err
		})
	if err != nil {
		return written, fmt.Errorf("load %s: %w", spec.Name, err)
	}

	return written, nil
}

func firstDoc(ctx context.Context, coll *mongo.Collection) (bson.M, error) {
	var doc bson.M
	if err := coll.FindOne(ctx, bson.D{}).Decode(&doc); err != nil {
		return nil, err
	}

	return doc, nil
}

func increment(ctx context.Context, coll *mongo.Collection, field string) error {
	doc, err := firstDoc(ctx, coll)
	if err != nil {
		return err
	}

	_, err = coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: doc["_id"]}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: field, Value: 1}}}},
	)

	return err
}
