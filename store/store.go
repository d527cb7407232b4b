// Package store defines the contract between the benchmark harness and
// the data stores it drives. Implementations live in subpackages.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/weiihann/crudbench/bench"
	"github.com/weiihann/crudbench/dataset"
)

// ErrEmptyDataset is returned by Bind when a dataset holds no record to
// benchmark against.
var ErrEmptyDataset = errors.New("dataset is empty")

// OpKind names one of the per-dataset operations.
type OpKind string

const (
	OpRead   OpKind = "read"
	OpScan   OpKind = "scan"
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
)

// Operations are the adapters bound to a single dataset.
type Operations struct {
	// Read fetches one record.
	Read bench.Operation
	// Scan fetches a bounded batch of records.
	Scan bench.Operation
	// Insert clones an existing record under a new identity.
	Insert bench.Operation
	// Update increments a counter field on an existing record.
	Update bench.Operation
}

// Get returns the operation for kind.
func (o Operations) Get(kind OpKind) (bench.Operation, error) {
	var op bench.Operation

	switch kind {
	case OpRead:
		op = o.Read
	case OpScan:
		op = o.Scan
	case OpInsert:
		op = o.Insert
	case OpUpdate:
		op = o.Update
	default:
		return nil, fmt.Errorf("unknown operation %q", kind)
	}

	if op == nil {
		return nil, fmt.Errorf("operation %q not bound", kind)
	}

	return op, nil
}

// Store is a live session against one data store. It is opened once per
// run and every adapter it returns shares that session.
type Store interface {
	// Name is the display name used in result rows.
	Name() string
	// Bind returns the operations for dataset, each bound by value to it.
	Bind(ctx context.Context, dataset string) (Operations, error)
	// AddToCart returns the composite workload: read one product, then
	// increment cart_items on one order.
	AddToCart(ctx context.Context) (bench.Operation, error)
	Close(ctx context.Context) error
}

// Loader seeds a store from parsed CSV records.
type Loader interface {
	// Load writes records into the dataset described by spec and returns
	// the number of records written.
	Load(
		ctx context.Context,
		spec dataset.Spec,
		records []dataset.Record,
		opts LoadOptions,
	) (int, error)
}

// Backend is a store that can be both benchmarked and seeded.
type Backend interface {
	Store
	Loader
}
