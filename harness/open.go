package harness

import (
	"context"
	"fmt"

	"github.com/weiihann/crudbench/store"
	"github.com/weiihann/crudbench/store/couchdb"
	"github.com/weiihann/crudbench/store/mongodb"
	"github.com/weiihann/crudbench/store/redis"
)

// Connection holds the settings of every supported store. Only the
// section of the store being opened is used.
type Connection struct {
	CouchDB couchdb.Config
	MongoDB mongodb.Config
	Redis   redis.Config
}

// KnownStores returns the list of supported store names.
func KnownStores() []string {
	return []string{"couchdb", "mongodb", "redis"}
}

// Open starts a session against the named store. The caller closes it.
func Open(ctx context.Context, name string, conn Connection) (store.Backend, error) {
	var (
		b   store.Backend
		err error
	)

	switch name {
	case "couchdb":
		b, err = couchdb.New(conn.CouchDB)
	case "mongodb":
		b, err = mongodb.Connect(ctx, conn.MongoDB)
	case "redis":
		b, err = redis.Connect(ctx, conn.Redis)
	default:
		return nil, fmt.Errorf("unknown store %q (known: %v)", name, KnownStores())
	}

	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	return b, nil
}
