package source

import (
	"context"

	"github.com/franz/library-dedup/internal/catalog"
)

// Adapter lists the items one system of record currently holds
type Adapter interface {
	Store() catalog.Store
	List(ctx context.Context) ([]*catalog.Item, error)
}

// Archiver is an adapter that can archive a record in its store without
// destroying it. Both remote stores implement this; the filesystem does
// not, deletion there goes through FileDeleter.
type Archiver interface {
	Adapter
	Archive(ctx context.Context, it *catalog.Item) error
}

// FileDeleter removes a file from disk, returning the bytes freed
type FileDeleter interface {
	DeleteFile(ctx context.Context, path string) (int64, error)
}
