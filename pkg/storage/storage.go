// Package storage persists counter engine snapshots so a restarted process can
// resume its counters.
package storage

import (
	"context"
	"errors"
)

// ErrSnapshotNotFound is returned by Load when nothing was saved under a name.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore saves and loads encoded snapshots by name.
type SnapshotStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
}

// Backend names accepted by configuration.
const (
	BackendNone      = "none"
	BackendSQLite    = "sqlite"
	BackendAzureBlob = "azblob"
)
