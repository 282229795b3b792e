package config

import (
	"github.com/lutraconsulting/gdbsync/pkg/rdb"
	"github.com/lutraconsulting/gdbsync/pkg/sync"
)

// SyncConnection resolves conn into the validated, ready-to-use form the
// reconciliation engine operates on.
func (conn Connection) SyncConnection() (sync.SyncConnection, error) {
	skipTables, err := conn.NormalizedSkipTables()
	if err != nil {
		return sync.SyncConnection{}, err
	}
	return sync.SyncConnection{
		Driver:     sync.Driver(conn.Driver),
		ConnInfo:   rdb.NewConnInfo(conn.ConnInfo),
		ProjectRef: conn.MerginProject,
		SyncFile:   conn.SyncFile,
		Base:       conn.Base,
		Modified:   conn.Modified,
		SkipTables: skipTables,
	}, nil
}
