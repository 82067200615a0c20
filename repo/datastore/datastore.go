// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package datastore

import (
	"os"
	"path"

	badger "github.com/ipfs/go-ds-badger"
	"github.com/tagdex/tagdexd/repo"
)

var _ repo.Datastore = (*TagdexDatastore)(nil)

// TagdexDatastore is the badger backed datastore used by the daemon.
// Badger transactions give us the atomic multi-key commit the index
// requires for lifecycle transitions.
type TagdexDatastore struct {
	*badger.Datastore
}

// NewTagdexDatastore opens (creating if necessary) the badger database
// in the given data directory.
func NewTagdexDatastore(dataDir string) (*TagdexDatastore, error) {
	dbDir := path.Join(dataDir, "db")
	if _, err := os.Stat(dbDir); os.IsNotExist(err) {
		if err := os.MkdirAll(dbDir, 0700); err != nil {
			return nil, err
		}
	}

	badgerOpts := &badger.DefaultOptions
	badgerOpts.MaxTableSize = 256 << 20

	ds, err := badger.NewDatastore(dbDir, badgerOpts)
	if err != nil {
		return nil, err
	}
	return &TagdexDatastore{Datastore: ds}, nil
}
