// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package repo

import (
	"github.com/ipfs/go-datastore"
)

// Datastore is the interface the index requires of its storage
// collaborator: plain key/value access plus transactions providing an
// atomic multi-key commit. Every lifecycle transition is written as a
// single transaction; a transition either commits fully or not at all.
type Datastore interface {
	datastore.Datastore
	datastore.Batching
	datastore.PersistentDatastore
	datastore.TxnDatastore
}
