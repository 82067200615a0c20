// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package repo

const (
	// PluginTxKeyPrefix is the datastore key prefix for indexed
	// transaction records, keyed by txid. Each record carries the raw
	// transaction, its lifecycle metadata and its plugin annotations.
	PluginTxKeyPrefix = "/tagdex/plugintx/"

	// PluginMetaKeyPrefix is the datastore key prefix mapping a plugin
	// name to the version string it was last indexed with. A version
	// change on startup means the existing annotations are stale and
	// the index must be rebuilt.
	PluginMetaKeyPrefix = "/tagdex/pluginmeta/"
)
