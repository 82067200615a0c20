// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package plugin

import (
	"github.com/tagdex/tagdexd/types"
)

// Plugin is the capability interface implemented by each registered
// plugin. The engine never branches on a concrete plugin identity; it
// only ever dispatches through this interface.
type Plugin interface {
	// LokadID returns the protocol identifier the plugin claims. A
	// plugin only runs against transactions whose marker output names
	// this identifier.
	LokadID() []byte

	// Version returns the plugin version string.
	Version() string

	// Run inspects a transaction view and returns the outputs the
	// plugin wants annotated. Run must be a pure function of the view;
	// it is invoked exactly once per transaction and its result is
	// persisted verbatim.
	Run(tx *TxView) ([]Output, error)
}

// Output is a single annotation record returned by a plugin. Idx names
// the destination output index and must be >= 1; index 0 is the marker
// output and is never annotated.
type Output struct {
	Idx    uint32
	Data   [][]byte
	Groups [][]byte
}

// OutputView is the read-only view of a transaction output exposed to
// plugins.
type OutputView struct {
	Value  int64
	Script []byte
}

// InputView is the read-only view of a transaction input. Entries maps
// plugin names to the entry attached to the output this input spends.
// The map is empty when the spent output carried no annotations or is
// unknown to the index.
type InputView struct {
	Outpoint types.Outpoint
	Script   []byte
	Entries  map[string]*types.PluginEntry
}

// TxView is the transaction view handed to Plugin.Run.
type TxView struct {
	Outputs []OutputView
	Inputs  []InputView
}
