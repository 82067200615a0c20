// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package builtin holds the plugins compiled into the daemon.
package builtin

import (
	"bytes"

	"github.com/btcsuite/btcd/txscript"
	"github.com/tagdex/tagdexd/plugin"
)

// ColorsName is the registry name of the colors plugin.
const ColorsName = "colors"

var colorsLokadID = []byte("CLRS")

// Colors is a simple token-coloring plugin. The marker payload is a
// sequence of pushes; push idx colors output idx+1 with that push as
// its data and the push's first byte as its group. Data inherited
// from input idx is appended, so a color's provenance chains across
// spends.
type Colors struct{}

func (p *Colors) LokadID() []byte { return colorsLokadID }
func (p *Colors) Version() string { return "0.1.0" }

func (p *Colors) Run(tx *plugin.TxView) ([]plugin.Output, error) {
	pushes, err := txscript.PushedData(tx.Outputs[0].Script)
	if err != nil || len(pushes) == 0 || !bytes.Equal(pushes[0], colorsLokadID) {
		return nil, nil
	}

	var outputs []plugin.Output
	for idx, payload := range pushes[1:] {
		if idx+1 >= len(tx.Outputs) {
			break
		}
		data := [][]byte{payload}
		var groups [][]byte
		if len(payload) > 0 {
			groups = [][]byte{payload[:1]}
		}
		if idx < len(tx.Inputs) {
			if entry, ok := tx.Inputs[idx].Entries[ColorsName]; ok {
				data = append(data, entry.Data...)
			}
		}
		outputs = append(outputs, plugin.Output{Idx: uint32(idx + 1), Data: data, Groups: groups})
	}
	return outputs, nil
}

// Register adds every builtin plugin to the registry.
func Register(registry *plugin.Registry) error {
	return registry.Register(ColorsName, &Colors{})
}
