// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package rpc

import (
	"encoding/hex"

	"github.com/tagdex/tagdexd/indexer"
	"github.com/tagdex/tagdexd/types"
)

// PluginEntryJSON is the wire shape of a plugin entry. Data payloads
// and group bytes are hex encoded.
type PluginEntryJSON struct {
	Data   []string `json:"data"`
	Groups []string `json:"groups"`
}

// SlotJSON carries the entries attached to a single output or input.
// Slots without entries are omitted from responses.
type SlotJSON struct {
	Idx     uint32                     `json:"idx"`
	Plugins map[string]PluginEntryJSON `json:"plugins"`
}

// TxJSON is the wire shape of an indexed transaction. Height is -1
// while the transaction is unconfirmed.
type TxJSON struct {
	Txid          string     `json:"txid"`
	TimeFirstSeen int64      `json:"time_first_seen"`
	Height        int32      `json:"height"`
	BlockIndex    uint32     `json:"block_index"`
	Outputs       []SlotJSON `json:"outputs"`
	Inputs        []SlotJSON `json:"inputs"`
}

// UTXOJSON is the wire shape of an annotated unspent output.
type UTXOJSON struct {
	Txid    string                     `json:"txid"`
	OutIdx  uint32                     `json:"out_idx"`
	Value   int64                      `json:"value"`
	Script  string                     `json:"script"`
	Height  int32                      `json:"height"`
	Plugins map[string]PluginEntryJSON `json:"plugins"`
}

// PluginJSON describes a loaded plugin.
type PluginJSON struct {
	Name    string `json:"name"`
	LokadID string `json:"lokad_id"`
	Version string `json:"version"`
}

func hexStrings(items [][]byte) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = hex.EncodeToString(item)
	}
	return out
}

func entryJSON(entry *types.PluginEntry) PluginEntryJSON {
	return PluginEntryJSON{
		Data:   hexStrings(entry.Data),
		Groups: hexStrings(entry.Groups),
	}
}

func slotsJSON(maps []map[string]*types.PluginEntry) []SlotJSON {
	slots := make([]SlotJSON, 0)
	for i, entries := range maps {
		if len(entries) == 0 {
			continue
		}
		plugins := make(map[string]PluginEntryJSON, len(entries))
		for name, entry := range entries {
			plugins[name] = entryJSON(entry)
		}
		slots = append(slots, SlotJSON{Idx: uint32(i), Plugins: plugins})
	}
	return slots
}

func txJSON(tx *types.Tx) TxJSON {
	return TxJSON{
		Txid:          tx.ID().String(),
		TimeFirstSeen: tx.TimeFirstSeen,
		Height:        tx.Height,
		BlockIndex:    tx.BlockIndex,
		Outputs:       slotsJSON(tx.OutputPlugins),
		Inputs:        slotsJSON(tx.InputPlugins),
	}
}

func txsJSON(txs []*types.Tx) []TxJSON {
	out := make([]TxJSON, len(txs))
	for i, tx := range txs {
		out[i] = txJSON(tx)
	}
	return out
}

func utxoJSON(utxo *indexer.UTXO) UTXOJSON {
	plugins := make(map[string]PluginEntryJSON, len(utxo.Plugins))
	for name, entry := range utxo.Plugins {
		plugins[name] = entryJSON(entry)
	}
	return UTXOJSON{
		Txid:    utxo.Outpoint.TxID.String(),
		OutIdx:  utxo.Outpoint.Index,
		Value:   utxo.Value,
		Script:  hex.EncodeToString(utxo.Script),
		Height:  utxo.Height,
		Plugins: plugins,
	}
}
