// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package indexer

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/tagdex/tagdexd/types"
)

// Tx returns an indexed transaction with its annotations, confirmed
// or not.
func (idx *PluginIndex) Tx(txid types.ID) (*types.Tx, error) {
	idx.stateMtx.RLock()
	defer idx.stateMtx.RUnlock()

	tx, ok := idx.txs[txid]
	if !ok {
		return nil, ErrTxNotFound
	}
	return txSnapshot(tx), nil
}

// Utxos returns the unspent outputs annotated into the given group,
// across both partitions, ordered by txid treated as a numeric value
// and then by output index.
func (idx *PluginIndex) Utxos(pluginName string, group []byte) ([]*UTXO, error) {
	if idx.registry.Plugin(pluginName) == nil {
		return nil, ErrUnknownPlugin
	}
	key := GroupKey{Plugin: pluginName, Group: string(group)}

	idx.stateMtx.RLock()
	defer idx.stateMtx.RUnlock()

	ops := idx.groups.utxos(key)
	sort.Slice(ops, func(i, j int) bool { return outpointLess(ops[i], ops[j]) })

	utxos := make([]*UTXO, 0, len(ops))
	for _, op := range ops {
		owner, ok := idx.txs[op.TxID]
		if !ok || int(op.Index) >= len(owner.MsgTx.TxOut) {
			return nil, AssertError(fmt.Sprintf("group %s tracks utxo %s with no owning tx", key, op))
		}
		out := owner.MsgTx.TxOut[op.Index]
		utxos = append(utxos, &UTXO{
			Outpoint: op,
			Value:    out.Value,
			Script:   out.PkScript,
			Height:   owner.Height,
			Plugins:  owner.OutputPlugins[op.Index],
		})
	}
	return utxos, nil
}

// UnconfirmedTxs returns the unconfirmed member transactions of the
// given group, ordered ascending by first-seen time with txid as the
// tiebreaker.
func (idx *PluginIndex) UnconfirmedTxs(pluginName string, group []byte) ([]*types.Tx, error) {
	if idx.registry.Plugin(pluginName) == nil {
		return nil, ErrUnknownPlugin
	}
	key := GroupKey{Plugin: pluginName, Group: string(group)}

	idx.stateMtx.RLock()
	txs := snapshotAll(idx.groups.unconfirmedTxs(key))
	idx.stateMtx.RUnlock()

	sort.Slice(txs, func(i, j int) bool { return unconfirmedLess(txs[i], txs[j]) })
	return txs, nil
}

// ConfirmedTxs returns the confirmed member transactions of the given
// group, ordered ascending by block height and position within the
// block.
func (idx *PluginIndex) ConfirmedTxs(pluginName string, group []byte) ([]*types.Tx, error) {
	if idx.registry.Plugin(pluginName) == nil {
		return nil, ErrUnknownPlugin
	}
	key := GroupKey{Plugin: pluginName, Group: string(group)}

	idx.stateMtx.RLock()
	txs := snapshotAll(idx.groups.confirmedTxs(key))
	idx.stateMtx.RUnlock()

	sort.Slice(txs, func(i, j int) bool { return confirmedLess(txs[i], txs[j]) })
	return txs, nil
}

// History returns every member transaction of the given group, newest
// first: descending by first-seen time, unconfirmed before confirmed
// on equal times.
func (idx *PluginIndex) History(pluginName string, group []byte) ([]*types.Tx, error) {
	if idx.registry.Plugin(pluginName) == nil {
		return nil, ErrUnknownPlugin
	}
	key := GroupKey{Plugin: pluginName, Group: string(group)}

	idx.stateMtx.RLock()
	txs := snapshotAll(idx.groups.allTxs(key))
	idx.stateMtx.RUnlock()

	sort.Slice(txs, func(i, j int) bool { return historyLess(txs[i], txs[j]) })
	return txs, nil
}

// Groups returns the groups of the given plugin that currently track
// at least one UTXO or member transaction, optionally filtered to
// groups starting with prefix, in lexicographic order.
func (idx *PluginIndex) Groups(pluginName string, prefix []byte) ([][]byte, error) {
	if idx.registry.Plugin(pluginName) == nil {
		return nil, ErrUnknownPlugin
	}

	idx.stateMtx.RLock()
	var groups [][]byte
	for key := range idx.groups.groups {
		if key.Plugin != pluginName || !strings.HasPrefix(key.Group, string(prefix)) {
			continue
		}
		groups = append(groups, []byte(key.Group))
	}
	idx.stateMtx.RUnlock()

	sort.Slice(groups, func(i, j int) bool { return bytes.Compare(groups[i], groups[j]) < 0 })
	return groups, nil
}

// txSnapshot returns a copy whose lifecycle fields are stable once the
// state lock is released. The wire transaction and annotations are
// shared, they are immutable after annotation.
func txSnapshot(tx *types.Tx) *types.Tx {
	c := *tx
	return &c
}

func snapshotAll(txs []*types.Tx) []*types.Tx {
	out := make([]*types.Tx, len(txs))
	for i, tx := range txs {
		out[i] = txSnapshot(tx)
	}
	return out
}
