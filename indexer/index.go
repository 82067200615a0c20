// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/tagdex/tagdexd/plugin"
	"github.com/tagdex/tagdexd/repo"
	"github.com/tagdex/tagdexd/types"
)

// ErrUnknownPlugin is returned by queries and subscriptions naming a
// plugin that is not registered.
var ErrUnknownPlugin = errors.New("unknown plugin")

// UTXO is an unspent output carrying plugin annotations, as returned
// by the Utxos query.
type UTXO struct {
	Outpoint types.Outpoint
	Value    int64
	Script   []byte

	// Height is the block height of the transaction creating the
	// output, or types.UnconfirmedHeight while it is unconfirmed.
	Height int32

	Plugins map[string]*types.PluginEntry
}

// PluginIndex tracks every transaction annotated by at least one
// plugin, maintains the group to UTXO and group to transaction views
// derived from the annotations, and fans lifecycle events out to
// group subscribers.
//
// Lifecycle transitions are expected from a single caller at a time;
// queries may run concurrently with each other and with transitions.
// Each transition is committed to the datastore before the in-memory
// views are touched. If a commit fails the index halts: the views
// keep serving the last consistent state and every further transition
// returns ErrIndexHalted.
type PluginIndex struct {
	ds       repo.Datastore
	registry *plugin.Registry
	bus      *NotificationBus

	groups   *groupIndex
	txs      map[types.ID]*types.Tx
	spenders map[types.Outpoint]types.ID
	halted   bool

	stateMtx sync.RWMutex
}

// NewPluginIndex builds a new, empty PluginIndex. Call Reload to
// restore state persisted by an earlier run.
func NewPluginIndex(opts ...Option) (*PluginIndex, error) {
	var cfg config
	cfg.notificationBuffer = defaultNotificationBuffer
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &PluginIndex{
		ds:       cfg.ds,
		registry: cfg.registry,
		bus:      NewNotificationBus(cfg.notificationBuffer),
		groups:   newGroupIndex(),
		txs:      make(map[types.ID]*types.Tx),
		spenders: make(map[types.Outpoint]types.ID),
	}, nil
}

// Halted returns whether the index has stopped applying transitions
// after a failed datastore commit.
func (idx *PluginIndex) Halted() bool {
	idx.stateMtx.RLock()
	defer idx.stateMtx.RUnlock()
	return idx.halted
}

// Subscribe registers for lifecycle events of transactions touching
// the given group of the given plugin.
func (idx *PluginIndex) Subscribe(pluginName string, group []byte) (*Subscription, error) {
	if idx.registry.Plugin(pluginName) == nil {
		return nil, ErrUnknownPlugin
	}
	return idx.bus.Subscribe(pluginName, group), nil
}

// AddMempoolTx annotates a transaction first seen in the mempool and,
// if any plugin produced or inherited an entry for it, adds it to the
// unconfirmed partition. Transactions no plugin cares about are
// silently dropped.
func (idx *PluginIndex) AddMempoolTx(msgTx *wire.MsgTx, firstSeen time.Time) error {
	tx := types.NewTx(msgTx)
	tx.TimeFirstSeen = firstSeen.Unix()

	idx.stateMtx.RLock()
	if idx.halted {
		idx.stateMtx.RUnlock()
		return ErrIndexHalted
	}
	if _, ok := idx.txs[tx.ID()]; ok {
		idx.stateMtx.RUnlock()
		return ErrDuplicateTx
	}
	idx.inheritEntries(tx, nil)
	idx.stateMtx.RUnlock()

	// Plugins run outside the lock so queries are never blocked on
	// plugin code.
	idx.registry.Annotate(tx)
	if !tracked(tx) {
		return nil
	}

	if err := idx.persist([]*types.Tx{tx}, nil); err != nil {
		return err
	}

	idx.stateMtx.Lock()
	idx.insertTx(tx)
	idx.stateMtx.Unlock()

	idx.bus.Publish(&Event{Txid: tx.ID(), Type: TxAddedToMempool}, touchedKeys(tx))
	return nil
}

// ConnectBlock applies a newly connected block. Transactions already
// in the unconfirmed partition are relocated to the confirmed
// partition; transactions seen for the first time are annotated with
// the block timestamp as their first-seen time. Annotations computed
// in the mempool are never recomputed on confirmation.
func (idx *PluginIndex) ConnectBlock(height uint32, timestamp time.Time, msgTxs []*wire.MsgTx) error {
	type blockTx struct {
		tx         *types.Tx
		fresh      bool
		blockIndex uint32
	}

	if idx.Halted() {
		return ErrIndexHalted
	}

	// Blocks order spenders after the transactions they spend, so
	// entries inherited from an earlier transaction of the same block
	// are staged before the spender is annotated.
	staged := make(map[types.ID]*types.Tx)
	var connected []blockTx
	for i, msgTx := range msgTxs {
		tx := types.NewTx(msgTx)

		idx.stateMtx.RLock()
		if known, ok := idx.txs[tx.ID()]; ok {
			idx.stateMtx.RUnlock()
			if known.IsConfirmed() {
				continue
			}
			staged[known.ID()] = known
			connected = append(connected, blockTx{tx: known, blockIndex: uint32(i)})
			continue
		}
		tx.TimeFirstSeen = timestamp.Unix()
		idx.inheritEntries(tx, staged)
		idx.stateMtx.RUnlock()

		idx.registry.Annotate(tx)
		if !tracked(tx) {
			continue
		}
		tx.Height = int32(height)
		tx.BlockIndex = uint32(i)
		staged[tx.ID()] = tx
		connected = append(connected, blockTx{tx: tx, fresh: true, blockIndex: uint32(i)})
	}
	if len(connected) == 0 {
		return nil
	}

	// Serialize the post-transition records. Relocated transactions
	// are copied so readers never observe the new height before the
	// commit succeeds.
	puts := make([]*types.Tx, 0, len(connected))
	for _, bt := range connected {
		if bt.fresh {
			puts = append(puts, bt.tx)
			continue
		}
		rec := *bt.tx
		rec.Height = int32(height)
		rec.BlockIndex = bt.blockIndex
		puts = append(puts, &rec)
	}
	if err := idx.persist(puts, nil); err != nil {
		return err
	}

	idx.stateMtx.Lock()
	for _, bt := range connected {
		if bt.fresh {
			idx.insertTx(bt.tx)
		} else {
			idx.confirmTx(bt.tx, int32(height), bt.blockIndex)
		}
	}
	idx.stateMtx.Unlock()

	for _, bt := range connected {
		idx.bus.Publish(&Event{Txid: bt.tx.ID(), Type: TxConfirmed}, touchedKeys(bt.tx))
	}
	return nil
}

// DisconnectBlock returns the transactions of a disconnected block to
// the unconfirmed partition. It is shorthand for a single-block Reorg
// with no conflicting transactions.
func (idx *PluginIndex) DisconnectBlock(txids []types.ID) error {
	return idx.Reorg([][]types.ID{txids}, nil)
}

// Reorg applies a chain reorganization. The disconnected blocks are
// given from the old tip downward, each holding its txids in block
// order; their transactions return to the unconfirmed partition with
// their original first-seen times. Transactions in conflicted are
// evicted entirely, they conflict with the replacement chain.
//
// Unconfirmed transactions spending outputs of a returned transaction
// keep their state but are re-announced: every affected subscriber
// sees the removals first, then the additions in an order where a
// spender always follows the transactions it spends.
func (idx *PluginIndex) Reorg(disconnected [][]types.ID, conflicted []types.ID) error {
	idx.stateMtx.RLock()
	if idx.halted {
		idx.stateMtx.RUnlock()
		return ErrIndexHalted
	}

	seen := make(map[types.ID]bool)
	var returned []*types.Tx
	for _, block := range disconnected {
		for i := len(block) - 1; i >= 0; i-- {
			tx, ok := idx.txs[block[i]]
			if !ok || !tx.IsConfirmed() || seen[block[i]] {
				continue
			}
			seen[block[i]] = true
			returned = append(returned, tx)
		}
	}

	var evicted []*types.Tx
	for _, txid := range conflicted {
		if tx, ok := idx.txs[txid]; ok && !seen[txid] {
			seen[txid] = true
			evicted = append(evicted, tx)
		}
	}

	descendants := idx.descendants(returned, seen)
	idx.stateMtx.RUnlock()

	if len(returned) == 0 && len(evicted) == 0 {
		return nil
	}

	puts := make([]*types.Tx, 0, len(returned))
	for _, tx := range returned {
		rec := *tx
		rec.Height = types.UnconfirmedHeight
		rec.BlockIndex = 0
		puts = append(puts, &rec)
	}
	deletes := make([]types.ID, 0, len(evicted))
	for _, tx := range evicted {
		deletes = append(deletes, tx.ID())
	}
	if err := idx.persist(puts, deletes); err != nil {
		return err
	}

	idx.stateMtx.Lock()
	for _, tx := range returned {
		idx.unconfirmTx(tx)
	}
	for _, tx := range evicted {
		idx.removeTx(tx)
	}
	idx.stateMtx.Unlock()

	// All removals precede all additions so a subscriber never sees a
	// spender announced before the transaction it spends.
	removed := append(append([]*types.Tx{}, evicted...), descendants...)
	sort.Slice(removed, func(i, j int) bool { return unconfirmedLess(removed[i], removed[j]) })
	for _, tx := range removed {
		idx.bus.Publish(&Event{Txid: tx.ID(), Type: TxRemovedFromMempool}, touchedKeys(tx))
	}
	for _, tx := range topoOrder(append(append([]*types.Tx{}, returned...), descendants...)) {
		idx.bus.Publish(&Event{Txid: tx.ID(), Type: TxAddedToMempool}, touchedKeys(tx))
	}
	return nil
}

// RemoveMempoolTx evicts an unconfirmed transaction, destroying its
// annotations. Evicting a confirmed transaction is not a valid
// transition.
func (idx *PluginIndex) RemoveMempoolTx(txid types.ID) error {
	idx.stateMtx.RLock()
	if idx.halted {
		idx.stateMtx.RUnlock()
		return ErrIndexHalted
	}
	tx, ok := idx.txs[txid]
	if !ok {
		idx.stateMtx.RUnlock()
		return ErrTxNotFound
	}
	if tx.IsConfirmed() {
		idx.stateMtx.RUnlock()
		return indexError(ErrInvalidTransition, fmt.Sprintf("tx %s is confirmed and cannot be evicted", txid))
	}
	idx.stateMtx.RUnlock()

	if err := idx.persist(nil, []types.ID{txid}); err != nil {
		return err
	}

	idx.stateMtx.Lock()
	idx.removeTx(tx)
	idx.stateMtx.Unlock()

	idx.bus.Publish(&Event{Txid: txid, Type: TxRemovedFromMempool}, touchedKeys(tx))
	return nil
}

// persist atomically writes the post-transition records and deletions.
// Only a failed commit halts the index; errors before the commit leave
// the datastore untouched.
func (idx *PluginIndex) persist(puts []*types.Tx, deletes []types.ID) error {
	ctx := context.Background()
	dbtx, err := idx.ds.NewTransaction(ctx, false)
	if err != nil {
		return indexError(ErrIndexCommit, fmt.Sprintf("open datastore tx: %s", err))
	}
	defer dbtx.Discard(ctx)

	for _, tx := range puts {
		var buf bytes.Buffer
		if err := tx.Serialize(&buf); err != nil {
			return indexError(ErrIndexCommit, fmt.Sprintf("serialize tx %s: %s", tx.ID(), err))
		}
		key := datastore.NewKey(repo.PluginTxKeyPrefix + tx.ID().String())
		if err := dbtx.Put(ctx, key, buf.Bytes()); err != nil {
			return indexError(ErrIndexCommit, fmt.Sprintf("put tx %s: %s", tx.ID(), err))
		}
	}
	for _, txid := range deletes {
		key := datastore.NewKey(repo.PluginTxKeyPrefix + txid.String())
		if err := dbtx.Delete(ctx, key); err != nil {
			return indexError(ErrIndexCommit, fmt.Sprintf("delete tx %s: %s", txid, err))
		}
	}
	if err := dbtx.Commit(ctx); err != nil {
		idx.stateMtx.Lock()
		idx.halted = true
		idx.stateMtx.Unlock()
		log.Errorf("Datastore commit failed, halting index: %s", err)
		return indexError(ErrIndexCommit, fmt.Sprintf("commit: %s", err))
	}
	return nil
}

// Reload restores the index from the datastore. It fails if any
// registered plugin's version differs from the version the records
// were annotated with; stale annotations require dropping the index
// and reindexing from the transaction source.
func (idx *PluginIndex) Reload(ctx context.Context) error {
	for _, name := range idx.registry.Names() {
		key := datastore.NewKey(repo.PluginMetaKeyPrefix + name)
		stored, err := idx.ds.Get(ctx, key)
		if err != nil {
			if errors.Is(err, datastore.ErrNotFound) {
				continue
			}
			return err
		}
		ver := idx.registry.Plugin(name).Version()
		if string(stored) != ver {
			return indexError(ErrPluginVersion, fmt.Sprintf(
				"plugin %s is version %s but the index was built with %s; drop the index and reindex",
				name, ver, string(stored)))
		}
	}

	dbtx, err := idx.ds.NewTransaction(ctx, false)
	if err != nil {
		return err
	}
	defer dbtx.Discard(ctx)
	for _, name := range idx.registry.Names() {
		key := datastore.NewKey(repo.PluginMetaKeyPrefix + name)
		if err := dbtx.Put(ctx, key, []byte(idx.registry.Plugin(name).Version())); err != nil {
			return err
		}
	}
	if err := dbtx.Commit(ctx); err != nil {
		return err
	}

	results, err := idx.ds.Query(ctx, query.Query{Prefix: repo.PluginTxKeyPrefix})
	if err != nil {
		return err
	}
	defer results.Close()

	idx.stateMtx.Lock()
	defer idx.stateMtx.Unlock()
	for result := range results.Next() {
		if result.Error != nil {
			return result.Error
		}
		tx, err := types.DeserializeTx(bytes.NewReader(result.Value))
		if err != nil {
			return fmt.Errorf("record %s: %w", result.Key, err)
		}
		idx.txs[tx.ID()] = tx
	}
	idx.rebuildViews()
	log.Infof("Loaded %d plugin-indexed transactions", len(idx.txs))
	return nil
}

// rebuildViews recomputes the group views from the loaded records.
// Records load in arbitrary order, so outputs are registered first and
// the spent ones stripped in a second pass. Callers must hold the
// state lock.
func (idx *PluginIndex) rebuildViews() {
	for _, tx := range idx.txs {
		confirmed := tx.IsConfirmed()
		for _, key := range touchedKeys(tx) {
			idx.groups.addTx(key, tx, confirmed)
		}
		for i, entries := range tx.OutputPlugins {
			op := types.NewOutpoint(tx.ID(), uint32(i))
			for name, entry := range entries {
				for _, group := range entry.Groups {
					idx.groups.addUtxo(GroupKey{Plugin: name, Group: string(group)}, op, confirmed)
				}
			}
		}
	}
	for _, tx := range idx.txs {
		for i, op := range tx.Spends() {
			idx.spenders[op] = tx.ID()
			for name, entry := range tx.InputPlugins[i] {
				for _, group := range entry.Groups {
					idx.groups.removeUtxo(GroupKey{Plugin: name, Group: string(group)}, op)
				}
			}
		}
	}
}

// DropIndex deletes every record the index persisted. It must not be
// called while an index is using the datastore.
func DropIndex(ctx context.Context, ds repo.Datastore) error {
	results, err := ds.Query(ctx, query.Query{Prefix: "/tagdex", KeysOnly: true})
	if err != nil {
		return err
	}
	defer results.Close()

	batch, err := ds.Batch(ctx)
	if err != nil {
		return err
	}
	for result := range results.Next() {
		if result.Error != nil {
			return result.Error
		}
		if err := batch.Delete(ctx, datastore.NewKey(result.Key)); err != nil {
			return err
		}
	}
	return batch.Commit(ctx)
}

// inheritEntries copies the annotations of each spent output onto the
// matching input slot. staged holds transactions of the block being
// connected that are not yet visible in the index. Callers must hold
// the state lock for reading.
func (idx *PluginIndex) inheritEntries(tx *types.Tx, staged map[types.ID]*types.Tx) {
	for i, op := range tx.Spends() {
		prev, ok := staged[op.TxID]
		if !ok {
			prev, ok = idx.txs[op.TxID]
		}
		if !ok || int(op.Index) >= len(prev.OutputPlugins) {
			continue
		}
		// The child's input entries are persisted and snapshotted on
		// their own, so they must not alias the parent's maps.
		if entries := prev.OutputPlugins[op.Index]; len(entries) > 0 {
			inherited := make(map[string]*types.PluginEntry, len(entries))
			for name, entry := range entries {
				inherited[name] = entry.Clone()
			}
			tx.InputPlugins[i] = inherited
		}
	}
}

// insertTx registers a fully annotated transaction. Callers must hold
// the state lock for writing.
func (idx *PluginIndex) insertTx(tx *types.Tx) {
	confirmed := tx.IsConfirmed()
	txid := tx.ID()
	idx.txs[txid] = tx

	for _, key := range touchedKeys(tx) {
		idx.groups.addTx(key, tx, confirmed)
	}
	for i, entries := range tx.OutputPlugins {
		op := types.NewOutpoint(txid, uint32(i))
		for name, entry := range entries {
			for _, group := range entry.Groups {
				idx.groups.addUtxo(GroupKey{Plugin: name, Group: string(group)}, op, confirmed)
			}
		}
	}
	for i, op := range tx.Spends() {
		idx.spenders[op] = txid
		for name, entry := range tx.InputPlugins[i] {
			for _, group := range entry.Groups {
				idx.groups.removeUtxo(GroupKey{Plugin: name, Group: string(group)}, op)
			}
		}
	}
}

// removeTx evicts a transaction. Outputs it spent become unspent again
// as long as no other live transaction claimed them in the meantime.
// Callers must hold the state lock for writing.
func (idx *PluginIndex) removeTx(tx *types.Tx) {
	txid := tx.ID()
	delete(idx.txs, txid)

	for _, key := range touchedKeys(tx) {
		idx.groups.removeTx(key, txid)
	}
	for i, entries := range tx.OutputPlugins {
		op := types.NewOutpoint(txid, uint32(i))
		for name, entry := range entries {
			for _, group := range entry.Groups {
				idx.groups.removeUtxo(GroupKey{Plugin: name, Group: string(group)}, op)
			}
		}
	}
	for i, op := range tx.Spends() {
		if idx.spenders[op] != txid {
			continue
		}
		delete(idx.spenders, op)
		owner, ok := idx.txs[op.TxID]
		if !ok {
			continue
		}
		for name, entry := range tx.InputPlugins[i] {
			for _, group := range entry.Groups {
				idx.groups.addUtxo(GroupKey{Plugin: name, Group: string(group)}, op, owner.IsConfirmed())
			}
		}
	}
}

// confirmTx relocates an unconfirmed transaction to the confirmed
// partition. Callers must hold the state lock for writing.
func (idx *PluginIndex) confirmTx(tx *types.Tx, height int32, blockIndex uint32) {
	tx.Height = height
	tx.BlockIndex = blockIndex
	idx.relocate(tx, true)
}

// unconfirmTx returns a confirmed transaction to the unconfirmed
// partition. Callers must hold the state lock for writing.
func (idx *PluginIndex) unconfirmTx(tx *types.Tx) {
	tx.Height = types.UnconfirmedHeight
	tx.BlockIndex = 0
	idx.relocate(tx, false)
}

func (idx *PluginIndex) relocate(tx *types.Tx, toConfirmed bool) {
	txid := tx.ID()
	for _, key := range touchedKeys(tx) {
		idx.groups.moveTx(key, txid, toConfirmed)
	}
	for i, entries := range tx.OutputPlugins {
		op := types.NewOutpoint(txid, uint32(i))
		for name, entry := range entries {
			for _, group := range entry.Groups {
				idx.groups.moveUtxo(GroupKey{Plugin: name, Group: string(group)}, op, toConfirmed)
			}
		}
	}
}

// descendants returns the unconfirmed transactions transitively
// spending outputs of the given transactions, excluding those already
// in skip. Callers must hold the state lock for reading.
func (idx *PluginIndex) descendants(roots []*types.Tx, skip map[types.ID]bool) []*types.Tx {
	frontier := make(map[types.ID]bool, len(roots))
	for _, tx := range roots {
		frontier[tx.ID()] = true
	}
	found := make(map[types.ID]bool)
	var out []*types.Tx
	for {
		grew := false
		for txid, tx := range idx.txs {
			if tx.IsConfirmed() || frontier[txid] || found[txid] || skip[txid] {
				continue
			}
			for _, op := range tx.Spends() {
				if frontier[op.TxID] || found[op.TxID] {
					found[txid] = true
					out = append(out, tx)
					grew = true
					break
				}
			}
		}
		if !grew {
			return out
		}
	}
}

// topoOrder orders transactions so a spender always follows the
// transactions it spends, breaking ties by first-seen time and txid.
func topoOrder(txs []*types.Tx) []*types.Tx {
	inSet := make(map[types.ID]*types.Tx, len(txs))
	for _, tx := range txs {
		inSet[tx.ID()] = tx
	}
	indegree := make(map[types.ID]int, len(txs))
	children := make(map[types.ID][]types.ID)
	for _, tx := range txs {
		indegree[tx.ID()] += 0
		for _, op := range tx.Spends() {
			if _, ok := inSet[op.TxID]; ok {
				indegree[tx.ID()]++
				children[op.TxID] = append(children[op.TxID], tx.ID())
			}
		}
	}

	var ready []*types.Tx
	for txid, deg := range indegree {
		if deg == 0 {
			ready = append(ready, inSet[txid])
		}
	}
	out := make([]*types.Tx, 0, len(txs))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return unconfirmedLess(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		out = append(out, next)
		for _, child := range children[next.ID()] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, inSet[child])
			}
		}
	}
	return out
}

// touchedKeys returns every group a transaction is a member of, via
// its own annotations or the ones inherited on its inputs, sorted for
// deterministic iteration.
func touchedKeys(tx *types.Tx) []GroupKey {
	set := make(map[GroupKey]struct{})
	collect := func(maps []map[string]*types.PluginEntry) {
		for _, entries := range maps {
			for name, entry := range entries {
				for _, group := range entry.Groups {
					set[GroupKey{Plugin: name, Group: string(group)}] = struct{}{}
				}
			}
		}
	}
	collect(tx.OutputPlugins)
	collect(tx.InputPlugins)

	keys := make([]GroupKey, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Plugin != keys[j].Plugin {
			return keys[i].Plugin < keys[j].Plugin
		}
		return keys[i].Group < keys[j].Group
	})
	return keys
}

// tracked returns whether any plugin produced or inherited an entry
// for the transaction.
func tracked(tx *types.Tx) bool {
	for _, entries := range tx.OutputPlugins {
		if len(entries) > 0 {
			return true
		}
	}
	for _, entries := range tx.InputPlugins {
		if len(entries) > 0 {
			return true
		}
	}
	return false
}
