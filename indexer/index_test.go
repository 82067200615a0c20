// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package indexer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/go-test/deep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tagdex/tagdexd/plugin"
	"github.com/tagdex/tagdexd/repo/mock"
	"github.com/tagdex/tagdexd/types"
)

// colorPlugin mirrors the reference workload: it colors output idx+1
// with the idx'th OP_RETURN payload push, tags it with the push's
// first byte, and concatenates any data inherited from input idx.
type colorPlugin struct {
	name string
}

func (p *colorPlugin) LokadID() []byte { return []byte("TEST") }
func (p *colorPlugin) Version() string { return "0.1.0" }

func (p *colorPlugin) Run(tx *plugin.TxView) ([]plugin.Output, error) {
	pushes, err := txscript.PushedData(tx.Outputs[0].Script)
	if err != nil || len(pushes) == 0 || !bytes.Equal(pushes[0], []byte("TEST")) {
		return nil, nil
	}
	var outputs []plugin.Output
	for idx, op := range pushes[1:] {
		if idx+1 >= len(tx.Outputs) {
			break
		}
		data := [][]byte{op}
		var groups [][]byte
		if len(op) > 0 {
			groups = [][]byte{op[:1]}
		}
		if idx < len(tx.Inputs) {
			if entry, ok := tx.Inputs[idx].Entries[p.name]; ok {
				data = append(data, entry.Data...)
			}
		}
		outputs = append(outputs, plugin.Output{Idx: uint32(idx + 1), Data: data, Groups: groups})
	}
	return outputs, nil
}

func markerScript(t *testing.T, pushes ...[]byte) []byte {
	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN)
	for _, push := range pushes {
		builder.AddData(push)
	}
	script, err := builder.Script()
	require.NoError(t, err)
	return script
}

func testMsgTx(t *testing.T, marker []byte, numPay int, prevOuts ...types.Outpoint) *wire.MsgTx {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	for _, prev := range prevOuts {
		var h [32]byte
		copy(h[:], prev.TxID.Bytes())
		msgTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: h, Index: prev.Index}, []byte{txscript.OP_TRUE}, nil))
	}
	if len(prevOuts) == 0 {
		msgTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, []byte{txscript.OP_TRUE}, nil))
	}
	msgTx.AddTxOut(wire.NewTxOut(0, marker))
	for i := 0; i < numPay; i++ {
		msgTx.AddTxOut(wire.NewTxOut(1000, []byte{txscript.OP_TRUE}))
	}
	return msgTx
}

type testIndex struct {
	idx      *PluginIndex
	ds       *mock.MapDatastore
	registry *plugin.Registry
}

func newTestIndex(t *testing.T) *testIndex {
	ds := mock.NewMapDatastore()
	registry := plugin.NewRegistry()
	require.NoError(t, registry.Register("my_plugin", &colorPlugin{name: "my_plugin"}))

	idx, err := NewPluginIndex(Datastore(ds), Registry(registry), NotificationBuffer(16))
	require.NoError(t, err)
	return &testIndex{idx: idx, ds: ds, registry: registry}
}

func nextEvent(t *testing.T, sub *Subscription) *Event {
	select {
	case event, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestAddMempoolTx(t *testing.T) {
	h := newTestIndex(t)
	sub, err := h.idx.Subscribe("my_plugin", []byte("a"))
	require.NoError(t, err)

	msgTx := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo"), []byte("alef"), []byte("abc")), 3)
	firstSeen := time.Unix(1000, 0)
	require.NoError(t, h.idx.AddMempoolTx(msgTx, firstSeen))

	txid := types.NewIDFromHash(msgTx.TxHash())
	tx, err := h.idx.Tx(txid)
	require.NoError(t, err)
	assert.False(t, tx.IsConfirmed())
	assert.Equal(t, int64(1000), tx.TimeFirstSeen)

	txs, err := h.idx.UnconfirmedTxs("my_plugin", []byte("a"))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, txid, txs[0].ID())

	utxos, err := h.idx.Utxos("my_plugin", []byte("a"))
	require.NoError(t, err)
	require.Len(t, utxos, 3)
	for i, utxo := range utxos {
		assert.Equal(t, txid, utxo.Outpoint.TxID)
		assert.Equal(t, int64(1000), utxo.Value)
		assert.Equal(t, types.UnconfirmedHeight, utxo.Height)
		assert.Equal(t, uint32(i+1), utxo.Outpoint.Index)
	}

	event := nextEvent(t, sub)
	assert.Equal(t, txid, event.Txid)
	assert.Equal(t, TxAddedToMempool, event.Type)

	assert.ErrorIs(t, h.idx.AddMempoolTx(msgTx, firstSeen), ErrDuplicateTx)
}

func TestAddMempoolTxUntracked(t *testing.T) {
	h := newTestIndex(t)

	msgTx := testMsgTx(t, []byte{txscript.OP_TRUE}, 1)
	require.NoError(t, h.idx.AddMempoolTx(msgTx, time.Unix(1000, 0)))

	_, err := h.idx.Tx(types.NewIDFromHash(msgTx.TxHash()))
	assert.ErrorIs(t, err, ErrTxNotFound)
}

func TestSpendInheritance(t *testing.T) {
	h := newTestIndex(t)

	msgTx1 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo"), []byte("alef"), []byte("abc")), 3)
	require.NoError(t, h.idx.AddMempoolTx(msgTx1, time.Unix(1000, 0)))
	txid1 := types.NewIDFromHash(msgTx1.TxHash())

	// tx2 spends tx1's output 3, inheriting the "abc" entry.
	msgTx2 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("blub")), 1,
		types.NewOutpoint(txid1, 3))
	require.NoError(t, h.idx.AddMempoolTx(msgTx2, time.Unix(1001, 0)))
	txid2 := types.NewIDFromHash(msgTx2.TxHash())

	tx2, err := h.idx.Tx(txid2)
	require.NoError(t, err)
	want := map[string]*types.PluginEntry{
		"my_plugin": {Data: [][]byte{[]byte("abc")}, Groups: [][]byte{[]byte("a")}},
	}
	if diff := deep.Equal(want, tx2.InputPlugins[0]); diff != nil {
		t.Error(diff)
	}
	wantOut := map[string]*types.PluginEntry{
		"my_plugin": {Data: [][]byte{[]byte("blub"), []byte("abc")}, Groups: [][]byte{[]byte("b")}},
	}
	if diff := deep.Equal(wantOut, tx2.OutputPlugins[1]); diff != nil {
		t.Error(diff)
	}

	// The spent outpoint leaves the utxo view of group "a".
	utxos, err := h.idx.Utxos("my_plugin", []byte("a"))
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	for _, utxo := range utxos {
		assert.NotEqual(t, uint32(3), utxo.Outpoint.Index)
	}

	// tx2 is a member of "b" through its own entry and of "a" through
	// the inherited one.
	for _, group := range []string{"a", "b"} {
		txs, err := h.idx.UnconfirmedTxs("my_plugin", []byte(group))
		require.NoError(t, err)
		ids := make(map[types.ID]bool)
		for _, tx := range txs {
			ids[tx.ID()] = true
		}
		assert.True(t, ids[txid2], "tx2 missing from group %s", group)
	}
}

// mutatorPlugin writes through the inherited entries on its view.
type mutatorPlugin struct{}

func (p *mutatorPlugin) LokadID() []byte { return []byte("TEST") }
func (p *mutatorPlugin) Version() string { return "0.1.0" }

func (p *mutatorPlugin) Run(tx *plugin.TxView) ([]plugin.Output, error) {
	for _, in := range tx.Inputs {
		if entry, ok := in.Entries["my_plugin"]; ok {
			entry.Data = append(entry.Data, []byte("EVIL"))
			entry.Groups = nil
		}
	}
	return nil, nil
}

func TestStoredAnnotationsImmutable(t *testing.T) {
	h := newTestIndex(t)
	require.NoError(t, h.registry.Register("a_mutator", &mutatorPlugin{}))

	msgTx1 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo"), []byte("alef"), []byte("abc")), 3)
	require.NoError(t, h.idx.AddMempoolTx(msgTx1, time.Unix(1000, 0)))
	txid1 := types.NewIDFromHash(msgTx1.TxHash())

	msgTx2 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("blub")), 1,
		types.NewOutpoint(txid1, 3))
	require.NoError(t, h.idx.AddMempoolTx(msgTx2, time.Unix(1001, 0)))
	txid2 := types.NewIDFromHash(msgTx2.TxHash())

	// tx1's stored annotation survives the spender's plugin runs.
	tx1, err := h.idx.Tx(txid1)
	require.NoError(t, err)
	want := map[string]*types.PluginEntry{
		"my_plugin": {Data: [][]byte{[]byte("abc")}, Groups: [][]byte{[]byte("a")}},
	}
	if diff := deep.Equal(want, tx1.OutputPlugins[3]); diff != nil {
		t.Error(diff)
	}

	// tx2's recorded inherited entry is its own pristine copy.
	tx2, err := h.idx.Tx(txid2)
	require.NoError(t, err)
	if diff := deep.Equal(want, tx2.InputPlugins[0]); diff != nil {
		t.Error(diff)
	}

	// The group index still holds tx1's output 3 under group "a".
	utxos, err := h.idx.Utxos("my_plugin", []byte("a"))
	require.NoError(t, err)
	for _, utxo := range utxos {
		assert.NotEqual(t, types.NewOutpoint(txid1, 3), utxo.Outpoint)
	}
	txs, err := h.idx.UnconfirmedTxs("my_plugin", []byte("a"))
	require.NoError(t, err)
	ids := make(map[types.ID]bool)
	for _, tx := range txs {
		ids[tx.ID()] = true
	}
	assert.True(t, ids[txid1])
	assert.True(t, ids[txid2])
}

func TestConnectBlock(t *testing.T) {
	h := newTestIndex(t)

	msgTx := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo")), 1)
	require.NoError(t, h.idx.AddMempoolTx(msgTx, time.Unix(1000, 0)))
	txid := types.NewIDFromHash(msgTx.TxHash())

	before, err := h.idx.Tx(txid)
	require.NoError(t, err)

	sub, err := h.idx.Subscribe("my_plugin", []byte("a"))
	require.NoError(t, err)

	require.NoError(t, h.idx.ConnectBlock(100, time.Unix(2000, 0), []*wire.MsgTx{msgTx}))

	after, err := h.idx.Tx(txid)
	require.NoError(t, err)
	assert.Equal(t, int32(100), after.Height)
	assert.Equal(t, uint32(0), after.BlockIndex)
	// First-seen time and annotations survive confirmation untouched.
	assert.Equal(t, before.TimeFirstSeen, after.TimeFirstSeen)
	if diff := deep.Equal(before.OutputPlugins, after.OutputPlugins); diff != nil {
		t.Error(diff)
	}

	unconfirmed, err := h.idx.UnconfirmedTxs("my_plugin", []byte("a"))
	require.NoError(t, err)
	assert.Empty(t, unconfirmed)
	confirmed, err := h.idx.ConfirmedTxs("my_plugin", []byte("a"))
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, txid, confirmed[0].ID())

	utxos, err := h.idx.Utxos("my_plugin", []byte("a"))
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, int32(100), utxos[0].Height)

	event := nextEvent(t, sub)
	assert.Equal(t, txid, event.Txid)
	assert.Equal(t, TxConfirmed, event.Type)
}

func TestConnectBlockFreshTx(t *testing.T) {
	h := newTestIndex(t)

	// tx1 and its in-block spender tx2 both skip the mempool.
	msgTx1 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo")), 1)
	txid1 := types.NewIDFromHash(msgTx1.TxHash())
	msgTx2 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("blub")), 1,
		types.NewOutpoint(txid1, 1))
	txid2 := types.NewIDFromHash(msgTx2.TxHash())

	require.NoError(t, h.idx.ConnectBlock(100, time.Unix(2000, 0), []*wire.MsgTx{msgTx1, msgTx2}))

	tx1, err := h.idx.Tx(txid1)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), tx1.TimeFirstSeen)
	assert.Equal(t, int32(100), tx1.Height)
	assert.Equal(t, uint32(0), tx1.BlockIndex)

	tx2, err := h.idx.Tx(txid2)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), tx2.BlockIndex)
	wantOut := map[string]*types.PluginEntry{
		"my_plugin": {Data: [][]byte{[]byte("blub"), []byte("argo")}, Groups: [][]byte{[]byte("b")}},
	}
	if diff := deep.Equal(wantOut, tx2.OutputPlugins[1]); diff != nil {
		t.Error(diff)
	}

	// tx1's only annotated output was spent in the same block.
	utxos, err := h.idx.Utxos("my_plugin", []byte("a"))
	require.NoError(t, err)
	assert.Empty(t, utxos)
}

func TestDisconnectBlock(t *testing.T) {
	h := newTestIndex(t)

	msgTx := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo")), 1)
	require.NoError(t, h.idx.AddMempoolTx(msgTx, time.Unix(1000, 0)))
	txid := types.NewIDFromHash(msgTx.TxHash())
	require.NoError(t, h.idx.ConnectBlock(100, time.Unix(2000, 0), []*wire.MsgTx{msgTx}))

	sub, err := h.idx.Subscribe("my_plugin", []byte("a"))
	require.NoError(t, err)

	require.NoError(t, h.idx.DisconnectBlock([]types.ID{txid}))

	tx, err := h.idx.Tx(txid)
	require.NoError(t, err)
	assert.False(t, tx.IsConfirmed())
	assert.Equal(t, int64(1000), tx.TimeFirstSeen)

	unconfirmed, err := h.idx.UnconfirmedTxs("my_plugin", []byte("a"))
	require.NoError(t, err)
	require.Len(t, unconfirmed, 1)
	confirmed, err := h.idx.ConfirmedTxs("my_plugin", []byte("a"))
	require.NoError(t, err)
	assert.Empty(t, confirmed)

	utxos, err := h.idx.Utxos("my_plugin", []byte("a"))
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, types.UnconfirmedHeight, utxos[0].Height)

	event := nextEvent(t, sub)
	assert.Equal(t, txid, event.Txid)
	assert.Equal(t, TxAddedToMempool, event.Type)
}

func TestReorgEmissionOrder(t *testing.T) {
	h := newTestIndex(t)

	// Parent confirmed at height 100, child left in the mempool
	// spending the parent's annotated output.
	msgTx1 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo")), 1)
	txid1 := types.NewIDFromHash(msgTx1.TxHash())
	require.NoError(t, h.idx.ConnectBlock(100, time.Unix(2000, 0), []*wire.MsgTx{msgTx1}))

	msgTx2 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("blub")), 1,
		types.NewOutpoint(txid1, 1))
	txid2 := types.NewIDFromHash(msgTx2.TxHash())
	require.NoError(t, h.idx.AddMempoolTx(msgTx2, time.Unix(2001, 0)))

	sub, err := h.idx.Subscribe("my_plugin", []byte("a"))
	require.NoError(t, err)

	require.NoError(t, h.idx.DisconnectBlock([]types.ID{txid1}))

	// The child is re-announced: removal first, then the additions
	// with the parent ahead of its spender.
	event := nextEvent(t, sub)
	assert.Equal(t, txid2, event.Txid)
	assert.Equal(t, TxRemovedFromMempool, event.Type)
	event = nextEvent(t, sub)
	assert.Equal(t, txid1, event.Txid)
	assert.Equal(t, TxAddedToMempool, event.Type)
	event = nextEvent(t, sub)
	assert.Equal(t, txid2, event.Txid)
	assert.Equal(t, TxAddedToMempool, event.Type)

	// The child's state did not actually change.
	tx2, err := h.idx.Tx(txid2)
	require.NoError(t, err)
	assert.False(t, tx2.IsConfirmed())
}

func TestReorgConflict(t *testing.T) {
	h := newTestIndex(t)

	msgTx1 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo")), 1)
	txid1 := types.NewIDFromHash(msgTx1.TxHash())
	require.NoError(t, h.idx.AddMempoolTx(msgTx1, time.Unix(1000, 0)))

	msgTx2 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("blub")), 1,
		types.NewOutpoint(txid1, 1))
	txid2 := types.NewIDFromHash(msgTx2.TxHash())
	require.NoError(t, h.idx.AddMempoolTx(msgTx2, time.Unix(1001, 0)))

	sub, err := h.idx.Subscribe("my_plugin", []byte("b"))
	require.NoError(t, err)

	// The replacement chain confirmed a conflicting spend of tx1's
	// output; tx2 is evicted for good.
	require.NoError(t, h.idx.Reorg(nil, []types.ID{txid2}))

	_, err = h.idx.Tx(txid2)
	assert.ErrorIs(t, err, ErrTxNotFound)

	event := nextEvent(t, sub)
	assert.Equal(t, txid2, event.Txid)
	assert.Equal(t, TxRemovedFromMempool, event.Type)

	// tx1's spent output is unspent again.
	utxos, err := h.idx.Utxos("my_plugin", []byte("a"))
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, types.NewOutpoint(txid1, 1), utxos[0].Outpoint)
}

func TestRemoveMempoolTx(t *testing.T) {
	h := newTestIndex(t)

	msgTx := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo")), 1)
	txid := types.NewIDFromHash(msgTx.TxHash())
	require.NoError(t, h.idx.AddMempoolTx(msgTx, time.Unix(1000, 0)))

	require.NoError(t, h.idx.RemoveMempoolTx(txid))
	_, err := h.idx.Tx(txid)
	assert.ErrorIs(t, err, ErrTxNotFound)
	utxos, err := h.idx.Utxos("my_plugin", []byte("a"))
	require.NoError(t, err)
	assert.Empty(t, utxos)

	assert.ErrorIs(t, h.idx.RemoveMempoolTx(txid), ErrTxNotFound)

	// Confirmed transactions cannot be evicted.
	require.NoError(t, h.idx.AddMempoolTx(msgTx, time.Unix(1000, 0)))
	require.NoError(t, h.idx.ConnectBlock(100, time.Unix(2000, 0), []*wire.MsgTx{msgTx}))
	err = h.idx.RemoveMempoolTx(txid)
	var ierr IndexError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, ErrInvalidTransition, ierr.ErrorCode)
}

func TestHistoryOrdering(t *testing.T) {
	h := newTestIndex(t)

	msgTx1 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo")), 1)
	require.NoError(t, h.idx.AddMempoolTx(msgTx1, time.Unix(1000, 0)))
	require.NoError(t, h.idx.ConnectBlock(100, time.Unix(1500, 0), []*wire.MsgTx{msgTx1}))

	msgTx2 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("alef")), 1)
	require.NoError(t, h.idx.AddMempoolTx(msgTx2, time.Unix(2000, 0)))

	history, err := h.idx.History("my_plugin", []byte("a"))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.NewIDFromHash(msgTx2.TxHash()), history[0].ID())
	assert.Equal(t, types.NewIDFromHash(msgTx1.TxHash()), history[1].ID())
}

func TestGroups(t *testing.T) {
	h := newTestIndex(t)

	msgTx := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo"), []byte("blub")), 2)
	require.NoError(t, h.idx.AddMempoolTx(msgTx, time.Unix(1000, 0)))

	groups, err := h.idx.Groups("my_plugin", nil)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, groups)

	groups, err = h.idx.Groups("my_plugin", []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("b")}, groups)

	_, err = h.idx.Groups("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownPlugin)
}

func TestCommitFailureHaltsIndex(t *testing.T) {
	h := newTestIndex(t)

	msgTx1 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo")), 1)
	require.NoError(t, h.idx.AddMempoolTx(msgTx1, time.Unix(1000, 0)))

	h.ds.CommitErr = errors.New("disk on fire")
	msgTx2 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("alef")), 1)
	err := h.idx.AddMempoolTx(msgTx2, time.Unix(1001, 0))
	var ierr IndexError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, ErrIndexCommit, ierr.ErrorCode)
	assert.True(t, h.idx.Halted())

	// The failed transition left no trace in memory, and the views
	// keep serving the last consistent state.
	_, err = h.idx.Tx(types.NewIDFromHash(msgTx2.TxHash()))
	assert.ErrorIs(t, err, ErrTxNotFound)
	txs, err := h.idx.UnconfirmedTxs("my_plugin", []byte("a"))
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	// Every further transition is refused.
	assert.ErrorIs(t, h.idx.AddMempoolTx(msgTx2, time.Unix(1002, 0)), ErrIndexHalted)
	assert.ErrorIs(t, h.idx.ConnectBlock(100, time.Unix(2000, 0), []*wire.MsgTx{msgTx1}), ErrIndexHalted)
	assert.ErrorIs(t, h.idx.RemoveMempoolTx(types.NewIDFromHash(msgTx1.TxHash())), ErrIndexHalted)
}

func TestReload(t *testing.T) {
	h := newTestIndex(t)

	msgTx1 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo"), []byte("alef")), 2)
	txid1 := types.NewIDFromHash(msgTx1.TxHash())
	require.NoError(t, h.idx.AddMempoolTx(msgTx1, time.Unix(1000, 0)))
	require.NoError(t, h.idx.ConnectBlock(100, time.Unix(1500, 0), []*wire.MsgTx{msgTx1}))

	msgTx2 := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("blub")), 1,
		types.NewOutpoint(txid1, 1))
	txid2 := types.NewIDFromHash(msgTx2.TxHash())
	require.NoError(t, h.idx.AddMempoolTx(msgTx2, time.Unix(2000, 0)))

	// A fresh index over the same datastore restores the same views.
	idx2, err := NewPluginIndex(Datastore(h.ds), Registry(h.registry))
	require.NoError(t, err)
	require.NoError(t, idx2.Reload(context.Background()))

	tx1, err := idx2.Tx(txid1)
	require.NoError(t, err)
	assert.Equal(t, int32(100), tx1.Height)
	tx2, err := idx2.Tx(txid2)
	require.NoError(t, err)
	assert.False(t, tx2.IsConfirmed())

	for _, group := range [][]byte{[]byte("a"), []byte("b")} {
		want, err := h.idx.Utxos("my_plugin", group)
		require.NoError(t, err)
		got, err := idx2.Utxos("my_plugin", group)
		require.NoError(t, err)
		if diff := deep.Equal(want, got); diff != nil {
			t.Error(diff)
		}

		wantHist, err := h.idx.History("my_plugin", group)
		require.NoError(t, err)
		gotHist, err := idx2.History("my_plugin", group)
		require.NoError(t, err)
		require.Len(t, gotHist, len(wantHist))
		for i := range wantHist {
			assert.Equal(t, wantHist[i].ID(), gotHist[i].ID())
		}
	}
}

func TestReloadPluginVersionMismatch(t *testing.T) {
	h := newTestIndex(t)

	msgTx := testMsgTx(t, markerScript(t, []byte("TEST"), []byte("argo")), 1)
	require.NoError(t, h.idx.AddMempoolTx(msgTx, time.Unix(1000, 0)))
	require.NoError(t, h.idx.Reload(context.Background()))

	// Same plugin name, different version.
	registry2 := plugin.NewRegistry()
	require.NoError(t, registry2.Register("my_plugin", &versionedPlugin{version: "0.2.0"}))
	idx2, err := NewPluginIndex(Datastore(h.ds), Registry(registry2))
	require.NoError(t, err)

	err = idx2.Reload(context.Background())
	var ierr IndexError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, ErrPluginVersion, ierr.ErrorCode)

	// After dropping the index the new version loads cleanly.
	require.NoError(t, DropIndex(context.Background(), h.ds))
	require.NoError(t, idx2.Reload(context.Background()))
	_, err = idx2.Tx(types.NewIDFromHash(msgTx.TxHash()))
	assert.ErrorIs(t, err, ErrTxNotFound)
}

type versionedPlugin struct {
	version string
}

func (p *versionedPlugin) LokadID() []byte { return []byte("TEST") }
func (p *versionedPlugin) Version() string { return p.version }
func (p *versionedPlugin) Run(tx *plugin.TxView) ([]plugin.Output, error) {
	return nil, nil
}
