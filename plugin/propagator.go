// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package plugin

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/tagdex/tagdexd/types"
)

var (
	errMarkerAnnotated = errors.New("record targets the marker output")
	errIdxOutOfRange   = errors.New("record output index out of range")
)

// Annotate computes the plugin annotations for a transaction and fills
// tx.OutputPlugins. The inherited input entries must already be set on
// tx.InputPlugins by the caller; they are looked up from the index,
// never recomputed.
//
// Annotation is a pure function of the transaction bytes and the
// inherited entries. It runs exactly once, when the transaction is
// first seen. A plugin that errors, panics or returns malformed
// records contributes no annotations but never blocks ingestion of the
// transaction itself.
func (r *Registry) Annotate(tx *types.Tx) {
	lokadID, ok := markerLokadID(tx.MsgTx.TxOut)
	if !ok {
		return
	}

	for _, name := range r.names {
		p := r.plugins[name]
		if !bytes.Equal(p.LokadID(), lokadID) {
			continue
		}

		// Each plugin gets its own view so nothing it writes can leak
		// into another plugin's run.
		outputs, err := invoke(p, buildView(tx))
		if err != nil {
			log.Warnf("Plugin %s faulted on tx %s: %s", name, tx.ID(), err)
			continue
		}
		if err := validateOutputs(outputs, len(tx.MsgTx.TxOut)); err != nil {
			log.Warnf("Plugin %s returned malformed records on tx %s: %s", name, tx.ID(), err)
			continue
		}

		for _, record := range outputs {
			entry := &types.PluginEntry{Data: record.Data}
			for _, group := range record.Groups {
				entry.AddGroup(group)
			}
			if tx.OutputPlugins[record.Idx] == nil {
				tx.OutputPlugins[record.Idx] = make(map[string]*types.PluginEntry)
			}
			tx.OutputPlugins[record.Idx][name] = entry
		}
	}
}

// markerLokadID decodes the marker output (index zero). The script
// must start with OP_RETURN and its first push is the lokad ID. Absent
// or malformed markers simply mean no plugin applies.
func markerLokadID(txOuts []*wire.TxOut) ([]byte, bool) {
	if len(txOuts) == 0 {
		return nil, false
	}
	script := txOuts[0].PkScript
	if len(script) == 0 || script[0] != txscript.OP_RETURN {
		return nil, false
	}
	pushes, err := txscript.PushedData(script)
	if err != nil || len(pushes) == 0 || len(pushes[0]) == 0 {
		return nil, false
	}
	return pushes[0], true
}

func buildView(tx *types.Tx) *TxView {
	view := &TxView{
		Outputs: make([]OutputView, len(tx.MsgTx.TxOut)),
		Inputs:  make([]InputView, len(tx.MsgTx.TxIn)),
	}
	for i, out := range tx.MsgTx.TxOut {
		view.Outputs[i] = OutputView{Value: out.Value, Script: out.PkScript}
	}
	for i, in := range tx.MsgTx.TxIn {
		// The view is read-only by contract but plugins are untrusted,
		// so each one works on copies of the inherited entries.
		entries := make(map[string]*types.PluginEntry, len(tx.InputPlugins[i]))
		for name, entry := range tx.InputPlugins[i] {
			entries[name] = entry.Clone()
		}
		view.Inputs[i] = InputView{
			Outpoint: types.OutpointFromWire(in.PreviousOutPoint),
			Script:   in.SignatureScript,
			Entries:  entries,
		}
	}
	return view
}

// validateOutputs rejects the whole result set if any record targets
// the marker output or an index past the end of the outputs.
func validateOutputs(outputs []Output, numOuts int) error {
	for _, record := range outputs {
		if record.Idx == 0 {
			return errMarkerAnnotated
		}
		if record.Idx >= uint32(numOuts) {
			return errIdxOutOfRange
		}
	}
	return nil
}
