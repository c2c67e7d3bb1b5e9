// Package dram models a single memory channel cycle-accurately.
/*
 * Copyright (c) 2019, NVIDIA CORPORATION. All rights reserved.
 */
package dram

import (
	"github.com/dramcore/dramsim/cmn"
	"github.com/dramcore/dramsim/stats"
)

type queueStructure int

const (
	perBank queueStructure = iota
	perRank
)

// CommandQueue holds pending requests, one bounded queue per bank (PER_BANK)
// or per rank (PER_RANK), and round-robins between them. It consults the
// channel for readiness and applies precharge and write-after-read
// arbitration.
type CommandQueue struct {
	// RankQEmpty is maintained for the controller's SREF decision.
	RankQEmpty []bool

	conf    *cmn.Config
	chState *ChannelState
	statsT  stats.Tracker

	structure queueStructure
	numQueues int
	queueSize int
	queueIdx  int
	clk       uint64

	queues [][]cmn.Command

	isInRef     bool
	isInRFM     bool
	refQIndices map[int]struct{}
	rfmQIndices map[int]struct{}
}

func NewCommandQueue(conf *cmn.Config, chState *ChannelState, statsT stats.Tracker) *CommandQueue {
	if statsT == nil {
		statsT = stats.NopStats{}
	}
	cq := &CommandQueue{
		RankQEmpty:  make([]bool, conf.Ranks),
		conf:        conf,
		chState:     chState,
		statsT:      statsT,
		queueSize:   conf.CmdQueueSize,
		refQIndices: make(map[int]struct{}),
		rfmQIndices: make(map[int]struct{}),
	}
	for i := range cq.RankQEmpty {
		cq.RankQEmpty[i] = true
	}
	switch conf.QueueStructure {
	case cmn.QueuePerBank:
		cq.structure = perBank
		cq.numQueues = conf.Banks * conf.Ranks
	case cmn.QueuePerRank:
		cq.structure = perRank
		cq.numQueues = conf.Ranks
	default:
		cmn.Exitf("unsupported queueing structure %q", conf.QueueStructure)
	}
	cq.queues = make([][]cmn.Command, cq.numQueues)
	for i := range cq.queues {
		cq.queues[i] = make([]cmn.Command, 0, conf.CmdQueueSize)
	}
	return cq
}

// SetClk is called by the controller at the top of every cycle.
func (cq *CommandQueue) SetClk(clk uint64) { cq.clk = clk }

// GetCommandToIssue round-robins the queues, skipping those whose banks are
// covered by a refresh or RFM in progress, and returns the first ready
// command (invalid if none).
func (cq *CommandQueue) GetCommandToIssue() cmn.Command {
	for i := 0; i < cq.numQueues; i++ {
		queue := cq.getNextQueue()
		if cq.isInRef {
			if _, ok := cq.refQIndices[cq.queueIdx]; ok {
				continue
			}
		}
		if cq.isInRFM {
			if _, ok := cq.rfmQIndices[cq.queueIdx]; ok {
				continue
			}
		}
		cmd := cq.getFirstReadyInQueue(queue)
		if cmd.IsValid() {
			if cmd.IsReadWrite() {
				cq.EraseRWCommand(cmd)
			}
			return cmd
		}
	}
	return cmn.InvalidCommand()
}

// FinishRefresh drives the pending refresh to completion: intermediate
// precharge returns are expected and leave the in-progress flag set; only the
// actual REF clears it. An ASAP policy - the covered queues stay blocked for
// the duration.
func (cq *CommandQueue) FinishRefresh() cmn.Command {
	cmn.AssertMsg(!cq.isInRFM, "refresh while RFM in progress")
	ref := cq.chState.PendingRefCommand()
	if !cq.isInRef {
		cq.getRefQIndices(ref)
		cq.isInRef = true
	}

	cmd := cq.chState.GetReadyCommand(ref, cq.clk)
	if cmd.IsRefresh() {
		cq.refQIndices = make(map[int]struct{})
		cq.isInRef = false
	}
	return cmd
}

// FinishRFM is the RFM/DRFM counterpart of FinishRefresh.
func (cq *CommandQueue) FinishRFM() cmn.Command {
	cmn.AssertMsg(!cq.isInRef, "RFM while refresh in progress")
	rfm := cq.chState.PendingRFMCommand()
	if !cq.isInRFM {
		cq.getRFMQIndices(rfm)
		cq.isInRFM = true
	}

	cmd := cq.chState.GetReadyCommand(rfm, cq.clk)
	if cmd.IsRFM() || cmd.IsDRFM() {
		cq.rfmQIndices = make(map[int]struct{})
		cq.isInRFM = false
	}
	return cmd
}

// InRefresh reports whether a refresh is being driven to completion.
func (cq *CommandQueue) InRefresh() bool { return cq.isInRef }

// InRFM reports whether an RFM/DRFM is being driven to completion.
func (cq *CommandQueue) InRFM() bool { return cq.isInRFM }

// arbitratePrecharge decides whether a substituted PRECHARGE may issue now:
// not while an earlier request still targets the bank, and not while pending
// row hits exist below the hit cap.
func (cq *CommandQueue) arbitratePrecharge(cmdIdx int, queue []cmn.Command) bool {
	cmd := queue[cmdIdx]
	for _, prev := range queue[:cmdIdx] {
		if prev.Rank() == cmd.Rank() && prev.Bankgroup() == cmd.Bankgroup() && prev.Bank() == cmd.Bank() {
			return false
		}
	}

	pendingRowHitsExist := false
	openRow := cq.chState.OpenRow(cmd.Rank(), cmd.Bankgroup(), cmd.Bank())
	for _, pending := range queue[cmdIdx:] {
		if pending.Row() == openRow && pending.Bank() == cmd.Bank() &&
			pending.Bankgroup() == cmd.Bankgroup() && pending.Rank() == cmd.Rank() {
			pendingRowHitsExist = true
			break
		}
	}

	rowhitLimitReached := cq.chState.RowHitCount(cmd.Rank(), cmd.Bankgroup(), cmd.Bank()) >= 4
	if !pendingRowHitsExist || rowhitLimitReached {
		cq.statsT.Add("num_ondemand_pres", 1)
		return true
	}
	return false
}

// WillAcceptCommand reports whether the target queue has room.
func (cq *CommandQueue) WillAcceptCommand(rank, bankgroup, bank int) bool {
	return len(cq.queues[cq.GetQueueIndex(rank, bankgroup, bank)]) < cq.queueSize
}

func (cq *CommandQueue) QueueEmpty() bool {
	for _, q := range cq.queues {
		if len(q) > 0 {
			return false
		}
	}
	return true
}

// AddCommand enqueues a request; false means the queue is full and the
// caller must back off.
func (cq *CommandQueue) AddCommand(cmd cmn.Command) bool {
	idx := cq.GetQueueIndex(cmd.Rank(), cmd.Bankgroup(), cmd.Bank())
	if len(cq.queues[idx]) >= cq.queueSize {
		return false
	}
	cq.queues[idx] = append(cq.queues[idx], cmd)
	cq.RankQEmpty[cmd.Rank()] = false
	return true
}

func (cq *CommandQueue) getNextQueue() []cmn.Command {
	cq.queueIdx++
	if cq.queueIdx == cq.numQueues {
		cq.queueIdx = 0
	}
	return cq.queues[cq.queueIdx]
}

func (cq *CommandQueue) getRefQIndices(ref cmn.Command) {
	switch ref.Type {
	case cmn.CmdREFab:
		if cq.structure == perBank {
			for i := 0; i < cq.numQueues; i++ {
				if i/cq.conf.Banks == ref.Rank() {
					cq.refQIndices[i] = struct{}{}
				}
			}
		} else {
			cq.refQIndices[ref.Rank()] = struct{}{}
		}
	case cmn.CmdREFsb:
		cmn.AssertMsg(cq.structure == perBank, "cannot have per-rank queue structure for REFsb")
		for i := 0; i < cq.conf.Bankgroups; i++ {
			cq.refQIndices[cq.GetQueueIndex(ref.Rank(), i, ref.Bank())] = struct{}{}
		}
	default: // REFRESH_BANK
		cmn.AssertMsg(cq.structure == perBank, "cannot have per-rank queue structure for REFb")
		cq.refQIndices[cq.GetQueueIndex(ref.Rank(), ref.Bankgroup(), ref.Bank())] = struct{}{}
	}
}

func (cq *CommandQueue) getRFMQIndices(rfm cmn.Command) {
	switch rfm.Type {
	case cmn.CmdRFMab, cmn.CmdDRFMab:
		if cq.structure == perBank {
			for i := 0; i < cq.numQueues; i++ {
				if i/cq.conf.Banks == rfm.Rank() {
					cq.rfmQIndices[i] = struct{}{}
				}
			}
		} else {
			cq.rfmQIndices[rfm.Rank()] = struct{}{}
		}
	case cmn.CmdRFMsb, cmn.CmdDRFMsb:
		cmn.AssertMsg(cq.structure == perBank, "cannot have per-rank queue structure for RFMsb")
		for i := 0; i < cq.conf.Bankgroups; i++ {
			cq.rfmQIndices[cq.GetQueueIndex(rfm.Rank(), i, rfm.Bank())] = struct{}{}
		}
	default: // DRFMb
		cmn.AssertMsg(cq.structure == perBank, "cannot have per-rank queue structure for DRFMb")
		cq.rfmQIndices[cq.GetQueueIndex(rfm.Rank(), rfm.Bankgroup(), rfm.Bank())] = struct{}{}
	}
}

// GetQueueIndex flattens the address to the owning queue.
func (cq *CommandQueue) GetQueueIndex(rank, bankgroup, bank int) int {
	if cq.structure == perRank {
		return rank
	}
	return rank*cq.conf.Banks + bankgroup*cq.conf.BanksPerGroup + bank
}

// getFirstReadyInQueue walks the queue in insertion order. Hydra counter
// traffic preempts; precharge and write-after-read arbitration apply.
func (cq *CommandQueue) getFirstReadyInQueue(queue []cmn.Command) cmn.Command {
	for i := range queue {
		hydraCmd := cq.chState.GetReadyHydraCommand(cq.clk)
		if hydraCmd.IsValid() {
			return hydraCmd
		}

		cmd := cq.chState.GetReadyCommand(queue[i], cq.clk)
		if !cmd.IsValid() {
			continue
		}
		if cmd.Type == cmn.CmdPrecharge {
			if !cq.arbitratePrecharge(i, queue) {
				continue
			}
		} else if cmd.IsWrite() {
			if cq.hasRWDependency(i, queue) {
				continue
			}
		}
		return cmd
	}
	return cmn.InvalidCommand()
}

// EraseRWCommand removes the exact matching entry after issue.
// Hydra-synthesized commands are not in any queue.
func (cq *CommandQueue) EraseRWCommand(cmd cmn.Command) {
	idx := cq.GetQueueIndex(cmd.Rank(), cmd.Bankgroup(), cmd.Bank())
	queue := cq.queues[idx]
	for i := range queue {
		if cmd.HexAddr == queue[i].HexAddr && cmd.Type == queue[i].Type {
			cq.queues[idx] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
	if cmd.HexAddr == cmn.HydraHexAddr {
		return
	}
	cmn.Exitf("cannot find command %s to erase", cmd)
}

func (cq *CommandQueue) QueueUsage() int {
	usage := 0
	for _, q := range cq.queues {
		usage += len(q)
	}
	return usage
}

// hasRWDependency checks write-after-read: read-after-write is the
// controller's job.
func (cq *CommandQueue) hasRWDependency(cmdIdx int, queue []cmn.Command) bool {
	cmd := queue[cmdIdx]
	for _, prev := range queue[:cmdIdx] {
		if prev.IsRead() && prev.Row() == cmd.Row() && prev.Column() == cmd.Column() &&
			prev.Bank() == cmd.Bank() && prev.Bankgroup() == cmd.Bankgroup() {
			return true
		}
	}
	return false
}
