// Package dram models a single memory channel cycle-accurately.
/*
 * Copyright (c) 2019, NVIDIA CORPORATION. All rights reserved.
 */
package dram

import (
	"math/rand"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/golang/glog"

	"github.com/dramcore/dramsim/cmn"
	"github.com/dramcore/dramsim/stats"
)

// abacusEntry tracks one row channel-wide: the row activation counter and the
// set of banks that activated the row since the last increment.
type abacusEntry struct {
	rac int
	sav *bitset.BitSet
}

// ChannelState aggregates the banks of one channel. It owns the refresh and
// RFM/DRFM queues, the Hydra read/writeback streams, the channel-wide
// mitigation engines (DREAM, ABACUS), the ABO alert flow, and the activation
// windows (tFAW/t32AW).
type ChannelState struct {
	conf    *cmn.Config
	timing  *Timing
	statsT  stats.Tracker
	channel int
	rng     *rand.Rand

	// RankIdleCycles is maintained by the controller to drive SREF entry.
	RankIdleCycles []int

	rankIsSref []bool
	banks      [][][]*BankState

	refreshQ []cmn.Command
	rfmQ     []cmn.Command

	// Hydra
	rcc            *RowCounterCache
	hydraRdQ       []cmn.Command
	hydraWbQ       []cmn.Command
	hydraWbDraining bool

	// refresh cursor
	refIdx     int
	fgrCounter int

	// bus burstiness tracking
	lastBusAccessTime uint64
	burstyAccessCount int64

	// activation windows, per rank
	fourAW      [][]uint64
	thirtyTwoAW [][]uint64

	// DREAM: Table of Untagged Skewed Counters
	tusc        []int
	tuscPrev    []int
	tuscSize    int
	tuscQ       []int
	randomMasks []int

	// ABACUS
	abacusTable   []abacusEntry
	abacusQ       []int
	abacusEntries int

	// ABO
	alertN       bool
	lastAlertClk uint64
	numActsABO   int
}

// NewChannelState builds the channel with every bank closed. The random
// source is seeded per channel so runs are reproducible.
func NewChannelState(conf *cmn.Config, tm *Timing, statsT stats.Tracker, channel int) *ChannelState {
	if statsT == nil {
		statsT = stats.NopStats{}
	}
	cs := &ChannelState{
		conf:           conf,
		timing:         tm,
		statsT:         statsT,
		channel:        channel,
		rng:            rand.New(rand.NewSource(int64(channel) + 1)),
		RankIdleCycles: make([]int, conf.Ranks),
		rankIsSref:     make([]bool, conf.Ranks),
		fourAW:         make([][]uint64, conf.Ranks),
		thirtyTwoAW:    make([][]uint64, conf.Ranks),
	}

	if conf.HydraMode != 0 {
		cs.rcc = NewRowCounterCache(conf.HydraRCCSets, conf.HydraRCCWays, statsT)
	}

	cs.banks = make([][][]*BankState, conf.Ranks)
	for i := 0; i < conf.Ranks; i++ {
		cs.banks[i] = make([][]*BankState, conf.Bankgroups)
		for j := 0; j < conf.Bankgroups; j++ {
			cs.banks[i][j] = make([]*BankState, conf.BanksPerGroup)
			for k := 0; k < conf.BanksPerGroup; k++ {
				cs.banks[i][j][k] = NewBankState(conf, statsT, cs.rcc, cs.rng, i, j, k)
			}
		}
	}

	// DREAM counter table (also kept in stats-only mode)
	cs.tusc = make([]int, conf.Rows/conf.DreamK)
	cs.tuscPrev = make([]int, conf.Rows/conf.DreamK)
	cs.tuscSize = len(cs.tusc)
	numMasks := conf.TotalBanks() * conf.DreamK
	cs.randomMasks = make([]int, numMasks)
	for i := range cs.randomMasks {
		cs.randomMasks[i] = cs.rng.Intn(cs.tuscSize)
	}

	if conf.AbacusMode != 0 {
		cs.abacusEntries = conf.Rows
		cs.abacusTable = make([]abacusEntry, cs.abacusEntries)
		for i := range cs.abacusTable {
			cs.abacusTable[i].sav = bitset.New(uint(conf.TotalBanks()))
		}
	}
	return cs
}

func (cs *ChannelState) Bank(rank, bankgroup, bank int) *BankState {
	return cs.banks[rank][bankgroup][bank]
}

func (cs *ChannelState) IsRowOpen(rank, bankgroup, bank int) bool {
	return cs.banks[rank][bankgroup][bank].IsRowOpen()
}

func (cs *ChannelState) OpenRow(rank, bankgroup, bank int) int {
	return cs.banks[rank][bankgroup][bank].OpenRow()
}

func (cs *ChannelState) RowHitCount(rank, bankgroup, bank int) int {
	return cs.banks[rank][bankgroup][bank].RowHitCount()
}

func (cs *ChannelState) IsInDRFM(rank, bankgroup, bank int) bool {
	return cs.banks[rank][bankgroup][bank].IsInDRFM()
}

func (cs *ChannelState) IsInREF(rank, bankgroup, bank int) bool {
	return cs.banks[rank][bankgroup][bank].IsInREF()
}

func (cs *ChannelState) IsRankSelfRefreshing(rank int) bool { return cs.rankIsSref[rank] }

func (cs *ChannelState) IsAllBankIdleInRank(rank int) bool {
	for j := 0; j < cs.conf.Bankgroups; j++ {
		for k := 0; k < cs.conf.BanksPerGroup; k++ {
			if cs.banks[rank][j][k].IsRowOpen() {
				return false
			}
		}
	}
	return true
}

// IsRWPendingOnRef reports whether a row hit is sitting unserved at the bank
// a refresh wants: open row matches and no hit was served yet.
func (cs *ChannelState) IsRWPendingOnRef(cmd cmn.Command) bool {
	rank, bankgroup, bank := cmd.Rank(), cmd.Bankgroup(), cmd.Bank()
	return cs.IsRowOpen(rank, bankgroup, bank) &&
		cs.RowHitCount(rank, bankgroup, bank) == 0 &&
		cs.OpenRow(rank, bankgroup, bank) == cmd.Row()
}

func (cs *ChannelState) IsRefreshWaiting() bool { return len(cs.refreshQ) > 0 }

func (cs *ChannelState) PendingRefCommand() cmn.Command { return cs.refreshQ[0] }

func (cs *ChannelState) IsRFMWaiting() bool { return len(cs.rfmQ) > 0 }

func (cs *ChannelState) PendingRFMCommand() cmn.Command { return cs.rfmQ[0] }

// PrintDeadlock dumps every bank; called externally on absence of progress.
func (cs *ChannelState) PrintDeadlock() {
	for i := 0; i < cs.conf.Ranks; i++ {
		for j := 0; j < cs.conf.Bankgroups; j++ {
			for k := 0; k < cs.conf.BanksPerGroup; k++ {
				cs.banks[i][j][k].PrintState()
			}
		}
	}
}

//
// refresh / RFM / DRFM queue management
//

func (cs *ChannelState) BankNeedRefresh(rank, bankgroup, bank int, need bool) {
	if need {
		addr := cmn.Address{Channel: -1, Rank: rank, Bankgroup: bankgroup, Bank: bank, Row: -1, Column: -1}
		cs.refreshQ = append(cs.refreshQ, cmn.NewCommand(cmn.CmdRefreshBank, addr, -1))
		return
	}
	for i, c := range cs.refreshQ {
		if c.Rank() == rank && c.Bankgroup() == bankgroup && c.Bank() == bank {
			cs.refreshQ = append(cs.refreshQ[:i], cs.refreshQ[i+1:]...)
			return
		}
	}
}

func (cs *ChannelState) BanksetNeedRefresh(rank, bank int, need bool) {
	if need {
		addr := cmn.Address{Channel: -1, Rank: rank, Bankgroup: -1, Bank: bank, Row: -1, Column: -1}
		cs.refreshQ = append(cs.refreshQ, cmn.NewCommand(cmn.CmdREFsb, addr, -1))
		return
	}
	for i, c := range cs.refreshQ {
		if c.Rank() == rank && c.Bank() == bank {
			cs.refreshQ = append(cs.refreshQ[:i], cs.refreshQ[i+1:]...)
			return
		}
	}
}

func (cs *ChannelState) RankNeedRefresh(rank int, need bool) {
	if need {
		addr := cmn.Address{Channel: -1, Rank: rank, Bankgroup: -1, Bank: -1, Row: -1, Column: -1}
		cs.refreshQ = append(cs.refreshQ, cmn.NewCommand(cmn.CmdREFab, addr, -1))
		return
	}
	for i, c := range cs.refreshQ {
		if c.Rank() == rank {
			cs.refreshQ = append(cs.refreshQ[:i], cs.refreshQ[i+1:]...)
			return
		}
	}
}

func (cs *ChannelState) rfmQContains(match func(cmn.Command) bool) bool {
	for _, c := range cs.rfmQ {
		if match(c) {
			return true
		}
	}
	return false
}

func (cs *ChannelState) rfmQRemove(match func(cmn.Command) bool) {
	for i, c := range cs.rfmQ {
		if match(c) {
			cs.rfmQ = append(cs.rfmQ[:i], cs.rfmQ[i+1:]...)
			return
		}
	}
}

func (cs *ChannelState) RankNeedRFM(rank int, need bool) {
	sameRank := func(c cmn.Command) bool { return c.Rank() == rank }
	if need && !cs.rfmQContains(sameRank) {
		addr := cmn.Address{Channel: -1, Rank: rank, Bankgroup: -1, Bank: -1, Row: -1, Column: -1}
		cs.rfmQ = append(cs.rfmQ, cmn.NewCommand(cmn.CmdRFMab, addr, -1))
	} else if !need {
		cs.rfmQRemove(sameRank)
	}
}

func (cs *ChannelState) BanksetNeedRFM(rank, bank int, need bool) {
	sameBankset := func(c cmn.Command) bool { return c.Rank() == rank && c.Bank() == bank }
	if need && !cs.rfmQContains(sameBankset) {
		addr := cmn.Address{Channel: -1, Rank: rank, Bankgroup: -1, Bank: bank, Row: -1, Column: -1}
		cs.rfmQ = append(cs.rfmQ, cmn.NewCommand(cmn.CmdRFMsb, addr, -1))
	} else if !need {
		cs.rfmQRemove(sameBankset)
	}
}

func (cs *ChannelState) BankNeedDRFM(rank, bankgroup, bank int, need bool) {
	sameBank := func(c cmn.Command) bool {
		return c.Rank() == rank && c.Bankgroup() == bankgroup && c.Bank() == bank
	}
	if need && !cs.rfmQContains(sameBank) {
		addr := cmn.Address{Channel: -1, Rank: rank, Bankgroup: bankgroup, Bank: bank, Row: -1, Column: -1}
		cs.rfmQ = append(cs.rfmQ, cmn.NewCommand(cmn.CmdDRFMb, addr, -1))
	} else if !need {
		cs.rfmQRemove(sameBank)
	}
}

func (cs *ChannelState) BanksetNeedDRFM(rank, bank int, need bool) {
	sameBankset := func(c cmn.Command) bool { return c.Rank() == rank && c.Bank() == bank }
	if need && !cs.rfmQContains(sameBankset) {
		addr := cmn.Address{Channel: -1, Rank: rank, Bankgroup: -1, Bank: bank, Row: -1, Column: -1}
		cs.rfmQ = append(cs.rfmQ, cmn.NewCommand(cmn.CmdDRFMsb, addr, -1))
	} else if !need {
		cs.rfmQRemove(sameBankset)
	}
}

func (cs *ChannelState) RankNeedDRFM(rank int, need bool) {
	sameRank := func(c cmn.Command) bool { return c.Rank() == rank }
	if need && !cs.rfmQContains(sameRank) {
		addr := cmn.Address{Channel: -1, Rank: rank, Bankgroup: -1, Bank: -1, Row: -1, Column: -1}
		cs.rfmQ = append(cs.rfmQ, cmn.NewCommand(cmn.CmdDRFMab, addr, -1))
	} else if !need {
		cs.rfmQRemove(sameRank)
	}
}

//
// Hydra command streams
//

// HydraRead requests a background RCC fill for (rank, bg, bank, row). Returns
// true when the data can be forwarded from the writeback queue, i.e. the ACT
// need not stall on this read.
func (cs *ChannelState) HydraRead(rank, bankgroup, bank, row int) bool {
	for _, c := range cs.hydraWbQ {
		if c.Rank() == rank && c.Bankgroup() == bankgroup && c.Bank() == bank && c.Row() == row {
			return true
		}
	}
	for _, c := range cs.hydraRdQ {
		if c.Rank() == rank && c.Bankgroup() == bankgroup && c.Bank() == bank && c.Row() == row {
			return false
		}
	}
	addr := cmn.Address{Channel: cs.channel, Rank: rank, Bankgroup: bankgroup, Bank: bank, Row: row, Column: -1}
	cs.hydraRdQ = append(cs.hydraRdQ, cmn.NewCommand(cmn.CmdRead, addr, cmn.HydraHexAddr))
	return false
}

// HydraWB queues the writeback of a dirty RCC victim.
func (cs *ChannelState) HydraWB(rank, bankgroup, bank, row int) {
	for _, c := range cs.hydraWbQ {
		if c.Rank() == rank && c.Bankgroup() == bankgroup && c.Bank() == bank && c.Row() == row {
			return
		}
	}
	addr := cmn.Address{Channel: cs.channel, Rank: rank, Bankgroup: bankgroup, Bank: bank, Row: row, Column: -1}
	cs.hydraWbQ = append(cs.hydraWbQ, cmn.NewCommand(cmn.CmdWrite, addr, cmn.HydraHexAddr))
}

// GetReadyHydraCommand serves the dedicated Hydra stream: drain the writeback
// queue once it fills (and no reads are pending), otherwise serve reads. The
// selected command goes through the regular bank-ready test.
func (cs *ChannelState) GetReadyHydraCommand(clk uint64) cmn.Command {
	if len(cs.hydraWbQ) >= cs.conf.HydraWBQSize && !cs.hydraWbDraining && len(cs.hydraRdQ) == 0 {
		cs.hydraWbDraining = true
	}
	if len(cs.hydraWbQ) == 0 {
		cs.hydraWbDraining = false
	}

	queue := &cs.hydraRdQ
	if cs.hydraWbDraining {
		queue = &cs.hydraWbQ
	}
	if len(*queue) == 0 {
		return cmn.InvalidCommand()
	}

	cmd := (*queue)[0]
	readyCmd := cs.banks[cmd.Rank()][cmd.Bankgroup()][cmd.Bank()].GetReadyCommand(cmd, clk)
	if readyCmd.Type == cmn.CmdActivate && !cs.ActivationWindowOk(readyCmd.Rank(), clk) {
		return cmn.InvalidCommand()
	}
	if readyCmd.IsValid() && readyCmd.IsReadWrite() {
		*queue = (*queue)[1:]
	}
	return readyCmd
}

//
// ready-command arbitration
//

// GetReadyCommand classifies the request by scope and returns the next
// issuable command for it, or an invalid command. Mutations on this path are
// limited to the documented pre-act / DRFM-scheduling flow.
func (cs *ChannelState) GetReadyCommand(cmd cmn.Command, clk uint64) cmn.Command {
	switch {
	case cmd.IsRankCMD():
		numReady := 0
		var readyCmd cmn.Command
		for j := 0; j < cs.conf.Bankgroups; j++ {
			for k := 0; k < cs.conf.BanksPerGroup; k++ {
				readyCmd = cs.banks[cmd.Rank()][j][k].GetReadyCommand(cmd, clk)
				if !readyCmd.IsValid() {
					continue
				}
				if readyCmd.Type != cmd.Type { // likely a precharge
					readyCmd.Addr = cmn.Address{Channel: -1, Rank: cmd.Rank(), Bankgroup: j, Bank: k, Row: -1, Column: -1}
					return readyCmd
				}
				numReady++
			}
		}
		if numReady == cs.conf.Banks { // every bank ready
			return readyCmd
		}
		return cmn.InvalidCommand()

	case cmd.IsSbCMD():
		numReady := 0
		var readyCmd cmn.Command
		for j := 0; j < cs.conf.Bankgroups; j++ {
			readyCmd = cs.banks[cmd.Rank()][j][cmd.Bank()].GetReadyCommand(cmd, clk)
			if !readyCmd.IsValid() {
				continue
			}
			if readyCmd.Type != cmd.Type { // likely a precharge
				readyCmd.Addr = cmn.Address{Channel: -1, Rank: cmd.Rank(), Bankgroup: j, Bank: cmd.Bank(), Row: -1, Column: -1}
				return readyCmd
			}
			numReady++
		}
		if numReady == cs.conf.Bankgroups { // same bank ready in all bankgroups
			return readyCmd
		}
		return cmn.InvalidCommand()

	case cs.hydraWbDraining || len(cs.hydraRdQ) > 0:
		// normal traffic is suspended while Hydra counter traffic is in flight
		return cmn.InvalidCommand()

	default:
		bank := cs.banks[cmd.Rank()][cmd.Bankgroup()][cmd.Bank()]
		readyCmd := bank.GetReadyCommand(cmd, clk)
		if !readyCmd.IsValid() {
			return cmn.InvalidCommand()
		}

		// ABO: after the alert window, synthesize a rank-wide RFM
		if cs.alertN && clk > uint64(cs.conf.TABOAct)+cs.lastAlertClk {
			cs.RankNeedRFM(readyCmd.Rank(), true)
			cs.alertN = false
			return cmn.InvalidCommand()
		}

		// RAA threshold reached - queue the RFM instead
		if readyCmd.Type == cmn.CmdRFMsb {
			cs.BanksetNeedRFM(readyCmd.Rank(), readyCmd.Bank(), true)
			return cmn.InvalidCommand()
		}
		if readyCmd.Type == cmn.CmdRFMab {
			cs.RankNeedRFM(readyCmd.Rank(), true)
			return cmn.InvalidCommand()
		}

		if readyCmd.Type == cmn.CmdActivate {
			if !cs.ActivationWindowOk(readyCmd.Rank(), clk) {
				return cmn.InvalidCommand()
			}

			// This command will activate unless a DRFM preempts it, so the
			// selection logic runs before it is executed.
			first := bank.IsSamplerFull()
			drfmLaunch := false
			if cs.conf.DRFMPolicy == 0 { // eager
				drfmLaunch = first
			}

			if !drfmLaunch || cs.conf.DRFMPolicy == 1 {
				if cs.conf.HydraMode == 1 {
					rccState := bank.HydraCheckRCC(cmd)
					isInflight := true
					if rccState == rccCleanMiss {
						isInflight = cs.HydraRead(cmd.Rank(), cmd.Bankgroup(), cmd.Bank(), cmd.Row())
					} else if rccState != rccHit {
						// dirty eviction: fill both rows, write the victim back
						addr := cs.conf.AddressMapping(rccState)
						isInflight = cs.HydraRead(cmd.Rank(), cmd.Bankgroup(), cmd.Bank(), cmd.Row())
						isInflight = cs.HydraRead(addr.Rank, addr.Bankgroup, addr.Bank, addr.Row) && isInflight
						cs.HydraWB(addr.Rank, addr.Bankgroup, addr.Bank, addr.Row)
					}
					if !isInflight {
						return cmn.InvalidCommand()
					}
				}

				second := bank.PreACT(cmd)
				cs.dreamPreact(cmd.Rank(), cmd.Bankgroup(), cmd.Bank(), cmd.Row())
				cs.abacusPreact(cmd.Rank(), cmd.Bankgroup(), cmd.Bank(), cmd.Row())

				if cs.conf.DRFMPolicy == 1 { // lazy
					drfmLaunch = second
				}
			}

			if drfmLaunch {
				// timing constraints hold by construction: an ACT cannot be
				// pending while the previous DRFM is outstanding
				bank.MarkDRFMIssued()
				switch cs.conf.DRFMMode {
				case 1:
					cs.BankNeedDRFM(cmd.Rank(), cmd.Bankgroup(), cmd.Bank(), true)
				case 2:
					cs.BanksetNeedDRFM(cmd.Rank(), cmd.Bank(), true)
				case 3:
					cs.RankNeedDRFM(cmd.Rank(), true)
				default:
					cmn.Exitf("drfm scheduled with drfm_mode %d", cs.conf.DRFMMode)
				}
				return cmn.InvalidCommand()
			}
		}
		return readyCmd
	}
}

//
// state updates
//

func (cs *ChannelState) updateREFCounter(cmd cmn.Command) {
	switch cmd.Type {
	case cmn.CmdREFsb:
		cs.fgrCounter = (cs.fgrCounter + 1) % (2 * cs.conf.BanksPerGroup)
		if cs.fgrCounter == 0 {
			cs.refIdx = (cs.refIdx + 1) % cs.conf.Refchunks
		}
	case cmn.CmdREFab:
		cs.fgrCounter = (cs.fgrCounter + 1) % 2
		if cs.conf.FGR && cs.fgrCounter == 0 {
			cs.refIdx = (cs.refIdx + 1) % cs.conf.Refchunks
		} else if !cs.conf.FGR {
			cs.refIdx = (cs.refIdx + 1) % cs.conf.Refchunks
		}
	default:
		cmn.Exitf("REF counter update for %s", cmd)
	}
}

// UpdateState dispatches the issued command per scope and clears the matching
// queue entries.
func (cs *ChannelState) UpdateState(cmd cmn.Command, clk uint64) {
	switch {
	case cmd.IsRankCMD():
		for j := 0; j < cs.conf.Bankgroups; j++ {
			for k := 0; k < cs.conf.BanksPerGroup; k++ {
				cs.banks[cmd.Rank()][j][k].UpdateState(cmd, clk)
			}
		}
		switch {
		case cmd.IsRFM():
			cs.RankNeedRFM(cmd.Rank(), false)
		case cmd.IsRefresh():
			cs.RankNeedRefresh(cmd.Rank(), false)
			cs.updateREFCounter(cmd)
			cs.dreamRefresh()
			cs.abacusRefresh()
		case cmd.IsDRFM():
			cs.RankNeedDRFM(cmd.Rank(), false)
			cs.dreamMitig()
			cs.abacusMitig()
		case cmd.Type == cmn.CmdSrefEnter:
			cs.rankIsSref[cmd.Rank()] = true
		case cmd.Type == cmn.CmdSrefExit:
			cs.rankIsSref[cmd.Rank()] = false
		}

	case cmd.IsSbCMD():
		for j := 0; j < cs.conf.Bankgroups; j++ {
			cs.banks[cmd.Rank()][j][cmd.Bank()].UpdateState(cmd, clk)
		}
		switch {
		case cmd.IsRFM():
			cs.BanksetNeedRFM(cmd.Rank(), cmd.Bank(), false)
		case cmd.IsDRFM():
			cs.BanksetNeedDRFM(cmd.Rank(), cmd.Bank(), false)
		case cmd.IsRefresh():
			cs.BanksetNeedRefresh(cmd.Rank(), cmd.Bank(), false)
			cs.updateREFCounter(cmd)
			cs.dreamRefresh()
			cs.abacusRefresh()
		}

	default:
		cs.banks[cmd.Rank()][cmd.Bankgroup()][cmd.Bank()].UpdateState(cmd, clk)
		if cmd.IsRefresh() {
			cs.BankNeedRefresh(cmd.Rank(), cmd.Bankgroup(), cmd.Bank(), false)
		} else if cmd.IsDRFM() {
			cs.BankNeedDRFM(cmd.Rank(), cmd.Bankgroup(), cmd.Bank(), false)
		}
	}

	if cmd.IsReadWrite() {
		if clk-cs.lastBusAccessTime == uint64(cs.conf.BurstCycle) {
			cs.burstyAccessCount++
		} else {
			cs.statsT.AddSample("bursty_access_count", cs.burstyAccessCount)
			cs.burstyAccessCount = 0
		}
		cs.lastBusAccessTime = clk
	}
}

//
// ABO (alert back-off)
//

func (cs *ChannelState) triggerSameBankAlert(cmd cmn.Command, clk uint64) {
	if cs.alertN || cs.numActsABO < cs.conf.ABODelayActs {
		return
	}
	if cs.conf.AlertMode == 1 && cs.banks[cmd.Rank()][cmd.Bankgroup()][cmd.Bank()].CheckAlert() {
		cs.alertN = true
		cs.lastAlertClk = clk
		cs.statsT.Add("num_alerts", 1)
	}
}

func (cs *ChannelState) triggerSameRankAlert(cmd cmn.Command, clk uint64) {
	if cs.alertN || cs.numActsABO < cs.conf.ABODelayActs {
		return
	}
	for j := 0; j < cs.conf.Bankgroups; j++ {
		for k := 0; k < cs.conf.BanksPerGroup; k++ {
			if cs.alertN {
				return
			}
			if cs.conf.AlertMode == 1 && cs.banks[cmd.Rank()][j][k].CheckAlert() {
				cs.alertN = true
				cs.lastAlertClk = clk
				cs.statsT.Add("num_alerts", 1)
			}
		}
	}
}

//
// timing propagation
//

// UpdateTiming applies the timing table to every bank in the command's scope.
func (cs *ChannelState) UpdateTiming(cmd cmn.Command, clk uint64) {
	switch cmd.Type {
	case cmn.CmdActivate:
		cs.numActsABO++
		cs.UpdateActivationTimes(cmd.Rank(), clk)
		cs.triggerSameBankAlert(cmd, clk)
		cs.updateBankScopes(cmd, clk)
	case cmn.CmdReadPrecharge, cmn.CmdWritePrecharge, cmn.CmdPrecharge, cmn.CmdPREab, cmn.CmdPREsb:
		cs.triggerSameBankAlert(cmd, clk)
		cs.updateBankScopes(cmd, clk)
	case cmn.CmdRead, cmn.CmdWrite, cmn.CmdRefreshBank, cmn.CmdDRFMb:
		cs.updateBankScopes(cmd, clk)
	case cmn.CmdRFMab:
		cs.numActsABO = 0
		cs.triggerSameRankAlert(cmd, clk)
		cs.updateSameRankTiming(cmd.Addr, cs.timing.sameRank[cmd.Type], clk)
	case cmn.CmdREFab:
		cs.triggerSameRankAlert(cmd, clk)
		cs.updateSameRankTiming(cmd.Addr, cs.timing.sameRank[cmd.Type], clk)
	case cmn.CmdDRFMab, cmn.CmdSrefEnter, cmn.CmdSrefExit:
		cs.updateSameRankTiming(cmd.Addr, cs.timing.sameRank[cmd.Type], clk)
	case cmn.CmdREFsb, cmn.CmdRFMsb, cmn.CmdDRFMsb:
		cs.triggerSameRankAlert(cmd, clk)
		cs.updateSameBankset(cmd.Addr, cs.timing.sameBankset[cmd.Type], clk)
		cs.updateOtherBanksets(cmd.Addr, cs.timing.otherBanksets[cmd.Type], clk)
	default:
		cmn.Exitf("timing update for %s", cmd)
	}
}

// UpdateTimingAndStates is the post-issue entry point.
func (cs *ChannelState) UpdateTimingAndStates(cmd cmn.Command, clk uint64) {
	cs.UpdateState(cmd, clk)
	cs.UpdateTiming(cmd, clk)
}

func (cs *ChannelState) updateBankScopes(cmd cmn.Command, clk uint64) {
	cs.updateSameBankTiming(cmd.Addr, cs.timing.sameBank[cmd.Type], clk)
	cs.updateOtherBanksSameBankgroupTiming(cmd.Addr, cs.timing.otherBanksSameBankgroup[cmd.Type], clk)
	cs.updateOtherBankgroupsSameRankTiming(cmd.Addr, cs.timing.otherBankgroupsSameRank[cmd.Type], clk)
	cs.updateOtherRanksTiming(cmd.Addr, cs.timing.otherRanks[cmd.Type], clk)
}

func (cs *ChannelState) updateSameBankTiming(addr cmn.Address, list []cmdTiming, clk uint64) {
	for _, ct := range list {
		cs.banks[addr.Rank][addr.Bankgroup][addr.Bank].UpdateTiming(ct.t, clk+uint64(ct.delta))
	}
}

func (cs *ChannelState) updateOtherBanksSameBankgroupTiming(addr cmn.Address, list []cmdTiming, clk uint64) {
	for k := 0; k < cs.conf.BanksPerGroup; k++ {
		if k == addr.Bank {
			continue
		}
		for _, ct := range list {
			cs.banks[addr.Rank][addr.Bankgroup][k].UpdateTiming(ct.t, clk+uint64(ct.delta))
		}
	}
}

func (cs *ChannelState) updateOtherBankgroupsSameRankTiming(addr cmn.Address, list []cmdTiming, clk uint64) {
	for j := 0; j < cs.conf.Bankgroups; j++ {
		if j == addr.Bankgroup {
			continue
		}
		for k := 0; k < cs.conf.BanksPerGroup; k++ {
			for _, ct := range list {
				cs.banks[addr.Rank][j][k].UpdateTiming(ct.t, clk+uint64(ct.delta))
			}
		}
	}
}

func (cs *ChannelState) updateOtherRanksTiming(addr cmn.Address, list []cmdTiming, clk uint64) {
	for i := 0; i < cs.conf.Ranks; i++ {
		if i == addr.Rank {
			continue
		}
		for j := 0; j < cs.conf.Bankgroups; j++ {
			for k := 0; k < cs.conf.BanksPerGroup; k++ {
				for _, ct := range list {
					cs.banks[i][j][k].UpdateTiming(ct.t, clk+uint64(ct.delta))
				}
			}
		}
	}
}

func (cs *ChannelState) updateSameRankTiming(addr cmn.Address, list []cmdTiming, clk uint64) {
	for j := 0; j < cs.conf.Bankgroups; j++ {
		for k := 0; k < cs.conf.BanksPerGroup; k++ {
			for _, ct := range list {
				cs.banks[addr.Rank][j][k].UpdateTiming(ct.t, clk+uint64(ct.delta))
			}
		}
	}
}

func (cs *ChannelState) updateSameBankset(addr cmn.Address, list []cmdTiming, clk uint64) {
	for j := 0; j < cs.conf.Bankgroups; j++ {
		for _, ct := range list {
			cs.banks[addr.Rank][j][addr.Bank].UpdateTiming(ct.t, clk+uint64(ct.delta))
		}
	}
}

func (cs *ChannelState) updateOtherBanksets(addr cmn.Address, list []cmdTiming, clk uint64) {
	for i := 0; i < cs.conf.Ranks; i++ {
		for j := 0; j < cs.conf.Bankgroups; j++ {
			for k := 0; k < cs.conf.BanksPerGroup; k++ {
				if k == addr.Bank {
					continue
				}
				for _, ct := range list {
					cs.banks[i][j][k].UpdateTiming(ct.t, clk+uint64(ct.delta))
				}
			}
		}
	}
}

//
// activation windows
//

// ActivationWindowOk enforces at most 4 ACTs per tFAW per rank, and for GDDR
// at most 32 per t32AW.
func (cs *ChannelState) ActivationWindowOk(rank int, currTime uint64) bool {
	tfawOk := cs.isFAWReady(rank, currTime)
	if cs.conf.IsGDDR() {
		if !tfawOk {
			return false
		}
		return cs.is32AWReady(rank, currTime)
	}
	return tfawOk
}

// UpdateActivationTimes pushes the new window bound, evicting an expired
// entry first.
func (cs *ChannelState) UpdateActivationTimes(rank int, currTime uint64) {
	if len(cs.fourAW[rank]) > 0 && currTime >= cs.fourAW[rank][0] {
		cs.fourAW[rank] = cs.fourAW[rank][1:]
	}
	cs.fourAW[rank] = append(cs.fourAW[rank], currTime+uint64(cs.conf.TFAW))
	if cs.conf.IsGDDR() {
		if len(cs.thirtyTwoAW[rank]) > 0 && currTime >= cs.thirtyTwoAW[rank][0] {
			cs.thirtyTwoAW[rank] = cs.thirtyTwoAW[rank][1:]
		}
		cs.thirtyTwoAW[rank] = append(cs.thirtyTwoAW[rank], currTime+uint64(cs.conf.T32AW))
	}
}

func (cs *ChannelState) isFAWReady(rank int, currTime uint64) bool {
	if len(cs.fourAW[rank]) > 0 {
		if currTime < cs.fourAW[rank][0] && len(cs.fourAW[rank]) >= 4 {
			return false
		}
	}
	return true
}

func (cs *ChannelState) is32AWReady(rank int, currTime uint64) bool {
	if len(cs.thirtyTwoAW[rank]) > 0 {
		if currTime < cs.thirtyTwoAW[rank][0] && len(cs.thirtyTwoAW[rank]) >= 32 {
			return false
		}
	}
	return true
}

//
// DREAM - channel-wide Table of Untagged Skewed Counters
//

func (cs *ChannelState) tuscIdx(rank, bankgroup, bank, row int) int {
	groupID := row / cs.conf.DreamK
	bankIdx := cs.conf.BankIdx(rank, bankgroup, bank)
	totalBanks := cs.conf.TotalBanks()
	rowNum := row % cs.conf.DreamK

	switch cs.conf.DreamPolicy {
	case 0: // set-associative
		return groupID
	case 1: // staggered
		r := row % cs.tuscSize
		return (r - bankIdx + cs.tuscSize) % cs.tuscSize
	case 2: // random
		return groupID ^ cs.randomMasks[bankIdx+rowNum*totalBanks]
	}
	cmn.Exitf("unknown dream_policy %d", cs.conf.DreamPolicy)
	return 0
}

func (cs *ChannelState) tuscRowIdx(rank, bankgroup, bank, tuscIdx, rowNum int) int {
	bankIdx := cs.conf.BankIdx(rank, bankgroup, bank)
	totalBanks := cs.conf.TotalBanks()

	switch cs.conf.DreamPolicy {
	case 0: // set-associative
		return tuscIdx*cs.conf.DreamK + rowNum
	case 1: // staggered
		return (tuscIdx + bankIdx + rowNum*cs.tuscSize) % cs.conf.Rows
	case 2: // random
		return (tuscIdx^cs.randomMasks[bankIdx+rowNum*totalBanks])*cs.conf.DreamK + rowNum
	}
	cmn.Exitf("unknown dream_policy %d", cs.conf.DreamPolicy)
	return 0
}

func (cs *ChannelState) dreamPreact(rank, bankgroup, bank, row int) {
	idx := cs.tuscIdx(rank, bankgroup, bank, row)
	cs.tusc[idx]++

	if cs.conf.DreamMode == 0 {
		return
	}

	counterVal := cs.tusc[idx]
	threshold := cs.conf.DreamTh
	if cs.conf.DreamPrevEnable {
		counterVal += cs.tuscPrev[idx]
		threshold *= 2
	}

	if counterVal >= threshold {
		// every bank receives a DRFM insertion for each row mapped by idx
		for i := 0; i < cs.conf.Ranks; i++ {
			for j := 0; j < cs.conf.Bankgroups; j++ {
				for k := 0; k < cs.conf.BanksPerGroup; k++ {
					for l := 0; l < cs.conf.DreamK; l++ {
						cs.banks[i][j][k].InsertDRFM(cs.tuscRowIdx(i, j, k, idx, l))
					}
				}
			}
		}
		for l := 0; l < cs.conf.DreamK; l++ {
			cs.tuscQ = append(cs.tuscQ, idx)
		}
	}
}

func (cs *ChannelState) dreamMitig() {
	if cs.conf.DreamMode == 0 {
		return
	}
	if len(cs.tuscQ) == 0 {
		return
	}
	idx := cs.tuscQ[0]
	cs.tuscPrev[idx] = cs.tusc[idx]
	cs.tusc[idx] = 0
	cs.tuscQ = cs.tuscQ[1:]
}

func (cs *ChannelState) dreamRefresh() {
	factor := cs.conf.DreamReset

	if cs.conf.DreamMode == 0 && cs.refIdx%(cs.conf.Refchunks/factor) == 0 && cs.fgrCounter == 0 {
		// stats-only mode: dump counter distribution quantiles, then reset
		sorted := make([]int, len(cs.tusc))
		copy(sorted, cs.tusc)
		sort.Ints(sorted)
		n := len(sorted)
		glog.V(4).Infof("[%d][%d] tusc min %d q50 %d q99 %d max %d",
			cs.channel, cs.refIdx, sorted[0], sorted[n/2], sorted[n*99/100], sorted[n-1])
		for i := range cs.tusc {
			cs.tusc[i] = 0
		}
	} else if cs.conf.DreamMode == 1 && cs.fgrCounter == 7 {
		cs.statsT.Add("dream_resets", 1)
		factoredRefIdx := cs.refIdx % (cs.conf.Refchunks / factor)
		tuscRowsPerRef := factor * (cs.tuscSize / cs.conf.Refchunks)
		for i := 0; i < tuscRowsPerRef; i++ {
			index := factoredRefIdx*tuscRowsPerRef + i
			cs.tuscPrev[index] = cs.tusc[index]
			cs.tusc[index] = 0
		}
	}
}

//
// ABACUS - channel-wide row-indexed counters
//

func (cs *ChannelState) abacusPreact(rank, bankgroup, bank, row int) {
	if cs.conf.AbacusMode == 0 {
		return
	}
	bankIdx := uint(cs.conf.BankIdx(rank, bankgroup, bank))
	entry := &cs.abacusTable[row]

	if !entry.sav.Test(bankIdx) {
		entry.sav.Set(bankIdx)
	} else {
		entry.rac++
		entry.sav.ClearAll()
		entry.sav.Set(bankIdx)
	}

	if entry.rac >= cs.conf.AbacusTh {
		for i := 0; i < cs.conf.Ranks; i++ {
			for j := 0; j < cs.conf.Bankgroups; j++ {
				for k := 0; k < cs.conf.BanksPerGroup; k++ {
					cs.banks[i][j][k].InsertDRFM(row)
				}
			}
		}
		cs.abacusQ = append(cs.abacusQ, row)
	}
}

func (cs *ChannelState) abacusMitig() {
	if cs.conf.AbacusMode == 0 {
		return
	}
	if len(cs.abacusQ) == 0 {
		return
	}
	row := cs.abacusQ[0]
	cs.abacusTable[row].rac = 0
	cs.abacusTable[row].sav.ClearAll()
	cs.abacusQ = cs.abacusQ[1:]
}

func (cs *ChannelState) abacusRefresh() {
	if cs.conf.AbacusMode == 0 {
		return
	}
	if cs.fgrCounter == 7 {
		start := cs.refIdx % cs.conf.Refchunks
		rowsPerRef := cs.abacusEntries / cs.conf.Refchunks
		for i := 0; i < rowsPerRef; i++ {
			row := start*rowsPerRef + i
			cs.abacusTable[row].rac = 0
			cs.abacusTable[row].sav.ClearAll()
		}
		cs.statsT.Add("abacus_resets", 1)
	}
}
