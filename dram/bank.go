// Package dram models a single memory channel cycle-accurately.
/*
 * Copyright (c) 2019, NVIDIA CORPORATION. All rights reserved.
 */
package dram

import (
	"fmt"
	"math/rand"

	"github.com/golang/glog"

	"github.com/dramcore/dramsim/cmn"
	"github.com/dramcore/dramsim/stats"
)

type bankPhase int

const (
	bankClosed bankPhase = iota
	bankOpen
	bankSref
)

func (p bankPhase) String() string {
	switch p {
	case bankClosed:
		return "CLOSED"
	case bankOpen:
		return "OPEN"
	case bankSref:
		return "SREF"
	}
	return "UNKNOWN"
}

type (
	// drfmEntry is one sampler slot: a candidate aggressor row and the number
	// of times it re-activated while queued.
	drfmEntry struct {
		row int
		ctr int
	}

	grapheneEntry struct {
		row int
		ctr uint64
	}
)

// BankState is the per-bank row-buffer state machine plus the per-bank halves
// of the mitigation engines (PRAC, sampler, MINT, PARA, Graphene, Hydra
// counters, MOAT). It transitions apriori: the state reflects the command the
// instant it issues.
type BankState struct {
	conf   *cmn.Config
	statsT stats.Tracker
	rcc    *RowCounterCache
	rng    *rand.Rand

	phase     bankPhase
	cmdTiming [cmn.NumCmdTypes]uint64
	lastCmd   cmn.Command

	openRow     int
	rowHitCount int

	rank      int
	bankgroup int
	bank      int

	// RAA counter (Rolling Accumulated ACTs) driving RFM
	raaCtr int

	actsCounter int
	id          string
	actsStat    string

	// refresh cursor
	refIdx     int
	fgrCounter int

	// Per-Row Activation Counters
	prac       []int
	maxPracVal int

	// sampler
	drfmQ          []drfmEntry
	drfmIssued     bool
	mitigUsedStat  string
	mitigWastedStat string

	// MOAT
	moatMaxPracIdx int

	// MINT
	mintRows []int

	// Graphene
	grapheneQ         []grapheneEntry
	grapheneSpill     uint64
	grapheneEntries   int
	grapheneSpillsStat string
	grapheneResetsStat string

	// Hydra
	hydraGCT          []int
	hydraGCTValid     []bool
	hydraCounts       []int
	rowsPerGCT        int
	hydraResetsStat   string
	hydraOverflowStat string
	hydraAggrStat     string
}

// NewBankState creates a closed bank with zeroed counters. The rcc pointer is
// shared across the channel's banks (nil unless Hydra is enabled); rng is the
// channel's deterministic source.
func NewBankState(conf *cmn.Config, statsT stats.Tracker, rcc *RowCounterCache, rng *rand.Rand,
	rank, bankgroup, bank int) *BankState {
	b := &BankState{
		conf:           conf,
		statsT:         statsT,
		rcc:            rcc,
		rng:            rng,
		phase:          bankClosed,
		lastCmd:        cmn.InvalidCommand(),
		openRow:        -1,
		rank:           rank,
		bankgroup:      bankgroup,
		bank:           bank,
		prac:           make([]int, conf.Rows),
		moatMaxPracIdx: -1,
	}
	b.id = fmt.Sprintf("%d.%d.%d", rank, bankgroup, bank)
	b.actsStat = "acts." + b.id
	b.mitigUsedStat = "mitig_used." + b.id
	b.mitigWastedStat = "mitig_wasted." + b.id

	if conf.GrapheneMode != 0 {
		cmn.Assert(conf.GrapheneTh > 0 && conf.TRAS+conf.TRP > 0)
		maxActs := conf.Refchunks * conf.TREFI / (conf.TRAS + conf.TRP)
		b.grapheneEntries = maxActs / conf.GrapheneTh
		b.grapheneQ = make([]grapheneEntry, 0, b.grapheneEntries)
		b.grapheneSpillsStat = "graphene_spills." + b.id
		b.grapheneResetsStat = "graphene_resets." + b.id
	}
	if conf.HydraMode != 0 {
		b.rowsPerGCT = conf.Rows / conf.HydraGCTSize
		b.hydraGCT = make([]int, conf.HydraGCTSize)
		b.hydraGCTValid = make([]bool, conf.HydraGCTSize)
		for i := range b.hydraGCTValid {
			b.hydraGCTValid[i] = true
		}
		b.hydraCounts = make([]int, conf.Rows)
		b.hydraResetsStat = "hydra_resets." + b.id
		b.hydraOverflowStat = "hydra_gct_overflows." + b.id
		b.hydraAggrStat = "hydra_aggressor." + b.id
	}
	return b
}

func (b *BankState) IsRowOpen() bool   { return b.phase == bankOpen }
func (b *BankState) OpenRow() int      { return b.openRow }
func (b *BankState) RowHitCount() int  { return b.rowHitCount }
func (b *BankState) RAACounter() int   { return b.raaCtr }
func (b *BankState) IsInDRFM() bool    { return b.lastCmd.IsDRFM() }
func (b *BankState) IsInREF() bool     { return b.lastCmd.IsRefresh() }

// GetReadyCommand returns the command that must issue next to make progress
// on cmd, or an invalid command if nothing is legal at clk. Pure: the only
// state consulted is the bank's own, and nothing is mutated.
func (b *BankState) GetReadyCommand(cmd cmn.Command, clk uint64) cmn.Command {
	required := cmn.CmdInvalid

	switch b.phase {
	case bankClosed:
		switch cmd.Type {
		case cmn.CmdRead, cmn.CmdReadPrecharge, cmn.CmdWrite, cmn.CmdWritePrecharge:
			// block the ACT on this bank (only this bank) once the RAA
			// counter hits the RFM threshold
			switch {
			case b.conf.RFMMode == 1 && b.raaCtr >= b.conf.RFMThreshold():
				required = cmn.CmdRFMsb
			case b.conf.RFMMode == 2 && b.raaCtr >= b.conf.RFMThreshold():
				required = cmn.CmdRFMab
			case b.drfmIssued:
				required = cmn.CmdInvalid
			default:
				required = cmn.CmdActivate
			}
		case cmn.CmdRefreshBank, cmn.CmdREFsb, cmn.CmdREFab, cmn.CmdSrefEnter,
			cmn.CmdRFMsb, cmn.CmdRFMab, cmn.CmdDRFMb, cmn.CmdDRFMsb, cmn.CmdDRFMab:
			required = cmd.Type
		default:
			cmn.Exitf("unknown command %s for closed bank %s", cmd, b.id)
		}
	case bankOpen:
		switch cmd.Type {
		case cmn.CmdRead, cmn.CmdReadPrecharge, cmn.CmdWrite, cmn.CmdWritePrecharge:
			// row-buffer hit if the row matches, otherwise close it first
			if cmd.Row() == b.openRow {
				required = cmd.Type
			} else {
				required = cmn.CmdPrecharge
			}
		case cmn.CmdRefreshBank, cmn.CmdDRFMb:
			required = cmn.CmdPrecharge
		case cmn.CmdREFab, cmn.CmdRFMab, cmn.CmdDRFMab, cmn.CmdSrefEnter:
			required = cmn.CmdPREab
		case cmn.CmdRFMsb, cmn.CmdREFsb, cmn.CmdDRFMsb:
			required = cmn.CmdPREsb
		default:
			cmn.Exitf("unknown command %s for open bank %s", cmd, b.id)
		}
	case bankSref:
		switch cmd.Type {
		case cmn.CmdRead, cmn.CmdReadPrecharge, cmn.CmdWrite, cmn.CmdWritePrecharge:
			required = cmn.CmdSrefExit
		default:
			cmn.Exitf("unknown command %s for self-refreshing bank %s", cmd, b.id)
		}
	default:
		cmn.Exitf("bank %s in unknown state %d", b.id, b.phase)
	}

	if required != cmn.CmdInvalid && clk >= b.cmdTiming[required] {
		return cmn.NewCommand(required, cmd.Addr, cmd.HexAddr)
	}
	return cmn.InvalidCommand()
}

// UpdateState applies the transition for an issued command.
func (b *BankState) UpdateState(cmd cmn.Command, clk uint64) {
	if cmd.IsValid() {
		b.lastCmd = cmd
	}

	switch b.phase {
	case bankOpen:
		switch cmd.Type {
		case cmn.CmdRead, cmn.CmdWrite:
			b.rowHitCount++
		case cmn.CmdReadPrecharge, cmn.CmdWritePrecharge,
			cmn.CmdPrecharge, cmn.CmdPREab, cmn.CmdPREsb:
			b.phase = bankClosed
			b.openRow = -1
			b.rowHitCount = 0
		default:
			cmn.Exitf("illegal command %s for open bank %s", cmd, b.id)
		}
	case bankClosed:
		switch cmd.Type {
		case cmn.CmdREFsb, cmn.CmdRefreshBank, cmn.CmdREFab:
			b.onRefresh()
		case cmn.CmdDRFMb, cmn.CmdDRFMsb, cmn.CmdDRFMab:
			b.onMitigate()
			b.drfmIssued = false
			b.moatMitig()
			b.raaCtr -= minInt(b.raaCtr, b.conf.RFMRAADecrement)
		case cmn.CmdRFMab:
			b.moatMitig()
			b.raaCtr -= minInt(b.raaCtr, b.conf.RFMRAADecrement)
		case cmn.CmdRFMsb:
			// cannot be combined with PRAC+ABO
			b.raaCtr -= minInt(b.raaCtr, b.conf.RFMRAADecrement)
		case cmn.CmdActivate:
			b.phase = bankOpen
			b.openRow = cmd.Row()
			b.actsCounter++
			b.statsT.Add(b.actsStat, 1)
			b.raaCtr++
			b.prac[b.openRow]++
			b.moatAct(b.openRow)
			b.drfmPostAct(b.openRow)
		case cmn.CmdSrefEnter:
			b.phase = bankSref
		case cmn.CmdPREab, cmn.CmdPREsb:
			// no-op on an already-closed bank
		default:
			cmn.Exitf("illegal command %s for closed bank %s", cmd, b.id)
		}
	case bankSref:
		switch cmd.Type {
		case cmn.CmdSrefExit:
			b.phase = bankClosed
		default:
			cmn.Exitf("illegal command %s for self-refreshing bank %s", cmd, b.id)
		}
	default:
		cmn.Exitf("bank %s in unknown state %d", b.id, b.phase)
	}
}

// onRefresh advances the FGR parity and, on a full refresh tick, runs every
// engine's refresh hook, samples the PRAC histogram for the refreshed rows,
// and advances the refresh cursor. ref_raa_decrement applies on every REF
// regardless of parity.
func (b *BankState) onRefresh() {
	b.fgrCounter = (b.fgrCounter + 1) % 2
	b.raaCtr -= minInt(b.raaCtr, b.conf.RefRAADecrement)

	// with FGR enabled, two REF commands are issued per tREFI
	if (b.conf.FGR && b.fgrCounter == 0) || !b.conf.FGR {
		b.actsCounter = 0

		b.mintRefresh()
		b.paraRefresh()
		b.grapheneRefresh()
		b.hydraRefresh()
		b.moatRefresh()

		for i := 0; i < b.conf.RowsRefreshed; i++ {
			idx := (b.refIdx + i) % b.conf.Rows
			b.statsT.AddSample("acts_per_row_per_trefw", int64(b.prac[idx]))
			b.maxPracVal = maxInt(b.maxPracVal, b.prac[idx])
			b.prac[idx] = 0
		}
		b.refIdx = (b.refIdx + b.conf.RowsRefreshed) % b.conf.Rows
	}
}

// onMitigate runs the mitigation hook of every enabled engine in response to
// a DRFM at this bank.
func (b *BankState) onMitigate() {
	if b.conf.DreamMode != 0 {
		b.drfmMitig()
	}
	if b.conf.MintMode != 0 {
		b.drfmMitig()
	}
	if b.conf.ParaMode != 0 {
		b.drfmMitig()
	}
	b.grapheneMitig()
	b.hydraMitig()
	if b.conf.AbacusMode != 0 {
		b.drfmMitig()
	}
}

// UpdateTiming stamps the earliest-legal clock for a command type;
// monotonically non-decreasing by construction.
func (b *BankState) UpdateTiming(t cmn.CmdType, clk uint64) {
	if clk > b.cmdTiming[t] {
		b.cmdTiming[t] = clk
	}
}

// CmdTiming exposes the earliest-legal clock for a command type.
func (b *BankState) CmdTiming(t cmn.CmdType) uint64 { return b.cmdTiming[t] }

// CheckAlert reports whether the MOAT-tracked row exceeded the alert
// threshold.
func (b *BankState) CheckAlert() bool {
	if b.conf.MOATMode == 1 {
		return b.moatMaxPracIdx != -1 && b.prac[b.moatMaxPracIdx] > b.conf.MOATTh
	}
	return false
}

// PrintState dumps the bank for deadlock diagnosis.
func (b *BankState) PrintState() {
	glog.Infof("bank %s: state %s, open row %d, row hits %d, raa %d",
		b.id, b.phase, b.openRow, b.rowHitCount, b.raaCtr)
}

//
// sampler (DRFM queue)
//

// PreACT informs every enabled engine of the upcoming activation and reports
// whether the sampler filled up (i.e. a DRFM must be scheduled).
func (b *BankState) PreACT(cmd cmn.Command) bool {
	row := cmd.Row()
	b.mintPreact(row)
	b.paraPreact(row)
	b.graphenePreact(row)
	b.hydraPreact(cmd)
	return b.IsSamplerFull()
}

// IsSamplerFull is true when the queue reached capacity or the hottest entry
// reached the hit-count threshold.
func (b *BankState) IsSamplerFull() bool {
	if b.conf.DRFMMode == 0 {
		return false
	}
	if len(b.drfmQ) >= b.conf.DRFMQSize {
		return true
	}
	if i := b.drfmMaxIdx(); i >= 0 {
		return b.drfmQ[i].ctr >= b.conf.DRFMQTh
	}
	return false
}

func (b *BankState) MarkDRFMIssued() { b.drfmIssued = true }
func (b *BankState) DRFMIssued() bool { return b.drfmIssued }

// InsertDRFM queues a candidate aggressor row (used by the channel-wide
// engines: DREAM, ABACUS).
func (b *BankState) InsertDRFM(row int) {
	if b.conf.DRFMMode == 0 {
		return
	}
	b.drfmQ = append(b.drfmQ, drfmEntry{row: row, ctr: 0})
}

// drfmPostAct bumps the hit counter of an already-sampled row.
func (b *BankState) drfmPostAct(row int) {
	for i := range b.drfmQ {
		if b.drfmQ[i].row == row {
			b.drfmQ[i].ctr++
			return
		}
	}
}

// drfmMaxIdx returns the index of the first maximal entry, -1 when empty.
func (b *BankState) drfmMaxIdx() int {
	if len(b.drfmQ) == 0 {
		return -1
	}
	max := 0
	for i := 1; i < len(b.drfmQ); i++ {
		if b.drfmQ[i].ctr > b.drfmQ[max].ctr {
			max = i
		}
	}
	return max
}

// drfmMitig selects the victim: maximum hit counter, head on a tie with the
// head. Returns -1 when the sampler was empty (a wasted mitigation).
func (b *BankState) drfmMitig() int {
	max := b.drfmMaxIdx()
	if max < 0 {
		b.statsT.Add(b.mitigWastedStat, 1)
		return -1
	}
	if b.drfmQ[max].ctr <= b.drfmQ[0].ctr {
		max = 0
	}
	row := b.drfmQ[max].row
	b.statsT.Add(b.mitigUsedStat, 1)
	b.drfmQ = append(b.drfmQ[:max], b.drfmQ[max+1:]...)
	return row
}

//
// MINT
//

func (b *BankState) mintPreact(row int) {
	if b.conf.MintMode == 0 {
		return
	}
	b.mintRows = append(b.mintRows, row)
	if len(b.mintRows) >= b.conf.MintWindow {
		selected := b.mintRows[b.rng.Intn(len(b.mintRows))]
		b.mintRows = b.mintRows[:0]
		cmn.Assert(len(b.drfmQ) <= b.conf.DRFMQSize)
		b.drfmQ = append(b.drfmQ, drfmEntry{row: selected})
	}
}

func (b *BankState) mintRefresh() {
	if b.conf.MintMode == 0 {
		return
	}
}

//
// PARA
//

func (b *BankState) paraPreact(row int) {
	if b.conf.ParaMode == 0 {
		return
	}
	if b.rng.Float64() < b.conf.ParaProb {
		cmn.Assert(len(b.drfmQ) <= b.conf.DRFMQSize)
		b.drfmQ = append(b.drfmQ, drfmEntry{row: row})
	}
}

func (b *BankState) paraRefresh() {
	if b.conf.ParaMode == 0 {
		return
	}
}

//
// Graphene
//

func (b *BankState) graphenePreact(row int) {
	if b.conf.GrapheneMode == 0 {
		return
	}
	found := -1
	for i := range b.grapheneQ {
		if b.grapheneQ[i].row == row {
			found = i
			break
		}
	}
	if found >= 0 {
		b.grapheneQ[found].ctr++
	} else if len(b.grapheneQ) < b.grapheneEntries {
		b.grapheneQ = append(b.grapheneQ, grapheneEntry{row: row, ctr: 1})
	} else {
		// replace an entry sitting at the spill counter, or raise the spill
		spilled := true
		for i := range b.grapheneQ {
			if b.grapheneQ[i].ctr == b.grapheneSpill {
				b.grapheneQ[i] = grapheneEntry{row: row, ctr: b.grapheneSpill + 1}
				spilled = false
				break
			}
		}
		if spilled {
			b.grapheneSpill++
			b.statsT.Add(b.grapheneSpillsStat, 1)
		}
	}

	for i := range b.grapheneQ {
		if b.grapheneQ[i].ctr >= uint64(b.conf.GrapheneTh) {
			cmn.Assert(len(b.drfmQ) <= b.conf.DRFMQSize)
			b.drfmQ = append(b.drfmQ, drfmEntry{row: b.grapheneQ[i].row})
			break
		}
	}
}

func (b *BankState) grapheneRefresh() {
	if b.conf.GrapheneMode == 0 {
		return
	}
	if b.refIdx%b.conf.Rows == 0 {
		b.grapheneQ = b.grapheneQ[:0]
		b.grapheneSpill = 0
		b.statsT.Add(b.grapheneResetsStat, 1)
	}
}

func (b *BankState) grapheneMitig() {
	if b.conf.GrapheneMode == 0 {
		return
	}
	row := b.drfmMitig()

	max := -1
	for i := range b.grapheneQ {
		if max < 0 || b.grapheneQ[i].ctr > b.grapheneQ[max].ctr {
			max = i
		}
	}
	if max >= 0 {
		cmn.AssertMsg(row != -1 && row == b.grapheneQ[max].row, "graphene victim mismatch")
		b.grapheneQ = append(b.grapheneQ[:max], b.grapheneQ[max+1:]...)
	}
}

//
// Hydra: GCT (Group Count Table) + per-row counters behind the RCC
//

// HydraCheckRCC probes the Row Counter Cache for a row whose group has spilled
// to per-row tracking. Returns rccHit while the group is still valid.
func (b *BankState) HydraCheckRCC(cmd cmn.Command) int64 {
	if b.conf.HydraMode == 0 {
		return rccHit
	}
	gctIdx := cmd.Row() % b.conf.HydraGCTSize
	if b.hydraGCTValid[gctIdx] {
		return rccHit
	}
	return b.rcc.Read(b.conf.ResetColBits(cmd.HexAddr), b.conf.RemoveColBits(cmd.HexAddr))
}

func (b *BankState) hydraPreact(cmd cmn.Command) {
	if b.conf.HydraMode == 0 {
		return
	}
	row := cmd.Row()
	gctIdx := row % b.conf.HydraGCTSize

	if b.hydraGCTValid[gctIdx] {
		b.hydraGCT[gctIdx]++
	} else {
		b.hydraCounts[row]++
		b.rcc.Write(b.conf.ResetColBits(cmd.HexAddr), b.conf.RemoveColBits(cmd.HexAddr))
	}

	if b.hydraGCT[gctIdx] >= b.conf.HydraGCTTh && b.hydraGCTValid[gctIdx] {
		// the group spills: seed every row of the group at the group count
		// and track per-row from here on
		b.statsT.Add(b.hydraOverflowStat, 1)
		b.hydraGCTValid[gctIdx] = false
		for i := 0; i < b.rowsPerGCT; i++ {
			b.hydraCounts[i*b.conf.HydraGCTSize+gctIdx] = b.conf.HydraGCTTh
		}
	}

	if b.hydraGCTValid[gctIdx] {
		return
	}
	if b.hydraCounts[row] >= b.conf.HydraTh {
		b.statsT.Add(b.hydraAggrStat, 1)
		cmn.Assert(len(b.drfmQ) <= b.conf.DRFMQSize)
		b.drfmQ = append(b.drfmQ, drfmEntry{row: row})
	}
}

func (b *BankState) hydraRefresh() {
	if b.conf.HydraMode == 0 {
		return
	}
	if b.refIdx%b.conf.Rows == 0 {
		for i := range b.hydraGCT {
			b.hydraGCT[i] = 0
			b.hydraGCTValid[i] = true
		}
		for i := range b.hydraCounts {
			b.hydraCounts[i] = 0
		}
		b.statsT.Add(b.hydraResetsStat, 1)
	}
}

func (b *BankState) hydraMitig() {
	if b.conf.HydraMode == 0 {
		return
	}
	if row := b.drfmMitig(); row != -1 {
		b.hydraCounts[row] = 0
	}
}

//
// MOAT
//

// moatAct keeps moatMaxPracIdx pointed at the hottest PRAC row.
func (b *BankState) moatAct(row int) {
	if b.conf.MOATMode == 0 {
		return
	}
	if b.moatMaxPracIdx == -1 || b.prac[row] > b.prac[b.moatMaxPracIdx] {
		b.moatMaxPracIdx = row
	}
}

// moatRefresh drops the tracker when the tracked row falls inside the
// just-refreshed window.
func (b *BankState) moatRefresh() {
	if b.conf.MOATMode == 0 {
		return
	}
	if b.moatMaxPracIdx >= b.refIdx && b.moatMaxPracIdx < b.refIdx+b.conf.RowsRefreshed {
		b.moatMaxPracIdx = -1
	}
}

// moatMitig clears the tracked row's counter and shifts charge into its four
// nearest neighbors; rows at the array edge skip the out-of-range side.
func (b *BankState) moatMitig() {
	if b.conf.MOATMode == 0 {
		return
	}
	if b.moatMaxPracIdx == -1 {
		return
	}
	idx := b.moatMaxPracIdx
	b.prac[idx] = 0
	if idx > 0 {
		b.prac[idx-1]++
	}
	if idx > 1 {
		b.prac[idx-2]++
	}
	if idx < b.conf.Rows-1 {
		b.prac[idx+1]++
	}
	if idx < b.conf.Rows-2 {
		b.prac[idx+2]++
	}
	b.moatMaxPracIdx = -1
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
