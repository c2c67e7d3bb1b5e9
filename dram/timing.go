// Package dram models a single memory channel cycle-accurately: per-bank
// row-buffer state machines, JEDEC-style inter-command timing, command-queue
// arbitration, and a family of RowHammer mitigation engines driving RFM and
// DRFM commands.
/*
 * Copyright (c) 2019, NVIDIA CORPORATION. All rights reserved.
 */
package dram

import (
	"github.com/dramcore/dramsim/cmn"
)

type cmdTiming struct {
	t     cmn.CmdType
	delta int
}

// Timing is the immutable, configuration-derived table of
// (command type x scope) -> earliest-follow-up delays. Built once; every
// issued command stamps these deltas into the affected banks.
type Timing struct {
	sameBank                [cmn.NumCmdTypes][]cmdTiming
	otherBanksSameBankgroup [cmn.NumCmdTypes][]cmdTiming
	otherBankgroupsSameRank [cmn.NumCmdTypes][]cmdTiming
	otherRanks              [cmn.NumCmdTypes][]cmdTiming
	sameRank                [cmn.NumCmdTypes][]cmdTiming
	sameBankset             [cmn.NumCmdTypes][]cmdTiming
	otherBanksets           [cmn.NumCmdTypes][]cmdTiming
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// NewTiming derives every pairwise constraint from the raw config values.
func NewTiming(conf *cmn.Config) *Timing {
	tm := &Timing{}

	readToReadL := maxInt(conf.BurstCycle, conf.TCCDL)
	readToReadS := maxInt(conf.BurstCycle, conf.TCCDS)
	readToReadO := conf.BurstCycle + conf.TRTRS
	readToWrite := conf.RL + conf.BurstCycle - conf.WL + conf.TRTRS
	readToWriteO := conf.ReadDelay + conf.BurstCycle + conf.TRTRS - conf.WriteDelay
	readToPrecharge := conf.AL + conf.TRTP
	readpToAct := conf.AL + conf.BurstCycle + conf.TRTP + conf.TRP

	writeToReadL := conf.WriteDelay + conf.TWTRL
	writeToReadS := conf.WriteDelay + conf.TWTRS
	writeToReadO := conf.WriteDelay + conf.BurstCycle + conf.TRTRS - conf.ReadDelay
	writeToWriteL := maxInt(conf.BurstCycle, conf.TCCDL)
	writeToWriteS := maxInt(conf.BurstCycle, conf.TCCDS)
	writeToWriteO := conf.BurstCycle
	writeToPrecharge := conf.WL + conf.BurstCycle + conf.TWR

	prechargeToActivate := conf.TRP
	prechargeToPrecharge := conf.TPPD
	readToActivate := readToPrecharge + prechargeToActivate
	writeToActivate := writeToPrecharge + prechargeToActivate

	activateToActivate := conf.TRC
	activateToActivateL := conf.TRRDL
	activateToActivateS := conf.TRRDS
	activateToPrecharge := conf.TRAS
	var activateToRead, activateToWrite int
	if conf.IsGDDR() || conf.IsHBM() {
		activateToRead = conf.TRCDRD
		activateToWrite = conf.TRCDWR
	} else {
		activateToRead = conf.TRCD - conf.AL
		activateToWrite = conf.TRCD - conf.AL
	}
	activateToRefresh := conf.TRC // precharge must precede the REF
	activateToRefsb := conf.TRRDL

	refreshToRefreshBank := conf.TREFIb
	refreshToActivate := conf.TRFC
	refsbToActivate := conf.TRFCsb
	refreshToActivateBank := conf.TRFCb
	refsbToActivateOther := conf.TREFSBRD

	selfRefreshEntryToExit := conf.TCKESR
	selfRefreshExit := conf.TXS

	rfmabToActivate := conf.TRFM
	rfmsbToActivate := conf.TRFMsb

	drfmbToActivate := conf.TDRFMb
	drfmsbToActivate := conf.TDRFMsb
	drfmabToActivate := conf.TDRFMab

	if conf.Bankgroups == 1 {
		// With bankgroups disabled the device runs at the slower _S rates;
		// overwrite the _L values so the table assignments stay uniform.
		readToReadL = maxInt(conf.BurstCycle, conf.TCCDS)
		writeToReadL = conf.WriteDelay + conf.TWTRS
		writeToWriteL = maxInt(conf.BurstCycle, conf.TCCDS)
		activateToActivateL = conf.TRRDS
	}

	// command READ
	tm.sameBank[cmn.CmdRead] = []cmdTiming{
		{cmn.CmdRead, readToReadL},
		{cmn.CmdWrite, readToWrite},
		{cmn.CmdReadPrecharge, readToReadL},
		{cmn.CmdWritePrecharge, readToWrite},
		{cmn.CmdPrecharge, readToPrecharge},
		{cmn.CmdPREab, readToPrecharge},
		{cmn.CmdPREsb, readToPrecharge},
	}
	tm.otherBanksSameBankgroup[cmn.CmdRead] = []cmdTiming{
		{cmn.CmdRead, readToReadL},
		{cmn.CmdWrite, readToWrite},
		{cmn.CmdReadPrecharge, readToReadL},
		{cmn.CmdWritePrecharge, readToWrite},
	}
	tm.otherBankgroupsSameRank[cmn.CmdRead] = []cmdTiming{
		{cmn.CmdRead, readToReadS},
		{cmn.CmdWrite, readToWrite},
		{cmn.CmdReadPrecharge, readToReadS},
		{cmn.CmdWritePrecharge, readToWrite},
	}
	tm.otherRanks[cmn.CmdRead] = []cmdTiming{
		{cmn.CmdRead, readToReadO},
		{cmn.CmdWrite, readToWriteO},
		{cmn.CmdReadPrecharge, readToReadO},
		{cmn.CmdWritePrecharge, readToWriteO},
	}

	// command WRITE
	tm.sameBank[cmn.CmdWrite] = []cmdTiming{
		{cmn.CmdRead, writeToReadL},
		{cmn.CmdWrite, writeToWriteL},
		{cmn.CmdReadPrecharge, writeToReadL},
		{cmn.CmdWritePrecharge, writeToWriteL},
		{cmn.CmdPrecharge, writeToPrecharge},
		{cmn.CmdPREab, writeToPrecharge},
		{cmn.CmdPREsb, writeToPrecharge},
	}
	tm.otherBanksSameBankgroup[cmn.CmdWrite] = []cmdTiming{
		{cmn.CmdRead, writeToReadL},
		{cmn.CmdWrite, writeToWriteL},
		{cmn.CmdReadPrecharge, writeToReadL},
		{cmn.CmdWritePrecharge, writeToWriteL},
	}
	tm.otherBankgroupsSameRank[cmn.CmdWrite] = []cmdTiming{
		{cmn.CmdRead, writeToReadS},
		{cmn.CmdWrite, writeToWriteS},
		{cmn.CmdReadPrecharge, writeToReadS},
		{cmn.CmdWritePrecharge, writeToWriteS},
	}
	tm.otherRanks[cmn.CmdWrite] = []cmdTiming{
		{cmn.CmdRead, writeToReadO},
		{cmn.CmdWrite, writeToWriteO},
		{cmn.CmdReadPrecharge, writeToReadO},
		{cmn.CmdWritePrecharge, writeToWriteO},
	}

	// command READ_PRECHARGE
	tm.sameBank[cmn.CmdReadPrecharge] = []cmdTiming{
		{cmn.CmdActivate, readpToAct},
		{cmn.CmdREFsb, readToActivate},
		{cmn.CmdREFab, readToActivate},
		{cmn.CmdRefreshBank, readToActivate},
		{cmn.CmdSrefEnter, readToActivate},
		{cmn.CmdRFMsb, readToActivate},
		{cmn.CmdRFMab, readToActivate},
		{cmn.CmdDRFMsb, readToActivate},
		{cmn.CmdDRFMab, readToActivate},
		{cmn.CmdDRFMb, readToActivate},
	}
	tm.otherBanksSameBankgroup[cmn.CmdReadPrecharge] = []cmdTiming{
		{cmn.CmdRead, readToReadL},
		{cmn.CmdWrite, readToWrite},
		{cmn.CmdReadPrecharge, readToReadL},
		{cmn.CmdWritePrecharge, readToWrite},
	}
	tm.otherBankgroupsSameRank[cmn.CmdReadPrecharge] = []cmdTiming{
		{cmn.CmdRead, readToReadS},
		{cmn.CmdWrite, readToWrite},
		{cmn.CmdReadPrecharge, readToReadS},
		{cmn.CmdWritePrecharge, readToWrite},
	}
	tm.otherRanks[cmn.CmdReadPrecharge] = []cmdTiming{
		{cmn.CmdRead, readToReadO},
		{cmn.CmdWrite, readToWriteO},
		{cmn.CmdReadPrecharge, readToReadO},
		{cmn.CmdWritePrecharge, readToWriteO},
	}

	// command WRITE_PRECHARGE
	tm.sameBank[cmn.CmdWritePrecharge] = []cmdTiming{
		{cmn.CmdActivate, writeToActivate},
		{cmn.CmdREFsb, writeToActivate},
		{cmn.CmdREFab, writeToActivate},
		{cmn.CmdRefreshBank, writeToActivate},
		{cmn.CmdSrefEnter, writeToActivate},
		{cmn.CmdRFMab, writeToActivate},
		{cmn.CmdRFMsb, writeToActivate},
		{cmn.CmdDRFMab, writeToActivate},
		{cmn.CmdDRFMsb, writeToActivate},
		{cmn.CmdDRFMb, writeToActivate},
	}
	tm.otherBanksSameBankgroup[cmn.CmdWritePrecharge] = []cmdTiming{
		{cmn.CmdRead, writeToReadL},
		{cmn.CmdWrite, writeToWriteL},
		{cmn.CmdReadPrecharge, writeToReadL},
		{cmn.CmdWritePrecharge, writeToWriteL},
	}
	tm.otherBankgroupsSameRank[cmn.CmdWritePrecharge] = []cmdTiming{
		{cmn.CmdRead, writeToReadS},
		{cmn.CmdWrite, writeToWriteS},
		{cmn.CmdReadPrecharge, writeToReadS},
		{cmn.CmdWritePrecharge, writeToWriteS},
	}
	tm.otherRanks[cmn.CmdWritePrecharge] = []cmdTiming{
		{cmn.CmdRead, writeToReadO},
		{cmn.CmdWrite, writeToWriteO},
		{cmn.CmdReadPrecharge, writeToReadO},
		{cmn.CmdWritePrecharge, writeToWriteO},
	}

	// command ACTIVATE
	tm.sameBank[cmn.CmdActivate] = []cmdTiming{
		{cmn.CmdActivate, activateToActivate},
		{cmn.CmdRead, activateToRead},
		{cmn.CmdWrite, activateToWrite},
		{cmn.CmdReadPrecharge, activateToRead},
		{cmn.CmdWritePrecharge, activateToWrite},
		{cmn.CmdPrecharge, activateToPrecharge},
		{cmn.CmdPREab, activateToPrecharge},
		{cmn.CmdPREsb, activateToPrecharge},
	}
	tm.otherBanksSameBankgroup[cmn.CmdActivate] = []cmdTiming{
		{cmn.CmdActivate, activateToActivateL},
		{cmn.CmdRefreshBank, activateToRefresh},
		{cmn.CmdREFsb, activateToRefsb},
	}
	tm.otherBankgroupsSameRank[cmn.CmdActivate] = []cmdTiming{
		{cmn.CmdActivate, activateToActivateS},
		{cmn.CmdRefreshBank, activateToRefresh},
		{cmn.CmdREFsb, activateToRefsb},
	}

	// precharge commands: PRECHARGE, PREab, PREsb share the same row
	prechargeRow := []cmdTiming{
		{cmn.CmdActivate, prechargeToActivate},
		{cmn.CmdREFab, prechargeToActivate},
		{cmn.CmdREFsb, prechargeToActivate},
		{cmn.CmdRefreshBank, prechargeToActivate},
		{cmn.CmdSrefEnter, prechargeToActivate},
		{cmn.CmdRFMab, prechargeToActivate},
		{cmn.CmdRFMsb, prechargeToActivate},
		{cmn.CmdDRFMab, prechargeToActivate},
		{cmn.CmdDRFMsb, prechargeToActivate},
		{cmn.CmdDRFMb, prechargeToActivate},
		{cmn.CmdPrecharge, prechargeToPrecharge},
		{cmn.CmdPREab, prechargeToPrecharge},
		{cmn.CmdPREsb, prechargeToPrecharge},
	}
	tm.sameBank[cmn.CmdPrecharge] = prechargeRow
	tm.sameBank[cmn.CmdPREab] = prechargeRow
	tm.sameBank[cmn.CmdPREsb] = prechargeRow

	if conf.NeedsTPPD() {
		ppdRow := []cmdTiming{
			{cmn.CmdPrecharge, prechargeToPrecharge},
			{cmn.CmdPREab, prechargeToPrecharge},
			{cmn.CmdPREsb, prechargeToPrecharge},
		}
		for _, t := range []cmn.CmdType{cmn.CmdPrecharge, cmn.CmdPREab, cmn.CmdPREsb} {
			tm.otherBanksSameBankgroup[t] = ppdRow
			tm.otherBankgroupsSameRank[t] = ppdRow
		}
	}

	// command REFRESH_BANK
	tm.sameRank[cmn.CmdRefreshBank] = []cmdTiming{
		{cmn.CmdActivate, refreshToActivateBank},
		{cmn.CmdREFsb, refreshToActivateBank},
		{cmn.CmdREFab, refreshToActivateBank},
		{cmn.CmdRefreshBank, refreshToActivateBank},
		{cmn.CmdSrefEnter, refreshToActivateBank},
	}
	tm.otherBanksSameBankgroup[cmn.CmdRefreshBank] = []cmdTiming{
		{cmn.CmdActivate, refreshToActivate},
		{cmn.CmdRefreshBank, refreshToRefreshBank},
	}
	tm.otherBankgroupsSameRank[cmn.CmdRefreshBank] = []cmdTiming{
		{cmn.CmdActivate, refreshToActivate},
		{cmn.CmdRefreshBank, refreshToRefreshBank},
	}

	// command DRFMb
	tm.sameBank[cmn.CmdDRFMb] = []cmdTiming{
		{cmn.CmdActivate, drfmbToActivate},
		{cmn.CmdREFsb, drfmbToActivate},
		{cmn.CmdREFab, drfmbToActivate},
		{cmn.CmdRefreshBank, drfmbToActivate},
		{cmn.CmdSrefEnter, drfmbToActivate},
		{cmn.CmdRFMab, drfmbToActivate},
		{cmn.CmdRFMsb, drfmbToActivate},
		{cmn.CmdDRFMb, drfmbToActivate},
	}

	// command REFab
	tm.sameRank[cmn.CmdREFab] = []cmdTiming{
		{cmn.CmdActivate, refreshToActivate},
		{cmn.CmdREFab, refreshToActivate},
		{cmn.CmdREFsb, refreshToActivate},
		{cmn.CmdSrefEnter, refreshToActivate},
		{cmn.CmdRFMab, refreshToActivate},
		{cmn.CmdRFMsb, refreshToActivate},
		{cmn.CmdDRFMab, refreshToActivate},
		{cmn.CmdDRFMsb, refreshToActivate},
		{cmn.CmdDRFMb, refreshToActivate},
	}

	// command SREF_ENTER
	tm.sameRank[cmn.CmdSrefEnter] = []cmdTiming{
		{cmn.CmdSrefExit, selfRefreshEntryToExit},
	}

	// command SREF_EXIT
	tm.sameRank[cmn.CmdSrefExit] = []cmdTiming{
		{cmn.CmdActivate, selfRefreshExit},
		{cmn.CmdREFsb, selfRefreshExit},
		{cmn.CmdREFab, selfRefreshExit},
		{cmn.CmdRefreshBank, selfRefreshExit},
		{cmn.CmdSrefEnter, selfRefreshExit},
	}

	// RFMab is issued to the entire rank
	tm.sameRank[cmn.CmdRFMab] = []cmdTiming{
		{cmn.CmdActivate, rfmabToActivate},
		{cmn.CmdREFsb, rfmabToActivate},
		{cmn.CmdREFab, rfmabToActivate},
		{cmn.CmdRefreshBank, rfmabToActivate},
		{cmn.CmdSrefEnter, rfmabToActivate},
		{cmn.CmdRFMab, rfmabToActivate},
		{cmn.CmdRFMsb, rfmabToActivate},
		{cmn.CmdDRFMab, rfmabToActivate},
		{cmn.CmdDRFMsb, rfmabToActivate},
		{cmn.CmdDRFMb, rfmabToActivate},
	}

	tm.sameRank[cmn.CmdDRFMab] = []cmdTiming{
		{cmn.CmdActivate, drfmabToActivate},
		{cmn.CmdREFsb, drfmabToActivate},
		{cmn.CmdREFab, drfmabToActivate},
		{cmn.CmdRefreshBank, drfmabToActivate},
		{cmn.CmdSrefEnter, drfmabToActivate},
		{cmn.CmdRFMab, drfmabToActivate},
		{cmn.CmdRFMsb, drfmabToActivate},
		{cmn.CmdDRFMab, drfmabToActivate},
	}

	// RFMsb is issued to a bankset
	tm.sameBankset[cmn.CmdRFMsb] = []cmdTiming{
		{cmn.CmdActivate, rfmsbToActivate},
		{cmn.CmdREFsb, rfmsbToActivate},
		{cmn.CmdREFab, rfmsbToActivate},
		{cmn.CmdRefreshBank, rfmsbToActivate},
		{cmn.CmdSrefEnter, rfmsbToActivate},
		{cmn.CmdRFMsb, rfmsbToActivate},
		{cmn.CmdDRFMab, rfmsbToActivate},
		{cmn.CmdDRFMsb, rfmsbToActivate},
		{cmn.CmdDRFMb, rfmsbToActivate},
	}

	tm.sameBankset[cmn.CmdDRFMsb] = []cmdTiming{
		{cmn.CmdActivate, drfmsbToActivate},
		{cmn.CmdREFsb, drfmsbToActivate},
		{cmn.CmdREFab, drfmsbToActivate},
		{cmn.CmdRefreshBank, drfmsbToActivate},
		{cmn.CmdSrefEnter, drfmsbToActivate},
		{cmn.CmdRFMab, drfmsbToActivate},
		{cmn.CmdRFMsb, drfmsbToActivate},
		{cmn.CmdDRFMab, drfmsbToActivate},
		{cmn.CmdDRFMsb, drfmsbToActivate},
		{cmn.CmdDRFMb, drfmsbToActivate},
	}

	tm.sameBankset[cmn.CmdREFsb] = []cmdTiming{
		{cmn.CmdActivate, refsbToActivate},
		{cmn.CmdREFsb, refsbToActivate},
		{cmn.CmdREFab, refsbToActivate},
		{cmn.CmdSrefEnter, refsbToActivate},
		{cmn.CmdRFMab, refsbToActivate},
		{cmn.CmdRFMsb, refsbToActivate},
		{cmn.CmdDRFMab, refsbToActivate},
		{cmn.CmdDRFMsb, refsbToActivate},
		{cmn.CmdDRFMb, refsbToActivate},
	}
	tm.otherBanksets[cmn.CmdREFsb] = []cmdTiming{
		{cmn.CmdActivate, refsbToActivateOther},
	}

	return tm
}
