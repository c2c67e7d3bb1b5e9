// Package cmn provides common low-level types and utilities shared by the
// simulator core: the DRAM command set, addresses, and configuration.
/*
 * Copyright (c) 2019, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "fmt"

// CmdType enumerates every command the channel can put on the bus. The set is
// closed: the command queue, the bank state machine and the timing table all
// index arrays by it.
type CmdType int

const (
	CmdRead CmdType = iota
	CmdWrite
	CmdReadPrecharge
	CmdWritePrecharge
	CmdActivate
	CmdPrecharge
	CmdPREab
	CmdPREsb
	CmdRefreshBank
	CmdREFsb
	CmdREFab
	CmdSrefEnter
	CmdSrefExit
	CmdRFMsb
	CmdRFMab
	CmdDRFMb
	CmdDRFMsb
	CmdDRFMab

	// CmdInvalid must stay last - it doubles as the command-type count.
	CmdInvalid
)

// NumCmdTypes sizes per-command arrays (timing vectors, the timing table).
const NumCmdTypes = int(CmdInvalid)

var cmdNames = [...]string{
	"READ", "WRITE", "READ_PRECHARGE", "WRITE_PRECHARGE",
	"ACTIVATE", "PRECHARGE", "PREab", "PREsb",
	"REFRESH_BANK", "REFsb", "REFab",
	"SREF_ENTER", "SREF_EXIT",
	"RFMsb", "RFMab",
	"DRFMb", "DRFMsb", "DRFMab",
}

func (t CmdType) String() string {
	if t < 0 || int(t) >= NumCmdTypes {
		return "INVALID"
	}
	return cmdNames[t]
}

// Address identifies a location at bank granularity or finer. A value of -1
// in any field means "don't care" and is used by rank-, bankset- and
// bank-scope commands.
type Address struct {
	Channel   int
	Rank      int
	Bankgroup int
	Bank      int
	Row       int
	Column    int
}

func (a Address) String() string {
	return fmt.Sprintf("ch %d ra %d bg %d ba %d ro %d co %d",
		a.Channel, a.Rank, a.Bankgroup, a.Bank, a.Row, a.Column)
}

// InvalidAddr is the all-don't-care address.
var InvalidAddr = Address{Channel: -1, Rank: -1, Bankgroup: -1, Bank: -1, Row: -1, Column: -1}

// HydraHexAddr marks commands synthesized by the Hydra counter machinery;
// they live in the channel's own queues, never in the command queue.
const HydraHexAddr = int64(-1)

// Command is a tagged value: a command type plus the address it applies to.
// The zero value is not valid - use InvalidCommand().
type Command struct {
	Type    CmdType
	Addr    Address
	HexAddr int64
}

// InvalidCommand is the "nothing issuable" return of every ready-check.
func InvalidCommand() Command {
	return Command{Type: CmdInvalid, Addr: InvalidAddr, HexAddr: 0}
}

func NewCommand(t CmdType, addr Address, hexAddr int64) Command {
	return Command{Type: t, Addr: addr, HexAddr: hexAddr}
}

func (c Command) IsValid() bool { return c.Type != CmdInvalid && c.Type >= 0 && int(c.Type) < NumCmdTypes }

func (c Command) IsRead() bool {
	return c.Type == CmdRead || c.Type == CmdReadPrecharge
}

func (c Command) IsWrite() bool {
	return c.Type == CmdWrite || c.Type == CmdWritePrecharge
}

func (c Command) IsReadWrite() bool { return c.IsRead() || c.IsWrite() }

func (c Command) IsRefresh() bool {
	return c.Type == CmdRefreshBank || c.Type == CmdREFsb || c.Type == CmdREFab
}

func (c Command) IsRFM() bool {
	return c.Type == CmdRFMsb || c.Type == CmdRFMab
}

func (c Command) IsDRFM() bool {
	return c.Type == CmdDRFMb || c.Type == CmdDRFMsb || c.Type == CmdDRFMab
}

// IsRankCMD reports whether the command addresses every bank of a rank.
func (c Command) IsRankCMD() bool {
	switch c.Type {
	case CmdREFab, CmdRFMab, CmdDRFMab, CmdSrefEnter, CmdSrefExit:
		return true
	}
	return false
}

// IsSbCMD reports whether the command addresses a bankset: the banks sharing
// one bank index across all bankgroups of a rank.
func (c Command) IsSbCMD() bool {
	switch c.Type {
	case CmdREFsb, CmdRFMsb, CmdDRFMsb:
		return true
	}
	return false
}

func (c Command) Rank() int      { return c.Addr.Rank }
func (c Command) Bankgroup() int { return c.Addr.Bankgroup }
func (c Command) Bank() int      { return c.Addr.Bank }
func (c Command) Row() int       { return c.Addr.Row }
func (c Command) Column() int    { return c.Addr.Column }

func (c Command) String() string {
	return fmt.Sprintf("%s (%s) 0x%x", c.Type, c.Addr, c.HexAddr)
}
