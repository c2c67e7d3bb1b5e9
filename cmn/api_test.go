/*
 * Copyright (c) 2019, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"testing"
)

func TestCommandPredicates(t *testing.T) {
	tests := []struct {
		t                                       CmdType
		rw, refresh, rfm, drfm, rankCmd, sbCmd bool
	}{
		{CmdRead, true, false, false, false, false, false},
		{CmdWrite, true, false, false, false, false, false},
		{CmdReadPrecharge, true, false, false, false, false, false},
		{CmdWritePrecharge, true, false, false, false, false, false},
		{CmdActivate, false, false, false, false, false, false},
		{CmdPrecharge, false, false, false, false, false, false},
		{CmdRefreshBank, false, true, false, false, false, false},
		{CmdREFsb, false, true, false, false, false, true},
		{CmdREFab, false, true, false, false, true, false},
		{CmdSrefEnter, false, false, false, false, true, false},
		{CmdSrefExit, false, false, false, false, true, false},
		{CmdRFMsb, false, false, true, false, false, true},
		{CmdRFMab, false, false, true, false, true, false},
		{CmdDRFMb, false, false, false, true, false, false},
		{CmdDRFMsb, false, false, false, true, false, true},
		{CmdDRFMab, false, false, false, true, true, false},
	}
	for _, tc := range tests {
		cmd := NewCommand(tc.t, InvalidAddr, 0)
		if !cmd.IsValid() {
			t.Errorf("%s: expected valid", tc.t)
		}
		if cmd.IsReadWrite() != tc.rw {
			t.Errorf("%s: IsReadWrite = %v", tc.t, cmd.IsReadWrite())
		}
		if cmd.IsRefresh() != tc.refresh {
			t.Errorf("%s: IsRefresh = %v", tc.t, cmd.IsRefresh())
		}
		if cmd.IsRFM() != tc.rfm {
			t.Errorf("%s: IsRFM = %v", tc.t, cmd.IsRFM())
		}
		if cmd.IsDRFM() != tc.drfm {
			t.Errorf("%s: IsDRFM = %v", tc.t, cmd.IsDRFM())
		}
		if cmd.IsRankCMD() != tc.rankCmd {
			t.Errorf("%s: IsRankCMD = %v", tc.t, cmd.IsRankCMD())
		}
		if cmd.IsSbCMD() != tc.sbCmd {
			t.Errorf("%s: IsSbCMD = %v", tc.t, cmd.IsSbCMD())
		}
	}
}

func TestInvalidCommand(t *testing.T) {
	cmd := InvalidCommand()
	if cmd.IsValid() {
		t.Error("invalid command reported valid")
	}
	if cmd.String() == "" {
		t.Error("expected printable invalid command")
	}
}

func TestCmdTypeString(t *testing.T) {
	if CmdRead.String() != "READ" {
		t.Errorf("READ != %s", CmdRead)
	}
	if CmdDRFMab.String() != "DRFMab" {
		t.Errorf("DRFMab != %s", CmdDRFMab)
	}
	if CmdInvalid.String() != "INVALID" {
		t.Errorf("INVALID != %s", CmdInvalid)
	}
}
