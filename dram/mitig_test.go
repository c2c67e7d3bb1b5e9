// Package dram models a single memory channel cycle-accurately.
/*
 * Copyright (c) 2019, NVIDIA CORPORATION. All rights reserved.
 */
package dram

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dramcore/dramsim/cmn"
	"github.com/dramcore/dramsim/stats"
)

// actPrechargeCycle pushes one full ACT+PRE cycle through the channel for the
// given row, advancing the clock as the timing demands.
func actPrechargeCycle(cs *ChannelState, conf *cmn.Config, clk *uint64, row int) bool {
	req := readCmd(conf, 0, 0, 0, row, 0)
	act := cs.GetReadyCommand(req, *clk)
	if !act.IsValid() {
		return false
	}
	ExpectWithOffset(1, act.Type).To(Equal(cmn.CmdActivate))
	cs.UpdateTimingAndStates(act, *clk)
	*clk += uint64(conf.TRAS)
	pre := cs.GetReadyCommand(readCmd(conf, 0, 0, 0, (row+1)%conf.Rows, 0), *clk)
	ExpectWithOffset(1, pre.Type).To(Equal(cmn.CmdPrecharge))
	cs.UpdateTimingAndStates(pre, *clk)
	*clk += uint64(conf.TRC)
	return true
}

var _ = Describe("PARA", func() {
	var (
		conf *cmn.Config
		cs   *ChannelState
		clk  uint64
	)

	BeforeEach(func() {
		conf = ddr5Config()
		conf.ParaMode = 1
		conf.ParaProb = 1.0
		conf.DRFMMode = 1
		conf.DRFMPolicy = 1 // lazy
		conf.DRFMQSize = 2
		Expect(conf.Validate()).To(Succeed())
		cs = NewChannelState(conf, NewTiming(conf), stats.NewCoreStats(), 0)
		clk = 0
	})

	It("samples every activation at probability 1.0", func() {
		Expect(actPrechargeCycle(cs, conf, &clk, 1)).To(BeTrue())
		Expect(cs.Bank(0, 0, 0).drfmQ).To(HaveLen(1))
		Expect(cs.Bank(0, 0, 0).drfmQ[0].row).To(Equal(1))
	})

	It("schedules a DRFM once the sampler fills and clears it on completion", func() {
		Expect(actPrechargeCycle(cs, conf, &clk, 1)).To(BeTrue())

		// second activation fills the sampler: the ACT is preempted
		blocked := cs.GetReadyCommand(readCmd(conf, 0, 0, 0, 2, 0), clk)
		Expect(blocked.IsValid()).To(BeFalse())
		Expect(cs.Bank(0, 0, 0).DRFMIssued()).To(BeTrue())
		Expect(cs.IsRFMWaiting()).To(BeTrue())

		drfm := cs.PendingRFMCommand()
		Expect(drfm.Type).To(Equal(cmn.CmdDRFMb))
		ready := cs.GetReadyCommand(drfm, clk)
		Expect(ready.Type).To(Equal(cmn.CmdDRFMb))
		cs.UpdateTimingAndStates(ready, clk)

		// the mitigation consumed the head entry and lifted the block
		Expect(cs.Bank(0, 0, 0).drfmQ).To(HaveLen(1))
		Expect(cs.Bank(0, 0, 0).DRFMIssued()).To(BeFalse())
		Expect(cs.IsRFMWaiting()).To(BeFalse())
	})
})

var _ = Describe("DRFM policies", func() {
	newChannel := func(policy int) (*cmn.Config, *ChannelState) {
		conf := ddr5Config()
		conf.ParaMode = 1
		conf.ParaProb = 1.0
		conf.DRFMMode = 1
		conf.DRFMPolicy = policy
		conf.DRFMQSize = 1
		Expect(conf.Validate()).To(Succeed())
		return conf, NewChannelState(conf, NewTiming(conf), stats.NewCoreStats(), 0)
	}

	It("eager schedules before running the pre-act hooks", func() {
		conf, cs := newChannel(0)
		clk := uint64(0)
		Expect(actPrechargeCycle(cs, conf, &clk, 1)).To(BeTrue())
		Expect(cs.Bank(0, 0, 0).drfmQ).To(HaveLen(1))

		// sampler already full: the DRFM preempts without sampling again
		Expect(cs.GetReadyCommand(readCmd(conf, 0, 0, 0, 2, 0), clk).IsValid()).To(BeFalse())
		Expect(cs.Bank(0, 0, 0).drfmQ).To(HaveLen(1))
	})

	It("lazy runs the pre-act hooks first", func() {
		conf, cs := newChannel(1)
		// room for the first sample: the second activation fills the sampler
		conf.DRFMQSize = 2
		clk := uint64(0)
		Expect(actPrechargeCycle(cs, conf, &clk, 1)).To(BeTrue())

		Expect(cs.GetReadyCommand(readCmd(conf, 0, 0, 0, 2, 0), clk).IsValid()).To(BeFalse())
		// the second activation was sampled before the launch decision
		Expect(cs.Bank(0, 0, 0).drfmQ).To(HaveLen(2))
	})
})

var _ = Describe("Graphene", func() {
	var (
		conf *cmn.Config
		b    *BankState
	)

	BeforeEach(func() {
		conf = ddr5Config()
		conf.GrapheneMode = 1
		conf.GrapheneTh = 4
		conf.DRFMMode = 1
		conf.DRFMQSize = 1
		Expect(conf.Validate()).To(Succeed())
		b, _ = newTestBank(conf)
		// sized from refresh economics: 2 entries for this config
		Expect(b.grapheneEntries).To(Equal(2))
	})

	activate := func(row int) {
		b.PreACT(readCmd(conf, 0, 0, 0, row, 0))
		b.UpdateState(cmn.NewCommand(cmn.CmdActivate, rwAddr(0, 0, 0, row, 0), 0), 0)
		b.UpdateState(cmn.NewCommand(cmn.CmdPrecharge, rwAddr(0, 0, 0, -1, -1), 0), 0)
	}

	It("inserts the aggressor exactly once for A,A,A,A,B,B,B,C", func() {
		for i := 0; i < 4; i++ {
			activate(10)
		}
		// the 4th ACT of A crossed graphene_th
		Expect(b.drfmQ).To(HaveLen(1))
		Expect(b.drfmQ[0].row).To(Equal(10))
		Expect(b.IsSamplerFull()).To(BeTrue())

		// the scheduled DRFM erases A from both queues
		b.MarkDRFMIssued()
		b.UpdateState(cmn.NewCommand(cmn.CmdDRFMb, rwAddr(0, 0, 0, -1, -1), -1), 0)
		Expect(b.drfmQ).To(BeEmpty())

		for i := 0; i < 3; i++ {
			activate(20)
		}
		activate(30)
		// nobody else reached the threshold
		Expect(b.drfmQ).To(BeEmpty())
	})

	It("replaces a spill-level entry when the table is full", func() {
		activate(10)
		activate(10)
		activate(20) // table now [10:2, 20:1]
		activate(30) // no entry at spill level 0: the spill counter rises
		Expect(b.grapheneSpill).To(Equal(uint64(1)))
		activate(30) // 20 sits at the spill level now and is replaced

		rows := []int{b.grapheneQ[0].row, b.grapheneQ[1].row}
		Expect(rows).To(ContainElement(10))
		Expect(rows).To(ContainElement(30))
	})

	It("raises the spill counter when no entry sits at it", func() {
		activate(10)
		activate(10)
		activate(20)
		activate(20) // table [10:2, 20:2]
		activate(30) // no ctr==0 entry: spill counter goes up
		Expect(b.grapheneSpill).To(Equal(uint64(1)))
	})

	It("resets the table when the refresh cursor wraps", func() {
		activate(10)
		b.refIdx = 0 // wrapped
		b.UpdateState(cmn.NewCommand(cmn.CmdREFab, cmn.InvalidAddr, 0), 0)
		Expect(b.grapheneQ).To(BeEmpty())
		Expect(b.grapheneSpill).To(Equal(uint64(0)))
	})
})

var _ = Describe("Hydra", func() {
	var (
		conf *cmn.Config
		b    *BankState
	)

	BeforeEach(func() {
		conf = ddr5Config()
		conf.HydraMode = 1
		conf.HydraTh = 4
		conf.HydraGCTSize = 16
		conf.HydraGCTTh = 2
		conf.HydraRCCSets = 8
		conf.HydraRCCWays = 2
		conf.HydraWBQSize = 4
		conf.DRFMMode = 1
		conf.DRFMQSize = 4
		Expect(conf.Validate()).To(Succeed())
		b, _ = newTestBank(conf)
	})

	preact := func(row int) {
		b.PreACT(readCmd(conf, 0, 0, 0, row, 0))
	}

	It("tracks groups until the GCT threshold, then per-row", func() {
		row := 3
		gctIdx := row % conf.HydraGCTSize

		preact(row)
		Expect(b.hydraGCTValid[gctIdx]).To(BeTrue())
		Expect(b.hydraGCT[gctIdx]).To(Equal(1))

		// crossing gct_th invalidates the group and seeds the rows at the
		// group count
		preact(row)
		Expect(b.hydraGCTValid[gctIdx]).To(BeFalse())
		Expect(b.hydraCounts[row]).To(Equal(conf.HydraGCTTh))
		Expect(b.hydraCounts[row+conf.HydraGCTSize]).To(Equal(conf.HydraGCTTh))

		// two more activations take the row to hydra_th
		preact(row)
		Expect(b.drfmQ).To(BeEmpty())
		preact(row)
		Expect(b.drfmQ).To(HaveLen(1))
		Expect(b.drfmQ[0].row).To(Equal(row))
	})

	It("clears the victim's counter on mitigation", func() {
		row := 3
		for i := 0; i < 4; i++ {
			preact(row)
		}
		Expect(b.hydraCounts[row]).To(Equal(4))

		b.UpdateState(cmn.NewCommand(cmn.CmdDRFMb, rwAddr(0, 0, 0, -1, -1), -1), 0)
		Expect(b.hydraCounts[row]).To(BeZero())
		Expect(b.drfmQ).To(BeEmpty())
	})
})

var _ = Describe("Hydra RCC flow", func() {
	var (
		conf *cmn.Config
		cs   *ChannelState
		clk  uint64
	)

	BeforeEach(func() {
		conf = ddr5Config()
		conf.HydraMode = 1
		conf.HydraTh = 64
		conf.HydraGCTSize = 16
		conf.HydraGCTTh = 2
		conf.HydraRCCSets = 8
		conf.HydraRCCWays = 2
		conf.HydraWBQSize = 4
		conf.DRFMMode = 1
		conf.DRFMQSize = 64
		conf.DRFMPolicy = 1
		Expect(conf.Validate()).To(Succeed())
		cs = NewChannelState(conf, NewTiming(conf), stats.NewCoreStats(), 0)
		clk = 0
	})

	It("stalls the ACT on an RCC miss and serves the fill in the background", func() {
		// two activations spill the row's group to per-row tracking
		Expect(actPrechargeCycle(cs, conf, &clk, 3)).To(BeTrue())
		Expect(actPrechargeCycle(cs, conf, &clk, 3)).To(BeTrue())
		Expect(cs.Bank(0, 0, 0).hydraGCTValid[3]).To(BeFalse())

		// the third misses the RCC: it stalls and queues a background read
		req := readCmd(conf, 0, 0, 0, 3, 0)
		Expect(cs.GetReadyCommand(req, clk).IsValid()).To(BeFalse())
		Expect(cs.hydraRdQ).To(HaveLen(1))

		// normal traffic to other banks is suspended meanwhile
		Expect(cs.GetReadyCommand(readCmd(conf, 0, 1, 1, 9, 0), clk).IsValid()).To(BeFalse())

		// the dedicated stream activates and reads the counter row
		act := cs.GetReadyHydraCommand(clk)
		Expect(act.Type).To(Equal(cmn.CmdActivate))
		cs.UpdateTimingAndStates(act, clk)
		clk += uint64(conf.TRCD)
		rd := cs.GetReadyHydraCommand(clk)
		Expect(rd.Type).To(Equal(cmn.CmdRead))
		Expect(rd.HexAddr).To(Equal(cmn.HydraHexAddr))
		cs.UpdateTimingAndStates(rd, clk)
		Expect(cs.hydraRdQ).To(BeEmpty())

		// the counter read left the request's own row open in this bank: the
		// retry is a row-buffer hit and proceeds without another RCC probe
		retry := cs.GetReadyCommand(req, clk+uint64(conf.TRAS))
		Expect(retry.IsValid()).To(BeTrue())
	})
})

var _ = Describe("MINT", func() {
	It("selects one row per window uniformly", func() {
		conf := ddr5Config()
		conf.MintMode = 1
		conf.MintWindow = 3
		conf.DRFMMode = 1
		conf.DRFMQSize = 4
		Expect(conf.Validate()).To(Succeed())
		b, _ := newTestBank(conf)

		rows := []int{11, 22, 33}
		for _, row := range rows {
			b.PreACT(readCmd(conf, 0, 0, 0, row, 0))
		}
		Expect(b.drfmQ).To(HaveLen(1))
		Expect(rows).To(ContainElement(b.drfmQ[0].row))
		Expect(b.mintRows).To(BeEmpty())

		// the window restarts
		b.PreACT(readCmd(conf, 0, 0, 0, 44, 0))
		Expect(b.drfmQ).To(HaveLen(1))
		Expect(b.mintRows).To(HaveLen(1))
	})
})

var _ = Describe("DREAM", func() {
	var (
		conf *cmn.Config
		cs   *ChannelState
		clk  uint64
	)

	BeforeEach(func() {
		conf = ddr5Config()
		conf.DreamMode = 1
		conf.DreamPolicy = 0 // set-associative
		conf.DreamTh = 2
		conf.DreamK = 1
		conf.DRFMMode = 3
		conf.DRFMQSize = 64
		conf.DRFMPolicy = 1
		Expect(conf.Validate()).To(Succeed())
		cs = NewChannelState(conf, NewTiming(conf), stats.NewCoreStats(), 0)
		clk = 0
	})

	It("broadcasts DRFM insertions to every bank at the threshold", func() {
		Expect(actPrechargeCycle(cs, conf, &clk, 9)).To(BeTrue())
		Expect(cs.tusc[9]).To(Equal(1))
		Expect(actPrechargeCycle(cs, conf, &clk, 9)).To(BeTrue())

		Expect(cs.tuscQ).To(HaveLen(conf.DreamK))
		for i := 0; i < conf.Ranks; i++ {
			for j := 0; j < conf.Bankgroups; j++ {
				for k := 0; k < conf.BanksPerGroup; k++ {
					Expect(cs.Bank(i, j, k).drfmQ).NotTo(BeEmpty())
					Expect(cs.Bank(i, j, k).drfmQ[0].row).To(Equal(9))
				}
			}
		}
	})

	It("snapshots and zeroes the counter on mitigation", func() {
		Expect(actPrechargeCycle(cs, conf, &clk, 9)).To(BeTrue())
		Expect(actPrechargeCycle(cs, conf, &clk, 9)).To(BeTrue())

		drfm := cmn.NewCommand(cmn.CmdDRFMab,
			cmn.Address{Channel: -1, Rank: 0, Bankgroup: -1, Bank: -1, Row: -1, Column: -1}, -1)
		cs.UpdateState(drfm, clk)

		Expect(cs.tusc[9]).To(BeZero())
		Expect(cs.tuscPrev[9]).To(Equal(2))
		Expect(cs.tuscQ).To(BeEmpty())
	})

	It("doubles the threshold when the previous window is counted", func() {
		conf2 := ddr5Config()
		conf2.DreamMode = 1
		conf2.DreamPolicy = 0
		conf2.DreamTh = 2
		conf2.DreamK = 1
		conf2.DreamPrevEnable = true
		conf2.DRFMMode = 3
		conf2.DRFMQSize = 64
		conf2.DRFMPolicy = 1
		Expect(conf2.Validate()).To(Succeed())
		cs2 := NewChannelState(conf2, NewTiming(conf2), stats.NewCoreStats(), 0)
		c := uint64(0)

		Expect(actPrechargeCycle(cs2, conf2, &c, 9)).To(BeTrue())
		Expect(actPrechargeCycle(cs2, conf2, &c, 9)).To(BeTrue())
		// 2 < 2*dream_th: nothing fires yet
		Expect(cs2.tuscQ).To(BeEmpty())
	})
})

var _ = Describe("ABACUS", func() {
	var (
		conf *cmn.Config
		cs   *ChannelState
		clk  uint64
	)

	BeforeEach(func() {
		conf = ddr5Config()
		conf.AbacusMode = 1
		conf.AbacusTh = 2
		conf.DRFMMode = 3
		conf.DRFMQSize = 64
		conf.DRFMPolicy = 1
		Expect(conf.Validate()).To(Succeed())
		cs = NewChannelState(conf, NewTiming(conf), stats.NewCoreStats(), 0)
		clk = 0
	})

	It("increments the row counter only on repeated same-bank activations", func() {
		Expect(actPrechargeCycle(cs, conf, &clk, 7)).To(BeTrue())
		Expect(cs.abacusTable[7].rac).To(BeZero()) // first touch only sets the bank bit

		Expect(actPrechargeCycle(cs, conf, &clk, 7)).To(BeTrue())
		Expect(cs.abacusTable[7].rac).To(Equal(1))

		Expect(actPrechargeCycle(cs, conf, &clk, 7)).To(BeTrue())
		Expect(cs.abacusTable[7].rac).To(Equal(2))

		// the threshold broadcast reached every bank
		for i := 0; i < conf.Ranks; i++ {
			for j := 0; j < conf.Bankgroups; j++ {
				for k := 0; k < conf.BanksPerGroup; k++ {
					Expect(cs.Bank(i, j, k).drfmQ).NotTo(BeEmpty())
				}
			}
		}
		Expect(cs.abacusQ).To(Equal([]int{7}))
	})

	It("resets the entry on mitigation", func() {
		for i := 0; i < 3; i++ {
			Expect(actPrechargeCycle(cs, conf, &clk, 7)).To(BeTrue())
		}
		drfm := cmn.NewCommand(cmn.CmdDRFMab,
			cmn.Address{Channel: -1, Rank: 0, Bankgroup: -1, Bank: -1, Row: -1, Column: -1}, -1)
		cs.UpdateState(drfm, clk)

		Expect(cs.abacusTable[7].rac).To(BeZero())
		Expect(cs.abacusQ).To(BeEmpty())
	})
})
