// Package cmn provides common low-level types and utilities shared by the
// simulator core.
/*
 * Copyright (c) 2019, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"math/bits"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Queue structures (see CommandQueue).
const (
	QueuePerBank = "PER_BANK"
	QueuePerRank = "PER_RANK"
)

// Config carries every knob the core consumes. It is parsed once, validated,
// then treated as immutable by the channel, banks and queues.
type Config struct {
	// Geometry
	Protocol      string `json:"protocol"` // DDR4, DDR5, GDDR5, GDDR5X, GDDR6, LPDDR4, HBM, HBM2
	Ranks         int    `json:"ranks"`
	Bankgroups    int    `json:"bankgroups"`
	BanksPerGroup int    `json:"banks_per_group"`
	Rows          int    `json:"rows"`
	Columns       int    `json:"columns"`

	// Generic timing parameters, all in cycles
	BurstCycle int `json:"burst_cycle"`
	AL         int `json:"AL"`
	RL         int `json:"RL"`
	WL         int `json:"WL"`
	ReadDelay  int `json:"read_delay"`
	WriteDelay int `json:"write_delay"`
	TCCDL      int `json:"tCCD_L"`
	TCCDS      int `json:"tCCD_S"`
	TRTRS      int `json:"tRTRS"`
	TRTP       int `json:"tRTP"`
	TWTRL      int `json:"tWTR_L"`
	TWTRS      int `json:"tWTR_S"`
	TWR        int `json:"tWR"`
	TRP        int `json:"tRP"`
	TRRDL      int `json:"tRRD_L"`
	TRRDS      int `json:"tRRD_S"`
	TRAS       int `json:"tRAS"`
	TRCD       int `json:"tRCD"`
	TRC        int `json:"tRC"`
	TCKESR     int `json:"tCKESR"`
	TXS        int `json:"tXS"`
	TREFSBRD   int `json:"tREFSBRD"`
	TRFC       int `json:"tRFC"`
	TRFCsb     int `json:"tRFCsb"`
	TRFCb      int `json:"tRFCb"`
	TREFI      int `json:"tREFI"`
	TREFIb     int `json:"tREFIb"`
	TFAW       int `json:"tFAW"`

	// LPDDR4/GDDR/DDR5
	TPPD   int `json:"tPPD"`
	T32AW  int `json:"t32AW"`
	TRCDRD int `json:"tRCDRD"`
	TRCDWR int `json:"tRCDWR"`

	// Refresh
	FGR             bool `json:"fgr"`
	Refchunks       int  `json:"refchunks"`
	RowsRefreshed   int  `json:"rows_refreshed"`
	RefRAADecrement int  `json:"ref_raa_decrement"`

	// RFM
	RFMMode         int `json:"rfm_mode"`   // 0: off, 1: same-bank, 2: all-bank
	RFMPolicy       int `json:"rfm_policy"` // 0: RAAIMT (eager), 1: RAAMMT (lazy)
	RAAIMT          int `json:"raaimt"`
	RAAMMT          int `json:"raammt"`
	RFMRAADecrement int `json:"rfm_raa_decrement"`
	TRFM            int `json:"tRFM"`
	TRFMsb          int `json:"tRFMsb"`

	// DRFM
	DRFMMode   int `json:"drfm_mode"`   // 0: off, 1: bank, 2: bankset, 3: all-bank
	DRFMPolicy int `json:"drfm_policy"` // 0: eager, 1: lazy
	DRFMQSize  int `json:"drfm_qsize"`
	DRFMQTh    int `json:"drfm_qth"`
	TDRFMb     int `json:"tDRFMb"`
	TDRFMsb    int `json:"tDRFMsb"`
	TDRFMab    int `json:"tDRFMab"`

	// ALERT (ABO)
	AlertMode    int `json:"alert_mode"`
	TABOAct      int `json:"tABO_act"`
	ABODelayActs int `json:"ABO_delay_acts"`
	TABOPW       int `json:"tABO_PW"`

	// MOAT
	MOATMode int `json:"moat_mode"`
	MOATTh   int `json:"moatth"`

	// DREAM
	DreamMode       int  `json:"dream_mode"`
	DreamPolicy     int  `json:"dream_policy"` // 0: set-associative, 1: staggered, 2: random
	DreamTh         int  `json:"dream_th"`
	DreamK          int  `json:"dream_k"`
	DreamReset      int  `json:"dream_reset"`
	DreamPrevEnable bool `json:"dream_prev_enable"`

	// MINT
	MintMode   int `json:"mint_mode"`
	MintWindow int `json:"mint_window"`

	// PARA
	ParaMode int     `json:"para_mode"`
	ParaProb float64 `json:"para_prob"`

	// Graphene
	GrapheneMode int `json:"graphene_mode"`
	GrapheneTh   int `json:"graphene_th"`

	// Hydra
	HydraMode    int `json:"hydra_mode"`
	HydraTh      int `json:"hydra_th"`
	HydraGCTSize int `json:"hydra_gct_size"`
	HydraGCTTh   int `json:"hydra_gct_th"`
	HydraRCCSets int `json:"hydra_rcc_sets"`
	HydraRCCWays int `json:"hydra_rcc_ways"`
	HydraWBQSize int `json:"hydra_wbq_size"`

	// ABACUS
	AbacusMode int `json:"abacus_mode"`
	AbacusTh   int `json:"abacus_th"`

	// Queueing
	QueueStructure string `json:"queue_structure"` // PER_BANK or PER_RANK
	CmdQueueSize   int    `json:"cmd_queue_size"`

	// Derived - computed by Validate, not parsed
	Banks int `json:"-"`

	coPos, baPos, bgPos, raPos, roPos int
	coMask, baMask, bgMask, raMask, roMask uint64
}

// LoadConfig reads and validates a JSON configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %q", path)
	}
	conf := &Config{}
	if err := jsoniter.Unmarshal(data, conf); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %q", path)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks geometry and modes and fills in derived fields.
// It must run before the config is handed to the channel.
func (c *Config) Validate() error {
	if c.Ranks <= 0 || c.Bankgroups <= 0 || c.BanksPerGroup <= 0 || c.Rows <= 0 || c.Columns <= 0 {
		return errors.Errorf("invalid geometry: ranks %d bankgroups %d banks_per_group %d rows %d columns %d",
			c.Ranks, c.Bankgroups, c.BanksPerGroup, c.Rows, c.Columns)
	}
	for _, g := range []int{c.Ranks, c.Bankgroups, c.BanksPerGroup, c.Rows, c.Columns} {
		if g&(g-1) != 0 {
			return errors.Errorf("geometry values must be powers of two, got %d", g)
		}
	}
	c.Banks = c.Bankgroups * c.BanksPerGroup

	if c.QueueStructure == "" {
		c.QueueStructure = QueuePerBank
	}
	if c.QueueStructure != QueuePerBank && c.QueueStructure != QueuePerRank {
		return errors.Errorf("unsupported queue structure %q", c.QueueStructure)
	}
	if c.CmdQueueSize <= 0 {
		c.CmdQueueSize = 8
	}
	if c.Refchunks <= 0 {
		c.Refchunks = 8192
	}
	if c.RowsRefreshed <= 0 {
		c.RowsRefreshed = c.Rows / c.Refchunks
	}
	if c.ReadDelay == 0 {
		c.ReadDelay = c.RL
	}
	if c.WriteDelay == 0 {
		c.WriteDelay = c.WL
	}
	if c.DreamK <= 0 {
		c.DreamK = 1
	}
	if c.DreamReset <= 0 {
		c.DreamReset = 1
	}
	if c.RFMMode < 0 || c.RFMMode > 2 {
		return errors.Errorf("rfm_mode out of range: %d", c.RFMMode)
	}
	if c.DRFMMode < 0 || c.DRFMMode > 3 {
		return errors.Errorf("drfm_mode out of range: %d", c.DRFMMode)
	}
	if c.DreamPolicy < 0 || c.DreamPolicy > 2 {
		return errors.Errorf("dream_policy out of range: %d", c.DreamPolicy)
	}
	if c.HydraMode != 0 {
		if c.HydraGCTSize <= 0 || c.Rows%c.HydraGCTSize != 0 {
			return errors.Errorf("hydra_gct_size %d must divide rows %d", c.HydraGCTSize, c.Rows)
		}
		if c.HydraRCCSets <= 0 || c.HydraRCCWays <= 0 {
			return errors.Errorf("invalid hydra rcc geometry: %d sets, %d ways", c.HydraRCCSets, c.HydraRCCWays)
		}
	}

	c.setAddressMapping()
	return nil
}

// Protocol predicates. They select tRCDRD/tRCDWR, t32AW and tPPD behavior.

func (c *Config) IsGDDR() bool { return strings.HasPrefix(c.Protocol, "GDDR") }

func (c *Config) IsHBM() bool { return strings.HasPrefix(c.Protocol, "HBM") }

func (c *Config) IsDDR5() bool { return c.Protocol == "DDR5" }

func (c *Config) IsLPDDR4() bool { return c.Protocol == "LPDDR4" }

// NeedsTPPD reports whether precharge-to-precharge spacing applies across
// banks of the same rank.
func (c *Config) NeedsTPPD() bool { return c.IsGDDR() || c.IsLPDDR4() || c.IsDDR5() }

// RFMThreshold is raaimt under the eager policy and raammt under lazy.
func (c *Config) RFMThreshold() int {
	if c.RFMPolicy != 0 {
		return c.RAAMMT
	}
	return c.RAAIMT
}

//
// Address codec. Only the bank-state and the Hydra counter cache need it:
// the layout is column in the low bits, then bank, bankgroup, rank, row.
//

func (c *Config) setAddressMapping() {
	coBits := bits.TrailingZeros64(uint64(c.Columns))
	baBits := bits.TrailingZeros64(uint64(c.BanksPerGroup))
	bgBits := bits.TrailingZeros64(uint64(c.Bankgroups))
	raBits := bits.TrailingZeros64(uint64(c.Ranks))

	c.coPos = 0
	c.baPos = c.coPos + coBits
	c.bgPos = c.baPos + baBits
	c.raPos = c.bgPos + bgBits
	c.roPos = c.raPos + raBits

	c.coMask = uint64(c.Columns) - 1
	c.baMask = uint64(c.BanksPerGroup) - 1
	c.bgMask = uint64(c.Bankgroups) - 1
	c.raMask = uint64(c.Ranks) - 1
	c.roMask = uint64(c.Rows) - 1
}

// EncodeAddr packs an address into its hex form (channel excluded - each
// channel owns its own state).
func (c *Config) EncodeAddr(addr Address) int64 {
	v := uint64(addr.Column)&c.coMask |
		(uint64(addr.Bank)&c.baMask)<<c.baPos |
		(uint64(addr.Bankgroup)&c.bgMask)<<c.bgPos |
		(uint64(addr.Rank)&c.raMask)<<c.raPos |
		(uint64(addr.Row)&c.roMask)<<c.roPos
	return int64(v)
}

// AddressMapping is the inverse of EncodeAddr.
func (c *Config) AddressMapping(hexAddr int64) Address {
	v := uint64(hexAddr)
	return Address{
		Channel:   -1,
		Rank:      int((v >> c.raPos) & c.raMask),
		Bankgroup: int((v >> c.bgPos) & c.bgMask),
		Bank:      int((v >> c.baPos) & c.baMask),
		Row:       int((v >> c.roPos) & c.roMask),
		Column:    int(v & c.coMask),
	}
}

// ResetColBits zeroes the column field: the Hydra RCC tag.
func (c *Config) ResetColBits(hexAddr int64) uint64 {
	return uint64(hexAddr) &^ c.coMask
}

// RemoveColBits shifts the column field out: the Hydra RCC set selector.
func (c *Config) RemoveColBits(hexAddr int64) uint64 {
	return uint64(hexAddr) >> c.baPos
}

// BankIdx flattens (rank, bankgroup, bank) into the channel-wide bank index.
func (c *Config) BankIdx(rank, bankgroup, bank int) int {
	return rank*c.Banks + bankgroup*c.BanksPerGroup + bank
}

// TotalBanks is the channel-wide bank count across ranks.
func (c *Config) TotalBanks() int { return c.Ranks * c.Banks }
