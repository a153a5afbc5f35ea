package traffic

import (
	"github.com/containerkit/netcore/pkg/config"
)

// ClassParams are the HTB parameters class_add derives before issuing
// the kernel call (spec §4.3 "Class parameter derivation").
type ClassParams struct {
	Rate     uint64
	Ceil     uint64
	Prio     uint32
	Quantum  uint32
	RBuffer  uint32
	CBuffer  uint32
	MTU      uint32
}

// DeriveClassParams applies spec §4.3's rate/ceil clamping and
// quantum/buffer defaulting rules.
//
//   - rate 0 maps to 1 bps (the kernel rejects literal 0, but the
//     "no guarantee" semantic must be preserved)
//   - rates are clamped to min(deviceMaxRate, INT32_MAX)
//   - zero ceil, or ceil above deviceMaxRate, becomes deviceMaxRate
//   - quantum = cfgQuantum, else 2*mtu
//   - rbuffer  = cfgRBuffer, else 10*mtu
//   - cbuffer  = cfgCBuffer, else 10*mtu
func DeriveClassParams(rate, ceil int64, deviceMaxRate int64, prio uint32, mtu int, cfgQuantum, cfgRBuffer, cfgCBuffer int64) ClassParams {
	deviceMaxRate = config.ClampRate(deviceMaxRate)
	if deviceMaxRate == 0 {
		deviceMaxRate = int64(1<<31 - 1)
	}

	effRate := rate
	if effRate > deviceMaxRate {
		effRate = deviceMaxRate
	}
	if effRate <= 0 {
		effRate = 1
	}

	effCeil := ceil
	if effCeil <= 0 || effCeil > deviceMaxRate {
		effCeil = deviceMaxRate
	}
	if effCeil < effRate {
		effCeil = effRate
	}

	quantum := cfgQuantum
	if quantum <= 0 {
		quantum = int64(config.DefaultQuantumMultiplier * mtu)
	}
	rbuffer := cfgRBuffer
	if rbuffer <= 0 {
		rbuffer = int64(config.DefaultBufferMultiplier * mtu)
	}
	cbuffer := cfgCBuffer
	if cbuffer <= 0 {
		cbuffer = int64(config.DefaultBufferMultiplier * mtu)
	}

	return ClassParams{
		Rate:    uint64(effRate),
		Ceil:    uint64(effCeil),
		Prio:    prio,
		Quantum: uint32(quantum),
		RBuffer: uint32(rbuffer),
		CBuffer: uint32(cbuffer),
		MTU:     uint32(mtu),
	}
}
