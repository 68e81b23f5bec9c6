package vault

import "stake-hedge-watcher/internal/fixedpoint"

// maxKeepers bounds the registry so state stays fixed-size.
const maxKeepers = 8

// keeperSlot tracks one registered keeper: liveness, per-epoch usage and
// posted bond.
type keeperSlot struct {
	id          string
	heartbeatAt int64
	missCount   uint32
	epochCount  uint16
	bond        uint64
}

type keeperSet struct {
	slots []keeperSlot
}

func (ks *keeperSet) index(id string) int {
	for i := range ks.slots {
		if ks.slots[i].id == id {
			return i
		}
	}
	return -1
}

func (ks *keeperSet) contains(id string) bool {
	return ks.index(id) >= 0
}

// add registers a keeper with fresh counters. Re-adding is a no-op; a full
// table is an error.
func (ks *keeperSet) add(id string) error {
	if ks.contains(id) {
		return nil
	}
	if len(ks.slots) >= maxKeepers {
		return ErrInvalidParams
	}
	ks.slots = append(ks.slots, keeperSlot{id: id})
	return nil
}

// remove drops a keeper by swap-removal. Removing an unknown keeper is a
// no-op.
func (ks *keeperSet) remove(id string) {
	i := ks.index(id)
	if i < 0 {
		return
	}
	last := len(ks.slots) - 1
	ks.slots[i] = ks.slots[last]
	ks.slots = ks.slots[:last]
}

// touch records a successful update: heartbeat plus the per-epoch counter.
func (ks *keeperSet) touch(id string, tick int64) {
	if i := ks.index(id); i >= 0 {
		ks.slots[i].heartbeatAt = tick
		ks.slots[i].epochCount = saturate16(ks.slots[i].epochCount)
	}
}

func saturate16(v uint16) uint16 {
	if v == 0xFFFF {
		return v
	}
	return v + 1
}

// recordMiss charges an expired confirm to every registered keeper.
func (ks *keeperSet) recordMiss() {
	for i := range ks.slots {
		ks.slots[i].missCount = fixedpoint.SatAddU32(ks.slots[i].missCount, 1)
	}
}

// resetEpoch zeroes the per-epoch update counters.
func (ks *keeperSet) resetEpoch() {
	for i := range ks.slots {
		ks.slots[i].epochCount = 0
	}
}

// checkLimits enforces the bond floor and the per-epoch budget for
// registered keepers. Authority and keeper-admin callers are not in the
// table and pass untouched.
func (ks *keeperSet) checkLimits(id string, bondRequired uint64, maxPerEpoch uint16) error {
	i := ks.index(id)
	if i < 0 {
		return nil
	}
	if bondRequired > 0 && ks.slots[i].bond < bondRequired {
		return ErrKeeperBondInsufficient
	}
	if ks.slots[i].epochCount >= maxPerEpoch {
		return ErrKeeperRateLimited
	}
	return nil
}

// addBond credits a keeper's posted bond.
func (ks *keeperSet) addBond(id string, amount uint64) error {
	i := ks.index(id)
	if i < 0 {
		return ErrUnauthorized
	}
	next, err := fixedpoint.AddU(ks.slots[i].bond, amount)
	if err != nil {
		return err
	}
	ks.slots[i].bond = next
	return nil
}

// KeeperInfo is the read view of one keeper slot.
type KeeperInfo struct {
	ID          string
	HeartbeatAt int64
	MissCount   uint32
	EpochCount  uint16
	Bond        uint64
}

func (ks *keeperSet) snapshot() []KeeperInfo {
	out := make([]KeeperInfo, len(ks.slots))
	for i, s := range ks.slots {
		out[i] = KeeperInfo{
			ID:          s.id,
			HeartbeatAt: s.heartbeatAt,
			MissCount:   s.missCount,
			EpochCount:  s.epochCount,
			Bond:        s.bond,
		}
	}
	return out
}
