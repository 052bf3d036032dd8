package runtime

import (
	"context"

	"github.com/UniQw/transferq/internal/qos"
	"github.com/UniQw/transferq/task"
)

// UIDsPerAccount maps a uid to its account: account = uid / UIDsPerAccount.
const UIDsPerAccount = 200000

type netEntry struct {
	info  task.NetInfo
	known bool
}

// netState tracks the available networks; the most recently changed one is current.
// Until the first network event the device is assumed online on an unknown network.
type netState struct {
	observed bool
	nets     map[uint32]netEntry
	order    []uint32
}

func newNetState() netState {
	return netState{nets: make(map[uint32]netEntry)}
}

func (n *netState) touch(id uint32) {
	for i, v := range n.order {
		if v == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	n.order = append(n.order, id)
}

func (n *netState) available(id uint32) {
	n.observed = true
	if _, ok := n.nets[id]; !ok {
		n.nets[id] = netEntry{}
	}
	n.touch(id)
}

func (n *netState) lost(id uint32) {
	n.observed = true
	delete(n.nets, id)
	for i, v := range n.order {
		if v == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

func (n *netState) changed(id uint32, info task.NetInfo) {
	n.observed = true
	n.nets[id] = netEntry{info: info, known: true}
	n.touch(id)
}

// current returns the active network. online is false when no network is up;
// known is false while its capabilities have not been reported.
func (n *netState) current() (info task.NetInfo, online, known bool) {
	if !n.observed {
		return task.NetInfo{}, true, false
	}
	if len(n.order) == 0 {
		return task.NetInfo{}, false, false
	}
	e := n.nets[n.order[len(n.order)-1]]
	return e.info, true, e.known
}

type accountState struct {
	observed   bool
	foreground uint64
	active     map[uint64]bool
}

func (a *accountState) allows(uid uint64) bool {
	if !a.observed {
		return true
	}
	acct := uid / UIDsPerAccount
	return acct == a.foreground || a.active[acct]
}

// NetAvailable reports that network netID came up.
func (rt *Runtime) NetAvailable(netID uint32) {
	rt.post(netEv{op: netAvailable, netID: netID})
}

// NetLost reports that network netID went down.
func (rt *Runtime) NetLost(netID uint32) {
	rt.post(netEv{op: netLost, netID: netID})
}

// NetCapabilityChanged reports the capabilities of network netID.
func (rt *Runtime) NetCapabilityChanged(netID uint32, info task.NetInfo) {
	rt.post(netEv{op: netChanged, netID: netID, info: info})
}

// AccountChanged reports the foreground account and the other active accounts.
func (rt *Runtime) AccountChanged(foreground uint64, active []uint64) {
	rt.post(accountEv{foreground: foreground, active: append([]uint64(nil), active...)})
}

// AppStateChanged reports a lifecycle change of app uid.
func (rt *Runtime) AppStateChanged(uid uint64, st task.AppState) {
	rt.post(appStateEv{uid: uid, state: st})
}

// MemoryLevelChanged switches the capacity preset. Levels outside 0..7 are rejected.
func (rt *Runtime) MemoryLevelChanged(ctx context.Context, level int) error {
	if _, err := qos.NewCapacity(level); err != nil {
		return task.ParameterCheck
	}
	return rt.submit(ctx, memoryEv{level: level})
}

func (rt *Runtime) handleNet(ev netEv) {
	switch ev.op {
	case netAvailable:
		rt.net.available(ev.netID)
	case netLost:
		rt.net.lost(ev.netID)
	case netChanged:
		rt.net.changed(ev.netID, ev.info)
	}
	info, online, known := rt.net.current()
	rt.log.Infof("network changed: online=%t known=%t type=%d metered=%t roaming=%t",
		online, known, info.Type, info.Metered, info.Roaming)
	rt.reschedule()
}

func (rt *Runtime) handleAccount(ev accountEv) {
	rt.accounts.observed = true
	rt.accounts.foreground = ev.foreground
	rt.accounts.active = make(map[uint64]bool, len(ev.active))
	for _, a := range ev.active {
		rt.accounts.active[a] = true
	}
	rt.log.Infof("account changed: foreground=%d active=%v", ev.foreground, ev.active)
	rt.reschedule()
}

func (rt *Runtime) handleAppState(ev appStateEv) {
	if ev.state == task.AppBackground {
		delete(rt.appStates, ev.uid)
	} else {
		rt.appStates[ev.uid] = ev.state
	}
	rt.reschedule()
}

func (rt *Runtime) handleMemory(level int) {
	c, err := qos.NewCapacity(level)
	if err != nil {
		rt.log.Warnf("memory level %d rejected: %v", level, err)
		return
	}
	rt.capacity = c
	rt.pressure = level
	rt.log.Infof("memory level %d: capacity=%d", level, c.Total())
	rt.reschedule()
}

func (rt *Runtime) foreground(uid uint64) bool {
	return rt.appStates[uid] == task.AppForeground
}

// eligible decides whether e may hold a slot under the current system state.
func (rt *Runtime) eligible(e *qos.Entry) (bool, task.Reason) {
	if !rt.accounts.allows(e.UID) {
		return false, task.ReasonAccountStopped
	}
	info, online, known := rt.net.current()
	if !online {
		return false, task.ReasonNetworkOffline
	}
	if known {
		if e.Network != task.NetAny && e.Network != info.Type {
			return false, task.ReasonUnsupportedNetworkType
		}
		if info.Metered && !e.Metered {
			return false, task.ReasonUnsupportedNetworkType
		}
		if info.Roaming && !e.Roaming {
			return false, task.ReasonUnsupportedNetworkType
		}
	}
	if e.Mode == task.ModeBackGround {
		st, ok := rt.appStates[e.UID]
		if !ok {
			st = task.AppBackground
		}
		if !rt.cfg.AppPolicy(e.UID, st) {
			return false, task.ReasonAppBackgroundOrTerminate
		}
	}
	return true, task.ReasonDefault
}
