package runtime

import (
	"github.com/UniQw/transferq/internal/notify"
	"github.com/UniQw/transferq/task"
	"github.com/google/uuid"
)

// event is one unit of work for the loop. Events are handled strictly in
// arrival order.
type event interface {
	kind() string
}

type constructReply struct {
	id  uint32
	err error
}

type constructEv struct {
	uid   uint64
	cfg   task.Config
	reply chan constructReply
}

type commandEv struct {
	cmd   task.Command
	uid   uint64
	id    uint32
	mode  task.Mode
	speed int64
	reply chan error
}

type searchReply struct {
	ids []uint32
	err error
}

type searchEv struct {
	uid    uint64
	filter task.Filter
	reply  chan searchReply
}

type getReply struct {
	info *task.Info
	err  error
}

type getEv struct {
	uid   uint64
	id    uint32
	reply chan getReply
}

type subscribeReply struct {
	id  uuid.UUID
	err error
}

type subscribeEv struct {
	uid   uint64
	id    uint32
	fn    notify.Callback
	reply chan subscribeReply
}

type unsubscribeEv struct {
	uid   uint64
	id    uint32
	sub   uuid.UUID
	reply chan error
}

// Stats is a point-in-time view of the loop state.
type Stats struct {
	Pressure   int
	Admitted   int
	Running    int
	Draining   int
	Apps       int
	Levels     map[string]int
	Frontend   int
	Background int
}

type statsEv struct {
	uid   uint64
	reply chan Stats
}

type netOp uint8

const (
	netAvailable netOp = iota
	netLost
	netChanged
)

type netEv struct {
	op    netOp
	netID uint32
	info  task.NetInfo
}

type accountEv struct {
	foreground uint64
	active     []uint64
}

type appStateEv struct {
	uid   uint64
	state task.AppState
}

type memoryEv struct {
	level int
}

type progressEv struct {
	id  uint32
	run uuid.UUID
	p   task.Progress
}

type headersEv struct {
	id  uint32
	run uuid.UUID
	h   map[string][]string
}

type doneEv struct {
	id  uint32
	run uuid.UUID
	p   task.Progress
	err error
}

type sweepEv struct{}

type rescheduleEv struct{}

func (constructEv) kind() string   { return "construct" }
func (e commandEv) kind() string   { return e.cmd.String() }
func (searchEv) kind() string      { return "search" }
func (getEv) kind() string         { return "get" }
func (subscribeEv) kind() string   { return "subscribe" }
func (unsubscribeEv) kind() string { return "unsubscribe" }
func (statsEv) kind() string       { return "stats" }
func (netEv) kind() string         { return "network" }
func (accountEv) kind() string     { return "account" }
func (appStateEv) kind() string    { return "app_state" }
func (memoryEv) kind() string      { return "memory" }
func (progressEv) kind() string    { return "progress" }
func (headersEv) kind() string     { return "headers" }
func (doneEv) kind() string        { return "done" }
func (sweepEv) kind() string       { return "sweep" }
func (rescheduleEv) kind() string  { return "reschedule" }

// sink forwards transfer unit events into the loop.
type sink struct{ rt *Runtime }

func (s sink) Progress(id uint32, run uuid.UUID, p task.Progress) {
	s.rt.post(progressEv{id: id, run: run, p: p})
}

func (s sink) Headers(id uint32, run uuid.UUID, h map[string][]string) {
	s.rt.post(headersEv{id: id, run: run, h: h})
}

func (s sink) Done(id uint32, run uuid.UUID, p task.Progress, err error) {
	s.rt.post(doneEv{id: id, run: run, p: p, err: err})
}
