package task

// Command is an owner-issued operation on an existing task.
type Command uint8

const (
	CmdStart Command = iota
	CmdPause
	CmdResume
	CmdStop
	CmdRemove
	CmdSetMode
	CmdSetMaxSpeed
)

// AllCommands lists every command in a stable order.
var AllCommands = []Command{CmdStart, CmdPause, CmdResume, CmdStop, CmdRemove, CmdSetMode, CmdSetMaxSpeed}

func (c Command) String() string {
	switch c {
	case CmdStart:
		return "start"
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdStop:
		return "stop"
	case CmdRemove:
		return "remove"
	case CmdSetMode:
		return "set_mode"
	case CmdSetMaxSpeed:
		return "set_max_speed"
	}
	return "unknown"
}

// Transition returns the state a task ends in when cmd is applied to a task of
// the given action in state from. ok is false when the command is illegal there.
// Metadata commands return from unchanged.
func Transition(cmd Command, from State, action Action) (next State, ok bool) {
	switch cmd {
	case CmdStart:
		switch from {
		case StateInitialized, StatePaused:
			return StateWaiting, true
		case StateStopped:
			// stopped uploads cannot be restarted
			if action == ActionDownload {
				return StateWaiting, true
			}
		}
	case CmdPause:
		switch from {
		case StateRunning, StateRetrying, StateWaiting:
			return StatePaused, true
		}
	case CmdResume:
		if from == StatePaused {
			return StateWaiting, true
		}
	case CmdStop:
		switch from {
		case StateRunning, StateRetrying, StateWaiting:
			return StateStopped, true
		}
	case CmdRemove:
		return StateRemoved, true
	case CmdSetMode:
		return from, true
	case CmdSetMaxSpeed:
		if from != StateRemoved {
			return from, true
		}
	}
	return from, false
}
