package transport

// ChannelState is one of the four states a Channel moves through.
type ChannelState int

const (
	StateSearching ChannelState = iota
	StateConnecting
	StateActive
	StateDisconnected
)

func (s ChannelState) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Operation is the interface a pvop state machine implements so a Channel
// and Connection can drive it without importing pvop (which in turn
// depends on transport to send and receive wire bytes).
type Operation interface {
	IOID() uint32
	// OnChannelActive is called once the owning channel reaches Active,
	// either for the first time or after a reconnect; it is the signal to
	// send the operation's init/request and transition Connecting->Executing.
	OnChannelActive()
	// OnReply delivers one reply body for this operation's ioid, tagged
	// with the subcommand byte that arrived with it.
	OnReply(sub byte, body []byte) error
	// OnDisconnect moves the operation back to Connecting; it stays attached
	// to the channel and is never removed from opByIOID.
	OnDisconnect()
}

// Channel is a per-name, per-connection object tracking one named PV's
// reachability and every operation currently owned by it, whether still
// queued (Connecting) or already sent to the peer (Executing) — the
// distinction is the Operation's own concern, not the Channel's.
type Channel struct {
	conn *Connection
	name string
	cid  uint32 // client-chosen id used only during CREATE_CHANNEL negotiation
	sid  uint32 // server-assigned channel id once Active

	state ChannelState
	ops   map[uint32]Operation
}

func newChannel(conn *Connection, name string, cid uint32) *Channel {
	return &Channel{conn: conn, name: name, cid: cid, state: StateSearching, ops: make(map[uint32]Operation)}
}

// Name returns the channel's PV name.
func (c *Channel) Name() string { return c.name }

// State returns the channel's current lifecycle state.
func (c *Channel) State() ChannelState { return c.state }

// SID returns the server-assigned channel id; only meaningful once Active.
func (c *Channel) SID() uint32 { return c.sid }

// AddOp attaches op to the channel for the rest of its life (until
// RemoveOp). If the channel is already Active, op is driven immediately;
// otherwise it is driven later, when the channel reaches Active.
func (c *Channel) AddOp(op Operation) {
	c.ops[op.IOID()] = op
	if c.state == StateActive {
		op.OnChannelActive()
	}
}

// RemoveOp detaches op, called once it reaches Done and is being
// unregistered from the connection entirely.
func (c *Channel) RemoveOp(ioid uint32) { delete(c.ops, ioid) }

// markConnecting transitions out of Searching once the (out-of-scope)
// search phase completes and a CREATE_CHANNEL request is about to be sent.
func (c *Channel) markConnecting() { c.state = StateConnecting }

// markActive transitions to Active on a successful CREATE_CHANNEL reply
// and drives every attached operation's channel-active transition.
func (c *Channel) markActive(sid uint32) {
	c.sid = sid
	c.state = StateActive
	for _, op := range c.ops {
		op.OnChannelActive()
	}
}

// markDisconnected transitions to Disconnected on peer close or a failed
// CREATE_CHANNEL, pushing every attached operation back into Connecting.
func (c *Channel) markDisconnected() {
	c.state = StateDisconnected
	for _, op := range c.ops {
		op.OnDisconnect()
	}
}
