package client

import "time"

// ConnectedEvent fires once the server confirms the registered connection.
type ConnectedEvent struct {
	Identity     string
	ConnectionID string
	SessionID    string
}

// DisconnectedEvent fires whenever an open or pending connection ends.
// Terminal is true when no reconnect is scheduled.
type DisconnectedEvent struct {
	Code     int
	Reason   string
	Terminal bool
	Attempt  int
}

// OnlineSetChangedEvent carries the complete online set. Identities is sorted.
type OnlineSetChangedEvent struct {
	Identities []string
	Revision   uint64
}

// NoticeLevel classifies a NoticeEvent.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeSuccess
	NoticeWarn
	NoticeError
)

func (l NoticeLevel) String() string {
	switch l {
	case NoticeSuccess:
		return "success"
	case NoticeWarn:
		return "warn"
	case NoticeError:
		return "error"
	default:
		return "info"
	}
}

// NoticeEvent is a short user-facing message.
type NoticeEvent struct {
	Level   NoticeLevel
	Message string
	At      time.Time
}

// Listener receives client events. Callbacks run synchronously on the
// goroutine that produced the event and must not block.
type Listener interface {
	OnAuthState(Snapshot)
	OnConnected(ConnectedEvent)
	OnDisconnected(DisconnectedEvent)
	OnOnlineSetChanged(OnlineSetChangedEvent)
	OnNotice(NoticeEvent)
}

// ListenerFuncs adapts optional functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	AuthState        func(Snapshot)
	Connected        func(ConnectedEvent)
	Disconnected     func(DisconnectedEvent)
	OnlineSetChanged func(OnlineSetChangedEvent)
	Notice           func(NoticeEvent)
}

func (f ListenerFuncs) OnAuthState(s Snapshot) {
	if f.AuthState != nil {
		f.AuthState(s)
	}
}

func (f ListenerFuncs) OnConnected(e ConnectedEvent) {
	if f.Connected != nil {
		f.Connected(e)
	}
}

func (f ListenerFuncs) OnDisconnected(e DisconnectedEvent) {
	if f.Disconnected != nil {
		f.Disconnected(e)
	}
}

func (f ListenerFuncs) OnOnlineSetChanged(e OnlineSetChangedEvent) {
	if f.OnlineSetChanged != nil {
		f.OnlineSetChanged(e)
	}
}

func (f ListenerFuncs) OnNotice(e NoticeEvent) {
	if f.Notice != nil {
		f.Notice(e)
	}
}

// event is a deferred listener call, collected under a lock and delivered after it.
type event func(Listener)

func deliver(l Listener, evs []event) {
	if l == nil {
		return
	}
	for _, e := range evs {
		e(l)
	}
}
