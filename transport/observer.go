package transport

import "github.com/pithecene-io/voxlink/types"

// ConnectionObserver is told about session connection changes. Callbacks run
// on the session's network goroutine and must not block.
type ConnectionObserver interface {
	OnConnected()
	OnDisconnected(reason types.ChangedReason)
	OnServerSideDisconnect()
}

// ConnectionObserverFuncs adapts optional functions to a ConnectionObserver.
type ConnectionObserverFuncs struct {
	Connected            func()
	Disconnected         func(types.ChangedReason)
	ServerSideDisconnect func()
}

func (f ConnectionObserverFuncs) OnConnected() {
	if f.Connected != nil {
		f.Connected()
	}
}

func (f ConnectionObserverFuncs) OnDisconnected(reason types.ChangedReason) {
	if f.Disconnected != nil {
		f.Disconnected(reason)
	}
}

func (f ConnectionObserverFuncs) OnServerSideDisconnect() {
	if f.ServerSideDisconnect != nil {
		f.ServerSideDisconnect()
	}
}
