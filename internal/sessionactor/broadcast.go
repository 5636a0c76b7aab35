package sessionactor

import "github.com/robdel12/orbitdock/pkg/types"

// broadcast appends msg to the replay ring buffer and fans it out to every
// live subscriber channel, dropping (never blocking) on a full one. Must
// only be called from the actor's own goroutine.
func (a *Actor) broadcast(msg *types.ServerMessage) {
	a.log = append(a.log, logEntry{revision: msg.Revision, msg: msg})
	if len(a.log) > EventLogCapacity {
		a.log = a.log[len(a.log)-EventLogCapacity:]
	}

	for _, ch := range a.subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber: it will see the gap on its next Subscribe call
			// and fall back to a full snapshot.
		}
	}
}

// Broadcast publishes an out-of-band frame (e.g. ExecuteShell output chunks)
// without going through transition.Transition.
func (a *Actor) Broadcast(msg *types.ServerMessage) {
	call(a, func() struct{} {
		a.session.Revision++
		msg.Revision = a.session.Revision
		msg.SessionID = a.id
		a.broadcast(msg)
		return struct{}{}
	})
}

// Subscribe registers a live listener and returns any buffered events after
// sinceRevision plus a channel for further events. If sinceRevision predates
// the ring buffer's oldest entry (a gap), replay is nil and the caller must
// fall back to a full session snapshot — signaled by the second return value.
func (a *Actor) Subscribe(sinceRevision int64) (replay []*types.ServerMessage, gap bool, ch chan *types.ServerMessage, subID int64) {
	return call(a, func() subscribeResult {
		var out []*types.ServerMessage
		hadGap := sinceRevision > 0
		for _, e := range a.log {
			if e.revision > sinceRevision {
				out = append(out, e.msg)
				hadGap = false
			}
		}
		if len(a.log) > 0 && sinceRevision > 0 && a.log[0].revision > sinceRevision+1 {
			hadGap = true
			out = nil
		}
		if sinceRevision == 0 {
			hadGap = false
		}

		a.nextSub++
		id := a.nextSub
		c := make(chan *types.ServerMessage, BroadcastCapacity)
		a.subs[id] = c

		return subscribeResult{replay: out, gap: hadGap, ch: c, id: id}
	}).unpack()
}

type subscribeResult struct {
	replay []*types.ServerMessage
	gap    bool
	ch     chan *types.ServerMessage
	id     int64
}

func (r subscribeResult) unpack() (replay []*types.ServerMessage, gap bool, ch chan *types.ServerMessage, id int64) {
	return r.replay, r.gap, r.ch, r.id
}

// Unsubscribe removes a subscriber registered by Subscribe and closes its
// channel.
func (a *Actor) Unsubscribe(subID int64) {
	call(a, func() struct{} {
		if ch, ok := a.subs[subID]; ok {
			delete(a.subs, subID)
			close(ch)
		}
		return struct{}{}
	})
}
