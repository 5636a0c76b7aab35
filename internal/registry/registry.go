// Package registry is the process-wide index of live sessions:
// the actor map, the (provider, external_thread_id) <-> session_id alias
// tables a hook payload is resolved through, a time-boxed pending-session
// cache for the gap between a hook SessionStart and the first actionable
// hook, project MRU, and the sessions-list broadcast bus. It is the one
// place process-wide mutable state is allowed to live;
// everything else is confined to a single session's actor.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/robdel12/orbitdock/internal/sessionactor"
	"github.com/robdel12/orbitdock/pkg/types"
)

// sessionsListTopic is the single watermill topic the list-subscription
// bus publishes MsgSessionsList frames on.
const sessionsListTopic = "sessions.list"

// PendingTTL bounds how long a SessionStart placeholder stays in the pending
// cache before SweepPending evicts it.
const PendingTTL = 2 * time.Minute

// mruLimit caps how many distinct project paths RecentProjects remembers.
const mruLimit = 20

// aliasKey identifies a session by its connector-side thread identity.
type aliasKey struct {
	Provider types.Provider
	ThreadID string
}

// PendingSession is a short-lived placeholder recorded for a hook
// SessionStart. LinkAlias, Remove and SweepPending (after PendingTTL) drop it.
type PendingSession struct {
	SessionID   string
	Provider    types.Provider
	ProjectPath string
	CreatedAt   time.Time
}

// Registry indexes every live session actor by ID and provides the
// cross-session bookkeeping the registry is responsible for.
type Registry struct {
	mu     sync.RWMutex
	actors map[string]*sessionactor.Actor

	aliases      map[aliasKey]string
	reverseAlias map[string]aliasKey

	pending map[string]*PendingSession

	mru []string

	naming map[string]bool // session IDs with an AI-naming call in flight

	persister sessionactor.Persister
	entropy   *ulid.MonotonicEntropy

	listBus *gochannel.GoChannel
}

// New creates an empty registry. persister is shared by every actor the
// registry creates.
func New(persister sessionactor.Persister) *Registry {
	return &Registry{
		actors:       make(map[string]*sessionactor.Actor),
		aliases:      make(map[aliasKey]string),
		reverseAlias: make(map[string]aliasKey),
		pending:      make(map[string]*PendingSession),
		naming:       make(map[string]bool),
		persister:    persister,
		entropy:      ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		listBus: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64, Persistent: false},
			watermill.NopLogger{},
		),
	}
}

// NewSessionID mints a lexically-sortable session ID, used by Create when the
// caller doesn't already have one (e.g. a resumed/forked session keeps its
// prior ID).
func (r *Registry) NewSessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), r.entropy).String()
}

// Create registers a new actor for session, generating an ID if unset, and
// publishes the resulting sessions-list delta.
func (r *Registry) Create(session types.Session) *sessionactor.Actor {
	if session.ID == "" {
		session.ID = r.NewSessionID()
	}
	actor := sessionactor.New(session, r.persister)

	r.mu.Lock()
	r.actors[session.ID] = actor
	r.touchMRULocked(session.ProjectPath)
	r.mu.Unlock()

	r.PublishList()
	return actor
}

// Get returns the actor for id, if live.
func (r *Registry) Get(id string) (*sessionactor.Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[id]
	return a, ok
}

// All returns every live actor, ordered by session ID for deterministic
// iteration (e.g. the order of ListSnapshots).
func (r *Registry) All() []*sessionactor.Actor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*sessionactor.Actor, 0, len(r.actors))
	for _, a := range r.actors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ListSnapshots returns the lightweight read model for every live session,
// the payload of a sessions_list frame.
func (r *Registry) ListSnapshots() []types.Snapshot {
	actors := r.All()
	out := make([]types.Snapshot, 0, len(actors))
	for _, a := range actors {
		out = append(out, a.GetSummary())
	}
	return out
}

// Remove ends and forgets session id: stops its actor, clears any alias
// pointing at it, and publishes the updated sessions list.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	a, ok := r.actors[id]
	if ok {
		delete(r.actors, id)
	}
	if key, ok := r.reverseAlias[id]; ok {
		delete(r.aliases, key)
		delete(r.reverseAlias, id)
	}
	delete(r.pending, id)
	delete(r.naming, id)
	r.mu.Unlock()

	if ok {
		a.Stop()
		r.PublishList()
	}
}

// LinkAlias records that (provider, externalThreadID) identifies sessionID,
// the mapping a hook payload's thread id is resolved through.
func (r *Registry) LinkAlias(provider types.Provider, externalThreadID, sessionID string) {
	key := aliasKey{Provider: provider, ThreadID: externalThreadID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.reverseAlias[sessionID]; ok {
		delete(r.aliases, old)
	}
	r.aliases[key] = sessionID
	r.reverseAlias[sessionID] = key
	delete(r.pending, sessionID)
}

// ResolveAlias looks up the session ID for a connector's external thread ID.
func (r *Registry) ResolveAlias(provider types.Provider, externalThreadID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.aliases[aliasKey{Provider: provider, ThreadID: externalThreadID}]
	return id, ok
}

// PutPending registers a SessionStart placeholder awaiting the session's
// first actionable hook.
func (r *Registry) PutPending(sessionID string, provider types.Provider, projectPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[sessionID] = &PendingSession{
		SessionID:   sessionID,
		Provider:    provider,
		ProjectPath: projectPath,
		CreatedAt:   time.Now(),
	}
}

// SweepPending evicts pending placeholders older than PendingTTL, returning
// the session IDs that expired so the caller can end them locally.
func (r *Registry) SweepPending() []string {
	cutoff := time.Now().Add(-PendingTTL)
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for id, p := range r.pending {
		if p.CreatedAt.Before(cutoff) {
			expired = append(expired, id)
			delete(r.pending, id)
		}
	}
	return expired
}

// WithNamingGuard runs fn for sessionID only if no AI-naming call is already
// in flight for it, returning false if one was already running. This is a
// single-flight guard scoped per-session rather than a general-purpose
// golang.org/x/sync/singleflight.Group, since the only caller (hook-driven
// AI thread naming) keys exclusively on session ID.
func (r *Registry) WithNamingGuard(sessionID string, fn func()) bool {
	r.mu.Lock()
	if r.naming[sessionID] {
		r.mu.Unlock()
		return false
	}
	r.naming[sessionID] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.naming, sessionID)
		r.mu.Unlock()
	}()

	fn()
	return true
}

func (r *Registry) touchMRULocked(projectPath string) {
	if projectPath == "" {
		return
	}
	for i, p := range r.mru {
		if p == projectPath {
			r.mru = append(r.mru[:i], r.mru[i+1:]...)
			break
		}
	}
	r.mru = append([]string{projectPath}, r.mru...)
	if len(r.mru) > mruLimit {
		r.mru = r.mru[:mruLimit]
	}
}

// TouchProject records projectPath as most-recently-used, called whenever a
// session is created or resumed against it.
func (r *Registry) TouchProject(projectPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchMRULocked(projectPath)
}

// RecentProjects returns up to limit most-recently-used project paths.
func (r *Registry) RecentProjects(limit int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.mru) {
		limit = len(r.mru)
	}
	out := make([]string, limit)
	copy(out, r.mru[:limit])
	return out
}

// PublishList marshals the current session list and publishes it on the
// watermill sessions-list topic for every SubscribeList caller.
func (r *Registry) PublishList() {
	frame := types.ServerMessage{Type: types.MsgSessionsList, Sessions: r.ListSnapshots()}
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("marshal sessions_list frame")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := r.listBus.Publish(sessionsListTopic, msg); err != nil {
		log.Error().Err(err).Msg("publish sessions_list frame")
	}
}

// SubscribeList returns a channel of raw sessions_list frame payloads; the
// caller (internal/server's gateway) is responsible for forwarding each
// message's payload verbatim to its WebSocket and Ack()ing it.
func (r *Registry) SubscribeList(ctx context.Context) (<-chan *message.Message, error) {
	ch, err := r.listBus.Subscribe(ctx, sessionsListTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe sessions list: %w", err)
	}
	return ch, nil
}

// Close shuts down every actor and the list bus. Intended for daemon
// shutdown only.
func (r *Registry) Close() error {
	r.mu.Lock()
	actors := make([]*sessionactor.Actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.actors = make(map[string]*sessionactor.Actor)
	r.mu.Unlock()

	for _, a := range actors {
		a.Stop()
	}
	return r.listBus.Close()
}
