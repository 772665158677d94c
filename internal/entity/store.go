package entity

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"
)

// ErrMissingID is returned when an upsert arrives without an entity id.
// This is a caller bug, not a runtime condition: the transport layer
// validates payloads before they reach the store.
var ErrMissingID = errors.New("entity id is required")

// Store is the single source of truth for current entity state. Absence is a
// valid starting state for every upsert; reads on an empty store return
// empty collections.
type Store struct {
	mu sync.RWMutex

	agents     map[string]*Agent
	agentOrder []string

	tasks     map[string]*Task
	taskOrder []string

	conns     map[string]*Connection
	connOrder []string

	connected bool
	messages  uint64

	log *slog.Logger
	now func() time.Time
}

// NewStore creates an empty store. logger may be nil.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		agents: make(map[string]*Agent),
		tasks:  make(map[string]*Task),
		conns:  make(map[string]*Connection),
		log:    logger,
		now:    time.Now,
	}
}

// UpsertAgent shallow-merges the patch over the existing agent, creating it
// with documented defaults (status idle, counts zero) if absent. Applying
// the same patch twice yields the same state as applying it once.
func (s *Store) UpsertAgent(p AgentPatch) error {
	if p.ID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[p.ID]
	if !ok {
		a = &Agent{ID: p.ID, Status: AgentIdle}
		s.agents[p.ID] = a
		s.agentOrder = append(s.agentOrder, p.ID)
	}
	if p.Label != nil {
		a.Label = *p.Label
	}
	if p.Model != nil {
		a.Model = *p.Model
	}
	if p.Status != nil {
		// Stored verbatim even when unrecognized; Display handles fallback.
		a.Status = AgentStatus(*p.Status)
	}
	if p.MessageCount != nil {
		a.MessageCount = *p.MessageCount
	}
	if p.LastActivity != nil {
		a.LastActivity = *p.LastActivity
	}
	if p.SessionCount != nil {
		a.SessionCount = *p.SessionCount
	}
	if p.ActiveSessions != nil {
		a.ActiveSessions = *p.ActiveSessions
	}
	if p.ContextTokens != nil {
		a.ContextTokens = *p.ContextTokens
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	return nil
}

// UpsertTask merges the patch over the existing task. A transition out of
// running into completed or failed derives the final Elapsed from StartTime
// once, at transition time, unless the patch carries its own Elapsed.
func (s *Store) UpsertTask(p TaskPatch) error {
	if p.ID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[p.ID]
	if !ok {
		t = &Task{ID: p.ID}
		s.tasks[p.ID] = t
		s.taskOrder = append(s.taskOrder, p.ID)
	}

	wasRunning := t.Status == TaskRunning
	startBefore := t.StartTime

	if p.Label != nil {
		t.Label = *p.Label
	}
	if p.Status != nil {
		t.Status = TaskStatus(*p.Status)
	}
	if p.Type != nil {
		t.Type = TaskType(*p.Type)
	}
	if p.Model != nil {
		t.Model = *p.Model
	}
	if p.StartTime != nil {
		t.StartTime = *p.StartTime
	}
	if p.Elapsed != nil {
		t.Elapsed = *p.Elapsed
	}
	if p.LastMessage != nil {
		t.LastMessage = *p.LastMessage
	}
	if p.AgentID != nil {
		t.AgentID = *p.AgentID
	}
	if p.Schedule != nil {
		t.Schedule = *p.Schedule
	}

	finished := t.Status == TaskCompleted || t.Status == TaskFailed
	if wasRunning && finished && p.Elapsed == nil && startBefore > 0 {
		t.Elapsed = s.now().Sub(time.UnixMilli(startBefore)).Seconds()
		if t.Elapsed < 0 {
			t.Elapsed = 0
		}
	}
	return nil
}

// UpsertConnection merges the patch over the existing connection. Endpoints
// are not checked against the agent table (soft foreign keys).
func (s *Store) UpsertConnection(p ConnectionPatch) error {
	if p.ID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[p.ID]
	if !ok {
		c = &Connection{ID: p.ID}
		s.conns[p.ID] = c
		s.connOrder = append(s.connOrder, p.ID)
	}
	if p.From != nil {
		c.From = *p.From
	}
	if p.To != nil {
		c.To = *p.To
	}
	if p.Active != nil {
		c.Active = *p.Active
	}
	if p.Label != nil {
		c.Label = *p.Label
	}
	if p.TaskCount != nil {
		c.TaskCount = *p.TaskCount
	}
	return nil
}

// ApplyUpdate dispatches a normalized update to the matching upsert.
// Full-state poll responses apply with the same last-write-wins merge as
// push updates; no timestamps are compared across a failover boundary, so a
// stale poll arriving after a newer push can restore an older field value.
func (s *Store) ApplyUpdate(u Update) error {
	switch {
	case u.Agent != nil:
		return s.UpsertAgent(*u.Agent)
	case u.Task != nil:
		return s.UpsertTask(*u.Task)
	case u.Connection != nil:
		return s.UpsertConnection(*u.Connection)
	case u.CounterIncrement:
		s.IncrementMessages()
		return nil
	default:
		return nil
	}
}

// SetConnected records the current connectivity state.
func (s *Store) SetConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// Connected reports the last recorded connectivity state.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// IncrementMessages bumps the session message counter. The counter saturates
// instead of wrapping.
func (s *Store) IncrementMessages() {
	s.mu.Lock()
	if s.messages < math.MaxUint64 {
		s.messages++
	}
	s.mu.Unlock()
}

// Messages returns the session message counter.
func (s *Store) Messages() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages
}

// Agents returns all agents in insertion order.
func (s *Store) Agents() []Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Agent, 0, len(s.agentOrder))
	for _, id := range s.agentOrder {
		out = append(out, *s.agents[id])
	}
	return out
}

// Agent returns a single agent by id.
func (s *Store) Agent(id string) (Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// AgentIDs returns all agent ids in insertion order. This is the canonical
// order the layout engine consumes.
func (s *Store) AgentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.agentOrder))
	copy(out, s.agentOrder)
	return out
}

// TaskFilter selects tasks in Tasks. Zero values match everything.
type TaskFilter struct {
	Status TaskStatus
	Type   TaskType
}

// Tasks returns tasks matching the filter, in insertion order.
func (s *Store) Tasks(f TaskFilter) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		out = append(out, *t)
	}
	if out == nil {
		out = []Task{}
	}
	return out
}

// Task returns a single task by id.
func (s *Store) Task(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Connections returns all connections in insertion order.
func (s *Store) Connections() []Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Connection, 0, len(s.connOrder))
	for _, id := range s.connOrder {
		out = append(out, *s.conns[id])
	}
	return out
}

// FanCounts returns the inbound and outbound connection counts for an agent.
// Derived on read so the counts can never drift from the connection table.
func (s *Store) FanCounts(agentID string) (in, out int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.connOrder {
		c := s.conns[id]
		if c.To == agentID {
			in++
		}
		if c.From == agentID {
			out++
		}
	}
	return in, out
}
