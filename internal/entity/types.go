// Package entity holds the normalized in-memory mirror of the remote fleet:
// agents, tasks, and the connections between agents. All mutation flows
// through idempotent upserts; the store never deletes an entity during a
// session even if the remote side stops reporting it.
package entity

import "time"

// AgentStatus is the reported lifecycle state of an agent. Unrecognized
// values are stored verbatim so a later client version can render them;
// Display folds them to the low-salience default.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentIdle     AgentStatus = "idle"
	AgentThinking AgentStatus = "thinking"
	AgentError    AgentStatus = "error"
)

// Display returns the status to render. Unknown values fall back to idle.
func (s AgentStatus) Display() AgentStatus {
	switch s {
	case AgentActive, AgentIdle, AgentThinking, AgentError:
		return s
	default:
		return AgentIdle
	}
}

// ContextWindow caps the context-token display. Stored values are never
// clamped, only the display.
const ContextWindow = 200_000

// Agent is one persistent or ephemeral reasoning worker.
type Agent struct {
	ID             string
	Label          string
	Model          string
	Status         AgentStatus
	MessageCount   int    // server-authoritative, monotonic
	LastActivity   string // server-authoritative display string
	SessionCount   int
	ActiveSessions int
	ContextTokens  int // 0 = unreported
	Description    string
}

// ContextDisplay returns the context token count capped at the window size.
func (a Agent) ContextDisplay() int {
	if a.ContextTokens > ContextWindow {
		return ContextWindow
	}
	return a.ContextTokens
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskType distinguishes recurring from one-off work.
type TaskType string

const (
	TaskCron  TaskType = "cron"
	TaskSpawn TaskType = "spawn"
)

// Task is a recurring (cron) or ephemeral (spawn) unit of work.
//
// Duration sourcing: while Status is running, StartTime is authoritative;
// otherwise Elapsed is. The store derives the final Elapsed exactly once,
// at the transition out of running.
type Task struct {
	ID          string
	Label       string
	Status      TaskStatus
	Type        TaskType
	Model       string
	StartTime   int64   // epoch milliseconds, required while running
	Elapsed     float64 // seconds, used when not running
	LastMessage string
	AgentID     string // soft foreign key to Agent.ID
	Schedule    string // cron expression, cron-type tasks only
}

// Duration returns the authoritative task duration at time now.
func (t Task) Duration(now time.Time) time.Duration {
	if t.Status == TaskRunning && t.StartTime > 0 {
		d := now.Sub(time.UnixMilli(t.StartTime))
		if d < 0 {
			return 0
		}
		return d
	}
	return time.Duration(t.Elapsed * float64(time.Second))
}

// Connection is a directed relationship between two agents. From and To are
// soft foreign keys: they are not required to resolve at merge time, and
// readers must tolerate dangling references.
type Connection struct {
	ID        string
	From      string
	To        string
	Active    bool
	Label     string
	TaskCount int
}

// AgentPatch is a partial agent record. Nil fields are left untouched by the
// merge; ID is required.
type AgentPatch struct {
	ID             string
	Label          *string
	Model          *string
	Status         *string
	MessageCount   *int
	LastActivity   *string
	SessionCount   *int
	ActiveSessions *int
	ContextTokens  *int
	Description    *string
}

// TaskPatch is a partial task record.
type TaskPatch struct {
	ID          string
	Label       *string
	Status      *string
	Type        *string
	Model       *string
	StartTime   *int64
	Elapsed     *float64
	LastMessage *string
	AgentID     *string
	Schedule    *string
}

// ConnectionPatch is a partial connection record.
type ConnectionPatch struct {
	ID        string
	From      *string
	To        *string
	Active    *bool
	Label     *string
	TaskCount *int
}

// Update is a normalized inbound mutation emitted by the transport layer.
// Exactly one of the fields is set.
type Update struct {
	Agent            *AgentPatch
	Task             *TaskPatch
	Connection       *ConnectionPatch
	CounterIncrement bool
}
