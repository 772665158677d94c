package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/basket/fleetview/internal/entity"
)

// Wire payload shapes. Every field is optional except the id; pointer
// fields distinguish "absent" from zero so merges leave untouched fields
// alone.

type agentPayload struct {
	ID             string  `json:"id"`
	Label          *string `json:"label"`
	Model          *string `json:"model"`
	Status         *string `json:"status"`
	MessageCount   *int    `json:"message_count"`
	LastActivity   *string `json:"last_activity"`
	SessionCount   *int    `json:"session_count"`
	ActiveSessions *int    `json:"active_sessions"`
	ContextTokens  *int    `json:"context_tokens"`
	Description    *string `json:"description"`
}

func (p *agentPayload) patch() entity.AgentPatch {
	return entity.AgentPatch{
		ID:             p.ID,
		Label:          p.Label,
		Model:          p.Model,
		Status:         p.Status,
		MessageCount:   p.MessageCount,
		LastActivity:   p.LastActivity,
		SessionCount:   p.SessionCount,
		ActiveSessions: p.ActiveSessions,
		ContextTokens:  p.ContextTokens,
		Description:    p.Description,
	}
}

type taskPayload struct {
	ID          string   `json:"id"`
	Label       *string  `json:"label"`
	Status      *string  `json:"status"`
	Type        *string  `json:"type"`
	Model       *string  `json:"model"`
	StartTime   *int64   `json:"start_time"`
	Elapsed     *float64 `json:"elapsed"`
	LastMessage *string  `json:"last_message"`
	AgentID     *string  `json:"agent_id"`
	ParentAgent *string  `json:"parent_agent"`
	Schedule    *string  `json:"schedule"`
}

func (p *taskPayload) patch() entity.TaskPatch {
	agentID := p.AgentID
	if agentID == nil {
		agentID = p.ParentAgent
	}
	return entity.TaskPatch{
		ID:          p.ID,
		Label:       p.Label,
		Status:      p.Status,
		Type:        p.Type,
		Model:       p.Model,
		StartTime:   p.StartTime,
		Elapsed:     p.Elapsed,
		LastMessage: p.LastMessage,
		AgentID:     agentID,
		Schedule:    p.Schedule,
	}
}

type connectionPayload struct {
	ID        string  `json:"id"`
	From      *string `json:"from"`
	To        *string `json:"to"`
	Active    *bool   `json:"active"`
	Label     *string `json:"label"`
	TaskCount *int    `json:"task_count"`
}

func (p *connectionPayload) patch() entity.ConnectionPatch {
	return entity.ConnectionPatch{
		ID:        p.ID,
		From:      p.From,
		To:        p.To,
		Active:    p.Active,
		Label:     p.Label,
		TaskCount: p.TaskCount,
	}
}

// envelope is one push-transport message. The type discriminator selects
// which payload field is meaningful.
type envelope struct {
	Type       string             `json:"type"`
	Agent      *agentPayload      `json:"agent"`
	Task       *taskPayload       `json:"task"`
	Session    *taskPayload       `json:"session"`
	Connection *connectionPayload `json:"connection"`
	AgentID    string             `json:"agent_id"`
}

// normalizePush translates one raw push payload into normalized updates.
// Any error means the message is malformed or unrecognized and must be
// dropped, never propagated as fatal.
func normalizePush(raw json.RawMessage) ([]entity.Update, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case "agent_update":
		if env.Agent == nil || env.Agent.ID == "" {
			return nil, fmt.Errorf("agent_update without agent id")
		}
		p := env.Agent.patch()
		return []entity.Update{{Agent: &p}}, nil

	case "session_update", "task_update":
		t := env.Task
		if t == nil {
			t = env.Session
		}
		if t == nil || t.ID == "" {
			return nil, fmt.Errorf("%s without task id", env.Type)
		}
		p := t.patch()
		return []entity.Update{{Task: &p}}, nil

	case "connection_update":
		if env.Connection == nil || env.Connection.ID == "" {
			return nil, fmt.Errorf("connection_update without connection id")
		}
		p := env.Connection.patch()
		return []entity.Update{{Connection: &p}}, nil

	case "message_event":
		return []entity.Update{{CounterIncrement: true}}, nil

	default:
		return nil, fmt.Errorf("unrecognized message type %q", env.Type)
	}
}

// stateObject is the documented full-state response shape.
type stateObject struct {
	Agents      []agentPayload      `json:"agents"`
	Tasks       []taskPayload       `json:"tasks"`
	Connections []connectionPayload `json:"connections"`
}

// stateProbe sniffs the kind of a bare-array state record.
type stateProbe struct {
	Kind      string   `json:"kind"`
	From      *string  `json:"from"`
	To        *string  `json:"to"`
	StartTime *int64   `json:"start_time"`
	Elapsed   *float64 `json:"elapsed"`
}

// normalizeState translates a full-state response into normalized updates.
// The response is either an object with agents/tasks/connections arrays or
// a bare array of entity records. Individual records without an id are
// skipped; dropped counts how many.
func normalizeState(raw json.RawMessage) (updates []entity.Update, dropped int, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, 0, fmt.Errorf("empty state response")
	}

	if trimmed[0] == '{' {
		var obj stateObject
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, 0, fmt.Errorf("decode state object: %w", err)
		}
		for i := range obj.Agents {
			if obj.Agents[i].ID == "" {
				dropped++
				continue
			}
			p := obj.Agents[i].patch()
			updates = append(updates, entity.Update{Agent: &p})
		}
		for i := range obj.Tasks {
			if obj.Tasks[i].ID == "" {
				dropped++
				continue
			}
			p := obj.Tasks[i].patch()
			updates = append(updates, entity.Update{Task: &p})
		}
		for i := range obj.Connections {
			if obj.Connections[i].ID == "" {
				dropped++
				continue
			}
			p := obj.Connections[i].patch()
			updates = append(updates, entity.Update{Connection: &p})
		}
		return updates, dropped, nil
	}

	if trimmed[0] != '[' {
		return nil, 0, fmt.Errorf("state response is neither object nor array")
	}
	var records []json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, 0, fmt.Errorf("decode state array: %w", err)
	}
	for _, rec := range records {
		u, ok := normalizeStateRecord(rec)
		if !ok {
			dropped++
			continue
		}
		updates = append(updates, u)
	}
	return updates, dropped, nil
}

func normalizeStateRecord(rec json.RawMessage) (entity.Update, bool) {
	var probe stateProbe
	if err := json.Unmarshal(rec, &probe); err != nil {
		return entity.Update{}, false
	}

	kind := probe.Kind
	if kind == "" {
		switch {
		case probe.From != nil && probe.To != nil:
			kind = "connection"
		case probe.StartTime != nil || probe.Elapsed != nil:
			kind = "task"
		default:
			kind = "agent"
		}
	}

	switch kind {
	case "agent":
		var p agentPayload
		if json.Unmarshal(rec, &p) != nil || p.ID == "" {
			return entity.Update{}, false
		}
		patch := p.patch()
		return entity.Update{Agent: &patch}, true
	case "task":
		var p taskPayload
		if json.Unmarshal(rec, &p) != nil || p.ID == "" {
			return entity.Update{}, false
		}
		patch := p.patch()
		return entity.Update{Task: &patch}, true
	case "connection":
		var p connectionPayload
		if json.Unmarshal(rec, &p) != nil || p.ID == "" {
			return entity.Update{}, false
		}
		patch := p.patch()
		return entity.Update{Connection: &patch}, true
	default:
		return entity.Update{}, false
	}
}
