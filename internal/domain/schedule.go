package domain

import (
	"encoding/json"
	"time"
)

// Continuation asks the scheduler to reschedule follow-on work using this
// DAG's result as input, instead of writing to the KVS or a response socket.
type Continuation struct {
	Name   string          `json:"name"`
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Schedule is the request-scoped plan threaded through every hop of a DAG
// invocation. It is immutable per request except at the emitting side of a
// continuation, where a new Schedule is constructed by the scheduler.
type Schedule struct {
	ID             string                     `json:"id"`
	Dag            Dag                        `json:"dag"`
	TargetFunction string                     `json:"target_function"`
	Arguments      map[string][]any           `json:"arguments"`
	Locations      map[string]string          `json:"locations"`
	OutputKey      string                     `json:"output_key,omitempty"`
	ResponseAddr   string                     `json:"response_address,omitempty"`
	Continuation   *Continuation              `json:"continuation,omitempty"`
	ClientID       string                     `json:"client_id"`
	Consistency    Consistency                `json:"consistency"`
	StartTime      time.Time                  `json:"start_time"`
}

// SinkKey returns the key a normal-mode sink write targets: the explicit
// output_key if set, otherwise the schedule's own id.
func (s *Schedule) SinkKey() string {
	if s.OutputKey != "" {
		return s.OutputKey
	}
	return s.ID
}
