package collab

import (
	"errors"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid query transition")
	ErrEmptyResponse     = errors.New("empty response")
	ErrEmptyError        = errors.New("empty error")
)

// QueryStatus is the lifecycle state of an agent query.
type QueryStatus string

const (
	QueryPending   QueryStatus = "pending"
	QueryStreaming QueryStatus = "streaming"
	QueryCompleted QueryStatus = "completed"
	QueryFailed    QueryStatus = "failed"
)

// AgentQuery tracks one AI-generation request bound to a placeholder node in
// the document. Transitions are one-way and return a new value; terminal
// queries are immutable.
type AgentQuery struct {
	QueryID   string      `json:"query_id"`
	NodeID    string      `json:"node_id"`
	Question  string      `json:"question"`
	Status    QueryStatus `json:"status"`
	Response  string      `json:"response,omitempty"`
	Err       string      `json:"error,omitempty"`
	StartTime time.Time   `json:"start_time"`
	EndTime   *time.Time  `json:"end_time,omitempty"`
}

func NewAgentQuery(nodeID, question string, now time.Time) (AgentQuery, error) {
	question = trimmedQuestion(question)
	if question == "" {
		return AgentQuery{}, ErrEmptyQuestion
	}
	return AgentQuery{
		QueryID:   newQueryID(),
		NodeID:    nodeID,
		Question:  question,
		Status:    QueryPending,
		StartTime: now,
	}, nil
}

func (q AgentQuery) MarkStreaming() (AgentQuery, error) {
	if q.Status != QueryPending {
		return q, ErrInvalidTransition
	}
	q.Status = QueryStreaming
	return q, nil
}

func (q AgentQuery) MarkCompleted(response string, now time.Time) (AgentQuery, error) {
	if q.Status != QueryStreaming {
		return q, ErrInvalidTransition
	}
	if response == "" {
		return q, ErrEmptyResponse
	}
	q.Status = QueryCompleted
	q.Response = response
	q.EndTime = &now
	return q, nil
}

func (q AgentQuery) MarkFailed(errMsg string, now time.Time) (AgentQuery, error) {
	if q.Status != QueryPending && q.Status != QueryStreaming {
		return q, ErrInvalidTransition
	}
	if errMsg == "" {
		return q, ErrEmptyError
	}
	q.Status = QueryFailed
	q.Err = errMsg
	q.EndTime = &now
	return q, nil
}

// Duration returns the elapsed time between start and terminal transition.
// It reports false until the query reaches completed or failed.
func (q AgentQuery) Duration() (time.Duration, bool) {
	if q.EndTime == nil {
		return 0, false
	}
	return q.EndTime.Sub(q.StartTime), true
}

func (q AgentQuery) IsActive() bool {
	return q.Status == QueryPending || q.Status == QueryStreaming
}
