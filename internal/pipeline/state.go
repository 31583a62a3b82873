// Package pipeline drives the end-to-end extraction pipeline for one
// document: chunk, embed, index, retrieve, extract, reconcile.
package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition indicates an attempted state transition the
// machine does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is a stage of the per-document pipeline.
type State string

const (
	StatePending     State = "pending"
	StateChunking    State = "chunking"
	StateEmbedding   State = "embedding"
	StateRetrieving  State = "retrieving"
	StateExtracting  State = "extracting"
	StateReconciling State = "reconciling"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// transitions is the full transition relation. Transitions are
// one-directional; the only state that may repeat is extracting, once
// per field group. failed is reachable from every non-terminal state.
var transitions = map[State][]State{
	StatePending:     {StateChunking, StateFailed},
	StateChunking:    {StateEmbedding, StateFailed},
	StateEmbedding:   {StateRetrieving, StateFailed},
	StateRetrieving:  {StateExtracting, StateFailed},
	StateExtracting:  {StateExtracting, StateReconciling, StateFailed},
	StateReconciling: {StateCompleted, StateFailed},
	StateCompleted:   nil,
	StateFailed:      nil,
}

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether the machine allows s -> next.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// pipelineState tracks a single document's progress through the machine.
type pipelineState struct {
	current State
}

func newPipelineState() *pipelineState {
	return &pipelineState{current: StatePending}
}

// advance moves the machine to next, or reports ErrInvalidTransition.
func (p *pipelineState) advance(next State) error {
	if !p.current.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.current, next)
	}
	p.current = next
	return nil
}
