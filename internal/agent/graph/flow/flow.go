// Package flow holds the turn transition table. The compiled graph is built from it,
// so routing can be tested without running any stage.
package flow

import (
	"fmt"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
)

const (
	StageLoadHistory     = "load_history"
	StageAnalysis        = "analysis"
	StageEscalationCheck = "escalation_check"
	StageRetrieval       = "retrieval"
	StageSynthesis       = "response_synthesis"
	StagePersistHistory  = "persist_history"

	// End terminates the turn.
	End = "end"
)

// Condition decides whether a transition applies to the state leaving a stage.
type Condition func(*model.ConversationState) bool

// Transition is one edge of the table. A nil When always applies.
type Transition struct {
	To   string
	When Condition
	Name string
}

// Table maps each stage to its ordered transitions; the first that applies wins.
type Table struct {
	Start  string
	Stages []string
	edges  map[string][]Transition
}

// HumanHandling holds when an operator already owns the conversation.
func HumanHandling(s *model.ConversationState) bool {
	return s != nil && s.HumanHandling
}

// NeedsRetrieval holds for search turns that were not escalated.
func NeedsRetrieval(s *model.ConversationState) bool {
	return s != nil && s.ResponseStrategy == model.StrategySearchAndAnswer && !s.RequiresHuman
}

// Default is the fixed turn flow.
func Default() *Table {
	t := New(StageLoadHistory)
	t.Add(StageLoadHistory,
		Transition{To: StagePersistHistory, When: HumanHandling, Name: "human_handling"},
		Transition{To: StageAnalysis},
	)
	t.Add(StageAnalysis, Transition{To: StageEscalationCheck})
	t.Add(StageEscalationCheck,
		Transition{To: StageRetrieval, When: NeedsRetrieval, Name: "needs_retrieval"},
		Transition{To: StageSynthesis},
	)
	t.Add(StageRetrieval, Transition{To: StageSynthesis})
	t.Add(StageSynthesis, Transition{To: StagePersistHistory})
	t.Add(StagePersistHistory, Transition{To: End})
	return t
}

func New(start string) *Table {
	return &Table{Start: start, edges: map[string][]Transition{}}
}

// Add declares stage and appends its transitions.
func (t *Table) Add(stage string, transitions ...Transition) {
	if _, ok := t.edges[stage]; !ok {
		t.Stages = append(t.Stages, stage)
	}
	t.edges[stage] = append(t.edges[stage], transitions...)
}

// Transitions returns the ordered transitions leaving stage.
func (t *Table) Transitions(stage string) []Transition {
	return t.edges[stage]
}

// Next returns the stage that follows stage for s, or End.
func (t *Table) Next(stage string, s *model.ConversationState) string {
	for _, tr := range t.edges[stage] {
		if tr.When == nil || tr.When(s) {
			return tr.To
		}
	}
	return End
}

// Successors lists every distinct target of stage in declaration order.
func (t *Table) Successors(stage string) []string {
	var out []string
	seen := map[string]bool{}
	for _, tr := range t.edges[stage] {
		if !seen[tr.To] {
			seen[tr.To] = true
			out = append(out, tr.To)
		}
	}
	return out
}

// Conditional reports whether stage needs a branch rather than a plain edge.
func (t *Table) Conditional(stage string) bool {
	return len(t.Successors(stage)) > 1
}

// Validate checks that every target is declared, every stage ends in an
// unconditional transition, every stage is reachable and End is reachable
// without cycles.
func (t *Table) Validate() error {
	if _, ok := t.edges[t.Start]; !ok {
		return fmt.Errorf("flow: start stage %q is not declared", t.Start)
	}
	for _, stage := range t.Stages {
		trs := t.edges[stage]
		if len(trs) == 0 {
			return fmt.Errorf("flow: stage %q has no transitions", stage)
		}
		if trs[len(trs)-1].When != nil {
			return fmt.Errorf("flow: last transition of %q must be unconditional", stage)
		}
		for _, tr := range trs {
			if tr.To == End {
				continue
			}
			if _, ok := t.edges[tr.To]; !ok {
				return fmt.Errorf("flow: %q -> %q targets an undeclared stage", stage, tr.To)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	marks := map[string]int{}
	var visit func(string) error
	visit = func(stage string) error {
		switch marks[stage] {
		case visiting:
			return fmt.Errorf("flow: cycle through %q", stage)
		case done:
			return nil
		}
		marks[stage] = visiting
		for _, next := range t.Successors(stage) {
			if next == End {
				continue
			}
			if err := visit(next); err != nil {
				return err
			}
		}
		marks[stage] = done
		return nil
	}
	if err := visit(t.Start); err != nil {
		return err
	}
	for _, stage := range t.Stages {
		if marks[stage] != done {
			return fmt.Errorf("flow: stage %q is unreachable", stage)
		}
	}
	return nil
}

// Path walks the table for a state that does not change between stages.
func (t *Table) Path(s *model.ConversationState) []string {
	var path []string
	for stage := t.Start; stage != End && len(path) <= len(t.Stages); stage = t.Next(stage, s) {
		path = append(path, stage)
	}
	return path
}
