package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
)

func state(strategy model.Strategy, requiresHuman, humanHandling bool) *model.ConversationState {
	s := model.NewConversationState(model.Inbound{ConversationID: "c1", Message: "hi"})
	s.ResponseStrategy = strategy
	s.RequiresHuman = requiresHuman
	s.HumanHandling = humanHandling
	return s
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDefaultPaths(t *testing.T) {
	tbl := Default()
	tests := []struct {
		name  string
		state *model.ConversationState
		want  []string
	}{
		{
			name:  "search",
			state: state(model.StrategySearchAndAnswer, false, false),
			want:  []string{StageLoadHistory, StageAnalysis, StageEscalationCheck, StageRetrieval, StageSynthesis, StagePersistHistory},
		},
		{
			name:  "direct",
			state: state(model.StrategyDirectAnswer, false, false),
			want:  []string{StageLoadHistory, StageAnalysis, StageEscalationCheck, StageSynthesis, StagePersistHistory},
		},
		{
			name:  "polite fallback",
			state: state(model.StrategyPoliteFallback, false, false),
			want:  []string{StageLoadHistory, StageAnalysis, StageEscalationCheck, StageSynthesis, StagePersistHistory},
		},
		{
			name:  "escalated search",
			state: state(model.StrategySearchAndAnswer, true, false),
			want:  []string{StageLoadHistory, StageAnalysis, StageEscalationCheck, StageSynthesis, StagePersistHistory},
		},
		{
			name:  "human handling",
			state: state(model.StrategySearchAndAnswer, false, true),
			want:  []string{StageLoadHistory, StagePersistHistory},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tbl.Path(tt.state))
		})
	}
}

func TestSuccessors(t *testing.T) {
	tbl := Default()
	assert.Equal(t, []string{StagePersistHistory, StageAnalysis}, tbl.Successors(StageLoadHistory))
	assert.Equal(t, []string{StageRetrieval, StageSynthesis}, tbl.Successors(StageEscalationCheck))
	assert.Equal(t, []string{End}, tbl.Successors(StagePersistHistory))
	assert.True(t, tbl.Conditional(StageEscalationCheck))
	assert.False(t, tbl.Conditional(StageAnalysis))
	assert.Equal(t, End, tbl.Next("missing", nil))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Table
		err   string
	}{
		{
			name: "undeclared target",
			build: func() *Table {
				t := New("a")
				t.Add("a", Transition{To: "b"})
				return t
			},
			err: "undeclared",
		},
		{
			name: "conditional tail",
			build: func() *Table {
				t := New("a")
				t.Add("a", Transition{To: End, When: HumanHandling})
				return t
			},
			err: "unconditional",
		},
		{
			name: "cycle",
			build: func() *Table {
				t := New("a")
				t.Add("a", Transition{To: "b"})
				t.Add("b", Transition{To: End, When: HumanHandling}, Transition{To: "a"})
				return t
			},
			err: "cycle",
		},
		{
			name: "unreachable",
			build: func() *Table {
				t := New("a")
				t.Add("a", Transition{To: End})
				t.Add("b", Transition{To: End})
				return t
			},
			err: "unreachable",
		},
		{
			name:  "missing start",
			build: func() *Table { return New("a") },
			err:   "start",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}
