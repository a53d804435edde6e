package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState() *AgentState {
	return NewAgentState("run-1", "send an email", NewTenantContext("user-1"), DefaultBudget(), nil)
}

func TestMergeSearchResults_DedupesKeepingMostRecent(t *testing.T) {
	s := newTestState()

	s.MergeSearchResults([]ToolDescriptor{
		{ToolID: "gmail.gmail_send_email", Server: "gmail", Description: "short"},
		{ToolID: "gmail.gmail_search", Server: "gmail"},
	})
	s.MergeSearchResults([]ToolDescriptor{
		{ToolID: "gmail.gmail_send_email", Server: "gmail", Description: "full detail"},
	})

	require.Len(t, s.SearchResults, 2)
	assert.Equal(t, "full detail", s.SearchResults[0].Description)
	assert.True(t, s.IsDiscovered("gmail.gmail_send_email"))
	assert.True(t, s.IsDiscovered("gmail.gmail_search"))
	assert.False(t, s.IsDiscovered("notion.search"))
}

func TestRecordStep_MonotonicIDs(t *testing.T) {
	s := newTestState()
	now := time.Now()

	first := s.RecordStep(Command{Type: CommandSearch, Reasoning: "find tools", Query: "email"},
		StepResult{Success: true, Type: CommandSearch}, now, now)
	second := s.RecordStep(Command{Type: CommandFinish, Reasoning: "done", Summary: "sent"},
		StepResult{Success: true, Type: CommandFinish, Terminal: true}, now, now)

	assert.Equal(t, 1, first.StepID)
	assert.Equal(t, 2, second.StepID)
	assert.Equal(t, 3, s.NextStepID())
	assert.Len(t, s.History, 2)
}

func TestMergeOutputs_DoesNotOverwrite(t *testing.T) {
	s := newTestState()
	s.StoreRawOutput("tool:gmail.gmail_send_email:1", map[string]any{"messageId": "m1"})

	s.MergeOutputs(map[string]any{
		"tool:gmail.gmail_send_email:1": "clobbered",
		"summary_doc":                   "kept",
	})

	assert.Equal(t, map[string]any{"messageId": "m1"}, s.RawOutputs["tool:gmail.gmail_send_email:1"])
	assert.Equal(t, "kept", s.RawOutputs["summary_doc"])
}

func TestSetTerminal_FirstTransitionWins(t *testing.T) {
	s := newTestState()

	s.SetTerminal(TerminalFail, "gave up", "no tools", ErrCodePlannerFailed)
	s.SetTerminal(TerminalFinish, "done", "", "")

	assert.Equal(t, TerminalFail, s.Terminal)
	assert.Equal(t, "gave up", s.FinalSummary)
	assert.Equal(t, ErrCodePlannerFailed, s.ErrorCode)
}

func TestBuildPromptState_Deterministic(t *testing.T) {
	s := newTestState()
	s.InventoryView = map[string][]string{
		"toolbox": {"inspect_tool_output"},
		"gmail":   {"gmail_search", "gmail_send_email"},
	}
	s.MergeSearchResults([]ToolDescriptor{{ToolID: "gmail.gmail_search", Server: "gmail"}})
	now := time.Now()
	s.RecordStep(Command{Type: CommandSearch, Reasoning: "r", Query: "email"},
		StepResult{Success: true, Type: CommandSearch, Preview: "[]"}, now, now)

	a, err := s.BuildPromptState(HistoryWindowDefault)
	require.NoError(t, err)
	b, err := s.BuildPromptState(HistoryWindowDefault)
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))

	// Key order is fixed by the projection struct.
	text := string(a)
	assert.Less(t, strings.Index(text, `"task"`), strings.Index(text, `"budget"`))
	assert.Less(t, strings.Index(text, `"budget"`), strings.Index(text, `"usage"`))
	assert.Less(t, strings.Index(text, `"usage"`), strings.Index(text, `"inventory_view"`))
	assert.Less(t, strings.Index(text, `"inventory_view"`), strings.Index(text, `"search_results"`))
	assert.Less(t, strings.Index(text, `"search_results"`), strings.Index(text, `"history_window"`))
}

func TestBuildPromptState_WindowAndPreviewClamp(t *testing.T) {
	s := newTestState()
	now := time.Now()
	for i := 0; i < 12; i++ {
		s.RecordStep(Command{Type: CommandSearch, Reasoning: "r", Query: "q"},
			StepResult{Success: true, Type: CommandSearch, Preview: strings.Repeat("x", 3000)}, now, now)
	}

	b, err := s.BuildPromptState(8)
	require.NoError(t, err)

	count := strings.Count(string(b), `"reasoning":"r"`)
	assert.Equal(t, 8, count)
	assert.NotContains(t, string(b), strings.Repeat("x", PromptPreviewMax+1))
}

func TestBuildPromptState_CarriesStepErrors(t *testing.T) {
	s := newTestState()
	now := time.Now()
	s.RecordStep(Command{Type: CommandTool, Reasoning: "call it", ToolID: "gmail.gmail_send_email", Server: "gmail"},
		StepResult{Type: CommandTool, Error: "tool has not been discovered", ErrorCode: ErrCodeUndiscoveredTool}, now, now)

	b, err := s.BuildPromptState(HistoryWindowDefault)
	require.NoError(t, err)

	assert.Contains(t, string(b), `"error":"tool has not been discovered"`)
}

func TestBuildResult_SuccessMapping(t *testing.T) {
	s := newTestState()
	s.SetTerminal(TerminalFinish, "email sent", "", "")
	res := s.BuildResult()

	assert.True(t, res.Success)
	assert.Equal(t, "email sent", res.FinalSummary)
	assert.Equal(t, "run-1", res.RunID)

	f := newTestState()
	f.SetTerminal(TerminalFail, "", "budget exhausted on max_steps", ErrCodeBudgetExhausted)
	fres := f.BuildResult()

	assert.False(t, fres.Success)
	assert.Equal(t, ErrCodeBudgetExhausted, fres.ErrorCode)
	assert.NotEmpty(t, fres.FinalSummary)
}
