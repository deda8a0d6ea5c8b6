package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlc-agency/agency/internal/config"
	"github.com/sdlc-agency/agency/internal/types"
)

// env is an isolated project directory with its own config file.
type env struct {
	t       *testing.T
	root    string
	config  string
	state   string
	backlog string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	cfg := filepath.Join(root, "agency.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("lock-timeout: 2s\n"), 0o600))
	t.Setenv("AGENCY_OTEL_ENABLED", "")
	t.Cleanup(config.ResetForTesting)
	return &env{
		t:       t,
		root:    root,
		config:  cfg,
		state:   filepath.Join(root, "agent_docs", "agency", "STATE.json"),
		backlog: filepath.Join(root, "agent_docs", "backlog", "backlog.json"),
	}
}

// run executes one command line in process and returns stdout.
func (e *env) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	config.ResetForTesting()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *env) mustRun(args ...string) map[string]interface{} {
	e.t.Helper()
	out, err := e.run("", args...)
	require.NoError(e.t, err, "agency %s", strings.Join(args, " "))
	var v map[string]interface{}
	require.NoError(e.t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestStateLifecycle(t *testing.T) {
	e := newEnv(t)
	sp := "--state-path=" + e.state

	res := e.mustRun("state", "init", sp, "--project", "demo", "--objective", "ship it")
	assert.Equal(t, "created", res["status"])

	_, err := e.run("", "state", "init", sp, "--project", "demo", "--objective", "again")
	require.Error(t, err)
	assert.Equal(t, "already_exists", types.Code(err))

	// Dependencies are not enforced by update.
	res = e.mustRun("state", "update", sp, "--phase", "design", "--status", "in_progress")
	assert.Equal(t, "design", res["current_phase"])

	res = e.mustRun("state", "can-proceed", sp, "--to-phase", "design")
	assert.Equal(t, false, res["allowed"])
	assert.Equal(t, "plan", res["blocking_phase"])

	e.mustRun("state", "gate-record", sp, "--phase", "validate", "--pm", "APPROVED", "--tl", "approved")
	res = e.mustRun("state", "gate-record", sp, "--phase", "validate", "--pm", "APPROVED", "--tl", "REPROVED")
	assert.EqualValues(t, 2, res["iteration"])
	rec := res["verdict_record"].(map[string]interface{})
	assert.Equal(t, "REPROVED", rec["combined"])

	res = e.mustRun("state", "query", sp, "--field", "metrics")
	assert.EqualValues(t, 2, res["total_gate_iterations"])
	assert.EqualValues(t, 0, res["completed_phases"])

	_, err = e.run("", "state", "gate-record", sp, "--phase", "plan", "--verdict", "PASS")
	require.Error(t, err)
	assert.Equal(t, "invalid_argument", types.Code(err))
}

func TestStateMissingFile(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("", "state", "summary", "--state-path", e.state)
	require.Error(t, err)
	assert.Equal(t, "not_found", types.Code(err))
}

func TestStateCompletedTwiceCountsOnce(t *testing.T) {
	e := newEnv(t)
	sp := "--state-path=" + e.state
	e.mustRun("state", "init", sp, "--project", "p", "--objective", "o")
	e.mustRun("state", "update", sp, "--phase", "plan", "--status", "in_progress")
	e.mustRun("state", "update", sp, "--phase", "plan", "--status", "completed")
	res := e.mustRun("state", "update", sp, "--phase", "plan", "--status", "completed")
	assert.EqualValues(t, 1, res["completed_phases"])

	res = e.mustRun("state", "can-proceed", sp, "--to-phase", "design")
	assert.Equal(t, true, res["allowed"])
}

func TestGateParseFromStdin(t *testing.T) {
	e := newEnv(t)
	out, err := e.run("blah [VERDICT:APPROVED] blah [VERDICT:REPROVED]", "gate", "parse", "--phase", "validate", "--text-stdin")
	require.NoError(t, err)
	var res map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "APPROVED", res["pm"])
	assert.Equal(t, "REPROVED", res["tl"])
	assert.Equal(t, "REPROVED", res["combined"])

	res = e.mustRun("gate", "parse", "--phase", "review", "--text", "[GATE:FAIL] fixed it [GATE:PASS]")
	assert.Equal(t, "PASS", res["verdict"])

	_, err = e.run("", "gate", "parse", "--phase", "review")
	assert.Equal(t, "invalid_argument", types.Code(err))
}

func TestGateCheckUsesConfiguredMax(t *testing.T) {
	e := newEnv(t)
	t.Setenv("AGENCY_GATE_MAX_ITERATIONS", "5")
	res := e.mustRun("gate", "check", "--phase", "review", "--iteration", "3")
	assert.EqualValues(t, 5, res["max"])
	assert.Equal(t, false, res["should_escalate"])

	res = e.mustRun("gate", "check", "--phase", "review", "--iteration", "3", "--max", "3")
	assert.Equal(t, true, res["should_escalate"])
}

func TestPhaseNext(t *testing.T) {
	e := newEnv(t)
	res := e.mustRun("phase", "next", "--current", "test", "--verdict", "FAIL_TEST")
	assert.Equal(t, "test", res["next_phase"])
	assert.Equal(t, "fix_tests", res["action"])
	assert.Equal(t, true, res["spawn_fix_agent"])

	res = e.mustRun("phase", "sequence")
	assert.EqualValues(t, 7, res["total"])
}

func TestPhasePrepareBlockedWritesNothing(t *testing.T) {
	e := newEnv(t)
	sp := "--state-path=" + e.state
	e.mustRun("state", "init", sp, "--project", "p", "--objective", "o")

	res := e.mustRun("phase", "prepare", sp, "--phase", "design", "--project-root", e.root, "--objective", "o")
	assert.Equal(t, false, res["ready"])
	assert.Equal(t, "plan", res["blocked_by"])

	res = e.mustRun("state", "query", sp, "--phase", "design")
	assert.Equal(t, "pending", res["status"])

	_, err := e.run("", "phase", "prepare", sp, "--phase", "plan")
	assert.Equal(t, "invalid_argument", types.Code(err))
}

func TestStoryCommands(t *testing.T) {
	e := newEnv(t)
	e.mustRun("story", "init", e.backlog)

	create := func(id, feature, depends string) {
		t.Helper()
		e.mustRun("story", "create", e.backlog, "--id", id, "--title", "Story "+id,
			"--role", "user", "--want", "x", "--benefit", "y", "--feature", feature,
			"--priority", "Must", "--caller", "po", "--depends", depends)
	}
	create("US-001", "Auth", "")
	create("US-002", "Billing", "US-001")

	_, err := e.run("", "story", "create", e.backlog, "--id", "US-003", "--title", "t",
		"--role", "r", "--want", "w", "--benefit", "b", "--feature", "f", "--priority", "Must", "--caller", "dev")
	assert.Equal(t, "permission_denied", types.Code(err))

	res := e.mustRun("story", "next-id", e.backlog)
	assert.Equal(t, "US-003", res["next_id"])

	res = e.mustRun("story", "edit", e.backlog, "--id", "US-001", "--caller", "tl", "--title", "Login")
	assert.Equal(t, []interface{}{"title"}, res["changes"])

	out, err := e.run("", "story", "list", e.backlog, "--format", "table")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "id | title | priority | status | feature_area\n"), out)
	assert.Contains(t, out, "US-001 | Login | Must | Draft | Auth")

	res = e.mustRun("story", "list", e.backlog, "--limit", "1")
	assert.EqualValues(t, 2, res["count"])
	assert.Len(t, res["stories"], 1)

	for _, id := range []string{"US-001", "US-002"} {
		for _, st := range []string{"Ready", "In Design", "Validated"} {
			e.mustRun("story", "status", e.backlog, "--id", id, "--status", st, "--caller", "tl")
		}
	}

	res = e.mustRun("pipeline", "group", "--backlog-path", e.backlog)
	waves := res["waves"].([]interface{})
	require.Len(t, waves, 2)
	second := waves[1].(map[string]interface{})["groups"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Billing", second["feature_area"])
	assert.Equal(t, []interface{}{"feat/auth"}, second["depends_on"])
	assert.Equal(t, false, second["can_parallel"])

	e.mustRun("backlog", "phase-transition", "--backlog-path", e.backlog, "--phase", "implement", "--caller", "dev")
	res = e.mustRun("story", "get", e.backlog, "--id", "US-002")
	assert.Equal(t, "In Progress", res["status"])

	e.mustRun("story", "render", e.backlog)
	assert.FileExists(t, filepath.Join(filepath.Dir(e.backlog), "BACKLOG.md"))
}

func TestBacklogValidateTransition(t *testing.T) {
	e := newEnv(t)
	res := e.mustRun("backlog", "validate-transition", "--from", "Draft", "--to", "Done")
	assert.Equal(t, false, res["valid"])
	assert.Equal(t, []interface{}{"Ready", "Cancelled"}, res["allowed_targets"])

	res = e.mustRun("backlog", "expected-status", "--phase", "review")
	assert.Equal(t, "In Progress", res["from"])
	assert.Equal(t, "In Review", res["to"])
}

func TestAgentCommands(t *testing.T) {
	e := newEnv(t)
	res := e.mustRun("agent", "name", "--role", "tl", "--phase", "review", "--type", "assist")
	assert.Equal(t, "tl-review-assist", res["name"])

	_, err := e.run("", "agent", "model", "--role", "pm", "--phase", "implement")
	assert.Equal(t, "invalid_argument", types.Code(err))

	models := filepath.Join(e.root, "models.yaml")
	require.NoError(t, os.WriteFile(models, []byte("review:\n  tl: custom-model\n"), 0o600))
	t.Setenv("AGENCY_AGENTS_MODELS_FILE", models)
	res = e.mustRun("agent", "model", "--role", "tl", "--phase", "review")
	assert.Equal(t, "custom-model", res["model"])
}

func hookPayload(t *testing.T, cwd, tool, key, value string) string {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"tool_name":  tool,
		"tool_input": map[string]string{key: value},
		"cwd":        cwd,
	})
	require.NoError(t, err)
	return string(data)
}

func TestHookCheck(t *testing.T) {
	e := newEnv(t)
	e.mustRun("state", "init", "--state-path", e.state, "--project", "p", "--objective", "o")

	_, err := e.run(hookPayload(t, e.root, "Bash", "command", "/tl design"), "hook", "check")
	var ee *exitErr
	require.True(t, errors.As(err, &ee), "expected exitErr, got %v", err)
	assert.Equal(t, hookBlockedExit, ee.code)
	assert.Contains(t, ee.msg, "BLOCKED")

	out, err := e.run(hookPayload(t, e.root, "Bash", "command", "/pm plan"), "hook", "check", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"decision": "allow"`)

	t.Setenv("AGENCY_GUARDS_SOFT", "phase-sequence")
	_, err = e.run(hookPayload(t, e.root, "Bash", "command", "/tl design"), "hook", "check")
	assert.NoError(t, err)

	_, err = e.run("not json", "hook", "check")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	e := newEnv(t)
	res := e.mustRun("version")
	assert.Equal(t, Version, res["version"])
}

func TestDecisionCommands(t *testing.T) {
	e := newEnv(t)
	dp := "--decisions-path=" + filepath.Join(e.root, "docs", "DECISIONS.md")

	res := e.mustRun("decision", "add", dp, "--phase", "design", "--agent", "tl",
		"--title", "Use PostgreSQL", "--context", "Need relational storage", "--alternatives", "SQLite")
	assert.Equal(t, true, res["success"])
	dec := res["decision"].(map[string]interface{})
	assert.Equal(t, "DEC-001", dec["id"])
	assert.Equal(t, "Active", dec["status"])

	e.mustRun("decision", "add", dp, "--phase", "plan", "--agent", "pm", "--title", "MVP scope", "--context", "Deadline")

	res = e.mustRun("decision", "list", dp, "--phase", "design")
	assert.EqualValues(t, 1, res["total"])
	filters := res["filters"].(map[string]interface{})
	assert.Equal(t, "design", filters["phase"])
	assert.Nil(t, filters["agent"])

	res = e.mustRun("decision", "get", dp, "--id", "dec-001")
	assert.Equal(t, "SQLite", res["alternatives"])

	res = e.mustRun("decision", "summary", dp)
	assert.EqualValues(t, 2, res["total"])
	assert.Equal(t, "DEC-002", res["latest_id"])

	_, err := e.run("", "decision", "get", dp, "--id", "DEC-009")
	assert.Equal(t, "not_found", types.Code(err))

	_, err = e.run("", "decision", "add", dp, "--phase", "design", "--agent", "ceo", "--title", "x", "--context", "y")
	assert.Equal(t, "invalid_argument", types.Code(err))
}

func TestMetricsCommands(t *testing.T) {
	e := newEnv(t)
	sp := "--state-path=" + e.state

	_, err := e.run("", "metrics", "dashboard", sp)
	assert.Equal(t, "not_found", types.Code(err))

	e.mustRun("state", "init", sp, "--project", "demo", "--objective", "ship it")
	e.mustRun("state", "update", sp, "--phase", "plan", "--status", "in_progress")
	e.mustRun("state", "update", sp, "--phase", "plan", "--status", "completed")
	e.mustRun("state", "gate-record", sp, "--phase", "validate", "--pm", "APPROVED", "--tl", "APPROVED")

	res := e.mustRun("metrics", "dashboard", sp)
	assert.Equal(t, "demo", res["project"])
	progress := res["progress"].(map[string]interface{})
	assert.EqualValues(t, 1, progress["completed_phases"])
	assert.EqualValues(t, 14.3, progress["percentage"])
	gates := res["gates"].(map[string]interface{})
	byPhase := gates["by_phase"].(map[string]interface{})
	validate := byPhase["validate"].(map[string]interface{})
	assert.Equal(t, "APPROVED", validate["last_verdict"])
	assert.Equal(t, true, validate["passed_first_try"])
	assert.EqualValues(t, 100, gates["first_try_pass_rate"])

	res = e.mustRun("metrics", "phase", sp, "--phase", "Plan")
	assert.Equal(t, "completed", res["status"])
	assert.Nil(t, res["gate"])

	_, err = e.run("", "metrics", "phase", sp, "--phase", "deploy")
	assert.Equal(t, "invalid_argument", types.Code(err))

	res = e.mustRun("metrics", "stories", "--backlog-path", e.backlog)
	assert.EqualValues(t, 0, res["total"])

	res = e.mustRun("metrics", "export", sp, "--format", "json")
	stories := res["stories"].(map[string]interface{})
	assert.Contains(t, stories["note"], "backlog access")

	out, err := e.run("", "metrics", "export", sp, "--format", "markdown", "--backlog-path", e.backlog)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# SDLC Metrics Report\n"), out)
	assert.Contains(t, out, "| Plan | completed |")
	assert.Contains(t, out, "| Validate | pending | - | 1 (APPROVED) |")
	assert.Contains(t, out, "Completion rate: 0.0%")

	_, err = e.run("", "metrics", "export", sp, "--format", "html")
	assert.Equal(t, "invalid_argument", types.Code(err))
}
