package phase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlc-agency/agency/internal/types"
)

func TestSequence(t *testing.T) {
	seq := Sequence()
	require.Len(t, seq, 7)
	for i, info := range seq {
		assert.Equal(t, i, info.Index, "phase %s", info.Phase)
		assert.Equal(t, info.HasGate, info.Phase.HasGate(), "phase %s", info.Phase)
	}
	assert.Equal(t, GateDual, seq[2].GateType)
	assert.Equal(t, GateSingleExtended, seq[5].GateType)
}

func TestDependencies(t *testing.T) {
	_, ok := DependencyOf(types.PhasePlan)
	assert.False(t, ok, "plan has no dependency")

	d, ok := DependencyOf(types.PhaseImplement)
	require.True(t, ok)
	assert.Equal(t, types.PhaseValidate, d.Requires)
	assert.Equal(t, types.VerdictApproved, d.GateVerdict)

	d, ok = DependencyOf(types.PhaseReview)
	require.True(t, ok)
	assert.Equal(t, types.PhaseImplement, d.Requires)
	assert.Empty(t, d.GateVerdict)
}

func TestNextPhase(t *testing.T) {
	tests := []struct {
		current types.Phase
		verdict string
		next    types.Phase
		action  Action
		spawn   bool
	}{
		{types.PhaseValidate, "APPROVED,APPROVED", types.PhaseImplement, ActionProceed, false},
		{types.PhaseValidate, "REPROVED,APPROVED", types.PhasePlan, ActionLoopBack, false},
		{types.PhaseValidate, "REPROVED,REPROVED", types.PhasePlan, ActionLoopBack, false},
		{types.PhaseValidate, "approved, reproved", types.PhaseDesign, ActionLoopBack, false},
		{types.PhaseReview, "PASS", types.PhaseTest, ActionProceed, false},
		{types.PhaseReview, "FAIL", types.PhaseImplement, ActionLoopBack, false},
		{types.PhaseTest, "PASS", types.PhaseDocument, ActionProceed, false},
		{types.PhaseTest, "FAIL_BUG", types.PhaseImplement, ActionLoopBack, false},
		{types.PhaseTest, "FAIL_TEST", types.PhaseTest, ActionFixTests, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.current)+"/"+tt.verdict, func(t *testing.T) {
			d, err := NextPhase(tt.current, tt.verdict)
			require.NoError(t, err)
			assert.Equal(t, tt.next, d.Next)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.spawn, d.SpawnFixAgent)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestNextPhaseInvalid(t *testing.T) {
	cases := []struct {
		current types.Phase
		verdict string
	}{
		{types.PhaseValidate, "APPROVED"},
		{types.PhaseValidate, "APPROVED,PASS"},
		{types.PhaseReview, "FAIL_BUG"},
		{types.PhaseTest, "FAIL"},
		{types.PhasePlan, "PASS"},
	}
	for _, c := range cases {
		_, err := NextPhase(c.current, c.verdict)
		require.Error(t, err, "%s/%s", c.current, c.verdict)
		assert.True(t, errors.Is(err, types.ErrInvalidArgument))
	}
}

func TestValidateArtifacts(t *testing.T) {
	root := t.TempDir()

	res, err := ValidateArtifacts(context.Background(), types.PhaseTest, root)
	require.NoError(t, err)
	assert.False(t, res.AllValid)
	assert.False(t, res.CanProceed)
	require.NotNil(t, res.NextPhase)
	assert.Equal(t, types.PhaseDocument, *res.NextPhase)
	assert.Equal(t, "Missing artifacts for test: tests/, docs/TEST_REPORT.md", res.Message)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "tests"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "TEST_REPORT.md"), nil, 0o644))

	res, err = ValidateArtifacts(context.Background(), types.PhaseTest, root)
	require.NoError(t, err)
	require.Len(t, res.Artifacts, 2)
	assert.True(t, res.Artifacts[0].Exists)
	assert.True(t, res.Artifacts[0].IsEmpty, "empty tests/ dir")
	assert.True(t, res.Artifacts[1].IsEmpty, "empty report file")
	assert.False(t, res.AllValid)

	require.NoError(t, os.WriteFile(filepath.Join(root, "tests", "a_test.go"), []byte("package a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "TEST_REPORT.md"), []byte("# report"), 0o644))

	res, err = ValidateArtifacts(context.Background(), types.PhaseTest, root)
	require.NoError(t, err)
	assert.True(t, res.AllValid)
	assert.Equal(t, "All artifacts for test are present. Ready to proceed to document.", res.Message)
}

func TestValidateArtifactsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := ValidateArtifacts(ctx, types.PhaseDocument, t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestValidateArtifactsLastPhase(t *testing.T) {
	res, err := ValidateArtifacts(context.Background(), types.PhaseDocument, t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, res.NextPhase)
	assert.Len(t, res.Artifacts, 3)
}

func TestResolveArtifacts(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))

	res, err := ResolveArtifacts(types.PhaseImplement, root)
	require.NoError(t, err)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, "src/", res.Artifacts[0].Relative)
	assert.Equal(t, filepath.Join(root, "src"), res.Artifacts[0].Absolute)
	assert.True(t, res.Artifacts[0].Exists)
}
