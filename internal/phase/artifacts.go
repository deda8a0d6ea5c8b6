package phase

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sdlc-agency/agency/internal/types"
	"github.com/sdlc-agency/agency/internal/utils"
)

// ArtifactRef is a phase artifact resolved against a project root.
type ArtifactRef struct {
	Relative string `json:"relative"`
	Absolute string `json:"absolute"`
	Exists   bool   `json:"exists"`
}

// ArtifactsResult is returned by ResolveArtifacts.
type ArtifactsResult struct {
	Phase     types.Phase   `json:"phase"`
	Artifacts []ArtifactRef `json:"artifacts"`
}

// ResolveArtifacts lists the artifacts of p with absolute paths and whether
// each exists.
func ResolveArtifacts(p types.Phase, projectRoot string) (*ArtifactsResult, error) {
	info, err := Lookup(p)
	if err != nil {
		return nil, err
	}
	res := &ArtifactsResult{Phase: p, Artifacts: make([]ArtifactRef, 0, len(info.Artifacts))}
	for _, rel := range info.Artifacts {
		abs := filepath.Join(projectRoot, rel)
		exists, _ := utils.IsNonEmpty(abs, false)
		res.Artifacts = append(res.Artifacts, ArtifactRef{Relative: rel, Absolute: abs, Exists: exists})
	}
	return res, nil
}

// ArtifactCheck is one row of a ValidateArtifacts result.
type ArtifactCheck struct {
	Artifact string `json:"artifact"`
	Absolute string `json:"absolute"`
	Exists   bool   `json:"exists"`
	IsEmpty  bool   `json:"is_empty"`
	Valid    bool   `json:"valid"`
}

// ValidationResult is returned by ValidateArtifacts.
type ValidationResult struct {
	Phase      types.Phase     `json:"phase"`
	AllValid   bool            `json:"all_valid"`
	CanProceed bool            `json:"can_proceed"`
	NextPhase  *types.Phase    `json:"next_phase"`
	Artifacts  []ArtifactCheck `json:"artifacts"`
	Message    string          `json:"message"`
}

// ValidateArtifacts checks that every artifact of p exists and is non-empty
// (a file with content or a directory with at least one entry). The checks
// run concurrently; result order follows the registry. A cancelled ctx
// aborts the checks that have not started.
func ValidateArtifacts(ctx context.Context, p types.Phase, projectRoot string) (*ValidationResult, error) {
	info, err := Lookup(p)
	if err != nil {
		return nil, err
	}

	checks := make([]ArtifactCheck, len(info.Artifacts))
	g, gctx := errgroup.WithContext(ctx)
	for i, rel := range info.Artifacts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			abs := filepath.Join(projectRoot, rel)
			exists, nonEmpty := utils.IsNonEmpty(abs, false)
			checks[i] = ArtifactCheck{
				Artifact: rel,
				Absolute: abs,
				Exists:   exists,
				IsEmpty:  exists && !nonEmpty,
				Valid:    exists && nonEmpty,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &ValidationResult{Phase: p, AllValid: true, Artifacts: checks}
	var missing []string
	for _, c := range checks {
		if !c.Valid {
			res.AllValid = false
			missing = append(missing, c.Artifact)
		}
	}
	res.CanProceed = res.AllValid

	var nextName string
	if next := Next(p); next != "" {
		res.NextPhase = &next
		nextName = string(next)
	} else {
		nextName = "None"
	}

	if res.AllValid {
		res.Message = fmt.Sprintf("All artifacts for %s are present. Ready to proceed to %s.", p, nextName)
	} else {
		res.Message = fmt.Sprintf("Missing artifacts for %s: %s", p, strings.Join(missing, ", "))
	}
	return res, nil
}
