package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Rogers-F/mutation-governor/internal/domain"
)

func TestResolveConfigPath(t *testing.T) {
	noEnv := func(string) string { return "" }

	if got := resolveConfigPath("/etc/governor.yaml", noEnv, ""); got != "/etc/governor.yaml" {
		t.Errorf("flag path: got %q", got)
	}

	env := func(k string) string {
		if k == "GOVERNOR_CONFIG" {
			return "/from/env.json"
		}
		return ""
	}
	if got := resolveConfigPath("", env, ""); got != "/from/env.json" {
		t.Errorf("env path: got %q", got)
	}

	exeDir := t.TempDir()
	want := filepath.Join(exeDir, "config.json")
	if err := os.WriteFile(want, []byte(`{}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Chdir(t.TempDir())
	if got := resolveConfigPath("", noEnv, exeDir); got != want {
		t.Errorf("exe dir: got %q, want %q", got, want)
	}

	if got := resolveConfigPath("", noEnv, t.TempDir()); got != "" {
		t.Errorf("nothing to find: got %q", got)
	}
}

func TestDescribeProposal(t *testing.T) {
	queued := describeProposal(domain.ProposalResult{Risk: 0.6, RiskLevel: "high", RequestID: "req_1"})
	if !strings.Contains(queued, "queued for review: req_1") {
		t.Errorf("queued: got %q", queued)
	}
	if !strings.Contains(queued, "governor serve") {
		t.Errorf("queued output should point at serve: got %q", queued)
	}

	applied := describeProposal(domain.ProposalResult{
		Approved: true,
		Result:   &domain.MutationResult{Success: true, MutationID: "mut_1", NewGeneration: 3},
	})
	if !strings.Contains(applied, "applied mut_1, generation 3") {
		t.Errorf("applied: got %q", applied)
	}
	if strings.Contains(applied, "governor serve") {
		t.Errorf("applied output mentions serve: %q", applied)
	}

	failed := describeProposal(domain.ProposalResult{Result: &domain.MutationResult{Error: "fitness score would overflow"}})
	if !strings.Contains(failed, "failed: fitness score would overflow") {
		t.Errorf("failed: got %q", failed)
	}
}
