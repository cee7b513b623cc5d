package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

type cli struct {
	t      *testing.T
	dbPath string
}

func newCLI(t *testing.T) *cli {
	return &cli{t: t, dbPath: filepath.Join(t.TempDir(), "contexts.db")}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--store", "sqlite", "--sqlite-path", c.dbPath, "--estimate-tokens", "--log-level", "error"}, args...))

	err := cmd.Execute()
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run("", args...)
	if err != nil {
		c.t.Fatalf("contextctl %v: %v\n%s", args, err, out)
	}
	return out
}

func TestCLI_Lifecycle(t *testing.T) {
	c := newCLI(t)

	rootID := strings.TrimSpace(c.mustRun("add", "--id", "root", "--type", "strategic", "--title", "Vision", "--content", "Ship the ledger", "--score", "0.9"))
	if rootID != "root" {
		t.Fatalf("expected id root, got %q", rootID)
	}
	c.mustRun("add", "--id", "child", "--type", "task", "--title", "Migrate", "--content", "Move billing to the ledger", "--parent", "root", "--score", "0.8", "--ext", "owner=team-a")
	c.mustRun("add", "--id", "weak", "--content", "ledger trivia", "--score", "0.05")
	c.mustRun("relate", "child", "root", "--type", "depends_on", "--strength", "0.7")

	var view contextView
	if err := json.Unmarshal([]byte(c.mustRun("get", "child")), &view); err != nil {
		t.Fatalf("decode get output: %v", err)
	}
	if view.Type != "task" || view.ParentID != "root" || view.Extensions["owner"] != "team-a" {
		t.Errorf("unexpected context view: %+v", view)
	}

	hierarchy := c.mustRun("hierarchy", "child")
	if !strings.HasPrefix(hierarchy, "root [strategic] Vision\n  child [task] Migrate") {
		t.Errorf("unexpected hierarchy output %q", hierarchy)
	}

	selected := c.mustRun("select", "ledger")
	if !strings.Contains(selected, "[Current Task] Migrate") || !strings.Contains(selected, "[Strategic Context] Vision") {
		t.Errorf("expected both contexts selected, got %q", selected)
	}
	if strings.Contains(selected, "trivia") {
		t.Errorf("expected low score context excluded, got %q", selected)
	}

	var result struct {
		Included []struct {
			ID string `json:"id"`
		} `json:"included"`
	}
	if err := json.Unmarshal([]byte(c.mustRun("select", "ledger", "--json", "--require", "child")), &result); err != nil {
		t.Fatalf("decode select output: %v", err)
	}
	if len(result.Included) == 0 || result.Included[0].ID != "child" {
		t.Errorf("expected required child first, got %+v", result.Included)
	}

	if out := c.mustRun("reinforce", "child"); strings.TrimSpace(out) != "child 0.9000" {
		t.Errorf("unexpected reinforce output %q", out)
	}

	if out := strings.TrimSpace(c.mustRun("prune", "--threshold", "0.1")); out != "weak" {
		t.Errorf("expected weak pruned, got %q", out)
	}
	c.mustRun("activate", "weak")

	var stats struct {
		ActiveCount       int `json:"active_count"`
		InactiveCount     int `json:"inactive_count"`
		RelationshipCount int `json:"relationship_count"`
	}
	if err := json.Unmarshal([]byte(c.mustRun("stats")), &stats); err != nil {
		t.Fatalf("decode stats output: %v", err)
	}
	if stats.ActiveCount != 3 || stats.InactiveCount != 0 || stats.RelationshipCount != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestCLI_DefaultStorePersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "default.db")
	run := func(args ...string) string {
		t.Helper()
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(append([]string{"--sqlite-path", dbPath, "--estimate-tokens", "--log-level", "error"}, args...))
		if err := cmd.Execute(); err != nil {
			t.Fatalf("contextctl %v: %v\n%s", args, err, out.String())
		}
		return out.String()
	}

	run("add", "--id", "kept", "--type", "project", "--content", "ledger rollout", "--score", "0.9")

	// 新的进程内命令重新打开同一文件
	selected := run("select", "ledger")
	if !strings.Contains(selected, "ledger rollout") {
		t.Errorf("expected context to persist across invocations, got %q", selected)
	}
}

func TestCLI_YAMLOutput(t *testing.T) {
	c := newCLI(t)
	c.mustRun("add", "--id", "y1", "--type", "project", "--content", "ledger", "--score", "0.5")

	out := c.mustRun("get", "y1", "--output", "yaml")
	for _, want := range []string{"id: y1\n", "type: project\n", "relevance_score: 0.5\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in yaml output %q", want, out)
		}
	}

	if _, err := c.run("", "stats", "--output", "xml"); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestCLI_Analyze(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("sixteen chars!!!", "analyze")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var usage struct {
		TotalTokens       int            `json:"total_tokens"`
		TokenDistribution map[string]int `json:"token_distribution"`
	}
	if err := json.Unmarshal([]byte(out), &usage); err != nil {
		t.Fatalf("decode analyze output: %v", err)
	}
	if usage.TotalTokens != 4 || usage.TokenDistribution["common"] != 4 {
		t.Errorf("unexpected usage %+v", usage)
	}
}

func TestCLI_Errors(t *testing.T) {
	c := newCLI(t)

	if _, err := c.run("", "get", "missing"); err == nil {
		t.Error("expected error for missing context")
	}
	if _, err := c.run("", "add", "--type", "bogus"); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := c.run("", "relate", "only-one"); err == nil {
		t.Error("expected argument count error")
	}

	if _, err := c.run("", "--env-file", filepath.Join(t.TempDir(), "missing.env"), "stats"); err == nil {
		t.Error("expected error for missing env file")
	}

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--store", "redis", "stats"})
	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for unknown store backend")
	}
	if got := exitCode(err); got != 2 {
		t.Errorf("exitCode(invalid config) = %d, want 2", got)
	}

	_, err = c.run("", "get", "missing")
	if got := exitCode(err); got != 1 {
		t.Errorf("exitCode(not found) = %d, want 1", got)
	}
}
