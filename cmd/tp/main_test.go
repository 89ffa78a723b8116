package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

// runCLI executes one tp invocation and returns its output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("tp %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

// writeTestConfig points a config at a SQLite file in a temp dir.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`database:
  driver: sqlite
  path: %s
auth:
  jwt_secret: cli-test-secret
locking:
  timeout: 2s
log:
  level: error
seed:
  users:
    - id: 1
      display_name: Sam
    - id: 2
      display_name: Bea
  items:
    - id: 10
      seller_id: 1
      title: Bike helmet
      price: 30
      price_negotiable: true
      location: Quad
`, filepath.Join(dir, "tradepost.db"))
	path := filepath.Join(dir, "tradepost.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

var idPattern = regexp.MustCompile(`(?:Conversation|Schedule request|Confirm request) (\d+)`)

func firstID(t *testing.T, out string) string {
	t.Helper()
	m := idPattern.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no id in output: %s", out)
	}
	return m[1]
}

func TestVersionCmd(t *testing.T) {
	out := mustRun(t, "version")
	if !strings.Contains(out, "tp dev") {
		t.Errorf("expected output to contain 'tp dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out := mustRun(t, "version")
	if !strings.Contains(out, "tp 1.0.0") || !strings.Contains(out, "built: 2026-01-01") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out := mustRun(t, "--help")
	for _, sub := range []string{"db", "serve", "token", "conversation", "schedule", "confirm", "item"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help missing subcommand %q", sub)
		}
	}
}

func TestOperationCmds_RequireAs(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, "conversation", "list", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "as") {
		t.Errorf("err = %v, want missing --as", err)
	}
}

func TestDBInit_Seed(t *testing.T) {
	cfg := writeTestConfig(t)
	out := mustRun(t, "db", "init", "--seed", "-c", cfg)
	if !strings.Contains(out, "Seeded 2 users and 1 items") {
		t.Errorf("init output = %s", out)
	}
	if !strings.Contains(out, "initialized successfully") {
		t.Errorf("init output = %s", out)
	}
}

func TestDBReset_RequiresYesWithoutTerminal(t *testing.T) {
	cfg := writeTestConfig(t)
	mustRun(t, "db", "init", "--seed", "-c", cfg)

	_, err := runCLI(t, "db", "reset", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Errorf("err = %v, want refusal without --yes", err)
	}

	out := mustRun(t, "db", "reset", "--yes", "-c", cfg)
	if !strings.Contains(out, "Dropped database") || !strings.Contains(out, "re-initialized") {
		t.Errorf("reset output = %s", out)
	}
	out = mustRun(t, "conversation", "list", "--as", "2", "-c", cfg)
	if !strings.Contains(out, "No conversations.") {
		t.Errorf("list after reset = %s", out)
	}
}

func TestTokenCmd(t *testing.T) {
	cfg := writeTestConfig(t)
	out := mustRun(t, "token", "--as", "2", "-c", cfg)
	if parts := strings.Split(strings.TrimSpace(out), "."); len(parts) != 3 {
		t.Errorf("token = %q, want a JWT", out)
	}
}

func TestServe_RequiresSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradepost.yaml")
	os.WriteFile(path, []byte("database:\n  path: "+filepath.Join(dir, "x.db")+"\nlog:\n  level: error\n"), 0o644)
	t.Setenv("TRADEPOST_JWT_SECRET", "")
	_, err := runCLI(t, "serve", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("err = %v, want missing secret", err)
	}
}

func TestNegotiationFlow(t *testing.T) {
	cfg := writeTestConfig(t)
	mustRun(t, "db", "init", "--seed", "-c", cfg)

	out := mustRun(t, "conversation", "open", "--as", "2", "--item", "10", "-c", cfg)
	conv := firstID(t, out)
	if !strings.Contains(out, "with Sam") {
		t.Errorf("open output = %s", out)
	}

	mustRun(t, "conversation", "send", conv, "--as", "2", "--text", "Does it fit a large head?", "-c", cfg)

	out = mustRun(t, "conversation", "list", "--as", "1", "-c", cfg)
	if !strings.Contains(out, "Bea (2)") {
		t.Errorf("seller list = %s", out)
	}

	out = mustRun(t, "conversation", "history", conv, "--as", "1", "-c", cfg)
	if !strings.Contains(out, "[listing_intro]") || !strings.Contains(out, "large head") {
		t.Errorf("history = %s", out)
	}

	at := time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339)
	out = mustRun(t, "schedule", "create", "--as", "1", "--item", "10", "--conversation", conv,
		"--buyer", "2", "--location", "North Campus", "--at", at, "--price", "20", "-c", cfg)
	req := firstID(t, out)
	if !strings.Contains(out, "[pending]") || !strings.Contains(out, "$20.00") {
		t.Errorf("schedule create = %s", out)
	}

	_, err := runCLI(t, "schedule", "respond", req, "maybe", "--as", "2", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "invalid_action") {
		t.Errorf("bad action err = %v", err)
	}

	out = mustRun(t, "schedule", "respond", req, "accept", "--as", "2", "-c", cfg)
	if !strings.Contains(out, "[accepted]") {
		t.Errorf("respond = %s", out)
	}

	out = mustRun(t, "confirm", "create", "--as", "1", "--request", req, "-c", cfg)
	cp := firstID(t, out)
	if !strings.Contains(out, "[pending]") {
		t.Errorf("confirm create = %s", out)
	}

	out = mustRun(t, "confirm", "respond", cp, "accept", "--as", "2", "-c", cfg)
	if !strings.Contains(out, "[buyer_accepted]") {
		t.Errorf("confirm respond = %s", out)
	}

	out = mustRun(t, "confirm", "status", cp, "--as", "1", "-c", cfg)
	if !strings.Contains(out, "[buyer_accepted]") {
		t.Errorf("confirm status = %s", out)
	}

	_, err = runCLI(t, "item", "delete", "10", "--as", "2", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "not_item_seller") {
		t.Errorf("non-seller item delete err = %v", err)
	}
}

func TestConversationDelete(t *testing.T) {
	cfg := writeTestConfig(t)
	mustRun(t, "db", "init", "--seed", "-c", cfg)
	conv := firstID(t, mustRun(t, "conversation", "open", "--as", "2", "--item", "10", "-c", cfg))

	out := mustRun(t, "conversation", "delete", conv, "--as", "2", "-c", cfg)
	if !strings.Contains(out, "deleted for user 2") {
		t.Errorf("first delete = %s", out)
	}
	out = mustRun(t, "conversation", "delete", conv, "--as", "1", "-c", cfg)
	if !strings.Contains(out, "removed") {
		t.Errorf("second delete = %s", out)
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID("42"); err != nil || id != 42 {
		t.Errorf("parseID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-1", "abc"} {
		if _, err := parseID(bad); err == nil {
			t.Errorf("parseID(%q) should fail", bad)
		}
	}
}
