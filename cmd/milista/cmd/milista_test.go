package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"milista/internal/credentials"
	"milista/internal/server"
	"milista/internal/shutdown"
	"milista/internal/tasklist"
	"milista/internal/testutil"
	"milista/internal/tui"
)

// cliTest runs commands against a sqlite store in a temp directory
type cliTest struct {
	t       *testing.T
	dir     string
	config  string
	keyring *credentials.MemoryKeyring
	env     map[string]string
	stdin   string
}

// newCLITest writes a config file. top is appended at the root level and
// stores under the stores key, next to the sqlite section.
func newCLITest(t *testing.T, top, stores string) *cliTest {
	t.Helper()
	dir := t.TempDir()
	c := &cliTest{
		t:       t,
		dir:     dir,
		config:  filepath.Join(dir, "config.yaml"),
		keyring: credentials.NewMemoryKeyring(),
		env:     map[string]string{},
	}
	yaml := fmt.Sprintf("store: sqlite\nstores:\n  sqlite:\n    path: %s\n%slogging:\n  background_enabled: false\n%s",
		filepath.Join(dir, "data", "tasks.db"), stores, top)
	if err := os.WriteFile(c.config, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	return c
}

func (c *cliTest) cfg() *Config {
	return &Config{
		ConfigPath: c.config,
		Stdin:      strings.NewReader(c.stdin),
		Keyring:    c.keyring,
		Getenv:     func(k string) string { return c.env[k] },
	}
}

func (c *cliTest) run(args ...string) (string, string, int) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(args, &stdout, &stderr, c.cfg())
	return stdout.String(), stderr.String(), code
}

// mustRun fails the test on a non-zero exit code
func (c *cliTest) mustRun(args ...string) string {
	c.t.Helper()
	stdout, stderr, code := c.run(args...)
	if code != 0 {
		c.t.Fatalf("milista %s: exit code %d\nstderr: %s", strings.Join(args, " "), code, stderr)
	}
	return stdout
}

// syncBuffer is written by the serve goroutine while the test reads it
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// --- Help and Version Tests ---

func TestHelpFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := Execute([]string{"--help"}, &stdout, &stderr, nil)

	testutil.AssertExitCode(t, exitCode, 0)
	testutil.AssertContains(t, stdout.String(), "milista")
	testutil.AssertContains(t, stdout.String(), "Usage:")
}

func TestVersionCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := Execute([]string{"version"}, &stdout, &stderr, nil)

	testutil.AssertExitCode(t, exitCode, 0)
	testutil.AssertContains(t, stdout.String(), "milista version "+Version)
}

func TestUnknownCommand(t *testing.T) {
	c := newCLITest(t, "", "")
	_, stderr, code := c.run("frobnicate")
	testutil.AssertExitCode(t, code, 1)
	testutil.AssertContains(t, stderr, "Error:")
}

// --- Task commands ---

func TestAddListToggleEditDelete(t *testing.T) {
	c := newCLITest(t, "", "")

	testutil.AssertContains(t, c.mustRun("list"), "No tasks")

	out := c.mustRun("add", "Buy", "milk")
	testutil.AssertContains(t, out, "Created task: Buy milk")

	out = c.mustRun("list")
	testutil.AssertContains(t, out, "[ ] Buy milk")

	testutil.AssertContains(t, c.mustRun("toggle", "milk"), "Completed task: Buy milk")
	testutil.AssertContains(t, c.mustRun("list"), "[x] Buy milk")
	testutil.AssertContains(t, c.mustRun("toggle", "Buy milk"), "Reopened task: Buy milk")

	testutil.AssertContains(t, c.mustRun("edit", "buy milk", "Buy oat milk"), "Updated task: Buy oat milk")
	out = c.mustRun("list")
	testutil.AssertContains(t, out, "Buy oat milk")

	testutil.AssertContains(t, c.mustRun("delete", "oat"), "Deleted task: Buy oat milk")
	testutil.AssertContains(t, c.mustRun("list"), "No tasks")
}

func TestListNewestFirst(t *testing.T) {
	c := newCLITest(t, "", "")
	c.mustRun("add", "First")
	time.Sleep(5 * time.Millisecond)
	c.mustRun("add", "Second")

	out := c.mustRun("list")
	if strings.Index(out, "Second") > strings.Index(out, "First") {
		t.Errorf("expected newest task first, got:\n%s", out)
	}
}

func TestListPending(t *testing.T) {
	c := newCLITest(t, "", "")
	c.mustRun("add", "Open task")
	c.mustRun("add", "Finished task")
	c.mustRun("toggle", "Finished")

	out := c.mustRun("list", "--pending")
	testutil.AssertContains(t, out, "Open task")
	testutil.AssertNotContains(t, out, "Finished task")
}

func TestListJSON(t *testing.T) {
	c := newCLITest(t, "collection: groceries\n", "")
	c.mustRun("add", "Eggs")

	var resp listTasksResponse
	if err := json.Unmarshal([]byte(c.mustRun("list", "--json")), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Count != 1 || resp.Tasks[0].Text != "Eggs" || resp.Tasks[0].IsComplete {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Collection != "groceries" || resp.Result != ResultInfoOnly {
		t.Errorf("collection/result = %q/%q", resp.Collection, resp.Result)
	}
	if _, err := time.Parse(time.RFC3339, resp.Tasks[0].CreatedAt); err != nil {
		t.Errorf("created_at = %q: %v", resp.Tasks[0].CreatedAt, err)
	}
}

func TestAddJSON(t *testing.T) {
	c := newCLITest(t, "", "")

	var resp actionResponse
	if err := json.Unmarshal([]byte(c.mustRun("add", "--json", "Water plants")), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Action != "add" || resp.Result != ResultActionCompleted || resp.Task.ID == "" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestAddEmptyText(t *testing.T) {
	c := newCLITest(t, "", "")

	_, stderr, code := c.run("add", "   ")
	testutil.AssertExitCode(t, code, 1)
	testutil.AssertContains(t, stderr, "task text is empty")
	testutil.AssertContains(t, c.mustRun("list"), "No tasks")
}

func TestEditEmptyText(t *testing.T) {
	c := newCLITest(t, "", "")
	c.mustRun("add", "Keep")

	_, stderr, code := c.run("edit", "Keep", " ")
	testutil.AssertExitCode(t, code, 1)
	testutil.AssertContains(t, stderr, "task text is empty")
}

func TestTaskNotFoundAndAmbiguous(t *testing.T) {
	c := newCLITest(t, "", "")
	c.mustRun("add", "Call mom")
	c.mustRun("add", "Call dad")

	_, stderr, code := c.run("delete", "dentist")
	testutil.AssertExitCode(t, code, 1)
	testutil.AssertContains(t, stderr, "task not found: dentist")

	_, stderr, code = c.run("toggle", "call")
	testutil.AssertExitCode(t, code, 1)
	testutil.AssertContains(t, stderr, "2 tasks match")

	// exact text wins over partial matches
	testutil.AssertContains(t, c.mustRun("toggle", "call mom"), "Completed task: Call mom")
}

func TestTaskByID(t *testing.T) {
	c := newCLITest(t, "", "")
	var resp actionResponse
	if err := json.Unmarshal([]byte(c.mustRun("add", "--json", "Pay rent")), &resp); err != nil {
		t.Fatal(err)
	}
	testutil.AssertContains(t, c.mustRun("delete", resp.Task.ID), "Deleted task: Pay rent")
}

func TestErrorJSON(t *testing.T) {
	c := newCLITest(t, "", "")
	stdout, _, code := c.run("delete", "--json", "missing")
	testutil.AssertExitCode(t, code, 1)

	var resp errorResponse
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("invalid JSON: %v (%s)", err, stdout)
	}
	if resp.Result != ResultError || resp.Error != "task not found: missing" || resp.Suggestion == "" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestUnknownStoreFlag(t *testing.T) {
	c := newCLITest(t, "", "")
	_, stderr, code := c.run("list", "--store", "dropbox")
	testutil.AssertExitCode(t, code, 1)
	testutil.AssertContains(t, stderr, "unknown store: dropbox")
}

func TestRemoteStoreWithoutAPIKey(t *testing.T) {
	c := newCLITest(t, "", "  remote:\n    endpoint: http://127.0.0.1:1\n")
	_, stderr, code := c.run("list", "--store", "remote")
	testutil.AssertExitCode(t, code, 1)
	testutil.AssertContains(t, stderr, "API key not found for store remote")
}

func TestRemoteStoreNotConfigured(t *testing.T) {
	c := newCLITest(t, "", "")
	_, stderr, code := c.run("list", "--store", "remote")
	testutil.AssertExitCode(t, code, 1)
	testutil.AssertContains(t, stderr, "stores.remote.endpoint is required")
}

// --- credentials ---

func TestCredentialsSetGetDelete(t *testing.T) {
	c := newCLITest(t, "", "")

	c.stdin = "topsecret\n"
	testutil.AssertContains(t, c.mustRun("credentials", "set"), "stored in system keyring")

	out := c.mustRun("credentials", "get", "remote")
	testutil.AssertContains(t, out, "Source: keyring")
	testutil.AssertNotContains(t, out, "topsecret")

	c.stdin = "n\n"
	testutil.AssertContains(t, c.mustRun("credentials", "delete"), "Cancelled")
	testutil.AssertContains(t, c.mustRun("credentials", "get"), "Source: keyring")

	c.stdin = "y\n"
	c.mustRun("credentials", "delete")
	testutil.AssertContains(t, c.mustRun("credentials", "get"), "No API key found")

	c.stdin = "k2\n"
	c.mustRun("credentials", "set")
	c.mustRun("credentials", "delete", "--yes")
	testutil.AssertContains(t, c.mustRun("credentials", "get"), "No API key found")
}

func TestCredentialsHash(t *testing.T) {
	c := newCLITest(t, "", "")
	c.stdin = "server-key\n"

	hash := strings.TrimSpace(c.mustRun("credentials", "hash"))
	if !strings.HasPrefix(hash, "$2") {
		t.Fatalf("expected a bcrypt hash, got %q", hash)
	}
	if _, err := server.New(server.Config{APIKeyHash: hash}); err != nil {
		t.Errorf("hash rejected by server: %v", err)
	}
}

// --- tui ---

func TestTUIOpensConfiguredStore(t *testing.T) {
	c := newCLITest(t, "", "")
	c.mustRun("add", "Shown in the UI")

	var seen []string
	cfg := c.cfg()
	cfg.RunTUI = func(ctx context.Context, list *tasklist.Controller, opts ...tui.Option) error {
		if err := list.Start(ctx); err != nil {
			return err
		}
		for _, task := range list.Tasks() {
			seen = append(seen, task.Text)
		}
		return nil
	}

	var stdout, stderr bytes.Buffer
	if code := Execute([]string{}, &stdout, &stderr, cfg); code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr.String())
	}
	if len(seen) != 1 || seen[0] != "Shown in the UI" {
		t.Errorf("tasks seen by the UI = %v", seen)
	}
}

func TestTUIInterruptIsNotAnError(t *testing.T) {
	c := newCLITest(t, "", "")
	mgr := shutdown.NewManager()
	cfg := c.cfg()
	cfg.Shutdown = mgr
	cfg.RunTUI = func(ctx context.Context, list *tasklist.Controller, opts ...tui.Option) error {
		mgr.Shutdown()
		<-ctx.Done()
		return ctx.Err()
	}

	var stdout, stderr bytes.Buffer
	if code := Execute([]string{}, &stdout, &stderr, cfg); code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr.String())
	}
}

func TestTUIVerboseReportsLogFile(t *testing.T) {
	c := newCLITest(t, "", "")
	yaml := fmt.Sprintf("store: sqlite\nstores:\n  sqlite:\n    path: %s\nlogging:\n  background_enabled: true\n",
		filepath.Join(c.dir, "data", "tasks.db"))
	if err := os.WriteFile(c.config, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	logPath := fmt.Sprintf("%s/milista-%d.log", os.TempDir(), os.Getpid())
	t.Cleanup(func() { _ = os.Remove(logPath) })

	cfg := c.cfg()
	cfg.RunTUI = func(ctx context.Context, list *tasklist.Controller, opts ...tui.Option) error {
		return nil
	}
	var stdout, stderr bytes.Buffer
	if code := Execute([]string{"--verbose"}, &stdout, &stderr, cfg); code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr.String())
	}
	testutil.AssertContains(t, stderr.String(), "logging to "+logPath)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertContains(t, string(data), "milista tui: store sqlite")
}

// --- serve ---

func TestServeRequiresAPIKeyHash(t *testing.T) {
	c := newCLITest(t, "", "")
	_, stderr, code := c.run("serve", "--listen", "127.0.0.1:0")
	testutil.AssertExitCode(t, code, 1)
	testutil.AssertContains(t, stderr, "milista credentials hash")
}

func TestServeAndRemoteClient(t *testing.T) {
	hash, err := server.HashAPIKey("shared-key")
	if err != nil {
		t.Fatal(err)
	}
	serverSide := newCLITest(t, fmt.Sprintf("server:\n  project: home\n  api_key_hash: %q\n", hash), "")

	mgr := shutdown.NewManager()
	cfg := serverSide.cfg()
	cfg.Shutdown = mgr

	var stdout, stderr syncBuffer
	exited := make(chan int, 1)
	go func() {
		exited <- Execute([]string{"serve", "--listen", "127.0.0.1:0"}, &stdout, &stderr, cfg)
	}()

	addr := waitForAddr(t, &stdout, exited)
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	client := newCLITest(t, "", fmt.Sprintf("  remote:\n    endpoint: http://%s\n    project: home\n", addr))
	client.env[credentials.OverrideEnv] = "shared-key"

	testutil.AssertContains(t, client.mustRun("add", "--store", "remote", "Shared task"), "Created task: Shared task")
	testutil.AssertContains(t, client.mustRun("list", "--store", "remote"), "[ ] Shared task")
	// the server's own sqlite file holds the task
	testutil.AssertContains(t, serverSide.mustRun("list"), "Shared task")

	client.env[credentials.OverrideEnv] = "wrong-key"
	_, errOut, code := client.run("list", "--store", "remote")
	testutil.AssertExitCode(t, code, 1)
	testutil.AssertContains(t, errOut, "authentication failed for remote")

	other := newCLITest(t, "", fmt.Sprintf("  remote:\n    endpoint: http://%s\n    project: work\n", addr))
	other.env[credentials.OverrideEnv] = "shared-key"
	_, errOut, code = other.run("delete", "--store", "remote", "Shared task")
	testutil.AssertExitCode(t, code, 1)
	testutil.AssertContains(t, errOut, "serves a different project")
	testutil.AssertContains(t, serverSide.mustRun("list"), "Shared task")

	mgr.Shutdown()
	select {
	case code := <-exited:
		if code != 0 {
			t.Errorf("serve exit code %d: %s", code, stderr.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after shutdown")
	}
}

func waitForAddr(t *testing.T, stdout *syncBuffer, exited <-chan int) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case code := <-exited:
			t.Fatalf("serve exited early with code %d", code)
		default:
		}
		out := stdout.String()
		if i := strings.Index(out, " on "); i >= 0 && strings.HasSuffix(out, "\n") {
			return strings.TrimSpace(out[i+len(" on "):])
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("serve never reported its address")
	return ""
}
