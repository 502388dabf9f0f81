package idxsynccli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"idxsync/internal/app"
	"idxsync/internal/config"
	"idxsync/internal/idxsyncd"
)

type fixture struct {
	defs  string
	args  []string
	bleve string
	dsn   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	settings := filepath.Join(dir, "stores.json")
	if err := os.WriteFile(settings, []byte(`{"settings":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	defs := filepath.Join(dir, "index.yaml")
	body := "index:\n" +
		"  - name: stores\n" +
		"    cron: \"0 0 3 * * *\"\n" +
		"    mode: full\n" +
		"    settings_path: " + settings + "\n" +
		"    handler: store\n" +
		"    db_batch_size: 10\n" +
		"    es_batch_size: 10\n" +
		"  - name: stores\n" +
		"    cron: \"0 */5 * * * *\"\n" +
		"    mode: incremental\n" +
		"    handler: store\n" +
		"    db_batch_size: 10\n" +
		"    es_batch_size: 10\n"
	if err := os.WriteFile(defs, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	f := fixture{defs: defs, bleve: filepath.Join(dir, "bleve"), dsn: filepath.Join(dir, "src.db")}
	f.args = []string{
		"-f", f.defs,
		"--backend", "bleve",
		"--bleve-path", f.bleve,
		"--db-driver", "sqlite",
		"--db-dsn", f.dsn,
		"--timezone", "UTC",
		"--log-level", "error",
	}
	return f
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	out, _, err := ExecuteForTest(cmd, stdin)
	return out, err
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execute(t, "", "--help")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, want := range []string{"idxsync", "run", "list", "status", "bootstrap"} {
		if !strings.Contains(out, want) {
			t.Fatalf("help missing %q: %s", want, out)
		}
	}
}

func TestFlagsOverrideDefaults(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"list", "-f", "x.yaml", "--es-hosts", "http://a:9200, http://b:9200", "--backend", " BLEVE "})
	_, opts, _ := ExecuteForTest(cmd, "")
	if opts.System.Definitions != "x.yaml" {
		t.Fatalf("Definitions=%q", opts.System.Definitions)
	}
	if len(opts.System.ESHosts) != 2 || opts.System.ESHosts[1] != "http://b:9200" {
		t.Fatalf("ESHosts=%v", opts.System.ESHosts)
	}
	if opts.System.Backend != "bleve" {
		t.Fatalf("Backend=%q", opts.System.Backend)
	}
}

func TestList(t *testing.T) {
	f := newFixture(t)
	out, err := execute(t, "", "list", "-f", f.defs)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Count(out, "stores") != 2 || !strings.Contains(out, "incremental") {
		t.Fatalf("list output: %s", out)
	}
}

func TestListMissingFile(t *testing.T) {
	if _, err := execute(t, "", "list", "-f", filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestBootstrapThenRunByName(t *testing.T) {
	f := newFixture(t)
	if _, err := execute(t, "", append([]string{"bootstrap"}, f.args...)...); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	out, err := execute(t, "", append([]string{"run", "--index", "stores/full"}, f.args...)...)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Indexing operation completed.") {
		t.Fatalf("run output: %s", out)
	}
}

func TestRunFailurePrintsMessage(t *testing.T) {
	f := newFixture(t)
	if _, err := execute(t, "", append([]string{"bootstrap"}, f.args...)...); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	// No full run yet, so there is no watermark to start from.
	out, err := execute(t, "", append([]string{"run", "--index", "stores/incremental"}, f.args...)...)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(out, "Index failed.") {
		t.Fatalf("run output: %s", out)
	}
}

func TestSelectDefinitionReprompts(t *testing.T) {
	defs := []config.Definition{{Name: "a", Mode: config.ModeFull}, {Name: "b", Mode: config.ModeIncremental}}
	var out bytes.Buffer
	def, err := selectDefinition(strings.NewReader("x\n7\n2\n"), &out, defs)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if def.Name != "b" {
		t.Fatalf("selected %q", def.Name)
	}
	s := out.String()
	for _, want := range []string{
		"[================ Yummy Indexing CLI ================]",
		"[1] a - full",
		"[2] b - incremental",
		"Invalid input, please enter a number.",
		"Invalid input, please enter a number between 1 and 2.",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("menu missing %q:\n%s", want, s)
		}
	}
}

func TestSelectDefinitionEOF(t *testing.T) {
	var out bytes.Buffer
	_, err := selectDefinition(strings.NewReader(""), &out, []config.Definition{{Name: "a"}})
	if err != errNoSelection {
		t.Fatalf("err=%v", err)
	}
}

func TestStatusFromDaemon(t *testing.T) {
	f := newFixture(t)
	if _, err := execute(t, "", append([]string{"bootstrap"}, f.args...)...); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	sys := config.DefaultSystem()
	sys.Definitions = f.defs
	sys.Backend = config.BackendBleve
	sys.BlevePath = f.bleve
	sys.DBDriver = "sqlite"
	sys.DBDSN = f.dsn
	sys.Timezone = "UTC"
	a, err := app.Open(context.Background(), sys)
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if _, err := a.RunOnce(context.Background(), "stores/full"); err != nil {
		t.Fatalf("run once: %v", err)
	}

	s := idxsyncd.NewServer(idxsyncd.Options{Listen: "127.0.0.1:0"}, idxsyncd.NewHandlers(a))
	go func() { _ = s.Run(context.Background()) }()
	t.Cleanup(func() { _ = s.Close() })
	deadline := time.Now().Add(time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	out, err := execute(t, "", "status", "-f", f.defs, "--admin", s.Addr())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "stores") || !strings.Contains(out, "ok") || !strings.Contains(out, "idle") {
		t.Fatalf("status output: %s", out)
	}
}

func TestRunAmbiguousName(t *testing.T) {
	f := newFixture(t)
	out, err := execute(t, "", append([]string{"run", "--index", "stores"}, f.args...)...)
	if err == nil {
		t.Fatalf("expected error, got: %s", out)
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	f := newFixture(t)
	if _, err := execute(t, "", "status", "-f", f.defs, "--admin", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error")
	}
}
