package mirror

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/panemirror/panemirror/internal/terminal/terminaltest"
)

// startLoop readies the mirror and starts the activity loop, returning once
// the loop is parked on the prompt signal.
func startLoop(t *testing.T, m *Mirror) {
	t.Helper()
	ctx := context.Background()
	if err := m.EnsureReady(ctx); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	m.Start(ctx)
	waitFor(t, "activity loop to wait", m.waiting.Load)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestActivityReportsHumanCommand(t *testing.T) {
	m, f, rec := newTestMirror(t)
	startLoop(t, m)

	f.Human("ls")
	waitFor(t, "a report", func() bool { return len(rec.all()) > 0 })

	got := rec.all()[0]
	want := "~ $ ls\na.txt  b.txt\n[exit code: 0]"
	if got != want {
		t.Errorf("report = %q, want %q", got, want)
	}
}

func TestActivityReportsExitCode(t *testing.T) {
	m, f, rec := newTestMirror(t)
	startLoop(t, m)

	f.Human("nosuchcmd")
	waitFor(t, "a report", func() bool { return len(rec.all()) > 0 })

	got := rec.all()[0]
	if !strings.Contains(got, "nosuchcmd: command not found") || !strings.HasSuffix(got, "[exit code: 127]") {
		t.Errorf("report = %q", got)
	}
}

func TestActivitySuppressedWhileAgentBusy(t *testing.T) {
	m, f, rec := newTestMirror(t)
	m.SetAgentBusy(true)
	if err := m.EnsureReady(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	f.Human("ls")
	time.Sleep(100 * time.Millisecond)
	if got := rec.all(); len(got) != 0 {
		t.Errorf("got reports while busy: %q", got)
	}
}

func TestActivityIgnoresAgentCommands(t *testing.T) {
	m, f, rec := newTestMirror(t)
	startLoop(t, m)
	ctx := context.Background()

	res, err := m.Exec(ctx, Request{Command: "echo from-agent"})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Output != "from-agent" {
		t.Errorf("output = %q", res.Output)
	}
	time.Sleep(100 * time.Millisecond)
	if got := rec.all(); len(got) != 0 {
		t.Fatalf("agent command was reported: %q", got)
	}

	// Human activity after an agent command is still picked up, and only
	// the new command is described.
	waitFor(t, "activity loop to wait", m.waiting.Load)
	f.Human("ls")
	waitFor(t, "a report", func() bool { return len(rec.all()) > 0 })
	got := rec.all()[0]
	if strings.Contains(got, "from-agent") || !strings.Contains(got, "$ ls") {
		t.Errorf("report = %q", got)
	}
}

func TestActivityReportsCommandTypedDuringTurn(t *testing.T) {
	m, f, rec := newTestMirror(t)
	startLoop(t, m)

	f.Human("ls")
	waitFor(t, "first report", func() bool { return len(rec.all()) == 1 })

	// The agent reacts to the report; meanwhile the human keeps typing.
	m.SetAgentBusy(true)
	time.Sleep(20 * time.Millisecond)
	f.Human("pwd")
	time.Sleep(50 * time.Millisecond)
	if got := rec.all(); len(got) != 1 {
		t.Fatalf("reported during the turn: %q", got)
	}
	m.SetAgentBusy(false)

	waitFor(t, "second report", func() bool { return len(rec.all()) == 2 })
	if got, want := rec.all()[1], "~ $ pwd\n/home/user\n[exit code: 0]"; got != want {
		t.Errorf("report = %q, want %q", got, want)
	}
}

func TestActivityKeepsCommandTypedBeforeAgentExec(t *testing.T) {
	m, f, rec := newTestMirror(t)
	startLoop(t, m)
	ctx := context.Background()

	m.SetAgentBusy(true)
	time.Sleep(20 * time.Millisecond)
	f.Human("pwd")
	res, err := m.Exec(ctx, Request{Command: "echo from-agent"})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Output != "from-agent" {
		t.Errorf("output = %q", res.Output)
	}
	m.SetAgentBusy(false)

	waitFor(t, "a report", func() bool { return len(rec.all()) > 0 })
	time.Sleep(50 * time.Millisecond)
	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("reports = %q, want exactly one", got)
	}
	if want := "~ $ pwd\n/home/user\n[exit code: 0]"; got[0] != want {
		t.Errorf("report = %q, want %q", got[0], want)
	}
}

func TestActivityIgnoresEmptyPromptRedraw(t *testing.T) {
	m, f, rec := newTestMirror(t)
	startLoop(t, m)

	// Pressing Enter on an empty line fires the hook without a command.
	f.Human("")
	time.Sleep(100 * time.Millisecond)
	if got := rec.all(); len(got) != 0 {
		t.Errorf("got reports for an empty line: %q", got)
	}
}

func TestFormatReport(t *testing.T) {
	m := New(terminaltest.NewShell(), Options{
		Home:           "/home/user",
		MaxReportLines: 3,
		MaxLineWidth:   10,
	})

	tests := []struct {
		name   string
		cwd    string
		output string
		rc     int
		want   string
	}{
		{
			name: "no output",
			cwd:  "/home/user/src",
			rc:   1,
			want: "~/src $ make\n[exit code: 1]",
		},
		{
			name:   "outside home",
			cwd:    "/tmp",
			output: "ok",
			want:   "/tmp $ make\nok\n[exit code: 0]",
		},
		{
			name:   "long output keeps the tail",
			cwd:    "/home/user",
			output: "1\n2\n3\n4\n5",
			want:   "~ $ make\n... (2 earlier lines omitted)\n3\n4\n5\n[exit code: 0]",
		},
		{
			name:   "wide line is cut",
			cwd:    "/home/user",
			output: "abcdefghijklmnop",
			want:   "~ $ make\nabcdefg...\n[exit code: 0]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.formatReport(tt.cwd, "make", tt.output, tt.rc); got != tt.want {
				t.Errorf("formatReport() = %q, want %q", got, tt.want)
			}
		})
	}
}
