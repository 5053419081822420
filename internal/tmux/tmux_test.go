package tmux

import (
	"fmt"
	"strings"
	"testing"
)

type fakeRunner struct {
	calls   [][]string
	outputs map[string]string
	fail    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: make(map[string]string), fail: make(map[string]error)}
}

func (f *fakeRunner) Run(args ...string) (string, error) {
	f.calls = append(f.calls, args)
	key := strings.Join(args, " ")
	for prefix, err := range f.fail {
		if strings.HasPrefix(key, prefix) {
			return "", err
		}
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(key, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (f *fakeRunner) call(i int) string {
	if i >= len(f.calls) {
		return ""
	}
	return strings.Join(f.calls[i], " ")
}

func TestSendKeysClearsThenTypesThenEnter(t *testing.T) {
	fr := newFakeRunner()
	c := NewClient(fr, nil)

	if err := c.SendKeys("dev:0.2", "echo hi", true); err != nil {
		t.Fatalf("SendKeys: %v", err)
	}
	want := []string{
		"send-keys -t dev:0.2 C-u",
		"send-keys -t dev:0.2 -l echo hi",
		"send-keys -t dev:0.2 Enter",
	}
	if len(fr.calls) != len(want) {
		t.Fatalf("calls = %d, want %d", len(fr.calls), len(want))
	}
	for i, w := range want {
		if fr.call(i) != w {
			t.Errorf("call %d = %q, want %q", i, fr.call(i), w)
		}
	}
}

func TestSendKeysWithoutClear(t *testing.T) {
	fr := newFakeRunner()
	c := NewClient(fr, nil)

	if err := c.SendKeys("dev:0.1", "note", false); err != nil {
		t.Fatalf("SendKeys: %v", err)
	}
	if len(fr.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(fr.calls))
	}
	if strings.Contains(fr.call(0), "C-u") {
		t.Errorf("first call should not clear input: %q", fr.call(0))
	}
}

func TestPaneAlive(t *testing.T) {
	fr := newFakeRunner()
	fr.outputs["list-panes -t dev:0"] = "0\n1\n2\n"
	c := NewClient(fr, nil)

	if !c.PaneAlive("dev", 0, 2) {
		t.Error("pane 2 should be alive")
	}
	if c.PaneAlive("dev", 0, 5) {
		t.Error("pane 5 should not be alive")
	}

	fr.fail["list-panes -t dev:9"] = fmt.Errorf("no such window")
	if c.PaneAlive("dev", 9, 0) {
		t.Error("missing window should report dead pane")
	}
}

func TestKillSessionMissingIsNoError(t *testing.T) {
	fr := newFakeRunner()
	fr.fail["has-session"] = fmt.Errorf("no such session")
	c := NewClient(fr, nil)

	if err := c.KillSession("gone"); err != nil {
		t.Fatalf("KillSession on missing session: %v", err)
	}
	for _, call := range fr.calls {
		if call[0] == "kill-session" {
			t.Error("kill-session should not run for a missing session")
		}
	}
}

func TestSplitMainWindowOrder(t *testing.T) {
	fr := newFakeRunner()
	c := NewClient(fr, nil)

	if err := c.SplitMainWindow("dev"); err != nil {
		t.Fatalf("SplitMainWindow: %v", err)
	}
	want := []string{
		"split-window -h -t dev:0.0 -p 60",
		"split-window -h -t dev:0.1 -p 67",
		"split-window -h -t dev:0.2 -p 50",
		"split-window -v -t dev:0.3",
		"split-window -v -t dev:0.2",
		"split-window -v -t dev:0.1",
	}
	if len(fr.calls) != len(want) {
		t.Fatalf("calls = %d, want %d", len(fr.calls), len(want))
	}
	for i, w := range want {
		if fr.call(i) != w {
			t.Errorf("call %d = %q, want %q", i, fr.call(i), w)
		}
	}
}

func TestSplitGridWindow(t *testing.T) {
	fr := newFakeRunner()
	c := NewClient(fr, nil)

	if err := c.SplitGridWindow("dev", 1, 2, 3); err != nil {
		t.Fatalf("SplitGridWindow: %v", err)
	}
	want := []string{
		"split-window -h -t dev:1.0",
		"split-window -h -t dev:1.1",
		"select-layout -t dev:1 even-horizontal",
		"split-window -v -t dev:1.2",
		"split-window -v -t dev:1.1",
		"split-window -v -t dev:1.0",
	}
	if len(fr.calls) != len(want) {
		t.Fatalf("calls = %d, want %d", len(fr.calls), len(want))
	}
	for i, w := range want {
		if fr.call(i) != w {
			t.Errorf("call %d = %q, want %q", i, fr.call(i), w)
		}
	}
}

func TestWorkerPane(t *testing.T) {
	cases := []struct {
		slot, per    int
		window, pane int
	}{
		{1, 12, 0, 1},
		{6, 12, 0, 6},
		{7, 12, 1, 0},
		{18, 12, 1, 11},
		{19, 12, 2, 0},
	}
	for _, tc := range cases {
		w, p := WorkerPane(tc.slot, tc.per)
		if w != tc.window || p != tc.pane {
			t.Errorf("WorkerPane(%d, %d) = (%d, %d), want (%d, %d)",
				tc.slot, tc.per, w, p, tc.window, tc.pane)
		}
	}
}

func TestTarget(t *testing.T) {
	if got := Target("dev", 1, 4); got != "dev:1.4" {
		t.Errorf("Target = %q", got)
	}
}
