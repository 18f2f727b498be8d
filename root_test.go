package statesync

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func quietConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func newTestRoot(t *testing.T, raw map[string]any) *RootState {
	t.Helper()
	r, err := NewRootState(nil, raw)
	if err != nil {
		t.Fatalf("NewRootState() error = %v", err)
	}
	r.SetConfig(quietConfig())
	return r
}

func TestRootStateMailOrder(t *testing.T) {
	r := newTestRoot(t, nil)
	r.AddNotification(NotifyInfo, "First", "one")
	r.AddNotification(NotifySuccess, "Second", "two")
	r.OpenURL("https://example.com")

	mail := r.FlushMail()
	var types []string
	for _, m := range mail {
		types = append(types, m.Type)
	}
	if diff := cmp.Diff([]string{MailOpenURL, MailNotification, MailNotification}, types); diff != "" {
		t.Errorf("mail types (-want +got):\n%s", diff)
	}
	if n := mail[1].Payload.(Notification); n.Title != "Second" || n.Type != NotifySuccess {
		t.Errorf("newest notification = %+v", n)
	}

	if got := r.FlushMail(); got == nil || len(got) != 0 {
		t.Errorf("second FlushMail() = %#v, want empty non-nil", got)
	}
}

func TestRootStateMailJSON(t *testing.T) {
	r := newTestRoot(t, nil)
	r.AddLogEntry(LogWarning, "Title", "Message", "")
	r.ImportScript("my_script", "/static/script.js")
	r.CallFrontendFunction("mod", "greet")

	b, err := json.Marshal(r.FlushMail())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `[{"type":"functionCall","payload":{"moduleKey":"mod","functionName":"greet","args":[]}},` +
		`{"type":"importScript","payload":{"scriptKey":"my_script","path":"/static/script.js"}},` +
		`{"type":"logEntry","payload":{"type":"warning","title":"Title","message":"Message","code":null}}]`
	if got := string(b); got != want {
		t.Errorf("mail JSON =\n%s\nwant\n%s", got, want)
	}
}

func TestAddLogEntryTruncates(t *testing.T) {
	r := newTestRoot(t, nil)
	long := strings.Repeat("é", LogEntryMaxLen+10)
	r.AddLogEntry(LogError, "Long", long, "trace")

	entry := r.FlushMail()[0].Payload.(LogEntry)
	if got := []rune(entry.Message); len(got) != LogEntryMaxLen+3 || !strings.HasSuffix(entry.Message, "...") {
		t.Errorf("message has %d runes, want %d ending in ...", len(got), LogEntryMaxLen+3)
	}
	if entry.Code == nil || *entry.Code != "trace" {
		t.Errorf("Code = %v, want trace", entry.Code)
	}
}

func TestAddLogEntryLogging(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.MailLogEntries = false
	cfg.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := newTestRoot(t, nil)
	r.SetConfig(cfg)
	r.AddLogEntry(LogCritical, "Disk", "almost full", "")

	if len(r.Mail()) != 0 {
		t.Errorf("mail queued with MailLogEntries off: %+v", r.Mail())
	}
	out := buf.String()
	for _, want := range []string{"app log entry", "title=Disk", `message="almost full"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestFileDownload(t *testing.T) {
	r := newTestRoot(t, nil)

	if err := r.FileDownload([]byte("hi"), "hi.txt"); err != nil {
		t.Fatalf("FileDownload() error = %v", err)
	}
	fd := r.FlushMail()[0].Payload.(FileDownload)
	if fd.Data != "data:;base64,aGk=" || fd.FileName != "hi.txt" {
		t.Errorf("FileDownload payload = %+v", fd)
	}

	if err := r.FileDownload("not bytes", "x"); !IsValidation(err) {
		t.Errorf("FileDownload(string) error = %v, want ErrValidation", err)
	}
}

func TestRootStateMailHelpers(t *testing.T) {
	r := newTestRoot(t, nil)
	r.SetPage("home")
	r.SetRouteVars(map[string]string{"id": "7"})
	r.ImportStylesheet("theme", "/static/theme.css")
	r.ImportFrontendModule("charts", "/static/charts.js")

	want := []Mail{
		{Type: MailImportModule, Payload: ModuleImport{ModuleKey: "charts", Specifier: "/static/charts.js"}},
		{Type: MailImportStyle, Payload: StylesheetImport{StylesheetKey: "theme", Path: "/static/theme.css"}},
		{Type: MailRouteVarsChange, Payload: map[string]string{"id": "7"}},
		{Type: MailPageChange, Payload: "home"},
	}
	if diff := cmp.Diff(want, r.Mail()); diff != "" {
		t.Errorf("Mail() mismatch (-want +got):\n%s", diff)
	}

	r.ClearMail()
	if len(r.Mail()) != 0 {
		t.Error("ClearMail() left mail behind")
	}
}
