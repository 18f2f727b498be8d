package statesync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
)

// LogEntryMaxLen bounds the message of a mailed log entry.
const LogEntryMaxLen = 8192

// Notification levels.
const (
	NotifyInfo    = "info"
	NotifySuccess = "success"
	NotifyWarning = "warning"
	NotifyError   = "error"
)

// Log entry levels.
const (
	LogDebug    = "debug"
	LogInfo     = "info"
	LogWarning  = "warning"
	LogError    = "error"
	LogCritical = "critical"
)

// Mail types understood by the frontend.
const (
	MailNotification    = "notification"
	MailLogEntry        = "logEntry"
	MailFileDownload    = "fileDownload"
	MailOpenURL         = "openUrl"
	MailPageChange      = "pageChange"
	MailRouteVarsChange = "routeVarsChange"
	MailImportStyle     = "importStylesheet"
	MailImportScript    = "importScript"
	MailImportModule    = "importModule"
	MailFunctionCall    = "functionCall"
)

// Mail is a one-shot instruction for the frontend.
type Mail struct {
	Type    string `json:"type" msgpack:"type"`
	Payload any    `json:"payload" msgpack:"payload"`
}

// Notification is the payload of a notification mail.
type Notification struct {
	Type    string `json:"type" msgpack:"type"`
	Title   string `json:"title" msgpack:"title"`
	Message string `json:"message" msgpack:"message"`
}

// LogEntry is the payload of a logEntry mail. Code is null when absent.
type LogEntry struct {
	Type    string  `json:"type" msgpack:"type"`
	Title   string  `json:"title" msgpack:"title"`
	Message string  `json:"message" msgpack:"message"`
	Code    *string `json:"code" msgpack:"code"`
}

// FileDownload is the payload of a fileDownload mail.
type FileDownload struct {
	Data     any    `json:"data" msgpack:"data"`
	FileName string `json:"fileName" msgpack:"fileName"`
}

// StylesheetImport is the payload of an importStylesheet mail.
type StylesheetImport struct {
	StylesheetKey string `json:"stylesheetKey" msgpack:"stylesheetKey"`
	Path          string `json:"path" msgpack:"path"`
}

// ScriptImport is the payload of an importScript mail.
type ScriptImport struct {
	ScriptKey string `json:"scriptKey" msgpack:"scriptKey"`
	Path      string `json:"path" msgpack:"path"`
}

// ModuleImport is the payload of an importModule mail.
type ModuleImport struct {
	ModuleKey string `json:"moduleKey" msgpack:"moduleKey"`
	Specifier string `json:"specifier" msgpack:"specifier"`
}

// FunctionCall is the payload of a functionCall mail.
type FunctionCall struct {
	ModuleKey    string `json:"moduleKey" msgpack:"moduleKey"`
	FunctionName string `json:"functionName" msgpack:"functionName"`
	Args         []any  `json:"args" msgpack:"args"`
}

// RootState is the top-level state of a session: the user state plus an
// outgoing mail queue. Mail is kept newest first.
type RootState struct {
	*State
	mail   []Mail
	config *Config
}

// NewRootState returns a root state of schema holding raw.
func NewRootState(schema *Schema, raw map[string]any) (*RootState, error) {
	st, err := NewState(schema, raw)
	if err != nil {
		return nil, err
	}
	return &RootState{State: st}, nil
}

// MustRootState is NewRootState that panics on error, for initial state
// declarations.
func MustRootState(schema *Schema, raw map[string]any) *RootState {
	r, err := NewRootState(schema, raw)
	if err != nil {
		panic(err)
	}
	return r
}

// SetConfig sets the configuration used for logging and log mail. Nil
// restores the defaults.
func (r *RootState) SetConfig(cfg *Config) { r.config = cfg }

// Config returns the configuration in use.
func (r *RootState) Config() *Config { return configOrDefault(r.config) }

// UserState returns the proxy holding the user-visible state.
func (r *RootState) UserState() *StateProxy { return r.proxy }

// AddMail queues a mail item at the front of the queue.
func (r *RootState) AddMail(typ string, payload any) {
	r.mail = slices.Insert(r.mail, 0, Mail{Type: typ, Payload: payload})
}

// AddNotification queues a toast-style notification.
func (r *RootState) AddNotification(typ, title, message string) {
	r.AddMail(MailNotification, Notification{Type: typ, Title: title, Message: message})
}

var logLevels = map[string]slog.Level{
	LogDebug:    slog.LevelDebug,
	LogInfo:     slog.LevelInfo,
	LogWarning:  slog.LevelWarn,
	LogError:    slog.LevelError,
	LogCritical: slog.LevelError + 4,
}

// AddLogEntry writes the entry to the configured logger and, if log mail
// is enabled, queues it for the frontend with the message truncated to
// LogEntryMaxLen characters. An empty code is sent as null.
func (r *RootState) AddLogEntry(typ, title, message, code string) {
	cfg := r.Config()

	level, ok := logLevels[typ]
	if !ok {
		level = slog.LevelInfo
	}
	attrs := []any{slog.String("title", title), slog.String("message", message)}
	if code != "" {
		attrs = append(attrs, slog.String("code", code))
	}
	cfg.logger().Log(context.Background(), level, "app log entry", attrs...)

	if !cfg.MailLogEntries {
		return
	}
	if runes := []rune(message); len(runes) > LogEntryMaxLen {
		message = string(runes[:LogEntryMaxLen]) + "..."
	}
	entry := LogEntry{Type: typ, Title: title, Message: message}
	if code != "" {
		entry.Code = &code
	}
	r.AddMail(MailLogEntry, entry)
}

// FileDownload queues a download of data, which must be []byte, a
// *FileWrapper or a *BytesWrapper.
func (r *RootState) FileDownload(data any, fileName string) error {
	switch data.(type) {
	case []byte, *FileWrapper, *BytesWrapper:
	default:
		return fmt.Errorf("%w: data for a fileDownload mail must be []byte, a FileWrapper or a BytesWrapper, got %T", ErrValidation, data)
	}
	sv, err := r.proxy.serializer().Serialise(data)
	if err != nil {
		return err
	}
	r.AddMail(MailFileDownload, FileDownload{Data: sv, FileName: fileName})
	return nil
}

// OpenURL asks the frontend to open url.
func (r *RootState) OpenURL(url string) { r.AddMail(MailOpenURL, url) }

// SetPage switches the active page.
func (r *RootState) SetPage(pageKey string) { r.AddMail(MailPageChange, pageKey) }

// SetRouteVars replaces the route variables in the page hash.
func (r *RootState) SetRouteVars(vars map[string]string) { r.AddMail(MailRouteVarsChange, vars) }

// ImportStylesheet loads a stylesheet into the page under key.
func (r *RootState) ImportStylesheet(key, path string) {
	r.AddMail(MailImportStyle, StylesheetImport{StylesheetKey: key, Path: path})
}

// ImportScript loads a script into the page under key.
//
//	initial := statesync.MustRootState(nil, map[string]any{"counter": 1})
//	initial.ImportScript("my_script", "/static/script.js")
func (r *RootState) ImportScript(key, path string) {
	r.AddMail(MailImportScript, ScriptImport{ScriptKey: key, Path: path})
}

// ImportFrontendModule imports an ES module under key.
func (r *RootState) ImportFrontendModule(key, specifier string) {
	r.AddMail(MailImportModule, ModuleImport{ModuleKey: key, Specifier: specifier})
}

// CallFrontendFunction calls an exported function of an imported module.
func (r *RootState) CallFrontendFunction(moduleKey, functionName string, args ...any) {
	if args == nil {
		args = []any{}
	}
	r.AddMail(MailFunctionCall, FunctionCall{ModuleKey: moduleKey, FunctionName: functionName, Args: args})
}

// Mail returns a copy of the queued mail, newest first.
func (r *RootState) Mail() []Mail { return slices.Clone(r.mail) }

// FlushMail returns the queued mail and empties the queue.
func (r *RootState) FlushMail() []Mail {
	m := r.mail
	r.mail = nil
	if m == nil {
		m = []Mail{}
	}
	return m
}

// ClearMail empties the queue.
func (r *RootState) ClearMail() { r.mail = nil }
