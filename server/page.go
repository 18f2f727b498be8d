package server

import (
	"context"
	"io"
	"net/http"

	"github.com/a-h/templ"

	"github.com/pthm/statesync"
)

// bootstrapScript opens a session and its stream, then logs every
// response. A real frontend replaces this page.
const bootstrapScript = `
(async () => {
  const res = await fetch("/api/init", {method: "POST", body: JSON.stringify({proposedSessionId: ""})});
  if (!res.ok) { document.body.dataset.error = res.status; return; }
  const pack = await res.json();
  window.statesync = {pack, trackingId: 0};
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/api/stream");
  ws.onopen = () => ws.send(JSON.stringify({type: "streamInit", trackingId: 0, payload: {sessionId: pack.sessionId}}));
  ws.onmessage = (m) => console.log(JSON.parse(m.data));
  window.statesync.send = (type, instancePath, payload) => ws.send(JSON.stringify({
    type: "event", trackingId: ++window.statesync.trackingId,
    payload: {type, instancePath, payload},
  }));
  setInterval(() => ws.send(JSON.stringify({type: "keepAlive", trackingId: -1, payload: null})), 30000);
})();
`

// Page returns the bootstrap page titled after the root component's
// appName.
func Page(title string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!doctype html><html><head><meta charset="utf-8"><title>`); err != nil {
			return err
		}
		if _, err := io.WriteString(w, templ.EscapeString(title)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `</title></head><body><div id="app"></div><script>`); err != nil {
			return err
		}
		if _, err := io.WriteString(w, bootstrapScript); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</script></body></html>`)
		return err
	})
}

func (s *Server) appTitle() string {
	if root := s.app.Tree.GetComponent(statesync.RootComponentID); root != nil {
		if name := root.Content["appName"]; name != "" {
			return name
		}
	}
	return "statesync"
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	templ.Handler(Page(s.appTitle())).ServeHTTP(w, r)
}
