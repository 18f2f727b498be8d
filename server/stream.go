package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/pthm/statesync"
	"github.com/pthm/statesync/lib/encoding"
)

// stream is one websocket connection bound to a session.
type stream struct {
	srv     *Server
	conn    *websocket.Conn
	codec   encoding.Codec
	logger  *slog.Logger
	session *statesync.Session

	writeMu sync.Mutex
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Warn("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	st := &stream{
		srv:    s,
		conn:   conn,
		codec:  encoding.ForSubprotocol(conn.Subprotocol()),
		logger: s.logger.With("remote", r.RemoteAddr),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := st.init(); err != nil {
		st.logger.Warn("stream init failed", "error", err)
		st.close(websocket.ClosePolicyViolation, err.Error())
		return
	}
	st.logger = st.logger.With("session", st.session.ID()[:8])
	st.logger.Debug("stream opened", "codec", st.codec.Name())

	st.serve(ctx)
	st.logger.Debug("stream closed")
}

var errUnknownSession = errors.New("unknown session")

// init waits for a streamInit message naming a live session.
func (st *stream) init() error {
	for {
		in, err := st.read()
		if err != nil {
			return err
		}
		if in.Type != MsgStreamInit || in.Payload == nil {
			continue
		}
		var p streamInitPayload
		if err := decodePayload(st.codec, in.Payload, &p); err != nil {
			return err
		}
		if p.SessionID == "" {
			continue
		}
		session, ok := st.srv.app.Sessions.Get(p.SessionID)
		if !ok {
			return errUnknownSession
		}
		session.Touch()
		st.session = session
		return nil
	}
}

// serve handles requests until the connection fails or the session is
// pruned. Events run concurrently; the session serialises their effects.
func (st *stream) serve(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		in, err := st.read()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				st.logger.Debug("stream read ended", "error", err)
			}
			return
		}
		if _, ok := st.srv.app.Sessions.Get(st.session.ID()); !ok {
			st.close(websocket.ClosePolicyViolation, errUnknownSession.Error())
			return
		}

		switch in.Type {
		case MsgEvent:
			wg.Add(1)
			go func() {
				defer wg.Done()
				st.handleEvent(ctx, in)
			}()
		case MsgKeepAlive:
			st.session.Touch()
			st.reply(in, nil)
		case MsgStateEnquiry:
			st.handleStateEnquiry(in)
		default:
			st.logger.Warn("unsupported stream message", "type", in.Type)
		}
	}
}

func (st *stream) handleEvent(ctx context.Context, in Inbound) {
	var ev statesync.Event
	if err := decodePayload(st.codec, in.Payload, &ev); err != nil {
		st.logger.Warn("malformed event", "error", err)
		st.reply(in, nil)
		return
	}

	res, u, err := st.session.HandleAndFlush(ctx, &ev)
	if err != nil {
		st.logger.Error("flush after event failed", "event", ev.Type, "error", err)
		st.reply(in, nil)
		return
	}
	st.reply(in, EventResponse{Result: res, Mutations: u.Mutations, Mail: mailOrEmpty(u.Mail)})
}

func (st *stream) handleStateEnquiry(in Inbound) {
	u, err := st.session.Flush()
	if err != nil {
		st.logger.Error("state enquiry flush failed", "error", err)
		st.reply(in, nil)
		return
	}
	st.reply(in, StateEnquiryResponse{Mutations: u.Mutations, Mail: mailOrEmpty(u.Mail)})
}

func (st *stream) read() (Inbound, error) {
	var in Inbound
	_, data, err := st.conn.ReadMessage()
	if err != nil {
		return in, err
	}
	if err := st.codec.Unmarshal(data, &in); err != nil {
		return in, err
	}
	return in, nil
}

func (st *stream) reply(in Inbound, payload any) {
	st.write(Outbound{MessageType: in.Type + ResponseSuffix, TrackingID: in.TrackingID, Payload: payload})
}

func (st *stream) write(msg Outbound) {
	data, err := st.codec.Marshal(msg)
	if err != nil {
		st.logger.Error("encode stream message", "type", msg.MessageType, "error", err)
		return
	}
	typ := websocket.TextMessage
	if st.codec.Binary() {
		typ = websocket.BinaryMessage
	}

	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	if err := st.conn.WriteMessage(typ, data); err != nil {
		st.logger.Debug("stream write failed", "error", err)
	}
}

func (st *stream) close(code int, reason string) {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	st.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}
