package server

import (
	"github.com/pthm/statesync"
	"github.com/pthm/statesync/lib/encoding"
)

// Stream message types sent by the frontend.
const (
	MsgStreamInit   = "streamInit"
	MsgEvent        = "event"
	MsgKeepAlive    = "keepAlive"
	MsgStateEnquiry = "stateEnquiry"
)

// ResponseSuffix is appended to a request type to name its response.
const ResponseSuffix = "Response"

type initRequest struct {
	ProposedSessionID string `json:"proposedSessionId"`
}

// InitResponse is the starter pack a new session receives.
type InitResponse struct {
	Mode          string            `json:"mode"`
	SessionID     string            `json:"sessionId"`
	UserState     *statesync.Object `json:"userState"`
	Mail          []statesync.Mail  `json:"mail"`
	Components    *statesync.Object `json:"components"`
	UserFunctions []string          `json:"userFunctions"`
}

// Inbound is a stream message from the frontend.
type Inbound struct {
	Type       string `json:"type"`
	TrackingID int64  `json:"trackingId"`
	Payload    any    `json:"payload"`
}

// Outbound is a stream message to the frontend.
type Outbound struct {
	MessageType string `json:"messageType"`
	TrackingID  int64  `json:"trackingId"`
	Payload     any    `json:"payload"`
}

// EventResponse answers an event with its result and the state changes it
// caused.
type EventResponse struct {
	Result    statesync.EventResult `json:"result"`
	Mutations *statesync.Object     `json:"mutations"`
	Mail      []statesync.Mail      `json:"mail"`
}

// StateEnquiryResponse carries changes made outside of event handling.
type StateEnquiryResponse struct {
	Mutations *statesync.Object `json:"mutations"`
	Mail      []statesync.Mail  `json:"mail"`
}

type streamInitPayload struct {
	SessionID string `json:"sessionId"`
}

// decodePayload converts a generically decoded payload into v by
// re-encoding it with the connection's codec.
func decodePayload(codec encoding.Codec, payload any, v any) error {
	data, err := codec.Marshal(payload)
	if err != nil {
		return err
	}
	return codec.Unmarshal(data, v)
}

func mailOrEmpty(m []statesync.Mail) []statesync.Mail {
	if m == nil {
		return []statesync.Mail{}
	}
	return m
}
