package msg

import (
	"strconv"
	"strings"
)

type MSGID int32

const (
	MSG_START MSGID = iota + 1
	MSG_PING
	MSG_PONG

	// endpoint -> broker, must be the first frame on a connection
	MSG_REGISTER
	MSG_REGISTERRESP

	// broker -> endpoint, carries the known server list
	MSG_KEEPALIVE

	MSG_SUB
	// 订阅是否成功返回
	MSG_SUBACK
	MSG_UNSUB

	MSG_PUB
	MSG_RESP

	// endpoint -> broker, players online on that endpoint
	MSG_PLAYERS
	// broker -> endpoint, players online everywhere
	MSG_PLAYERUPDATE
)

var msgIDNames = map[MSGID]string{
	MSG_START:        "MSG_START",
	MSG_PING:         "MSG_PING",
	MSG_PONG:         "MSG_PONG",
	MSG_REGISTER:     "MSG_REGISTER",
	MSG_REGISTERRESP: "MSG_REGISTERRESP",
	MSG_KEEPALIVE:    "MSG_KEEPALIVE",
	MSG_SUB:          "MSG_SUB",
	MSG_SUBACK:       "MSG_SUBACK",
	MSG_UNSUB:        "MSG_UNSUB",
	MSG_PUB:          "MSG_PUB",
	MSG_RESP:         "MSG_RESP",
	MSG_PLAYERS:      "MSG_PLAYERS",
	MSG_PLAYERUPDATE: "MSG_PLAYERUPDATE",
}

func (i MSGID) String() string {
	if s, ok := msgIDNames[i]; ok {
		return s
	}
	return "MSGID(" + strconv.Itoa(int(i)) + ")"
}

type RSPCODE int32

const (
	RspCode_Success RSPCODE = iota
	RspCode_Fail
	RspCode_BadCredentials
	RspCode_UnknownServer
)

func (c RSPCODE) String() string {
	switch c {
	case RspCode_Success:
		return "success"
	case RspCode_Fail:
		return "fail"
	case RspCode_BadCredentials:
		return "bad credentials"
	case RspCode_UnknownServer:
		return "unknown server"
	}
	return "RSPCODE(" + strconv.Itoa(int(c)) + ")"
}

// Destination selects how the broker routes a MsgPub.
type Destination int32

const (
	// DestSubscribers fans out to every connection subscribed to the channel.
	DestSubscribers Destination = iota
	// DestServers delivers to the servers named in To.
	DestServers
	// DestAllServers delivers to every online server except the sender.
	DestAllServers
	// DestBroker delivers to the broker's own channel handler.
	DestBroker
)

type ResponseStatus int32

const (
	Status_OK ResponseStatus = iota
	Status_NotSent
	Status_TimedOut
)

func (s ResponseStatus) String() string {
	switch s {
	case Status_OK:
		return "OK"
	case Status_NotSent:
		return "NOT_SENT"
	case Status_TimedOut:
		return "TIMED_OUT"
	}
	return "ResponseStatus(" + strconv.Itoa(int(s)) + ")"
}

func (s ResponseStatus) IsOK() bool {
	return s == Status_OK
}

// AllServers is the destination name that addresses every online server.
const AllServers = "ALL"

// IsAllServers reports whether names contains AllServers.
func IsAllServers(names []string) bool {
	for _, n := range names {
		if strings.EqualFold(n, AllServers) {
			return true
		}
	}
	return false
}

type MsgRegister struct {
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
	Session  string `json:"session"`
}

type MsgRegisterResp struct {
	Code   RSPCODE `json:"code"`
	Reason string  `json:"reason,omitempty"`
	Broker string  `json:"broker"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Online  bool   `json:"online"`
	Private bool   `json:"private"`
}

type MsgKeepAlive struct {
	Servers []ServerInfo `json:"servers"`
}

type MsgSub struct {
	// Unique ID of this subscriber, used in return error message
	UniqueID int64  `json:"uniqueID"`
	Sub      string `json:"sub"`
	// SID sequence id
	SID string `json:"sid"`
}

type MsgSubAck struct {
	Code     RSPCODE `json:"code"`
	UniqueID int64   `json:"uniqueID"`
	Sub      string  `json:"sub"`
}

type MsgUnSub struct {
	Subs []string `json:"subs"`
}

type MsgPub struct {
	// UniqueID is the consumer id of a request, 0 when no response is wanted.
	UniqueID int64       `json:"uniqueID"`
	Sub      string      `json:"sub"`
	From     string      `json:"from"`
	Dest     Destination `json:"dest"`
	To       []string    `json:"to,omitempty"`
	Data     []byte      `json:"data"`
}

type MsgResp struct {
	UniqueID int64          `json:"uniqueID"`
	Status   ResponseStatus `json:"status"`
	Data     []byte         `json:"data,omitempty"`
}

type MsgPlayers struct {
	Players []string `json:"players"`
}

type MsgPlayerUpdate struct {
	Servers map[string][]string `json:"servers"`
}
