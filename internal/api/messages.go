package api

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gistchat/gistchat/internal/client"
	"github.com/gistchat/gistchat/internal/types"
)

type BaseFrame struct {
	Id        int   `json:"id,omitempty"`
	Timestamp int64 `json:"timestamp"`
}

// ClientFrame is one widget request. Exactly one of the action fields is
// set.
type ClientFrame struct {
	BaseFrame
	Create      *Create      `json:"create,omitempty"`
	Join        *Join        `json:"join,omitempty"`
	Leave       *Leave       `json:"leave,omitempty"`
	Publish     *Publish     `json:"publish,omitempty"`
	SetUsername *SetUsername `json:"set_username,omitempty"`
}

type Create struct {
	Room     string `json:"room"`
	Password string `json:"password,omitempty"`
}

type Join struct {
	Room     string `json:"room"`
	Password string `json:"password,omitempty"`
}

type Leave struct{}

type Publish struct {
	Text string `json:"text"`
}

type SetUsername struct {
	Username string `json:"username"`
}

// ServerFrame is one widget event: a response to a request, or an
// unsolicited room-list, message or system update from the synchronizer.
type ServerFrame struct {
	BaseFrame
	Response *Response     `json:"response,omitempty"`
	Rooms    []RoomInfo    `json:"rooms,omitempty"`
	Message  *MessageEvent `json:"message,omitempty"`
	System   *SystemEvent  `json:"system,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

type RoomInfo struct {
	Name         string `json:"name"`
	HasPassword  bool   `json:"has_password"`
	UserCount    int    `json:"user_count"`
	LastActivity int64  `json:"last_activity"`
	Remote       bool   `json:"remote,omitempty"`
	// Active reports recent activity within the room-liveness window.
	Active bool `json:"active"`
}

type MessageEvent struct {
	Room      string `json:"room"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Own       bool   `json:"own"`
}

type SystemEvent struct {
	Text string `json:"text"`
}

func frameNow() int64 {
	return types.NowMillis()
}

func okResponse(id int) *ServerFrame {
	return &ServerFrame{
		BaseFrame: BaseFrame{Id: id, Timestamp: frameNow()},
		Response:  &Response{ResponseCode: http.StatusOK},
	}
}

func errResponse(id, code int, msg string) *ServerFrame {
	return &ServerFrame{
		BaseFrame: BaseFrame{Id: id, Timestamp: frameNow()},
		Response:  &Response{ResponseCode: code, Error: msg},
	}
}

// actionResponse maps a synchronizer action result onto a response frame.
func actionResponse(id int, err error) *ServerFrame {
	if err == nil {
		return okResponse(id)
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, client.ErrEmptyRoomName),
		errors.Is(err, client.ErrEmptyMessage),
		errors.Is(err, client.ErrEmptyUsername):
		code = http.StatusBadRequest
	case errors.Is(err, client.ErrWrongPassword):
		code = http.StatusForbidden
	case errors.Is(err, client.ErrRoomExists),
		errors.Is(err, client.ErrNotInRoom),
		errors.Is(err, client.ErrAlreadyInRoom):
		code = http.StatusConflict
	case errors.Is(err, client.ErrStopped):
		code = http.StatusServiceUnavailable
	}
	return errResponse(id, code, err.Error())
}

// roomInfos flattens the registry for the wire, newest activity first.
func roomInfos(rooms map[string]types.Room, liveness time.Duration) []RoomInfo {
	now := types.NowMillis()
	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomInfo{
			Name:         r.Name,
			HasPassword:  r.HasPassword(),
			UserCount:    r.UserCount,
			LastActivity: r.LastActivityAt,
			Remote:       r.Origin == types.OriginRemote,
			Active:       now-r.LastActivityAt < liveness.Milliseconds(),
		})
	}
	sortRoomInfos(out)
	return out
}

func sortRoomInfos(infos []RoomInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].LastActivity != infos[j].LastActivity {
			return infos[i].LastActivity > infos[j].LastActivity
		}
		return infos[i].Name < infos[j].Name
	})
}
