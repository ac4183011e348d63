package client

import (
	"fmt"

	"github.com/gistchat/gistchat/internal/types"
)

// Callbacks is the surface consumed by the rendering layer. All callbacks
// are invoked from the synchronizer's loop goroutine, one at a time; a
// nil callback is skipped.
type Callbacks struct {
	OnRoomsUpdated func(rooms map[string]types.Room)
	OnMessage      func(msg types.Message, own bool)
	OnSystemEvent  func(text string)
}

// WelcomeText is shown on entering a room.
const WelcomeText = "Welcome to the room!"

// SystemText renders a presence message for display.
func SystemText(m types.Message) string {
	switch m.Kind {
	case types.KindUserJoined:
		return fmt.Sprintf("%s joined the room", m.Username)
	case types.KindUserLeft:
		return fmt.Sprintf("%s left the room", m.Username)
	default:
		return m.Text
	}
}
