package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/zentalk-distantchat/pkg/chat"
	"github.com/ZentaChain/zentalk-distantchat/pkg/distantchat"
)

const defaultEventBatch = 100

// EventView is the JSON form of a session event
type EventView struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"sessionId"`
	Time      time.Time `json:"time"`
	State     string    `json:"state,omitempty"`
	Tunnel    string    `json:"tunnel,omitempty"`
	ItemKind  string    `json:"itemKind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Status    string    `json:"status,omitempty"`
	Flags     uint32    `json:"flags,omitempty"`
}

func eventView(e distantchat.Event) EventView {
	v := EventView{
		Kind:      e.Kind.String(),
		SessionID: e.SessionID.String(),
		Time:      e.Time,
	}

	if e.Kind == distantchat.EventStatus {
		v.State = e.State.String()
		v.Tunnel = e.Tunnel.String()
		return v
	}

	if e.Item == nil {
		return v
	}
	v.ItemKind = chat.SubtypeName(e.Item.Subtype())
	switch it := e.Item.(type) {
	case *chat.ChatText:
		v.Message = it.Message
		v.Flags = it.ChatFlags
	case *chat.StatusControl:
		v.Status = it.Status
		v.Flags = it.Flags
	}
	return v
}

// handleEvents handles GET /api/v1/events?max=N. It returns what is queued
// and never waits.
func (s *Server) handleEvents(c *gin.Context) {
	limit := defaultEventBatch
	if raw := c.Query("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid max",
				Message: "max must be a positive number",
			})
			return
		}
		limit = n
	}
	if limit > s.config.MaxEvents {
		limit = s.config.MaxEvents
	}

	events := s.chats.Events()
	out := make([]EventView, 0)
drain:
	for len(out) < limit {
		select {
		case e := <-events:
			out = append(out, eventView(e))
		default:
			break drain
		}
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: out})
}
