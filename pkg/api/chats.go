package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/zentalk-distantchat/pkg/chat"
	"github.com/ZentaChain/zentalk-distantchat/pkg/distantchat"
	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
)

// InitiateRequest opens a chat from a local identity to a remote one
type InitiateRequest struct {
	To   string `json:"to" binding:"required"`
	From string `json:"from" binding:"required"`
}

// InitiateResponse carries the new session id
type InitiateResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
}

// SessionResponse describes one session
type SessionResponse struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	To        string `json:"to"`
	State     string `json:"state"`
	Tunnel    string `json:"tunnel,omitempty"`
}

// SendMessageRequest carries a chat message body
type SendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// HistoryEntry is one archived message
type HistoryEntry struct {
	Message  string `json:"message"`
	SendTime uint32 `json:"sendTime"`
	RecvTime uint32 `json:"recvTime"`
	Incoming bool   `json:"incoming"`
}

func sessionResponse(info distantchat.Info) SessionResponse {
	resp := SessionResponse{
		SessionID: info.SessionID.String(),
		From:      info.From.String(),
		To:        info.To.String(),
		State:     info.State.String(),
	}
	if info.Tunnel != 0 {
		resp.Tunnel = info.Tunnel.String()
	}
	return resp
}

// sessionParam parses :id, answering 400 when it is malformed
func sessionParam(c *gin.Context) (protocol.PeerID, bool) {
	id, err := protocol.ParsePeerID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid session id",
			Message: err.Error(),
		})
		return protocol.PeerID{}, false
	}
	return id, true
}

// respondError maps session errors to HTTP statuses
func respondError(c *gin.Context, err error) {
	var terr *distantchat.TunnelError
	switch {
	case errors.Is(err, distantchat.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Session not found", Message: err.Error()})
	case errors.As(err, &terr):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Tunnel error", Message: err.Error(), Code: terr.Code.String()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Message: err.Error()})
	}
}

// handleInitiate handles POST /api/v1/chats
func (s *Server) handleInitiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	to, err := protocol.ParseGxsID(req.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid destination identity", Message: err.Error()})
		return
	}
	from, err := protocol.ParseGxsID(req.From)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid source identity", Message: err.Error()})
		return
	}

	id, err := s.chats.Initiate(to, from)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, InitiateResponse{Success: true, SessionID: id.String()})
}

// handleSessions handles GET /api/v1/chats
func (s *Server) handleSessions(c *gin.Context) {
	sessions := s.chats.Sessions()
	out := make([]SessionResponse, 0, len(sessions))
	for _, info := range sessions {
		out = append(out, sessionResponse(info))
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: out})
}

// handleStatus handles GET /api/v1/chats/:id
func (s *Server) handleStatus(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}

	info, err := s.chats.Status(id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse(info))
}

// handleClose handles DELETE /api/v1/chats/:id
func (s *Server) handleClose(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}

	if err := s.chats.Close(id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "closed"})
}

// handleSendMessage handles POST /api/v1/chats/:id/messages
func (s *Server) handleSendMessage(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if err := s.chats.Send(id, chat.NewChatText(req.Message, chat.FlagPrivate)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "sent"})
}

// handleTyping handles POST /api/v1/chats/:id/typing
func (s *Server) handleTyping(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}

	if err := s.chats.Send(id, chat.NewStatus(0, chat.StatusTyping)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// handleHistory handles GET /api/v1/chats/:id/history
func (s *Server) handleHistory(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}

	if s.history == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "History disabled"})
		return
	}

	records, err := s.history.LoadRecords(id)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, HistoryEntry{
			Message:  rec.Message,
			SendTime: rec.SendTime,
			RecvTime: rec.RecvTime,
			Incoming: rec.ConfigFlags&chat.RecordIncoming != 0,
		})
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: out})
}
