package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/notify"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWS attaches the caller to the event hub over a websocket. Responders
// and admins join the shared responder feed plus their personal topic; end
// users only receive their personal topic.
func (h *Handler) serveWS(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	topics := []string{notify.UserTopic(caller.ID)}
	if caller.Role == models.RoleResponder || caller.Role == models.RoleAdmin {
		topics = append(topics, notify.TopicResponders)
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	client := notify.NewWSClient(h.hub, conn, topics...)
	client.Run()
}
