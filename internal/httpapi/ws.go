package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"schoolbus-tracker/internal/model"
	"schoolbus-tracker/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsEnvelope is the wire frame carried over the realtime transport.
type wsEnvelope struct {
	Type    string                 `json:"type"`
	Payload model.BusLocationEvent `json:"payload"`
}

// wsControl is the only message clients send: a topic switch.
type wsControl struct {
	Subscribe string `json:"subscribe"`
}

// handleWS attaches a viewer to the hub. The initial topic comes from
// the ?bus query parameter (a bus id, or "all" / absent for the whole
// fleet); the client may retarget with {"subscribe": ...} frames.
// Disconnect unsubscribes implicitly.
func (s *Server) handleWS(c *gin.Context) {
	topic := c.DefaultQuery("bus", realtime.TopicAll)
	if topic != realtime.TopicAll {
		if _, err := uuid.Parse(topic); err != nil {
			badRequest(c, "malformed bus topic")
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	clientID := uuid.NewString()
	sub := s.Hub.Subscribe(clientID, topic)

	go s.writePump(conn, sub)
	go s.readPump(conn, clientID)
}

func (s *Server) writePump(conn *websocket.Conn, sub *realtime.Subscription) {
	defer conn.Close()
	for ev := range sub.C {
		frame, err := json.Marshal(wsEnvelope{Type: "busLocation", Payload: ev})
		if err != nil {
			log.Printf("ws marshal error: %v", err)
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn, clientID string) {
	defer func() {
		s.Hub.Unsubscribe(clientID)
		conn.Close()
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws unexpected close: %v", err)
			}
			return
		}
		var ctl wsControl
		if err := json.Unmarshal(raw, &ctl); err != nil || ctl.Subscribe == "" {
			continue
		}
		topic := ctl.Subscribe
		if topic != realtime.TopicAll {
			if _, err := uuid.Parse(topic); err != nil {
				continue
			}
		}
		s.Hub.SetTopic(clientID, topic)
	}
}
