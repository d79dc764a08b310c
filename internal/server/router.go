package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func SetupRouter(cfg *config.Config, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/api/guest-token", handleGuestToken(cfg))
	r.GET("/ws", handleWS(cfg, hub))

	return r
}

func handleGuestToken(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := domain.SanitizeRoomName(c.Query("room"))
		token, claims, err := IssueGuestToken([]byte(cfg.Secret), room, cfg.TokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"uid":        claims.UID,
			"username":   claims.Username,
			"room":       claims.Room,
			"token":      token,
			"expSeconds": int(cfg.TokenTTL / time.Second),
		})
	}
}

func handleWS(cfg *config.Config, hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.Status(http.StatusUnauthorized)
			return
		}
		claims, err := ParseToken([]byte(cfg.Secret), token)

		ws, upErr := upgrader.Upgrade(c.Writer, c.Request, nil)
		if upErr != nil {
			log.Error().Err(upErr).Str("module", "server").Msg("ws upgrade")
			return
		}
		if err != nil {
			// 1008: policy violation, mirroring the token contract.
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
			_ = ws.Close()
			return
		}

		user := domain.User{ID: domain.UserID(claims.UID), Name: claims.Username}
		room := domain.RoomName(claims.Room)
		conn := newWSConn(ws)
		sess := &clientSession{hub: hub, user: user, room: room, conn: conn}

		hub.Join(room, user, conn)
		go conn.writePump()

		log.Info().Str("module", "server").Str("uid", claims.UID).Str("room", claims.Room).Msg("ws connected")

		// Ordering contract: welcome first, then history, then the
		// roster; presence notices go to the others.
		sess.sendJSON(struct {
			Type protocol.Type   `json:"type"`
			UID  domain.UserID   `json:"uid"`
			Room domain.RoomName `json:"room"`
		}{protocol.TypeWelcome, user.ID, room})

		if history := hub.History(room); len(history) > 0 {
			sess.sendJSON(struct {
				Type     protocol.Type        `json:"type"`
				Messages []domain.ChatMessage `json:"messages"`
			}{protocol.TypeHistory, history})
		}

		hub.Broadcast(room, struct {
			Type    protocol.Type `json:"type"`
			Subtype string        `json:"subtype"`
			User    domain.User   `json:"user"`
		}{protocol.TypePresence, protocol.PresenceJoin, user}, user.ID)

		hub.Broadcast(room, struct {
			Type  protocol.Type `json:"type"`
			Users []domain.User `json:"users"`
		}{protocol.TypeUserList, hub.Users(room)}, "")

		conn.readPump(cfg.ReadLimit, sess.handleFrame, func() {
			hub.Leave(room, user.ID)
			hub.Broadcast(room, struct {
				Type    protocol.Type `json:"type"`
				Subtype string        `json:"subtype"`
				User    domain.User   `json:"user"`
			}{protocol.TypePresence, protocol.PresenceLeave, user}, "")
			hub.Broadcast(room, struct {
				Type  protocol.Type `json:"type"`
				Users []domain.User `json:"users"`
			}{protocol.TypeUserList, hub.Users(room)}, "")
			log.Info().Str("module", "server").Str("uid", claims.UID).Msg("ws disconnected")
		})
	}
}
