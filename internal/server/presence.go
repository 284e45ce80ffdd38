package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/omnisonic/coda/internal/presence"
)

func (s *Server) ListRoomPresence(c *gin.Context) {
	roomID := c.Param("roomId")
	members, err := s.presenceStore.List(c.Request.Context(), roomID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if members == nil {
		members = []presence.Member{}
	}
	c.JSON(http.StatusOK, gin.H{
		"roomId":  roomID,
		"members": members,
		"ttl":     int(s.presenceStore.TTL().Seconds()),
	})
}
