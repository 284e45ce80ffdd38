package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	exportdomain "github.com/omnisonic/coda/internal/exportjob/domain"
)

const downloadURLTTLSeconds = 300

func (s *Server) EnqueueExport(c *gin.Context) {
	var req exportdomain.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body is not a valid export request"))
		return
	}

	ctx := c.Request.Context()
	job, err := s.exportSvc.Enqueue(ctx, req, s.identity.CurrentUserID(ctx))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) GetExport(c *gin.Context) {
	job, err := s.exportSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) DownloadExport(c *gin.Context) {
	url, err := s.exportSvc.DownloadURL(c.Request.Context(), c.Param("id"), downloadURLTTLSeconds)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// ServeBlob streams a stored artifact after checking the download signature.
func (s *Server) ServeBlob(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := s.blobSigner.Verify(key, c.Query("expires"), c.Query("sig")); err != nil {
		AbortWithError(c, err)
		return
	}

	data, contentType, err := s.blobStore.Get(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, data)
}
