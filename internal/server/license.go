package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	licensedomain "github.com/omnisonic/coda/internal/license/domain"
)

func (s *Server) CreateLicense(c *gin.Context) {
	var req licensedomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body is not a valid license"))
		return
	}

	license, err := s.licenseSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, license)
}

func (s *Server) ListLicenses(c *gin.Context) {
	licenses, err := s.licenseSvc.List(c.Request.Context(), licensedomain.ListRequest{
		WorkID:     c.Query("workId"),
		Territory:  c.Query("territory"),
		RightsType: c.Query("rightsType"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"licenses": licenses})
}

func (s *Server) RevokeLicense(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_license_id", "license id is not valid"))
		return
	}

	license, err := s.licenseSvc.Revoke(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, license)
}
