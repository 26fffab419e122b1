package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/betbot/sealedsale/internal/indexer"
)

// GET /api/events?name=&contract=&after=&limit=
func (s *Server) handleEvents(c *gin.Context) {
	if s.cfg.Events == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "event index is not configured"})
		return
	}
	f := indexer.Filter{Name: strings.TrimSpace(c.Query("name"))}
	if v := strings.TrimSpace(c.Query("contract")); v != "" {
		addr, err := parseAddress("contract", v)
		if err != nil {
			writeError(c, err)
			return
		}
		f.Contract = addr.Hex()
	}
	if v := strings.TrimSpace(c.Query("after")); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(c, badRequest("after: %v", err))
			return
		}
		f.AfterSeq = n
	}
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	f = f.Normalize()

	recs, err := s.cfg.Events.Query(c.Request.Context(), f)
	if err != nil {
		writeError(c, errors.Wrap(err, "query event index"))
		return
	}
	if recs == nil {
		recs = []indexer.Record{}
	}
	next := f.AfterSeq
	if len(recs) > 0 {
		next = recs[len(recs)-1].Seq
	}
	c.JSON(http.StatusOK, gin.H{"events": recs, "next": next})
}
