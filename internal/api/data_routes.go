package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nih-sparc/sparc-client-go/internal/services/pennsieve"
)

// MetadataDatasetsHandler lists dataset metadata from the search index
func (g *Gateway) MetadataDatasetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		md, err := g.client.Metadata()
		if err != nil {
			g.fail(c, err)
			return
		}
		raw, err := md.ListDatasets(c.Request.Context(), queryInt(c, "limit"), queryInt(c, "offset"))
		if err != nil {
			g.fail(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", raw)
	}
}

// MetadataSearchHandler forwards an Elasticsearch query body
func (g *Gateway) MetadataSearchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		md, err := g.client.Metadata()
		if err != nil {
			g.fail(c, err)
			return
		}
		raw, err := md.SearchDatasets(c.Request.Context(), json.RawMessage(body))
		if err != nil {
			g.fail(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", raw)
	}
}

// PennsieveDatasetsHandler lists published datasets
func (g *Gateway) PennsieveDatasetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ps, err := g.client.Pennsieve()
		if err != nil {
			g.fail(c, err)
			return
		}

		q := pennsieve.DatasetQuery{
			Limit:          queryInt(c, "limit"),
			Offset:         queryInt(c, "offset"),
			Tags:           splitList(c.Query("tags")),
			OrderBy:        c.Query("orderBy"),
			OrderDirection: c.Query("orderDirection"),
		}
		for _, id := range splitList(c.Query("ids")) {
			n, err := strconv.Atoi(id)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dataset id: " + id})
				return
			}
			q.IDs = append(q.IDs, n)
		}

		page, err := ps.ListDatasets(c.Request.Context(), q)
		if err != nil {
			g.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// PennsieveFilesHandler searches published files
func (g *Gateway) PennsieveFilesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ps, err := g.client.Pennsieve()
		if err != nil {
			g.fail(c, err)
			return
		}

		page, err := ps.ListFiles(c.Request.Context(), pennsieve.FileQuery{
			Limit:          queryInt(c, "limit"),
			Offset:         queryInt(c, "offset"),
			FileType:       c.Query("fileType"),
			Query:          c.Query("query"),
			Organization:   c.Query("organization"),
			OrganizationID: queryInt(c, "organizationId"),
			DatasetID:      queryInt(c, "datasetId"),
		})
		if err != nil {
			g.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// queryInt parses an integer query parameter; absent or invalid values are 0,
// which the services treat as their default.
func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
