// Gateway publishes a chain over http so that remote scanners can use HttpSource.

package chainsource

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	ROUTE_TIP     = "/tip"
	ROUTE_HEADERS = "/headers/:height"
	ROUTE_BLOCKS  = "/blocks"

	MAX_BLOCKS_PER_REQUEST = 1000
)

// ChainReader is the read side of a chain that the gateway serves.
type ChainReader interface {
	Tip() uint64
	BlockAt(height uint64) (*Block, bool)
	BlocksRange(start uint64, count uint64) ([]*Block, bool)
}

func NewGateway(chain ChainReader) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(ROUTE_TIP, func(c *gin.Context) {
		c.JSON(http.StatusOK, jsonTip{Height: chain.Tip()})
	})

	router.GET(ROUTE_HEADERS, func(c *gin.Context) {
		height, err := strconv.ParseUint(c.Param("height"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid height"})
			return
		}
		b, ok := chain.BlockAt(height)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
			return
		}
		c.JSON(http.StatusOK, jsonHeader{Height: b.Height, Hash: b.Hash.String()})
	})

	router.GET(ROUTE_BLOCKS, func(c *gin.Context) {
		start, err := strconv.ParseUint(c.Query("start"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start"})
			return
		}
		count, err := strconv.ParseUint(c.DefaultQuery("count", "100"), 10, 64)
		if err != nil || count == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid count"})
			return
		}
		if count > MAX_BLOCKS_PER_REQUEST {
			count = MAX_BLOCKS_PER_REQUEST
		}

		blocks, more := chain.BlocksRange(start, count)
		resp := jsonBatch{Blocks: make([]jsonBlock, len(blocks)), MoreBlocks: more}
		for i, b := range blocks {
			resp.Blocks[i].encode(b)
		}
		c.JSON(http.StatusOK, resp)
	})

	return router
}

var _ ChainReader = (*SimChain)(nil)
var _ BlockSource = (*SimChain)(nil)
var _ BlockSource = (*HttpSource)(nil)
