package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuemby/tickr/pkg/events"
)

// streamEvents streams broker events as server-sent events until the client
// disconnects. ?type= restricts the stream to one or more event types.
func (s *Server) streamEvents(c *gin.Context) {
	filter := make(map[events.EventType]bool)
	for _, t := range c.QueryArray("type") {
		filter[events.EventType(t)] = true
	}

	sub := s.config.Broker.Subscribe()
	defer s.config.Broker.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub:
			if !ok {
				return false
			}
			if len(filter) > 0 && !filter[ev.Type] {
				return true
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		}
	})
}
