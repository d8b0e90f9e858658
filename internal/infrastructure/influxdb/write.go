package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/i2c2mqtt/internal/contact"
)

// measurementTransition is the measurement name for contact transitions.
const measurementTransition = "contact_transition"

// RecordTransition queues one point for a detected transition.
// Non-blocking; dropped silently once the client is closed.
func (c *Client) RecordTransition(t contact.Transition, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.points.WritePoint(transitionPoint(t, at))
}

func transitionPoint(t contact.Transition, at time.Time) *write.Point {
	return write.NewPoint(
		measurementTransition,
		map[string]string{
			"channel": strconv.Itoa(t.Channel),
		},
		map[string]interface{}{
			"open": t.State,
		},
		at,
	)
}
