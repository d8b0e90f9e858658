package contact

import "fmt"

// Wire payloads for contact state messages.
const (
	PayloadOpen   = "OPEN"
	PayloadClosed = "CLOSED"
)

// StateTopic returns the topic a channel's transitions are published to.
//
// Example: stat/Apartment/Window/Alarm/CONTACT1
func StateTopic(baseTopic string, channel int) string {
	return fmt.Sprintf("stat/%s/CONTACT%d", baseTopic, channel)
}
