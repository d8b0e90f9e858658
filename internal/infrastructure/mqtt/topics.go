package mqtt

import "fmt"

// Presence payloads published on the LWT topic.
const (
	PayloadOnline  = "Online"
	PayloadOffline = "Offline"
)

// LWTTopic returns the presence topic for a base topic.
//
// Example: tele/Apartment/Window/Alarm/LWT
func LWTTopic(baseTopic string) string {
	return fmt.Sprintf("tele/%s/LWT", baseTopic)
}
