package mqtt

import (
	"fmt"
)

// Publish sends a state message at the configured QoS.
//
// Delivery is fire-and-forget: the call waits only until paho has handed
// the packet to the network, bounded by defaultPublishTimeout. Returns
// ErrNotConnected while the session is not in the Connected state;
// callers log and drop the message.
//
// Example:
//
//	err := session.Publish(contact.StateTopic(base, 1), contact.PayloadOpen, false)
func (s *Session) Publish(topic, payload string, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if s.State() != StateConnected {
		return ErrNotConnected
	}
	return s.publish(topic, payload, retained)
}

// publish writes directly to the client without checking session state.
func (s *Session) publish(topic, payload string, retained bool) error {
	token := s.client.Publish(topic, s.qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
