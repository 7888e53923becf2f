package api

import "github.com/sirupsen/logrus"

type sseMessage struct {
	event string
	data  interface{}
}

func (h *HTTPHandler) registerSSEClient(userUUID string, ch chan sseMessage) {
	if h == nil || ch == nil || userUUID == "" {
		return
	}
	h.sseMu.Lock()
	defer h.sseMu.Unlock()

	if h.sseClients == nil {
		h.sseClients = make(map[string][]chan sseMessage)
	}
	h.sseClients[userUUID] = append(h.sseClients[userUUID], ch)
}

func (h *HTTPHandler) unregisterSSEClient(userUUID string, target chan sseMessage) {
	if h == nil || target == nil || userUUID == "" {
		return
	}
	h.sseMu.Lock()
	defer h.sseMu.Unlock()

	current := h.sseClients[userUUID]
	if len(current) == 0 {
		return
	}

	remaining := current[:0]
	for _, ch := range current {
		if ch == target {
			continue
		}
		remaining = append(remaining, ch)
	}

	if len(remaining) == 0 {
		delete(h.sseClients, userUUID)
		return
	}

	h.sseClients[userUUID] = remaining
}

func (h *HTTPHandler) publishSSEMessage(userUUID string, msg sseMessage) {
	if h == nil || userUUID == "" {
		return
	}

	h.sseMu.Lock()
	channels := append([]chan sseMessage(nil), h.sseClients[userUUID]...)
	h.sseMu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- msg:
		default:
			logrus.WithFields(logrus.Fields{
				"user_uuid": userUUID,
				"event":     msg.event,
			}).Warn("sse_message_dropped")
		}
	}
}
