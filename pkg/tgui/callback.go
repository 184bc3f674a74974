package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes for the
// full "ns:action:payload" string.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats inline callback data as "ns:action:payload". Payload is kept
// as-is (no escaping) and may be empty.
func Data(ns, action, payload string) string {
	ns = strings.TrimSpace(ns)
	action = strings.TrimSpace(action)
	if payload == "" {
		return ns + ":" + action
	}
	return ns + ":" + action + ":" + payload
}

// ParseData splits callback data produced by Data. The payload may itself
// contain colons; only the first two separators are significant.
func ParseData(data string) (ns, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	ns, action = parts[0], parts[1]
	if len(parts) == 3 {
		payload = parts[2]
	}
	return ns, action, payload, true
}
