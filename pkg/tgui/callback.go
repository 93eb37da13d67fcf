package tgui

import "strings"

// Data formats inline callback data as "plugin:action[:payload]". The
// payload is kept verbatim.
func Data(plugin, action, payload string) string {
	plugin = strings.TrimSpace(plugin)
	action = strings.TrimSpace(action)
	if payload == "" {
		return plugin + ":" + action
	}
	return plugin + ":" + action + ":" + payload
}

// CheckedData is Data that fails when the result exceeds Telegram's
// callback_data limit.
func CheckedData(plugin, action, payload string) (string, error) {
	d := Data(plugin, action, payload)
	if len(d) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return d, nil
}
