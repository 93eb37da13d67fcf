// Package tgui builds Telegram HTML messages and inline keyboards:
// escaped HTML fragments, "plugin:action:payload" callback data, and a
// line builder that carries its own send options.
package tgui
