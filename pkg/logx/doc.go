// Package logx is partybot's structured logging facade over zerolog.
//
// Console output is human readable with a short caller, file output stays
// JSON, and an optional Telegram sink mirrors warnings to a chat.
package logx
