// Package storage persists what the bot needs across restarts: the audit
// log, notifier dedup marks, per-chat recruit settings and the archive of
// closed sessions. Open sessions are never stored.
package storage
