// Package notifier is the async delivery pipeline for messages the bot
// sends on its own initiative: organizer join notices and closing
// announcements. A bounded queue feeds a worker pool behind a global rate
// limit; failed sends retry with jittered backoff, and duplicates are
// suppressed by key for a configurable window, optionally across restarts
// through storage.
package notifier
