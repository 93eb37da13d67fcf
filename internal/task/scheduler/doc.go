// Package scheduler registers cron, interval and one-shot jobs and runs
// them on a supervisor with a per-job timeout, panic recovery and an
// overlap guard. One-shot jobs are armed as soon as they are added,
// whether or not cron has started.
package scheduler
