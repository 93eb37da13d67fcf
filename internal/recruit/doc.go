// Package recruit runs time-boxed party recruitment sessions.
//
// A Session holds a fixed catalog of role slots, a capacity and a deadline.
// Participants join and leave concurrently; the session closes exactly once,
// when it fills up, when the organizer closes it, or when its deadline
// timer fires. DeadlineParser turns the organizer's free-form Korean
// deadline text into that deadline.
//
// Nothing in this package performs I/O. Rendering and delivery happen in an
// Observer, always after the session lock has been released.
package recruit
