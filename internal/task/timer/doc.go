// Package timer wraps robfig/cron entries as stoppable, re-armable handles.
//
// A Service owns one cron instance (one location, UTC by default). Each
// Handle is one named recurring timer on it:
//
//   - Create parses the schedule and arms the timer immediately.
//   - Stop disarms it but keeps the schedule string.
//   - Start re-arms the same schedule.
//
// Changing the schedule is never done in place: stop the handle and create a
// new one. The Service refuses to arm a second timer under a name that is
// already armed, so there is at most one live timer per job identity.
//
// # Schedule formats
//
//   - Cron expressions: 5-field (min hour dom mon dow) or 6-field with leading
//     seconds. Example: "0 */5 * * * *".
//   - Descriptors: "@hourly", "@daily", "@every 55m".
//   - Interval durations: "55m", "2h30m".
//   - Interval HH:MM: "00:50" (every 50 minutes), "02:30".
//
// Prefix with "cron:", "interval:" or "every:" to force interpretation.
package timer
