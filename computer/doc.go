// Package computer runs code for the agent loop.
//
// A [Registry] holds at most one [ExecutionSession] per language. Sessions
// are created lazily on first use and keep interpreter state between runs, so
// a variable defined in one python block is visible in the next.
//
// Most languages are driven as long-lived interpreter processes: each run is
// written to stdin and followed by a unique end marker, and output is
// streamed line by line until the marker comes back. Go runs in-process on
// yaegi. HTML is saved to a file and returned for display.
//
// Output lines are one of four kinds: console text, a base64 PNG image, HTML,
// or an active-line position for languages that report it.
package computer
