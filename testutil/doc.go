// Package testutil provides shared fakes for chatrelay tests: an in-memory
// browser engine/session/page trio and a scriptable site driver. No test in
// this repository talks to a real browser.
package testutil
