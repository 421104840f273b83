// Package log provides the process-wide structured logger for the
// cluster core, built on zerolog. Every record emitted by the sync
// workers carries component, client, and run_id fields so a single
// client's sync history can be grepped out of a shared log stream.
package log
