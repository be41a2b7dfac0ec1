// Package remote describes the host application's wire protocol.
//
// It holds the entity shapes the agent reads and writes (Job, Reminder),
// the change-tracking save envelope shared by every mutation, the paged
// reminder list query, and the date format the API expects. Nothing here
// performs I/O; see package transport for calls and package reminder for
// the typed operations built on them.
package remote
