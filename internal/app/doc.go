// Package app wires the notification core to its collaborators: the
// cross-instance relay, the ticket store, and the publish entry point task
// runners call.
package app
