// Package domain holds the contracts shared across the service: the job
// progress event, connect tickets, the Notifier publish surface and the
// sentinel errors. It carries no implementation code, so any package can
// depend on it without creating import cycles.
package domain
