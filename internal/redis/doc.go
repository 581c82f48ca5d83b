// Package redis provides the Redis client and the cross-instance
// job-progress relay built on Redis Pub/Sub.
package redis
