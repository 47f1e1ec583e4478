// Package redis implements store.Store using Redis for shared, multi-process
// deployments. Jobs are stored as Hashes and claimed through Sorted Set
// priority queues; schedule templates and DLQ entries are JSON values; rate
// windows are Sorted Sets pruned and consumed by a Lua script so admission
// stays atomic across processes.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
