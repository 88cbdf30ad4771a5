package redis

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
)

// newTestRedisClient starts miniredis and a client for it. Both are closed
// when the test ends.
func newTestRedisClient(t *testing.T) (*redislib.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

// newReplicaLockManagers returns n lock managers with separate clients on
// one server, the way n service replicas share a Redis deployment.
func newReplicaLockManagers(t *testing.T, n int) ([]*LockManager, *miniredis.Miniredis) {
	t.Helper()

	_, mr := newTestRedisClient(t)
	managers := make([]*LockManager, n)
	for i := range managers {
		client := redislib.NewClient(&redislib.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		managers[i] = NewLockManager(client)
	}
	return managers, mr
}
