package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Manager maps identifiers onto a fixed number of partitions so wide
// tables spread evenly across the cluster.
type Manager struct {
	userBuckets int
	hasherPool  sync.Pool
}

func NewManager(userBuckets int) *Manager {
	if userBuckets <= 0 {
		userBuckets = 1
	}
	return &Manager{
		userBuckets: userBuckets,
		hasherPool: sync.Pool{
			New: func() interface{} {
				return murmur3.New64()
			},
		},
	}
}

// UserBucket returns a bucket in [0, userBuckets) for key.
func (m *Manager) UserBucket(key string) int {
	return int(m.hash(key) % uint64(m.userBuckets))
}

// DateBucket returns the UTC day of t, used for daily index names.
func (m *Manager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006.01.02")
}

func (m *Manager) UserBuckets() int {
	return m.userBuckets
}

func (m *Manager) hash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	return hasher.Sum64()
}
