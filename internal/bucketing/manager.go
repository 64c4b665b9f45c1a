package bucketing

import (
	"github.com/spaolacci/murmur3"

	"email-auth-service/internal/config"
)

// Manager assigns accounts to a fixed set of partition buckets so that the
// accounts table never develops hot partitions. The bucket count is part of
// the data layout and must not change once accounts exist.
type Manager struct {
	accountBuckets int
}

func NewManager(cfg *config.Config) *Manager {
	buckets := cfg.Bucketing.AccountBuckets
	if buckets <= 0 {
		buckets = 64
	}
	return &Manager{accountBuckets: buckets}
}

// AccountBucket returns the consistent bucket for an account id
// (0 to accountBuckets-1).
func (m *Manager) AccountBucket(accountID string) int {
	h := murmur3.Sum64([]byte(accountID))
	return int(h % uint64(m.accountBuckets))
}

// Buckets returns the configured bucket count.
func (m *Manager) Buckets() int {
	return m.accountBuckets
}
