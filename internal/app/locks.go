package app

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// stripedLock serializes work per key using a fixed pool of mutexes, so memory
// stays bounded no matter how many streams exist. Distinct keys may share a stripe.
type stripedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLock) lock(key string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
