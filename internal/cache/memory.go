package cache

import "container/list"

// memoryLRU is the in-memory cache level. Not safe for concurrent use; the
// owning Cache serializes access.
type memoryLRU struct {
	capacity  int64
	size      int64
	evictions int64

	items    map[string]*list.Element
	eviction *list.List
}

type memoryEntry struct {
	digest string
	data   []byte
}

func newMemoryLRU(capacity int64) *memoryLRU {
	return &memoryLRU{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
	}
}

func (m *memoryLRU) get(digest string) ([]byte, bool) {
	elem, ok := m.items[digest]
	if !ok {
		return nil, false
	}
	m.eviction.MoveToFront(elem)
	return elem.Value.(*memoryEntry).data, true
}

func (m *memoryLRU) put(digest string, data []byte) error {
	if elem, ok := m.items[digest]; ok {
		entry := elem.Value.(*memoryEntry)
		m.size += int64(len(data)) - int64(len(entry.data))
		entry.data = data
		m.eviction.MoveToFront(elem)
		return nil
	}
	if int64(len(data)) > m.capacity {
		return ErrTooLarge
	}
	for m.size+int64(len(data)) > m.capacity && m.eviction.Len() > 0 {
		m.evictOldest()
	}
	elem := m.eviction.PushFront(&memoryEntry{digest: digest, data: data})
	m.items[digest] = elem
	m.size += int64(len(data))
	return nil
}

func (m *memoryLRU) evictOldest() {
	elem := m.eviction.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*memoryEntry)
	m.eviction.Remove(elem)
	delete(m.items, entry.digest)
	m.size -= int64(len(entry.data))
	m.evictions++
}

func (m *memoryLRU) clear() {
	m.items = make(map[string]*list.Element)
	m.eviction.Init()
	m.size = 0
}

func (m *memoryLRU) len() int {
	return len(m.items)
}
