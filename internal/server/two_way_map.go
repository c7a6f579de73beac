package server

// TwoWayMap keeps a bijective string mapping readable in both
// directions. Both indexes are mutated together; callers never touch
// the underlying maps. Not safe for concurrent use; every owner guards
// it with its session lock.
type TwoWayMap struct {
	forward map[string]string
	reverse map[string]string
}

func NewTwoWayMap() *TwoWayMap {
	return &TwoWayMap{
		forward: make(map[string]string),
		reverse: make(map[string]string),
	}
}

// Set maps key to value. A re-set key drops its old value from the
// reverse index first, keeping the bijection intact.
func (m *TwoWayMap) Set(key, value string) {
	if old, ok := m.forward[key]; ok {
		delete(m.reverse, old)
	}
	m.forward[key] = value
	m.reverse[value] = key
}

func (m *TwoWayMap) Get(key string) (string, bool) {
	v, ok := m.forward[key]
	return v, ok
}

func (m *TwoWayMap) RevGet(value string) (string, bool) {
	k, ok := m.reverse[value]
	return k, ok
}

func (m *TwoWayMap) HasKey(key string) bool {
	_, ok := m.forward[key]
	return ok
}

func (m *TwoWayMap) HasValue(value string) bool {
	_, ok := m.reverse[value]
	return ok
}

func (m *TwoWayMap) RemoveKey(key string) {
	if v, ok := m.forward[key]; ok {
		delete(m.forward, key)
		delete(m.reverse, v)
	}
}

func (m *TwoWayMap) RemoveValue(value string) {
	if k, ok := m.reverse[value]; ok {
		delete(m.reverse, value)
		delete(m.forward, k)
	}
}

func (m *TwoWayMap) Len() int {
	return len(m.forward)
}

func (m *TwoWayMap) Keys() []string {
	keys := make([]string, 0, len(m.forward))
	for k := range m.forward {
		keys = append(keys, k)
	}
	return keys
}

// Forward returns a copy of the key→value mapping for snapshots.
func (m *TwoWayMap) Forward() map[string]string {
	out := make(map[string]string, len(m.forward))
	for k, v := range m.forward {
		out[k] = v
	}
	return out
}
