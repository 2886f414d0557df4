package prefetch

import "time"

// Event describes a state change of one prefetch.
type Event struct {
	Key    Key         `json:"key"`
	URL    string      `json:"url"`
	State  State       `json:"state"`
	Status *StatusCode `json:"status,omitempty"`
	Time   time.Time   `json:"time"`
}

const subscriberBuffer = 64

// Subscribe returns a channel of events and a function that ends the
// subscription. Slow subscribers miss events rather than stalling the
// manager. The channel is closed by the returned function or by Close.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	m.subMu.Lock()
	id := m.subID
	m.subID++
	m.subs[id] = ch
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subs[id]; ok {
			close(c)
			delete(m.subs, id)
		}
	}
}

func (m *Manager) publish(e *entry, state State, res *Result) {
	ev := Event{
		Key:   e.key,
		URL:   e.normalized,
		State: state,
		Time:  m.now(),
	}
	if res != nil && res.Err == nil {
		status := res.Status
		ev.Status = &status
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
