package chatstate

import "sync"

// NetworkState - то, что сообщает наблюдатель соединения
type NetworkState struct {
	Connected bool
	Reachable bool
}

// Online: подключение без доступа в интернет (captive portal) - это офлайн
func (s NetworkState) Online() bool {
	return s.Connected && s.Reachable
}

type NetworkMonitor struct {
	mu        sync.RWMutex
	state     NetworkState
	listeners []func(online bool)
}

func NewNetworkMonitor(initial NetworkState) *NetworkMonitor {
	return &NetworkMonitor{state: initial}
}

func (m *NetworkMonitor) Update(state NetworkState) {
	m.mu.Lock()
	changed := m.state.Online() != state.Online()
	m.state = state
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(state.Online())
		}
	}
}

func (m *NetworkMonitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Online()
}

func (m *NetworkMonitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}
