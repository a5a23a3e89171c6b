package domain

// VarMap maps secret keys to environment variable names. Iteration follows
// the order in which keys first appeared; overwriting a key keeps its slot.
type VarMap struct {
	order []string
	env   map[string]string
}

// Set inserts key or overwrites its environment name.
func (m *VarMap) Set(key, envName string) {
	if m.env == nil {
		m.env = make(map[string]string)
	}
	if _, ok := m.env[key]; !ok {
		m.order = append(m.order, key)
	}
	m.env[key] = envName
}

// Merge applies bindings in order with override-by-key.
func (m *VarMap) Merge(bindings []VarBinding) {
	for _, b := range bindings {
		m.Set(b.SecretKey, b.EnvName)
	}
}

// Get returns the environment name bound to key.
func (m *VarMap) Get(key string) (string, bool) {
	envName, ok := m.env[key]
	return envName, ok
}

// Len returns the number of keys.
func (m *VarMap) Len() int {
	return len(m.order)
}

// Bindings returns the pairs in iteration order.
func (m *VarMap) Bindings() []VarBinding {
	out := make([]VarBinding, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, VarBinding{SecretKey: k, EnvName: m.env[k]})
	}
	return out
}
