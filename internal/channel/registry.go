package channel

// Registry maps channel tags to plugins. It is populated once during
// startup and read-only afterwards, so writes are not synchronized.
type Registry struct {
	plugins map[Channel]Plugin
	order   []Channel
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[Channel]Plugin)}
}

// Register adds a plugin under its declared tag. Registering the same tag
// twice replaces the earlier plugin.
func (r *Registry) Register(p Plugin) {
	tag := p.Info().Channel
	if _, exists := r.plugins[tag]; !exists {
		r.order = append(r.order, tag)
	}
	r.plugins[tag] = p
}

// Get returns the plugin for the given tag.
func (r *Registry) Get(ch Channel) (Plugin, bool) {
	p, ok := r.plugins[ch]
	return p, ok
}

// All returns every registered plugin in registration order.
func (r *Registry) All() []Plugin {
	out := make([]Plugin, 0, len(r.order))
	for _, tag := range r.order {
		out = append(out, r.plugins[tag])
	}
	return out
}

// Supported returns the plugins usable on this host.
func (r *Registry) Supported() []Plugin {
	var out []Plugin
	for _, p := range r.All() {
		if p.Info().Supported {
			out = append(out, p)
		}
	}
	return out
}
