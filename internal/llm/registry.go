package llm

// Registry resolves an analyst role name to its configured client. Roles
// without an explicit binding use the default provider. The registry is
// built once at wiring time and read-only afterwards.
type Registry struct {
	clients         map[string]Client // provider name -> client
	roles           map[string]string // role name -> provider name
	defaultProvider string
}

// NewRegistry builds the role resolver. clients maps provider names to
// ready clients; roles maps analyst role names to provider names.
func NewRegistry(clients map[string]Client, roles map[string]string, defaultProvider string) *Registry {
	return &Registry{
		clients:         clients,
		roles:           roles,
		defaultProvider: defaultProvider,
	}
}

// ForRole returns the client bound to the role, falling back to the default
// provider, then to any available client so a misconfigured role degrades
// instead of going nil.
func (r *Registry) ForRole(role string) Client {
	if provider, ok := r.roles[role]; ok {
		if client, ok := r.clients[provider]; ok {
			return client
		}
	}
	if client, ok := r.clients[r.defaultProvider]; ok {
		return client
	}
	for _, client := range r.clients {
		return client
	}
	return nil
}

// Default returns the default provider's client.
func (r *Registry) Default() Client {
	return r.ForRole("")
}
