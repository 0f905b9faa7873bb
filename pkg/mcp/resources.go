package mcp

import "sync"

// Catalog is the resource list advertised by resources/list. The mock
// server's catalog is static apart from entries tests add.
type Catalog struct {
	mu        sync.Mutex
	resources []Resource
}

// NewCatalog creates a catalog seeded with the server's built-in
// entries describing its own observable state.
func NewCatalog() *Catalog {
	return &Catalog{
		resources: []Resource{
			{
				URI:         "mockmcp://sessions",
				Name:        "Active sessions",
				Description: "Identifiers and counters of live sessions.",
				MimeType:    "application/json",
			},
			{
				URI:         "mockmcp://events",
				Name:        "Channel event log",
				Description: "Connection and delivery events recorded per session.",
				MimeType:    "application/json",
			},
		},
	}
}

// Add appends a resource to the catalog.
func (c *Catalog) Add(res Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources = append(c.resources, res)
}

// List returns a copy of the catalog.
func (c *Catalog) List() []Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	resources := make([]Resource, len(c.resources))
	copy(resources, c.resources)
	return resources
}
