package config

import (
	"sort"

	"github.com/me/rolesched/pkg/model"
)

// RoleSpec is the static description of one role.
type RoleSpec struct {
	ID              model.RoleID
	Priority        int
	EstimatedCPU    float64
	EstimatedMemory float64
}

// Catalog is the immutable role table built from a Config.
// Roles appear in model.AllRoles order; that order breaks priority ties.
type Catalog struct {
	roles []RoleSpec
	index map[model.RoleID]int
}

// NewCatalog builds a Catalog from cfg. Roles missing from the priority or
// requirement tables get zero values.
func NewCatalog(cfg Config) *Catalog {
	c := &Catalog{index: make(map[model.RoleID]int)}
	for _, id := range model.AllRoles() {
		req := cfg.RoleResourceRequirements[id]
		c.index[id] = len(c.roles)
		c.roles = append(c.roles, RoleSpec{
			ID:              id,
			Priority:        cfg.RolePriorities[id],
			EstimatedCPU:    req.CPU,
			EstimatedMemory: req.Memory,
		})
	}
	return c
}

// Roles returns every role in catalog order.
func (c *Catalog) Roles() []RoleSpec {
	out := make([]RoleSpec, len(c.roles))
	copy(out, c.roles)
	return out
}

// Get returns the spec for id.
func (c *Catalog) Get(id model.RoleID) (RoleSpec, bool) {
	i, ok := c.index[id]
	if !ok {
		return RoleSpec{}, false
	}
	return c.roles[i], true
}

// Priority returns the priority of id, or 0 for an unknown role.
func (c *Catalog) Priority(id model.RoleID) int {
	spec, _ := c.Get(id)
	return spec.Priority
}

// ByPriorityDesc orders ids highest priority first.
func (c *Catalog) ByPriorityDesc(ids []model.RoleID) []model.RoleID {
	return c.sorted(ids, func(a, b RoleSpec) bool { return a.Priority > b.Priority })
}

// ByPriorityAsc orders ids lowest priority first.
func (c *Catalog) ByPriorityAsc(ids []model.RoleID) []model.RoleID {
	return c.sorted(ids, func(a, b RoleSpec) bool { return a.Priority < b.Priority })
}

func (c *Catalog) sorted(ids []model.RoleID, less func(a, b RoleSpec) bool) []model.RoleID {
	out := make([]model.RoleID, 0, len(ids))
	for _, id := range ids {
		if _, ok := c.index[id]; ok {
			out = append(out, id)
		}
	}
	// Sort catalog-order first so SliceStable keeps ties in catalog order.
	sort.Slice(out, func(i, j int) bool { return c.index[out[i]] < c.index[out[j]] })
	sort.SliceStable(out, func(i, j int) bool {
		return less(c.roles[c.index[out[i]]], c.roles[c.index[out[j]]])
	})
	return out
}
