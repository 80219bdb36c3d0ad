package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Layout declares per-team role ordering, loaded from a roles.yaml file:
//
//	teams:
//	  alpha:
//	    roles: [PM, CODER]
//
// Roles named here are listed first, in declared order. Roles the file
// does not mention keep their pane-index position after them.
type Layout struct {
	Teams map[string]TeamLayout `yaml:"teams"`
}

// TeamLayout is the declared role order for one team.
type TeamLayout struct {
	Roles []string `yaml:"roles"`
}

// LoadLayout reads a layout file. A missing file is not an error; it
// returns a nil layout so the registry falls back to index ordering.
func LoadLayout(path string) (*Layout, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read layout %s: %w", path, err)
	}

	var layout Layout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("parse layout %s: %w", path, err)
	}
	return &layout, nil
}

// Reorder applies the declared role order for a team. Unknown names in
// the declaration are skipped; undeclared roles keep their relative order.
func (l *Layout) Reorder(teamID string, roles []Role) []Role {
	if l == nil {
		return roles
	}
	decl, ok := l.Teams[teamID]
	if !ok || len(decl.Roles) == 0 {
		return roles
	}

	byID := make(map[string]int, len(roles))
	for i, role := range roles {
		byID[role.ID] = i
	}

	ordered := make([]Role, 0, len(roles))
	taken := make(map[string]bool, len(roles))
	for _, name := range decl.Roles {
		if i, ok := byID[name]; ok && !taken[name] {
			ordered = append(ordered, roles[i])
			taken[name] = true
		}
	}
	for _, role := range roles {
		if !taken[role.ID] {
			ordered = append(ordered, role)
		}
	}
	return ordered
}
