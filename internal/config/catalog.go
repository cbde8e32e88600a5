package config

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/medconsole/rbac/types"
)

// Catalog is the permission catalog of a deployment, and the seed it starts with
type Catalog struct {
	Permissions []types.Permission  `yaml:"permissions"`
	Seed        map[string][]string `yaml:"seed"`
}

// ParseCatalog decodes a yaml catalog, unknown fields are rejected
func ParseCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	c := &Catalog{}
	if e := dec.Decode(c); e != nil {
		if errors.Is(e, io.EOF) {
			return nil, types.ErrNoPermissions
		}
		return nil, e
	}
	if len(c.Permissions) == 0 {
		return nil, types.ErrNoPermissions
	}
	for i, p := range c.Permissions {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: permission at position %d has no id", types.ErrValidation, i)
		}
	}
	return c, nil
}
