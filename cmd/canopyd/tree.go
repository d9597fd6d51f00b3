package main

import (
	"fmt"

	"github.com/fyrsmithlabs/canopy/internal/config"
	"github.com/fyrsmithlabs/canopy/internal/permissions"
	"github.com/fyrsmithlabs/canopy/internal/tree"
)

// buildTree creates the startup tree: a public root folder with one folder
// per seed entry.
func buildTree(cfg config.TreeConfig) (*tree.Node, error) {
	children := make([]*tree.Node, 0, len(cfg.Seed))
	for i, s := range cfg.Seed {
		perm, err := s.Permission()
		if err != nil {
			return nil, fmt.Errorf("seed %d (%s): %w", i, s.Name, err)
		}
		children = append(children, tree.New(tree.Config{
			Name:       tree.Name(s.Name),
			Permission: perm,
		}))
	}
	return tree.New(tree.Config{
		Name:       tree.Name(cfg.RootName),
		Permission: permissions.Public(),
		Children:   children,
	}), nil
}
