// Package app declares the example application's models. The reference
// server and the CLI indexer share this registry; a real deployment
// replaces it with its own.
package app

import "github.com/ramses-tech/nefertari/internal/model"

// NewRegistry builds the demo model set: stories with an author
// relationship, users, and a singular profile.
func NewRegistry() *model.Registry {
	reg := model.NewRegistry()

	reg.MustRegister(model.Info{
		Name:         "Story",
		PKField:      "id",
		IndexEnabled: true,
		PublicFields: []string{"id", "name", "status"},
		AuthFields:   []string{"id", "name", "status", "price", "author"},
		HiddenFields: []string{"internal_notes"},
		Fields: map[string]model.FieldParams{
			"name":           {Type: "string", Required: true, MaxLength: 255},
			"status":         {Type: "string", Default: "draft"},
			"price":          {Type: "float"},
			"internal_notes": {Type: "string"},
			"author":         {Relationship: "User"},
		},
	})

	reg.MustRegister(model.Info{
		Name:         "User",
		PKField:      "id",
		IndexEnabled: true,
		PublicFields: []string{"id", "username"},
		AuthFields:   []string{"id", "username", "email", "groups"},
		HiddenFields: []string{"password"},
		Fields: map[string]model.FieldParams{
			"username": {Type: "string", Required: true, MinLength: 3, MaxLength: 64},
			"email":    {Type: "string"},
			"password": {Type: "string", MinLength: 8},
			"groups":   {Type: "string"},
		},
	})

	reg.MustRegister(model.Info{
		Name:         "Profile",
		PKField:      "id",
		PublicFields: []string{"id", "bio"},
		AuthFields:   []string{"id", "bio", "location"},
		Fields: map[string]model.FieldParams{
			"bio":      {Type: "string", MaxLength: 1024},
			"location": {Type: "string"},
		},
	})

	return reg
}
