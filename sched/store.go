package sched

import (
	"context"

	"github.com/syncwell/pulse/id"
)

// Store defines the persistence contract for schedule templates.
type Store interface {
	// RegisterTemplate persists a new template. Template names are unique;
	// a name collision returns pulse.ErrDuplicateName.
	RegisterTemplate(ctx context.Context, t *Template) error

	// GetTemplate retrieves a template by ID, or pulse.ErrTemplateNotFound.
	GetTemplate(ctx context.Context, templateID id.TemplateID) (*Template, error)

	// GetTemplateByName retrieves a template by its unique name.
	GetTemplateByName(ctx context.Context, name string) (*Template, error)

	// ListTemplates returns all templates.
	ListTemplates(ctx context.Context) ([]*Template, error)

	// UpdateTemplate persists changes to an existing template.
	UpdateTemplate(ctx context.Context, t *Template) error

	// DeleteTemplate removes a template by ID.
	DeleteTemplate(ctx context.Context, templateID id.TemplateID) error
}
