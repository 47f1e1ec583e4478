package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/sched"
)

// Templates are stored as JSON values; a name index Hash enforces unique
// names and serves by-name lookups.

// RegisterTemplate persists a new schedule template.
func (s *Store) RegisterTemplate(ctx context.Context, t *sched.Template) error {
	tID := t.ID.String()

	existing, err := s.client.HGet(ctx, templateNamesKey, t.Name).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("pulse/redis: register template check name: %w", err)
	}
	if existing != "" {
		return pulse.ErrDuplicateName
	}

	if err := s.setEntity(ctx, templateKey(tID), t); err != nil {
		return fmt.Errorf("pulse/redis: register template set: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, templateIDsKey, tID)
	pipe.HSet(ctx, templateNamesKey, t.Name, tID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: register template indexes: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID.
func (s *Store) GetTemplate(ctx context.Context, templateID id.TemplateID) (*sched.Template, error) {
	var t sched.Template
	if err := s.getEntity(ctx, templateKey(templateID.String()), &t); err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, pulse.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("pulse/redis: get template: %w", err)
	}
	return &t, nil
}

// GetTemplateByName retrieves a template by its unique name.
func (s *Store) GetTemplateByName(ctx context.Context, name string) (*sched.Template, error) {
	tID, err := s.client.HGet(ctx, templateNamesKey, name).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, pulse.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("pulse/redis: get template by name: %w", err)
	}

	parsed, err := id.ParseTemplateID(tID)
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: parse template id: %w", err)
	}
	return s.GetTemplate(ctx, parsed)
}

// ListTemplates returns all templates.
func (s *Store) ListTemplates(ctx context.Context) ([]*sched.Template, error) {
	ids, err := s.client.SMembers(ctx, templateIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: list templates: %w", err)
	}

	templates := make([]*sched.Template, 0, len(ids))
	for _, tID := range ids {
		var t sched.Template
		if getErr := s.getEntity(ctx, templateKey(tID), &t); getErr != nil {
			continue
		}
		templates = append(templates, &t)
	}

	sort.Slice(templates, func(i, k int) bool {
		return templates[i].CreatedAt.Before(templates[k].CreatedAt)
	})
	return templates, nil
}

// UpdateTemplate persists changes to an existing template.
func (s *Store) UpdateTemplate(ctx context.Context, t *sched.Template) error {
	key := templateKey(t.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: update template exists: %w", err)
	}
	if exists == 0 {
		return pulse.ErrTemplateNotFound
	}

	t.UpdatedAt = time.Now().UTC()
	if err := s.setEntity(ctx, key, t); err != nil {
		return fmt.Errorf("pulse/redis: update template: %w", err)
	}
	return nil
}

// DeleteTemplate removes a template by ID.
func (s *Store) DeleteTemplate(ctx context.Context, templateID id.TemplateID) error {
	tID := templateID.String()

	var t sched.Template
	if err := s.getEntity(ctx, templateKey(tID), &t); err != nil {
		if errors.Is(err, goredis.Nil) {
			return pulse.ErrTemplateNotFound
		}
		return fmt.Errorf("pulse/redis: delete template get: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, templateKey(tID))
	pipe.SRem(ctx, templateIDsKey, tID)
	if t.Name != "" {
		pipe.HDel(ctx, templateNamesKey, t.Name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: delete template: %w", err)
	}
	return nil
}
