package metadata

import "sync"

type Registry struct {
	mu                sync.RWMutex
	entities          map[string]*Entity
	relationsBySource map[string][]*Relation // keyed by source entity name
	relationsByName   map[string]*Relation   // keyed by relation name
	rulesByEntity     map[string][]*Rule     // keyed by entity name, priority order
}

func NewRegistry() *Registry {
	return &Registry{
		entities:          make(map[string]*Entity),
		relationsBySource: make(map[string][]*Relation),
		relationsByName:   make(map[string]*Relation),
		rulesByEntity:     make(map[string][]*Rule),
	}
}

// GetEntity returns the entity with the given name, or nil.
func (r *Registry) GetEntity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// AllEntities returns all registered entities.
func (r *Registry) AllEntities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		entities = append(entities, e)
	}
	return entities
}

// GetRelation returns a relation by name, or nil.
func (r *Registry) GetRelation(name string) *Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relationsByName[name]
}

// GetRelationsForSource returns all relations where source matches the given entity.
func (r *Registry) GetRelationsForSource(entityName string) []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relationsBySource[entityName]
}

// AllRelations returns all registered relations.
func (r *Registry) AllRelations() []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	relations := make([]*Relation, 0, len(r.relationsByName))
	for _, rel := range r.relationsByName {
		relations = append(relations, rel)
	}
	return relations
}

// Load replaces all entities and relations in the registry.
func (r *Registry) Load(entities []*Entity, relations []*Relation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make(map[string]*Entity, len(entities))
	for _, e := range entities {
		r.entities[e.Name] = e
	}

	r.relationsBySource = make(map[string][]*Relation)
	r.relationsByName = make(map[string]*Relation, len(relations))
	for _, rel := range relations {
		r.relationsByName[rel.Name] = rel
		r.relationsBySource[rel.Source] = append(r.relationsBySource[rel.Source], rel)
	}
}

// LoadRules replaces all rules. Rules are expected in priority order.
func (r *Registry) LoadRules(rules []*Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rulesByEntity = make(map[string][]*Rule)
	for _, rule := range rules {
		r.rulesByEntity[rule.Entity] = append(r.rulesByEntity[rule.Entity], rule)
	}
}

// GetRulesForEntity returns the active rules of an entity for a hook.
func (r *Registry) GetRulesForEntity(entityName, hook string) []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Rule
	for _, rule := range r.rulesByEntity[entityName] {
		if rule.Active && rule.Hook == hook {
			result = append(result, rule)
		}
	}
	return result
}

// FindLink resolves a relationship field of an entity by relation name or
// by the name of the entity on the other side. Returns nil if none matches.
func (r *Registry) FindLink(entityName, name string) *Link {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rel := r.relationsByName[name]; rel != nil {
		if link := linkFor(rel, entityName, name); link != nil {
			return link
		}
	}
	for _, rel := range r.relationsByName {
		if link := linkFor(rel, entityName, name); link != nil {
			return link
		}
	}
	return nil
}

// LinksForEntity returns every link the entity can read or write.
func (r *Registry) LinksForEntity(entityName string) []*Link {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var links []*Link
	for _, rel := range r.relationsByName {
		if link := linkFor(rel, entityName, ""); link != nil {
			links = append(links, link)
		}
	}
	return links
}

// linkFor views rel from entityName. An empty name matches any link.
func linkFor(rel *Relation, entityName, name string) *Link {
	switch {
	case rel.IsManyToMany() && rel.Source == entityName:
		if name != "" && name != rel.Name && name != rel.Target {
			return nil
		}
		return &Link{
			Name: linkName(rel.Target, name), Type: LinkMultiple, Target: rel.Target, Relation: rel,
			JoinTable: rel.JoinTable, OwnKey: rel.SourceJoinKey, OtherKey: rel.TargetJoinKey,
		}
	case rel.IsManyToMany() && rel.Target == entityName:
		if name != "" && name != rel.Name && name != rel.Source {
			return nil
		}
		return &Link{
			Name: linkName(rel.Source, name), Type: LinkMultiple, Target: rel.Source, Relation: rel,
			JoinTable: rel.JoinTable, OwnKey: rel.TargetJoinKey, OtherKey: rel.SourceJoinKey,
		}
	case (rel.IsOneToMany() || rel.IsOneToOne()) && rel.Target == entityName:
		// belongs-to: the foreign key lives on this entity's table
		if name != "" && name != rel.Name && name != rel.Source {
			return nil
		}
		return &Link{
			Name: linkName(rel.Source, name), Type: LinkSingle, Target: rel.Source, Relation: rel,
			Column: rel.TargetKey,
		}
	}
	return nil
}

func linkName(other, requested string) string {
	if requested != "" {
		return requested
	}
	return other
}
