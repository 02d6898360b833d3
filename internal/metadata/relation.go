package metadata

type Relation struct {
	Name          string `json:"name"`
	Type          string `json:"type"` // one_to_one, one_to_many, many_to_many
	Source        string `json:"source"`
	Target        string `json:"target"`
	SourceKey     string `json:"source_key"`
	TargetKey     string `json:"target_key,omitempty"`
	JoinTable     string `json:"join_table,omitempty"`
	SourceJoinKey string `json:"source_join_key,omitempty"`
	TargetJoinKey string `json:"target_join_key,omitempty"`
	Ownership     string `json:"ownership"` // source, target, none
	OnDelete      string `json:"on_delete"` // cascade, set_null, restrict, detach
}

func (r *Relation) IsManyToMany() bool {
	return r.Type == "many_to_many"
}

func (r *Relation) IsOneToMany() bool {
	return r.Type == "one_to_many"
}

func (r *Relation) IsOneToOne() bool {
	return r.Type == "one_to_one"
}

// Link type tags reported by the catalog for relationship fields.
const (
	LinkSingle   = "link"
	LinkMultiple = "link_multiple"
)

// Link is a relation seen from one entity: either a foreign key column on
// the entity's own table (single) or a join table (multiple).
type Link struct {
	Name     string
	Type     string // LinkSingle or LinkMultiple
	Target   string // entity on the other side
	Relation *Relation

	// single
	Column string // foreign key column on the entity's table

	// multiple
	JoinTable string
	OwnKey    string // join column pointing at the entity
	OtherKey  string // join column pointing at the target
}
