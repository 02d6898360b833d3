package metadata

// Converter strategy identifiers registered by default for link types.
var defaultConverters = map[string]string{
	LinkSingle:   LinkSingle,
	LinkMultiple: LinkMultiple,
}

// FieldType returns the declared type of a field, the link type tag when
// name is a relationship of the entity, or "" when neither applies.
func (r *Registry) FieldType(entityName, name string) string {
	if e := r.GetEntity(entityName); e != nil {
		if f := e.GetField(name); f != nil {
			return f.Type
		}
	}
	if link := r.FindLink(entityName, name); link != nil {
		return link.Type
	}
	return ""
}

// RelationTarget returns the entity on the other side of a link, or "".
func (r *Registry) RelationTarget(entityName, linkName string) string {
	if link := r.FindLink(entityName, linkName); link != nil {
		return link.Target
	}
	return ""
}

// ConverterFor returns the import converter registered for a field type,
// honouring the entity's import_converters overrides.
func (r *Registry) ConverterFor(entityName, fieldType string) string {
	if e := r.GetEntity(entityName); e != nil {
		if id, ok := e.ImportConverters[fieldType]; ok {
			return id
		}
	}
	return defaultConverters[fieldType]
}

// IdentifierField returns the primary key field of the entity.
func (r *Registry) IdentifierField(entityName string) string {
	if e := r.GetEntity(entityName); e != nil {
		return e.PKField()
	}
	return "id"
}
