package metadata

type Field struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Required  bool     `json:"required,omitempty"`
	Unique    bool     `json:"unique,omitempty"`
	Default   any      `json:"default,omitempty"`
	Nullable  bool     `json:"nullable,omitempty"`
	Enum      []string `json:"enum,omitempty"`
	Precision int      `json:"precision,omitempty"`
	Auto      string   `json:"auto,omitempty"` // "create" or "update"
}

// IsAuto returns true if the field is auto-managed by the engine.
func (f Field) IsAuto() bool {
	return f.Auto == "create" || f.Auto == "update"
}

// IsText reports whether an empty string is a meaningful value for the field.
func (f Field) IsText() bool {
	switch f.Type {
	case "string", "text", "":
		return true
	}
	return false
}
