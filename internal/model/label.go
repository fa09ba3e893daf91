package model

// LabelPrefixGlobal is the prefix Confluence assigns to ordinary page
// labels. The server reports it even for labels added without a prefix, so
// reconciliation must construct desired labels with it to compare equal.
const LabelPrefixGlobal = "global"

// Label is an unversioned tag attached to a page, identified by name and
// prefix. Labels are value-comparable and used in set operations.
type Label struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
}

// Less orders labels by (prefix, name) for deterministic request ordering.
func (l Label) Less(other Label) bool {
	if l.Prefix != other.Prefix {
		return l.Prefix < other.Prefix
	}
	return l.Name < other.Name
}

// IdentifiedLabel is a label with the server-assigned ID needed for deletion.
type IdentifiedLabel struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
}

// Label returns the value-comparable form of the identified label.
func (l IdentifiedLabel) Label() Label {
	return Label{Name: l.Name, Prefix: l.Prefix}
}
