package ingest

// Attribute is a (name, type, value) string triple describing one property of an
// entity found in a package.
type Attribute struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// AttributeSet is a named, ordered collection of attributes.
type AttributeSet struct {
	Name       string      `json:"name"`
	Attributes []Attribute `json:"attributes"`
}

// NewAttributeSet creates an attribute set with the given attributes.
func NewAttributeSet(name string, attrs ...Attribute) AttributeSet {
	set := AttributeSet{Name: name, Attributes: make([]Attribute, len(attrs))}
	copy(set.Attributes, attrs)
	return set
}

// Clone returns a deep copy of the set.
func (s AttributeSet) Clone() AttributeSet {
	out := AttributeSet{Name: s.Name}
	if s.Attributes != nil {
		out.Attributes = make([]Attribute, len(s.Attributes))
		copy(out.Attributes, s.Attributes)
	}
	return out
}

// Add appends an attribute to the set.
func (s *AttributeSet) Add(name, typ, value string) {
	s.Attributes = append(s.Attributes, Attribute{Name: name, Type: typ, Value: value})
}

// Set replaces the first attribute named name, appending one if there is none.
func (s *AttributeSet) Set(name, typ, value string) {
	for i := range s.Attributes {
		if s.Attributes[i].Name == name {
			s.Attributes[i] = Attribute{Name: name, Type: typ, Value: value}
			return
		}
	}
	s.Add(name, typ, value)
}

// Values returns the values of every attribute with the given name, in order.
func (s AttributeSet) Values(name string) []string {
	var values []string
	for _, a := range s.Attributes {
		if a.Name == name {
			values = append(values, a.Value)
		}
	}
	return values
}

// First returns the value of the first attribute with the given name.
func (s AttributeSet) First(name string) (string, bool) {
	for _, a := range s.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttributeMatch is a match expression over attributes. A field that is not set
// matches any value; every set field must equal the attribute's field exactly.
type AttributeMatch struct {
	name, typ, value           string
	hasName, hasType, hasValue bool
}

// AnyAttribute returns a match expression with every field unset.
func AnyAttribute() AttributeMatch {
	return AttributeMatch{}
}

// MatchAttribute returns a match expression with all three fields set.
func MatchAttribute(name, typ, value string) AttributeMatch {
	return AnyAttribute().Named(name).OfType(typ).Valued(value)
}

// Named returns a copy of m that requires the attribute name.
func (m AttributeMatch) Named(name string) AttributeMatch {
	m.name, m.hasName = name, true
	return m
}

// OfType returns a copy of m that requires the attribute type.
func (m AttributeMatch) OfType(typ string) AttributeMatch {
	m.typ, m.hasType = typ, true
	return m
}

// Valued returns a copy of m that requires the attribute value.
func (m AttributeMatch) Valued(value string) AttributeMatch {
	m.value, m.hasValue = value, true
	return m
}

// Matches reports whether a satisfies the expression.
func (m AttributeMatch) Matches(a Attribute) bool {
	if m.hasName && m.name != a.Name {
		return false
	}
	if m.hasType && m.typ != a.Type {
		return false
	}
	if m.hasValue && m.value != a.Value {
		return false
	}
	return true
}

// AttributePredicate is a caller-supplied match over (set name, attribute).
type AttributePredicate func(setName string, a Attribute) bool

// Attribute names written by the deposit manager and the built-in services.
const (
	AttrDepositID          = "Deposit-Id"
	AttrDepositUser        = "Deposit-User"
	AttrDepositFileName    = "Deposit-File-Name"
	AttrDepositContentType = "Deposit-Content-Type"
	AttrDepositPackaging   = "Deposit-Packaging"
	AttrDepositContentMD5  = "Deposit-Content-MD5"

	AttrFilePath     = "File-Path"
	AttrFileName     = "File-Name"
	AttrFileSize     = "File-Size"
	AttrFileChecksum = "File-Checksum"
	AttrFileFormat   = "File-Format"
)

// Attribute set names written by the deposit manager and the built-in services.
const (
	SetNameDeposit = "Deposit"
	SetNameFile    = "File"
)

// Attribute types.
const (
	AttrTypeString   = "String"
	AttrTypeLong     = "Long"
	AttrTypeDateTime = "DateTime"
	AttrTypeMimeType = "MimeType"
	AttrTypeChecksum = "Checksum"
)
