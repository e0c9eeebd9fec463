package ingest

import "time"

// TypeTag is the declared type a business object is stored under.
type TypeTag string

const (
	TypeProject      TypeTag = "Project"
	TypeCollection   TypeTag = "Collection"
	TypeDataItem     TypeTag = "DataItem"
	TypeFile         TypeTag = "File"
	TypeDataFile     TypeTag = "DataFile"
	TypeMetadataFile TypeTag = "MetadataFile"
	TypePerson       TypeTag = "Person"
)

// Supertype returns the tag this tag specializes, or "" for root types.
// The vault does not consult it: lookups by tag are exact.
func (t TypeTag) Supertype() TypeTag {
	switch t {
	case TypeDataFile, TypeMetadataFile:
		return TypeFile
	default:
		return ""
	}
}

// BusinessObject is a domain object materialized from package content.
type BusinessObject interface {
	// BusinessID returns the object's own identifier.
	BusinessID() string

	// Clone returns an independent deep copy.
	Clone() BusinessObject
}

// Project is a project that collections are deposited under.
type Project struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	PIs         []string `json:"pis,omitempty"`
}

func (p *Project) BusinessID() string { return p.ID }

func (p *Project) Clone() BusinessObject {
	c := *p
	c.PIs = cloneStrings(p.PIs)
	return &c
}

// Collection groups data items.
type Collection struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	ProjectID   string    `json:"project_id,omitempty"`
	Creators    []string  `json:"creators,omitempty"`
	DepositDate time.Time `json:"deposit_date"`
}

func (c *Collection) BusinessID() string { return c.ID }

func (c *Collection) Clone() BusinessObject {
	out := *c
	out.Creators = cloneStrings(c.Creators)
	return &out
}

// DataItem is a deposited unit of data composed of files.
type DataItem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CollectionID string    `json:"collection_id,omitempty"`
	DepositorID  string    `json:"depositor_id,omitempty"`
	DepositDate  time.Time `json:"deposit_date"`
	FileIDs      []string  `json:"file_ids,omitempty"`
}

func (d *DataItem) BusinessID() string { return d.ID }

func (d *DataItem) Clone() BusinessObject {
	out := *d
	out.FileIDs = cloneStrings(d.FileIDs)
	return &out
}

// DataFile is a file holding deposited data.
type DataFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Format   string `json:"format,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

func (f *DataFile) BusinessID() string { return f.ID }

func (f *DataFile) Clone() BusinessObject {
	out := *f
	return &out
}

// MetadataFile is a file describing another business object.
type MetadataFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Format   string `json:"format,omitempty"`
	ParentID string `json:"parent_id,omitempty"`
}

func (f *MetadataFile) BusinessID() string { return f.ID }

func (f *MetadataFile) Clone() BusinessObject {
	out := *f
	return &out
}

// Person is a depositor, creator or principal investigator.
type Person struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

func (p *Person) BusinessID() string { return p.ID }

func (p *Person) Clone() BusinessObject {
	out := *p
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
