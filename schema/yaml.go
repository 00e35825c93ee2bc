package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the YAML form of a set of declarations:
//
//	entities:
//	  - name: Book
//	    primary_key: [Id]
//	    indexes:
//	      - members: [Title]
//	    members:
//	      - {name: Id, type: uuid, auto: new_id}
//	      - {name: Title, type: string, size: 120}
//	      - {name: Publisher, type: Publisher, cascade_delete: true}
//	      - {name: Authors, type: "list<Author>", many_to_many: {link: BookAuthor, this_ref: Book, other_ref: Author}}
type Document struct {
	Entities []EntityDoc `yaml:"entities"`
}

// EntityDoc is the YAML form of an entity declaration.
type EntityDoc struct {
	Name           string      `yaml:"name"`
	Table          string      `yaml:"table,omitempty"`
	View           bool        `yaml:"view,omitempty"`
	Output         []string    `yaml:"output,omitempty"`
	PrimaryKey     []string    `yaml:"primary_key,omitempty"`
	Clustered      bool        `yaml:"clustered,omitempty"`
	Unique         [][]string  `yaml:"unique,omitempty"`
	Indexes        []IndexDoc  `yaml:"indexes,omitempty"`
	OrderBy        string      `yaml:"order_by,omitempty"`
	DiscardOnAbort bool        `yaml:"discard_on_abort,omitempty"`
	NoUpdate       bool        `yaml:"no_update,omitempty"`
	Members        []MemberDoc `yaml:"members"`
}

// IndexDoc is the YAML form of an index.
type IndexDoc struct {
	Name      string   `yaml:"name,omitempty"`
	Members   []string `yaml:"members"`
	Clustered bool     `yaml:"clustered,omitempty"`
}

// MemberDoc is the YAML form of a member declaration.
type MemberDoc struct {
	Name          string  `yaml:"name"`
	Type          string  `yaml:"type"`
	PrimaryKey    bool    `yaml:"primary_key,omitempty"`
	Size          int     `yaml:"size,omitempty"`
	Precision     []int   `yaml:"precision,omitempty"`
	Unlimited     bool    `yaml:"unlimited,omitempty"`
	Nullable      bool    `yaml:"nullable,omitempty"`
	Auto          string  `yaml:"auto,omitempty"`
	Identity      bool    `yaml:"identity,omitempty"`
	NoColumn      bool    `yaml:"no_column,omitempty"`
	NoUpdate      bool    `yaml:"no_update,omitempty"`
	ReadOnly      bool    `yaml:"read_only,omitempty"`
	Utc           bool    `yaml:"utc,omitempty"`
	DateOnly      bool    `yaml:"date_only,omitempty"`
	HashFor       string  `yaml:"hash_for,omitempty"`
	Secret        bool    `yaml:"secret,omitempty"`
	ForeignKey    string  `yaml:"foreign_key,omitempty"`
	CascadeDelete bool    `yaml:"cascade_delete,omitempty"`
	OneToMany     string  `yaml:"one_to_many,omitempty"`
	ManyToMany    *M2MDoc `yaml:"many_to_many,omitempty"`
	Group         string  `yaml:"group,omitempty"`
	Default       any     `yaml:"default,omitempty"`
	Unique        bool    `yaml:"unique,omitempty"`
	Index         bool    `yaml:"index,omitempty"`
}

// M2MDoc is the YAML form of a many-to-many binding.
type M2MDoc struct {
	Link     string `yaml:"link"`
	ThisRef  string `yaml:"this_ref"`
	OtherRef string `yaml:"other_ref"`
}

var autoKinds = map[string]AutoKind{
	"new_id":      AutoNewID,
	"created_on":  AutoCreatedOn,
	"updated_on":  AutoUpdatedOn,
	"row_version": AutoRowVersion,
}

// LoadYAMLFile reads declarations from a YAML file.
func LoadYAMLFile(path string) ([]*EntityDecl, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return LoadYAML(bytes.NewReader(data))
}

// LoadYAML decodes declarations from r. All document errors are reported
// together.
func LoadYAML(r io.Reader) ([]*EntityDecl, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("schema: decode yaml: %w", err)
	}
	return doc.Decls()
}

// Decls converts the document into declarations.
func (d *Document) Decls() ([]*EntityDecl, error) {
	var (
		errs  []error
		decls = make([]*EntityDecl, 0, len(d.Entities))
	)
	for _, ed := range d.Entities {
		e := Entity(ed.Name)
		if ed.View {
			e = View(ed.Name, ed.Output...)
		}
		if ed.Table != "" {
			e.Attrs(Table(ed.Table))
		}
		if len(ed.PrimaryKey) > 0 {
			e.Attrs(PrimaryKeyAttr{Members: ed.PrimaryKey, Clustered: ed.Clustered})
		}
		for _, u := range ed.Unique {
			e.Attrs(Unique(u...))
		}
		for _, ix := range ed.Indexes {
			e.Attrs(IndexAttr{KeyName: ix.Name, Members: ix.Members, Clustered: ix.Clustered})
		}
		if ed.OrderBy != "" {
			e.Attrs(OrderBy(ed.OrderBy))
		}
		if ed.DiscardOnAbort {
			e.Attrs(DiscardOnAbort())
		}
		if ed.NoUpdate {
			e.Attrs(NoUpdate())
		}
		for _, md := range ed.Members {
			m, err := md.decl()
			if err != nil {
				errs = append(errs, fmt.Errorf("schema: %s.%s: %w", ed.Name, md.Name, err))
				continue
			}
			e.Fields(m)
		}
		decls = append(decls, e)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return decls, nil
}

func (md MemberDoc) decl() (*MemberDecl, error) {
	t, err := ParseType(md.Type)
	if err != nil {
		return nil, err
	}
	var attrs []Attribute
	add := func(ok bool, a Attribute) {
		if ok {
			attrs = append(attrs, a)
		}
	}
	add(md.PrimaryKey, PrimaryKey())
	add(md.Size != 0, Size(md.Size))
	switch len(md.Precision) {
	case 0:
	case 2:
		attrs = append(attrs, Precision(md.Precision[0], md.Precision[1]))
	default:
		return nil, fmt.Errorf("precision must be [precision, scale]")
	}
	add(md.Unlimited, Unlimited())
	add(md.Nullable, Nullable())
	if md.Auto != "" {
		k, ok := autoKinds[md.Auto]
		if !ok {
			return nil, fmt.Errorf("unknown auto kind %q", md.Auto)
		}
		attrs = append(attrs, Auto(k))
	}
	add(md.Identity, Identity())
	add(md.NoColumn, NoColumn())
	add(md.NoUpdate, NoUpdate())
	add(md.ReadOnly, ReadOnly())
	add(md.Utc, Utc())
	add(md.DateOnly, DateOnly())
	add(md.HashFor != "", HashFor(md.HashFor))
	add(md.Secret, Secret())
	add(md.ForeignKey != "", ForeignKey(md.ForeignKey))
	add(md.CascadeDelete, CascadeDelete())
	add(md.OneToMany != "", OneToMany(md.OneToMany))
	if md.ManyToMany != nil {
		attrs = append(attrs, ManyToMany(md.ManyToMany.Link, md.ManyToMany.ThisRef, md.ManyToMany.OtherRef))
	}
	add(md.Group != "", PropertyGroup(md.Group))
	add(md.Default != nil, Default(md.Default))
	add(md.Unique, Unique(md.Name))
	add(md.Index, Index(md.Name))
	return Field(md.Name, t, attrs...), nil
}
