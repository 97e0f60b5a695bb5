package mavconform

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LoadDialect loads a dialect from either a MAVLink XML message definition
// or a generator-emitted YAML descriptor, chosen by file extension.
func LoadDialect(path string) (*Dialect, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return LoadDefinition(path)
	case ".yaml", ".yml":
		return LoadDescriptor(path)
	default:
		return nil, fmt.Errorf("mavconform: unsupported dialect file '%s'", path)
	}
}

// LoadDefinition parses a MAVLink XML message definition, following its
// <include> directives recursively. Included definitions contribute their
// messages and enums first; enums sharing a name are merged entry-wise, the
// way the MAVLink toolchain flattens definition trees. The dialect is named
// after the lowercased file stem.
func LoadDefinition(path string) (*Dialect, error) {
	c := &definitionCollector{
		visited:   make(map[string]bool),
		enumIndex: make(map[string]int),
	}
	if err := c.load(path); err != nil {
		return nil, err
	}
	return NewDialect(dialectName(path), c.messages, c.enums)
}

func dialectName(path string) string {
	base := filepath.Base(path)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

// definitionCollector accumulates messages and enums across the include
// tree. Enum order is preserved; repeated enums are merged in place.
type definitionCollector struct {
	visited   map[string]bool
	messages  []*Message
	enums     []*Enum
	enumIndex map[string]int
}

func (c *definitionCollector) load(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if c.visited[abs] {
		return nil
	}
	c.visited[abs] = true

	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("mavconform: reading definition: %w", err)
	}
	var def xmlMavlink
	if err := xml.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("mavconform: parsing '%s': %w", path, err)
	}

	// Includes contribute before the including file's own definitions.
	for _, inc := range def.Includes {
		if err := c.load(filepath.Join(filepath.Dir(abs), inc)); err != nil {
			return err
		}
	}

	for _, e := range def.Enums {
		entries := make([]EnumEntry, 0, len(e.Entries))
		for _, entry := range e.Entries {
			value, err := parseEnumValue(entry.Value)
			if err != nil {
				return fmt.Errorf("mavconform: enum '%s' entry '%s': %w", e.Name, entry.Name, err)
			}
			entries = append(entries, EnumEntry{Name: entry.Name, Value: value})
		}
		if idx, ok := c.enumIndex[e.Name]; ok {
			c.enums[idx].Entries = append(c.enums[idx].Entries, entries...)
		} else {
			c.enumIndex[e.Name] = len(c.enums)
			c.enums = append(c.enums, &Enum{Name: e.Name, Entries: entries})
		}
	}

	for _, m := range def.Messages {
		msg := &Message{Name: m.Name, ID: m.ID}
		for _, f := range m.Fields {
			ft, arrayLen, err := parseTypeSpec(f.Type)
			if err != nil {
				return fmt.Errorf("mavconform: message '%s' field '%s': %w", m.Name, f.Name, err)
			}
			msg.Fields = append(msg.Fields, Field{
				Name:      f.Name,
				Type:      ft,
				ArrayLen:  arrayLen,
				Enum:      f.Enum,
				Extension: f.Extension,
			})
		}
		c.messages = append(c.messages, msg)
	}
	return nil
}

// parseTypeSpec splits a schema type like "float[4]" into its base type and
// array length (0 for scalars).
func parseTypeSpec(spec string) (FieldType, int, error) {
	name := spec
	arrayLen := 0
	if open := strings.IndexByte(spec, '['); open >= 0 {
		if !strings.HasSuffix(spec, "]") {
			return 0, 0, fmt.Errorf("malformed type '%s'", spec)
		}
		n, err := strconv.Atoi(spec[open+1 : len(spec)-1])
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("malformed array length in '%s'", spec)
		}
		name = spec[:open]
		arrayLen = n
	}
	ft, err := ParseFieldType(name)
	if err != nil {
		return 0, 0, err
	}
	return ft, arrayLen, nil
}

// parseEnumValue accepts the value spellings MAVLink definitions use:
// decimal, 0x-prefixed hex and the power-of-two form "2**n".
func parseEnumValue(s string) (uint64, error) {
	if base, exp, ok := strings.Cut(s, "**"); ok {
		b, err := strconv.ParseUint(strings.TrimSpace(base), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed enum value '%s'", s)
		}
		e, err := strconv.ParseUint(strings.TrimSpace(exp), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed enum value '%s'", s)
		}
		v := uint64(1)
		for i := uint64(0); i < e; i++ {
			v *= b
		}
		return v, nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed enum value '%s'", s)
	}
	return v, nil
}

type xmlMavlink struct {
	Includes []string     `xml:"include"`
	Enums    []xmlEnum    `xml:"enums>enum"`
	Messages []xmlMessage `xml:"messages>message"`
}

type xmlEnum struct {
	Name    string     `xml:"name,attr"`
	Entries []xmlEntry `xml:"entry"`
}

type xmlEntry struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type xmlField struct {
	Name      string
	Type      string
	Enum      string
	Extension bool
}

type xmlMessage struct {
	Name   string
	ID     uint32
	Fields []xmlField
}

// UnmarshalXML walks the message element by hand because the position of
// the <extensions/> separator relative to the <field> elements is
// significant: every field after it is an extension field.
func (m *xmlMessage) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "name":
			m.Name = attr.Value
		case "id":
			id, err := strconv.ParseUint(attr.Value, 10, 32)
			if err != nil {
				return fmt.Errorf("malformed message id '%s'", attr.Value)
			}
			m.ID = uint32(id)
		}
	}

	extensions := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "field":
				f := xmlField{Extension: extensions}
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "name":
						f.Name = attr.Value
					case "type":
						f.Type = attr.Value
					case "enum":
						f.Enum = attr.Value
					}
				}
				if err := dec.Skip(); err != nil {
					return err
				}
				m.Fields = append(m.Fields, f)
			case "extensions":
				extensions = true
				if err := dec.Skip(); err != nil {
					return err
				}
			default:
				if err := dec.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			return nil
		}
	}
}
