package mavconform

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadDescriptor loads a dialect from the YAML descriptor a dialect code
// generator emits alongside its output: an explicit list of message-type
// descriptors and enum tables, so the harness never has to introspect
// generated code.
func LoadDescriptor(path string) (*Dialect, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mavconform: reading descriptor: %w", err)
	}
	var doc yamlDescriptor
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("mavconform: parsing '%s': %w", path, err)
	}

	enums := make([]*Enum, 0, len(doc.Enums))
	for _, e := range doc.Enums {
		enum := &Enum{Name: e.Name}
		for _, entry := range e.Entries {
			enum.Entries = append(enum.Entries, EnumEntry{Name: entry.Name, Value: entry.Value})
		}
		enums = append(enums, enum)
	}

	messages := make([]*Message, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		msg := &Message{Name: m.Name, ID: m.ID}
		for _, f := range m.Fields {
			ft, err := ParseFieldType(f.Type)
			if err != nil {
				return nil, fmt.Errorf("mavconform: message '%s' field '%s': %w", m.Name, f.Name, err)
			}
			msg.Fields = append(msg.Fields, Field{
				Name:      f.Name,
				Type:      ft,
				ArrayLen:  f.ArrayLen,
				Enum:      f.Enum,
				Extension: f.Extension,
			})
		}
		messages = append(messages, msg)
	}

	name := doc.Dialect
	if name == "" {
		name = dialectName(path)
	}
	return NewDialect(name, messages, enums)
}

type yamlDescriptor struct {
	Dialect  string        `yaml:"dialect"`
	Enums    []yamlEnum    `yaml:"enums"`
	Messages []yamlMessage `yaml:"messages"`
}

type yamlEnum struct {
	Name    string      `yaml:"name"`
	Entries []yamlEntry `yaml:"entries"`
}

type yamlEntry struct {
	Name  string `yaml:"name"`
	Value uint64 `yaml:"value"`
}

type yamlMessage struct {
	Name   string      `yaml:"name"`
	ID     uint32      `yaml:"id"`
	Fields []yamlField `yaml:"fields"`
}

type yamlField struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	ArrayLen  int    `yaml:"array_len"`
	Enum      string `yaml:"enum"`
	Extension bool   `yaml:"extension"`
}
