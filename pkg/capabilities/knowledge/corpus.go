// Package knowledge implements the retrieve_* capabilities over a local corpus.
//
// The corpus is a YAML file of documents, each tagged with one of the six
// sections (info, domains, events, faqs, members, faculty). Each retrieval
// capability searches one section and returns the best matching documents.
package knowledge

import (
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/threadline/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Section is a slice of the knowledge base served by one capability.
type Section string

const (
	SectionInfo    Section = "info"
	SectionDomains Section = "domains"
	SectionEvents  Section = "events"
	SectionFAQs    Section = "faqs"
	SectionMembers Section = "members"
	SectionFaculty Section = "faculty"
)

var sectionOf = map[domain.CapabilityName]Section{
	domain.CapabilityRetrieveInfo:    SectionInfo,
	domain.CapabilityRetrieveDomains: SectionDomains,
	domain.CapabilityRetrieveEvents:  SectionEvents,
	domain.CapabilityRetrieveFAQs:    SectionFAQs,
	domain.CapabilityRetrieveMembers: SectionMembers,
	domain.CapabilityRetrieveFaculty: SectionFaculty,
}

// SectionFor maps a retrieval capability to its section.
func SectionFor(name domain.CapabilityName) (Section, bool) {
	s, ok := sectionOf[name]
	return s, ok
}

// Document is one retrievable entry.
type Document struct {
	Section Section  `yaml:"section"`
	Title   string   `yaml:"title"`
	Text    string   `yaml:"text"`
	Tags    []string `yaml:"tags,omitempty"`
}

// Corpus is the parsed knowledge base.
type Corpus struct {
	Documents []Document `yaml:"documents"`
}

// ParseCorpus decodes and validates a YAML corpus.
func ParseCorpus(data []byte) (*Corpus, error) {
	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("knowledge: parse corpus: %w", err)
	}
	valid := make(map[Section]bool, len(sectionOf))
	for _, s := range sectionOf {
		valid[s] = true
	}
	for i, d := range c.Documents {
		if !valid[d.Section] {
			return nil, fmt.Errorf("knowledge: document %d (%q) has unknown section %q", i, d.Title, d.Section)
		}
		if strings.TrimSpace(d.Text) == "" {
			return nil, fmt.Errorf("knowledge: document %d (%q) has no text", i, d.Title)
		}
	}
	return &c, nil
}

// LoadCorpus reads a YAML corpus from disk.
func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read corpus: %w", err)
	}
	return ParseCorpus(data)
}

// In returns the documents of one section in file order.
func (c *Corpus) In(s Section) []Document {
	var out []Document
	for _, d := range c.Documents {
		if d.Section == s {
			out = append(out, d)
		}
	}
	return out
}

func (d Document) content() string {
	if d.Title == "" {
		return d.Text
	}
	return d.Title + "\n" + d.Text
}
