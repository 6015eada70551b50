// Package syllabus reconciles an extracted hierarchy into the node rows persisted for a posting.
package syllabus

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/slug"
)

// DefaultSentinel names the subject created for postings without a detectable syllabus.
const DefaultSentinel = "Veja o edital oficial"

// Node is one row to upsert. Key is the slug path from the root ("portugues/crase");
// ParentKey is empty for subjects.
type Node struct {
	Key         string
	ParentKey   string
	Level       crawler.Level
	Name        string
	Slug        string
	Description string
	Ordinal     int
}

// Counts tallies nodes per level.
type Counts struct {
	Subjects     int `json:"subjects"`
	Topics       int `json:"topics"`
	Subtopics    int `json:"subtopics"`
	SubSubtopics int `json:"sub_subtopics"`
}

// Total returns the number of nodes.
func (c Counts) Total() int {
	return c.Subjects + c.Topics + c.Subtopics + c.SubSubtopics
}

// Plan is the ordered node list for one posting. Parents always precede their children.
type Plan struct {
	Nodes      []Node
	Confidence crawler.Confidence
	Sentinel   bool
}

// Counts tallies the plan's nodes per level.
func (p Plan) Counts() Counts {
	var c Counts
	for _, n := range p.Nodes {
		switch n.Level {
		case crawler.LevelSubject:
			c.Subjects++
		case crawler.LevelTopic:
			c.Topics++
		case crawler.LevelSubtopic:
			c.Subtopics++
		case crawler.LevelSubSubtopic:
			c.SubSubtopics++
		}
	}
	return c
}

// builder accumulates nodes, merging siblings that share a slug.
type builder struct {
	nodes []Node
	index map[string]int
}

func (b *builder) add(parentKey string, level crawler.Level, name, description string, ordinal int) string {
	s := slug.Slugify(name)
	if s == "" {
		s = fmt.Sprintf("%s-%d", level, ordinal)
	}
	key := s
	if parentKey != "" {
		key = parentKey + "/" + s
	}
	if i, dup := b.index[key]; dup {
		// The first occurrence keeps its display fields; a later description fills a blank one.
		if b.nodes[i].Description == "" {
			b.nodes[i].Description = description
		}
		return key
	}
	b.index[key] = len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Key:         key,
		ParentKey:   parentKey,
		Level:       level,
		Name:        name,
		Slug:        s,
		Description: description,
		Ordinal:     ordinal,
	})
	return key
}

// Build flattens h into a Plan. Nodes with the same slug under the same parent are
// merged with their children combined. A hierarchy without subjects gets one
// sentinel subject so the posting stays navigable.
func Build(h crawler.Hierarchy, sentinel string) Plan {
	b := &builder{index: map[string]int{}}
	for i, subject := range h.Subjects {
		sk := b.add("", crawler.LevelSubject, clean(subject.Name), clean(subject.Description), i+1)
		for _, topic := range subject.Topics {
			tk := b.add(sk, crawler.LevelTopic, clean(topic.Title), clean(topic.Description), topic.Ordinal)
			for j, sub := range topic.Subtopics {
				stk := b.add(tk, crawler.LevelSubtopic, clean(sub.Name), clean(sub.Description), j+1)
				for k, leaf := range sub.SubSubtopics {
					b.add(stk, crawler.LevelSubSubtopic, clean(leaf.Name), clean(leaf.Description), k+1)
				}
			}
		}
	}
	plan := Plan{Confidence: h.Confidence}
	if len(b.nodes) == 0 {
		if strings.TrimSpace(sentinel) == "" {
			sentinel = DefaultSentinel
		}
		b.add("", crawler.LevelSubject, sentinel, "", 1)
		plan.Sentinel = true
	}
	plan.Nodes = b.nodes
	return plan
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
