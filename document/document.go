// Package document provides document collections that agents attach to their
// system message. A collection renders into a plain-text block substituted
// for the {{.documents}} template variable.
package document

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/taskmesh/internal/util"
)

// Document is one titled piece of grounding material.
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewDocument creates a document with a fresh id.
func NewDocument(title, content string) Document {
	return Document{ID: util.NewID(), Title: title, Content: content}
}

// Collection is an ordered set of documents. Safe for concurrent reads and
// appends.
type Collection struct {
	mu   sync.RWMutex
	docs []Document
}

// NewCollection creates a collection from the given documents.
func NewCollection(docs ...Document) *Collection {
	c := &Collection{}
	c.Add(docs...)
	return c
}

// Add appends documents to the collection.
func (c *Collection) Add(docs ...Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, docs...)
}

// Documents returns a defensive copy of the collection contents.
func (c *Collection) Documents() []Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Document, len(c.docs))
	copy(out, c.docs)
	return out
}

// Len returns the number of documents.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Render formats the collection for inclusion in a system message. Each
// document appears as a titled block; an empty collection renders to "".
func (c *Collection) Render() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available documents:\n")
	for _, d := range c.docs {
		fmt.Fprintf(&b, "\n## %s\n%s\n", d.Title, d.Content)
	}
	return b.String()
}
