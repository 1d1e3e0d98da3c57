package lsp

import (
	"sync"
	"time"
)

// Document is a snapshot of an open text document.
type Document struct {
	URI        DocumentURI
	Path       string
	LanguageID string
	Version    int
	Content    string

	OpenedAt   time.Time
	ModifiedAt time.Time
	IsDirty    bool
}

// DocumentEvent is delivered to store subscribers after a change is applied.
type DocumentEvent struct {
	Kind     DocumentEventKind
	Document Document
}

// DocumentEventKind identifies what happened to a document.
type DocumentEventKind int

const (
	DocumentOpened DocumentEventKind = iota
	DocumentChanged
	DocumentSaved
	DocumentClosed
)

// String returns the event kind name.
func (k DocumentEventKind) String() string {
	switch k {
	case DocumentOpened:
		return "open"
	case DocumentChanged:
		return "change"
	case DocumentSaved:
		return "save"
	case DocumentClosed:
		return "close"
	default:
		return "unknown"
	}
}

// DocumentStore tracks open documents and their versions. It is the live
// source of truth consulted when deciding whether queued work is stale.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[DocumentURI]*Document

	subMu       sync.RWMutex
	subscribers []func(DocumentEvent)
}

// NewDocumentStore creates an empty store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[DocumentURI]*Document),
	}
}

// Subscribe registers fn to be called after every open, change, save and close.
// Subscribers run synchronously in the caller's goroutine.
func (s *DocumentStore) Subscribe(fn func(DocumentEvent)) {
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subMu.Unlock()
}

func (s *DocumentStore) publish(kind DocumentEventKind, doc Document) {
	s.subMu.RLock()
	subs := s.subscribers
	s.subMu.RUnlock()

	for _, fn := range subs {
		fn(DocumentEvent{Kind: kind, Document: doc})
	}
}

// Open records a newly opened document.
func (s *DocumentStore) Open(item TextDocumentItem) error {
	s.mu.Lock()
	if _, exists := s.documents[item.URI]; exists {
		s.mu.Unlock()
		return ErrDocumentAlreadyOpen
	}

	// Unsaved buffers have no path on disk.
	var path string
	if IsFileURI(item.URI) {
		path = URIToFilePath(item.URI)
	}

	now := time.Now()
	doc := &Document{
		URI:        item.URI,
		Path:       path,
		LanguageID: item.LanguageID,
		Version:    item.Version,
		Content:    item.Text,
		OpenedAt:   now,
		ModifiedAt: now,
	}
	s.documents[item.URI] = doc
	snapshot := *doc
	s.mu.Unlock()

	s.publish(DocumentOpened, snapshot)
	return nil
}

// Change applies content changes and adopts the version sent by the client.
func (s *DocumentStore) Change(params DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	doc, exists := s.documents[uri]
	if !exists {
		s.mu.Unlock()
		return ErrDocumentNotOpen
	}

	for _, change := range params.ContentChanges {
		if change.Range == nil {
			doc.Content = change.Text
		} else {
			doc.Content = ApplyChange(doc.Content, *change.Range, change.Text)
		}
	}
	doc.Version = params.TextDocument.Version
	doc.ModifiedAt = time.Now()
	doc.IsDirty = true
	snapshot := *doc
	s.mu.Unlock()

	s.publish(DocumentChanged, snapshot)
	return nil
}

// Save marks a document as saved. When text is non-nil it replaces the
// content without bumping the version.
func (s *DocumentStore) Save(uri DocumentURI, text *string) error {
	s.mu.Lock()
	doc, exists := s.documents[uri]
	if !exists {
		s.mu.Unlock()
		return ErrDocumentNotOpen
	}
	if text != nil {
		doc.Content = *text
	}
	doc.IsDirty = false
	snapshot := *doc
	s.mu.Unlock()

	s.publish(DocumentSaved, snapshot)
	return nil
}

// Close forgets a document.
func (s *DocumentStore) Close(uri DocumentURI) error {
	s.mu.Lock()
	doc, exists := s.documents[uri]
	if !exists {
		s.mu.Unlock()
		return ErrDocumentNotOpen
	}
	delete(s.documents, uri)
	snapshot := *doc
	s.mu.Unlock()

	s.publish(DocumentClosed, snapshot)
	return nil
}

// Get returns a copy of the document, if open.
func (s *DocumentStore) Get(uri DocumentURI) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.documents[uri]
	if !exists {
		return Document{}, false
	}
	return *doc, true
}

// Version returns the current version of a document.
func (s *DocumentStore) Version(uri DocumentURI) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.documents[uri]
	if !exists {
		return 0, false
	}
	return doc.Version, true
}

// All returns snapshots of every open document.
func (s *DocumentStore) All() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.documents))
	for _, doc := range s.documents {
		docs = append(docs, *doc)
	}
	return docs
}

// Len returns the number of open documents.
func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// ApplyChange replaces the text covered by rng with newText.
// Out-of-range positions are clamped to the content.
func ApplyChange(content string, rng Range, newText string) string {
	pc := NewPositionConverter(content)
	start, end := pc.RangeToByteOffsets(rng)
	if end < start {
		start, end = end, start
	}
	return content[:start] + newText + content[end:]
}
