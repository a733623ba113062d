// Package docstore is the document database the app talks to: keyed
// documents grouped in collections, equality queries and live queries that
// push the full result set on every change.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// Fields is the content of a document.
type Fields map[string]any

// Document is a stored document with store-maintained timestamps.
type Document struct {
	ID         string
	Collection string
	Fields     Fields
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// String returns the string value of a field, or "" if missing or not a string.
func (d Document) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

// Query selects documents of one collection, optionally filtered by
// Field == Value. Results are ordered by creation time, then id.
type Query struct {
	Collection string
	Field      string
	Value      any
}

// Where builds an equality query.
func Where(collection, field string, value any) Query {
	return Query{Collection: collection, Field: field, Value: value}
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (q Query) validate() error {
	if !namePattern.MatchString(q.Collection) {
		return fmt.Errorf("invalid collection %q", q.Collection)
	}
	if q.Field != "" && !namePattern.MatchString(q.Field) {
		return fmt.Errorf("invalid field %q", q.Field)
	}
	return nil
}

// Snapshot is one delivery of a live query: the complete current result
// set, or the error that stopped the query from being evaluated.
type Snapshot struct {
	Documents []Document
	Err       error
}

// Store is implemented by every backing database.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	Set(ctx context.Context, collection, id string, fields Fields) error
	Update(ctx context.Context, collection, id string, fields Fields) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
	Close() error
}

// Subscription is a standing live query. Snapshots arrive on C until the
// subscription is closed or its context is cancelled, after which C is closed.
type Subscription struct {
	c      chan Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

func newSubscription(ctx context.Context) (*Subscription, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &Subscription{
		c:      make(chan Snapshot),
		cancel: cancel,
		done:   make(chan struct{}),
	}, ctx
}

// C returns the snapshot channel.
func (s *Subscription) C() <-chan Snapshot { return s.c }

// Close stops the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}
