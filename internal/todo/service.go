// Package todo maps to-do items and profiles onto the document store.
package todo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Makepad-fr/tada-sync/internal/docstore"
	"github.com/Makepad-fr/tada-sync/internal/model"
)

const (
	ItemsCollection    = "todos"
	ProfilesCollection = "users"
)

var (
	// ErrEmptyText is returned when an item's text is empty after trimming.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrProfileNotFound is returned when a user has no profile document.
	ErrProfileNotFound = errors.New("user does not exist")
)

// Service reads and writes to-do items and profiles.
type Service struct {
	store docstore.Store
}

func NewService(store docstore.Store) *Service {
	return &Service{store: store}
}

func itemFromDoc(d docstore.Document) model.Item {
	return model.Item{
		ID:        d.ID,
		Text:      d.String("text"),
		UserID:    d.String("userId"),
		CreatedAt: d.CreatedAt,
	}
}

func itemsFromDocs(docs []docstore.Document) []model.Item {
	items := make([]model.Item, 0, len(docs))
	for _, d := range docs {
		items = append(items, itemFromDoc(d))
	}
	return items
}

func userQuery(userID string) docstore.Query {
	return docstore.Where(ItemsCollection, "userId", userID)
}

// Add creates an item for userID. Empty or whitespace-only text is rejected
// without a write.
func (s *Service) Add(ctx context.Context, userID, text string) (model.Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Item{}, ErrEmptyText
	}
	id, err := s.store.Add(ctx, ItemsCollection, docstore.Fields{"text": text, "userId": userID})
	if err != nil {
		return model.Item{}, fmt.Errorf("add item: %w", err)
	}
	return model.Item{ID: id, Text: text, UserID: userID}, nil
}

// UpdateText replaces the text of an item; no other field is touched.
func (s *Service) UpdateText(ctx context.Context, id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if err := s.store.Update(ctx, ItemsCollection, id, docstore.Fields{"text": text}); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, ItemsCollection, id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// List returns userID's items, oldest first.
func (s *Service) List(ctx context.Context, userID string) ([]model.Item, error) {
	docs, err := s.store.Query(ctx, userQuery(userID))
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return itemsFromDocs(docs), nil
}

// Profile returns the profile keyed by userID.
func (s *Service) Profile(ctx context.Context, userID string) (model.Profile, error) {
	d, err := s.store.Get(ctx, ProfilesCollection, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return model.Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return model.Profile{UserID: userID, Name: d.String("name")}, nil
}

func (s *Service) SetProfile(ctx context.Context, p model.Profile) error {
	if err := s.store.Set(ctx, ProfilesCollection, p.UserID, docstore.Fields{"name": p.Name}); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

// Update is one delivery of a Feed.
type Update struct {
	Items []model.Item
	Err   error
}

// Feed is a live view of one user's items.
type Feed struct {
	c      chan Update
	cancel context.CancelFunc
	done   chan struct{}
}

// Watch subscribes to userID's items. The first update is the current list.
func (s *Service) Watch(ctx context.Context, userID string) (*Feed, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub, err := s.store.Subscribe(ctx, userQuery(userID))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch items: %w", err)
	}
	f := &Feed{c: make(chan Update), cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer close(f.c)
		defer sub.Close()
		for {
			select {
			case snap, ok := <-sub.C():
				if !ok {
					return
				}
				u := Update{Items: itemsFromDocs(snap.Documents), Err: snap.Err}
				select {
				case f.c <- u:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return f, nil
}

// C returns the update channel; it is closed when the feed stops.
func (f *Feed) C() <-chan Update { return f.c }

// Close stops the feed and waits for it to wind down.
func (f *Feed) Close() {
	f.cancel()
	<-f.done
}
