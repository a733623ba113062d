package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore talks to a Cloud Firestore database (or its emulator when
// FIRESTORE_EMULATOR_HOST is set). Live queries use Firestore's own snapshot
// listeners.
type FirestoreStore struct {
	client *firestore.Client
	logger *slog.Logger
}

// OpenFirestore connects to projectID using application default credentials.
func OpenFirestore(ctx context.Context, projectID string, logger *slog.Logger) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FirestoreStore{client: client, logger: logger.With("component", "docstore")}, nil
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func fromSnapshot(collection string, snap *firestore.DocumentSnapshot) Document {
	return Document{
		ID:         snap.Ref.ID,
		Collection: collection,
		Fields:     Fields(snap.Data()),
		CreatedAt:  snap.CreateTime,
		UpdatedAt:  snap.UpdateTime,
	}
}

func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if notFound(err) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return fromSnapshot(collection, snap), nil
}

func (s *FirestoreStore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, map[string]any(fields))
	if err != nil {
		return "", fmt.Errorf("add %s: %w", collection, err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) Set(ctx context.Context, collection, id string, fields Fields) error {
	if _, err := s.client.Collection(collection).Doc(id).Set(ctx, map[string]any(fields)); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	_, err := s.client.Collection(collection).Doc(id).Update(ctx, updates)
	if notFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.Collection(collection).Doc(id).Delete(ctx, firestore.Exists)
	if notFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) query(q Query) firestore.Query {
	fq := s.client.Collection(q.Collection).Query
	if q.Field != "" {
		fq = fq.Where(q.Field, "==", q.Value)
	}
	return fq
}

// sorted orders by creation time client-side; ordering server-side on a
// field other than the filter would need a composite index.
func sorted(collection string, snaps []*firestore.DocumentSnapshot) []Document {
	docs := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, fromSnapshot(collection, snap))
	}
	slices.SortStableFunc(docs, func(a, b Document) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return docs
}

func (s *FirestoreStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	snaps, err := s.query(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	return sorted(q.Collection, snaps), nil
}

func (s *FirestoreStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	sub, ctx := newSubscription(ctx)
	it := s.query(q).Snapshots(ctx)
	go func() {
		defer close(sub.done)
		defer close(sub.c)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if ctx.Err() != nil {
				return
			}
			var snap Snapshot
			if err != nil {
				s.logger.WarnContext(ctx, "live query failed", "collection", q.Collection, "error", err)
				snap.Err = fmt.Errorf("listen %s: %w", q.Collection, err)
			} else {
				docs, err := qs.Documents.GetAll()
				snap = Snapshot{Documents: sorted(q.Collection, docs), Err: err}
			}
			select {
			case sub.c <- snap:
			case <-ctx.Done():
				return
			}
			// A listener that failed does not recover.
			if err != nil {
				<-ctx.Done()
				return
			}
		}
	}()
	return sub, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
