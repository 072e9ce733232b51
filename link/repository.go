package link

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jacentio/linkstore/store"
)

// Repository reads and writes links in one Store.
type Repository struct {
	store *store.Store
	now   func() time.Time
}

// NewRepository creates a Repository backed by s.
func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s, now: time.Now}
}

// Register adds the link schema to r.
func Register(r *store.Registry) error {
	return r.Register(Schema)
}

// Create stores a new link and returns it as read back from the table.
// Link ids are unique across users: an id already present in the id index,
// or already stored for the same user, fails with store.ErrIntegrity.
func (r *Repository) Create(ctx context.Context, env string, in NewLink) (*Link, error) {
	if in.LinkID != "" {
		taken, err := r.store.Query(ctx, env, Schema, store.QueryInput{
			Index:   IDIndex,
			Filters: store.Attributes{FieldLinkID: in.LinkID},
		})
		if err != nil {
			return nil, err
		}
		if len(taken) > 0 {
			return nil, &store.IntegrityError{Table: Schema.PhysicalName(env), Field: FieldLinkID}
		}
	}

	now := r.now().UTC()
	l := &Link{
		UserID:     in.UserID,
		LinkID:     in.LinkID,
		URL:        in.URL,
		Title:      in.Title,
		Tags:       in.Tags,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := r.store.Create(ctx, env, Schema, l.attributes(), store.CreateOptions{UniqueField: FieldLinkID}); err != nil {
		return nil, err
	}
	return r.get(ctx, env, l.key(), true)
}

// Get returns the link identified by user and link id.
func (r *Repository) Get(ctx context.Context, env, userID, linkID string) (*Link, error) {
	return r.get(ctx, env, store.Attributes{FieldUserID: userID, FieldLinkID: linkID}, false)
}

func (r *Repository) get(ctx context.Context, env string, key store.Attributes, consistent bool) (*Link, error) {
	attrs, ok, err := r.store.GetByKey(ctx, env, Schema, key, store.GetOptions{Consistent: consistent})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLinkNotFound
	}
	return fromAttributes(attrs)
}

// GetByID looks a link up by id alone through the id index. Extra filters
// narrow the match, for instance to a user.
func (r *Repository) GetByID(ctx context.Context, env, linkID string, filters store.Attributes) (*Link, error) {
	query := store.Attributes{FieldLinkID: linkID}
	for k, v := range filters {
		if k != FieldLinkID {
			query[k] = v
		}
	}
	items, err := r.store.Query(ctx, env, Schema, store.QueryInput{Index: IDIndex, Filters: query})
	if err != nil {
		return nil, err
	}
	switch len(items) {
	case 0:
		return nil, ErrLinkNotFound
	case 1:
		return fromAttributes(items[0])
	default:
		return nil, fmt.Errorf("%w: %d links with id %s", ErrMultipleFound, len(items), linkID)
	}
}

// ListForUser returns every link owned by userID.
func (r *Repository) ListForUser(ctx context.Context, env, userID string) ([]*Link, error) {
	items, err := r.store.Query(ctx, env, Schema, store.QueryInput{
		Filters: store.Attributes{FieldUserID: userID},
	})
	if err != nil {
		return nil, err
	}
	return fromAll(items)
}

// ListAll scans the whole links table.
func (r *Repository) ListAll(ctx context.Context, env string) ([]*Link, error) {
	items, err := r.store.Scan(ctx, env, Schema, store.ScanInput{})
	if err != nil {
		return nil, err
	}
	return fromAll(items)
}

func fromAll(items []store.Attributes) ([]*Link, error) {
	links := make([]*Link, 0, len(items))
	for _, item := range items {
		l, err := fromAttributes(item)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, nil
}

// Update applies fields to l and saves them, stamping the modification
// time. Setting url, title or tags to nil or "" removes the attribute.
// A field still pending from a failed save cannot be changed again.
func (r *Repository) Update(ctx context.Context, env string, l *Link, fields map[string]any) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var check Link
	for _, name := range names {
		if err := check.set(name, fields[name]); err != nil {
			return err
		}
	}
	for _, name := range names {
		if l.changes.IsModified(name) {
			return &store.InconsistencyError{Field: name}
		}
	}
	for _, name := range names {
		v := fields[name]
		if err := l.set(name, v); err != nil {
			return err
		}
		if err := l.changes.Mark(name, v, false); err != nil {
			return err
		}
	}

	now := r.now().UTC()
	if err := l.changes.Mark(FieldModifiedAt, now, true); err != nil {
		return err
	}
	l.ModifiedAt = now

	return r.store.Save(ctx, env, Schema, l.key(), &l.changes)
}

// Delete removes l.
func (r *Repository) Delete(ctx context.Context, env string, l *Link) error {
	return r.store.Delete(ctx, env, Schema, l.key())
}

// NextCounter increments a named counter shared across tables.
func (r *Repository) NextCounter(ctx context.Context, env, name string) (int64, error) {
	return r.store.NextCounter(ctx, env, name)
}
