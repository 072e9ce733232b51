// Package link is the short-link entity built on the store package.
package link

import (
	"fmt"
	"time"

	"github.com/jacentio/linkstore/store"
)

// TableName is the logical table holding links.
const TableName = "UrlShortenerLinks"

// IDIndex is the secondary index keyed by link id alone.
const IDIndex = "UrlLinkIdIndex"

// Native attribute names.
const (
	FieldUserID     = "user_id"
	FieldLinkID     = "link_id"
	FieldURL        = "url"
	FieldTitle      = "title"
	FieldTags       = "tags"
	FieldCreatedAt  = "created_at"
	FieldModifiedAt = "modified_at"
)

// Definition declares the storage layout of a link.
var Definition = store.Definition{
	TableName: TableName,
	Fields: map[string]string{
		"User_id":         FieldUserID,
		"Link_id":         FieldLinkID,
		"s_Url":           FieldURL,
		"s_Title":         FieldTitle,
		"l_s_Tags":        FieldTags,
		"dt_CreationDate": FieldCreatedAt,
		"dt_ModifiedDate": FieldModifiedAt,
	},
	IDFields: []string{"User_id", "Link_id"},
	Indexes: map[string][]string{
		IDIndex: {"Link_id"},
	},
}

// Schema is the compiled link Definition.
var Schema = store.MustSchema(Definition)

var (
	// ErrLinkNotFound is returned when no link matches a lookup.
	ErrLinkNotFound = fmt.Errorf("link not found: %w", store.ErrNotFound)

	// ErrMultipleFound is returned when a lookup by link id matches several links.
	ErrMultipleFound = fmt.Errorf("link id is not unique: %w", store.ErrMultipleFound)
)

// Link is a shortened URL owned by a user.
type Link struct {
	UserID     string
	LinkID     string
	URL        string
	Title      string
	Tags       []string
	CreatedAt  time.Time
	ModifiedAt time.Time

	changes store.Tracker
}

// NewLink holds the caller-supplied fields of a link to create.
type NewLink struct {
	UserID string
	LinkID string
	URL    string
	Title  string
	Tags   []string
}

// Modified returns the native names of fields changed since the last save.
func (l *Link) Modified() []string {
	return l.changes.Modified()
}

func (l *Link) key() store.Attributes {
	return store.Attributes{FieldUserID: l.UserID, FieldLinkID: l.LinkID}
}

func (l *Link) attributes() store.Attributes {
	return store.Attributes{
		FieldUserID:     l.UserID,
		FieldLinkID:     l.LinkID,
		FieldURL:        l.URL,
		FieldTitle:      l.Title,
		FieldTags:       l.Tags,
		FieldCreatedAt:  l.CreatedAt,
		FieldModifiedAt: l.ModifiedAt,
	}
}

// set assigns an updatable field after checking its type.
func (l *Link) set(field string, v any) error {
	switch field {
	case FieldURL, FieldTitle:
		s, ok := v.(string)
		if !ok && v != nil {
			return fieldTypeErr(field, "a string", v)
		}
		if field == FieldURL {
			l.URL = s
		} else {
			l.Title = s
		}
	case FieldTags:
		tags, err := toStrings(v)
		if err != nil {
			return fieldTypeErr(field, "a list of strings", v)
		}
		l.Tags = tags
	case FieldUserID, FieldLinkID, FieldCreatedAt, FieldModifiedAt:
		return &store.ValidationError{Op: "update link", Fields: []string{field}, Reason: "field cannot be updated"}
	default:
		return &store.ValidationError{Op: "update link", Fields: []string{field}, Reason: "unknown link field"}
	}
	return nil
}

func fieldTypeErr(field, want string, v any) error {
	return &store.ValidationError{
		Op:     "update link",
		Fields: []string{field},
		Reason: fmt.Sprintf("expected %s, got %T", want, v),
	}
}

func fromAttributes(attrs store.Attributes) (*Link, error) {
	l := &Link{
		UserID: asString(attrs[FieldUserID]),
		LinkID: asString(attrs[FieldLinkID]),
	}
	l.URL, _ = attrs[FieldURL].(string)
	l.Title, _ = attrs[FieldTitle].(string)
	l.CreatedAt, _ = attrs[FieldCreatedAt].(time.Time)
	l.ModifiedAt, _ = attrs[FieldModifiedAt].(time.Time)

	tags, err := toStrings(attrs[FieldTags])
	if err != nil {
		return nil, fmt.Errorf("link %s: tags: %w", l.LinkID, err)
	}
	l.Tags = tags
	return l, nil
}

func toStrings(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("element %T is not a string", e)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%T is not a list", v)
}

// asString renders key values, which are untyped and may decode as numbers.
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
