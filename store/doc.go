// Package store maps native Go values onto items of a schemaless DynamoDB table.
//
// Each entity declares a [Definition]: typed field names whose prefix encodes
// the wire type, the native attribute names they map to, the primary key
// and any secondary indexes. [NewSchema] compiles it once into an immutable
// [Schema] that every [Store] call takes explicitly.
//
// # Type tags
//
// The text before the first underscore of a typed name selects its codec:
//
//	s_Title          string      S
//	n_Clicks         number      N
//	dt_CreationDate  time        S (RFC 3339)
//	l_s_Tags         list        L of the element type after "l_"
//	m_Owner          map         M, nested fields from Definition.SubObjects
//
// Any other prefix (key fields such as "User_id") is a scalar: strings
// travel as S, numbers as N.
//
// # Changes
//
// A [Tracker] records which native attributes of a live instance changed.
// [Store.Save] turns the modified set into a partial update: fields set to
// nil or "" are removed, the rest are written.
//
// # Reads
//
// [Store.GetByKey] reads by primary key. [Store.Query] requires the
// partition key or the full key of a declared index and drains every page;
// [Store.QueryPages] streams pages with early exit. [Store.Scan] reads the
// whole table and ignores its filters.
//
// # Errors
//
//   - [ErrValidation] - missing key or index fields, unknown fields or indexes
//   - [ErrEncoding] - a value does not fit its declared type
//   - [ErrInconsistency] - a field was modified twice before a save
//   - [ErrIntegrity] - a conditional create found the unique field set
//   - [ErrNoChanges] - Save was called with nothing modified
package store
