package store_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/jacentio/linkstore/internal/ddbtest"
	"github.com/jacentio/linkstore/store"
)

const (
	testEnv   = "test"
	testTable = "Links_test"
)

// testDef covers every type tag, including nested maps and lists of maps.
var testDef = store.Definition{
	TableName: "Links",
	Fields: map[string]string{
		"User_id":         "user_id",
		"Link_id":         "link_id",
		"s_Url":           "url",
		"s_Title":         "title",
		"n_Clicks":        "clicks",
		"dt_CreationDate": "created_at",
		"l_s_Tags":        "tags",
		"m_Owner":         "owner",
		"l_m_Visits":      "visits",
	},
	IDFields: []string{"User_id", "Link_id"},
	Indexes:  map[string][]string{"ByLink": {"Link_id"}},
	SubObjects: map[string]map[string]string{
		"m_Owner":    {"s_Name": "name", "n_Age": "age"},
		"l_m_Visits": {"s_Country": "country", "dt_At": "at"},
	},
}

var testSchema = store.MustSchema(testDef)

var _ store.Client = (*ddbtest.Memory)(nil)

func newTestStore(t *testing.T, cfg store.Config) (*store.Store, *ddbtest.Memory) {
	t.Helper()
	mem := ddbtest.New()
	mem.CreateTable(testTable, []string{"User_id", "Link_id"}, map[string][]string{"ByLink": {"Link_id"}})
	mem.CreateTable(testEnv+"_Counters", []string{store.CounterKeyAttr}, nil)

	s := store.New(mem, cfg)
	s.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return s, mem
}
