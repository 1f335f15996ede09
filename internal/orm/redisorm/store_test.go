package redisorm

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/model"
)

func storeRegistry(t *testing.T) *model.Registry {
	t.Helper()
	reg := model.NewRegistry()
	reg.MustRegister(model.Info{
		Name:    "Story",
		PKField: "id",
		Fields: map[string]model.FieldParams{
			"author": {Relationship: "Author"},
		},
	})
	reg.MustRegister(model.Info{Name: "Author", PKField: "id"})
	return reg
}

func TestPing_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	s := NewStoreForTest(c, storeRegistry(t))
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetItem_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "nefertari:story:5")).
		Return(mock.Result(mock.RedisString(`{"id": 5, "name": "foo"}`)))

	s := NewStoreForTest(c, storeRegistry(t))
	doc, err := s.GetItem(context.Background(), "Story", "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc["name"] != "foo" {
		t.Errorf("unexpected doc: %v", doc)
	}
}

func TestGetItem_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "nefertari:story:5")).
		Return(mock.Result(mock.RedisNil()))

	s := NewStoreForTest(c, storeRegistry(t))
	_, err := s.GetItem(context.Background(), "Story", "5")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSave_GeneratesPrimaryKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("INCR", "nefertari:story:_seq")).
		Return(mock.Result(mock.RedisInt64(42)))
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "SET" && cmd[1] == "nefertari:story:42"
		})).
		Return(mock.Result(mock.RedisString("OK")))

	s := NewStoreForTest(c, storeRegistry(t))
	doc, err := s.Save(context.Background(), "Story", domain.Document{"name": "n"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc["id"] != "42" || doc[domain.TypeKey] != "story" {
		t.Errorf("unexpected doc: %v", doc)
	}
}

func TestSave_KeepsExistingKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			return cmd[0] == "SET" && cmd[1] == "nefertari:story:7"
		})).
		Return(mock.Result(mock.RedisString("OK")))

	s := NewStoreForTest(c, storeRegistry(t))
	if _, err := s.Save(context.Background(), "Story", domain.Document{"id": 7}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteMany_CountsDeleted(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisInt64(1)),
			mock.Result(mock.RedisInt64(0)),
		})

	s := NewStoreForTest(c, storeRegistry(t))
	n, err := s.DeleteMany(context.Background(), "Story", []string{"1", "2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}

func TestDeleteMany_Empty(t *testing.T) {
	s := NewStoreForTest(nil, storeRegistry(t)) // client not called
	n, err := s.DeleteMany(context.Background(), "Story", nil)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestGetCollection_Filters(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SCAN", "0", "MATCH", "nefertari:story:*", "COUNT", "100")).
		Return(mock.Result(mock.RedisArray(
			mock.RedisString("0"),
			mock.RedisArray(
				mock.RedisString("nefertari:story:1"),
				mock.RedisString("nefertari:story:2"),
			),
		)))
	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisString(`{"id": 1, "status": "draft"}`)),
			mock.Result(mock.RedisString(`{"id": 2, "status": "live"}`)),
		})

	s := NewStoreForTest(c, storeRegistry(t))
	docs, err := s.GetCollection(context.Background(), "Story", map[string]any{"status": "draft"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || domain.Stringify(docs[0]["id"]) != "1" {
		t.Errorf("unexpected docs: %v", docs)
	}
}

func TestGetRelatedDocuments(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisString(`{"id": 9, "name": "a"}`)),
		})

	s := NewStoreForTest(c, storeRegistry(t))
	related, err := s.GetRelatedDocuments(context.Background(), "Story",
		domain.Document{"id": 1, "author": 9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(related) != 1 || related[0].TypeName != "Author" || len(related[0].Docs) != 1 {
		t.Errorf("unexpected related: %+v", related)
	}
}

func TestMatches(t *testing.T) {
	doc := domain.Document{"id": 1, "status": "draft"}
	tests := []struct {
		filters map[string]any
		want    bool
	}{
		{nil, true},
		{map[string]any{"status": "draft"}, true},
		{map[string]any{"id": "1"}, true},
		{map[string]any{"status": "live"}, false},
		{map[string]any{"missing": "x"}, false},
	}
	for _, tc := range tests {
		if got := matches(doc, tc.filters); got != tc.want {
			t.Errorf("matches(%v) = %v, want %v", tc.filters, got, tc.want)
		}
	}
}

func TestRelationIDs(t *testing.T) {
	if got := relationIDs([]any{1, "2"}); len(got) != 2 || got[0] != "1" {
		t.Errorf("got %v", got)
	}
	if got := relationIDs(nil); got != nil {
		t.Errorf("got %v", got)
	}
	if got := relationIDs("x"); len(got) != 1 {
		t.Errorf("got %v", got)
	}
}
