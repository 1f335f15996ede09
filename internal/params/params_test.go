package params

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/ramses-tech/nefertari/internal/domain"
)

func TestFromQuery(t *testing.T) {
	q := url.Values{}
	q.Set("name", "foo")
	q.Add("tag", "a")
	q.Add("tag", "b")

	p := FromQuery(q)
	if p["name"] != "foo" {
		t.Fatalf("name = %v", p["name"])
	}
	tags, ok := p["tag"].([]string)
	if !ok || len(tags) != 2 {
		t.Fatalf("tag = %v", p["tag"])
	}
}

func TestSubset(t *testing.T) {
	p := Params{"a": "1", "b": "2", "_limit": "10"}

	got := p.Subset("a", "b")
	if len(got) != 2 || got["a"] != "1" || got["b"] != "2" {
		t.Fatalf("include subset = %v", got)
	}

	got = p.Subset("-_limit")
	if _, ok := got["_limit"]; ok {
		t.Fatal("excluded key survived")
	}
	if len(got) != 2 {
		t.Fatalf("exclude subset = %v", got)
	}
}

func TestAsList(t *testing.T) {
	p := Params{"f": " a, b ,, c "}
	got := p.AsList("f")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v", got)
		}
	}
	if p.AsList("missing") != nil {
		t.Fatal("missing key should yield nil")
	}
}

func TestAsDict(t *testing.T) {
	p := Params{"d": "k:v,k:v2,x:1"}
	got := p.AsDict("d")
	ks, ok := got["k"].([]string)
	if !ok || len(ks) != 2 || ks[0] != "v" || ks[1] != "v2" {
		t.Fatalf("repeated key = %v", got["k"])
	}
	if got["x"] != "1" {
		t.Fatalf("x = %v", got["x"])
	}
}

func TestAsBoolSet(t *testing.T) {
	p := Params{"_count": ""}
	if !p.AsBool("_count", false, true) {
		t.Fatal("empty flag should read true")
	}
	if p["_count"] != true {
		t.Fatal("set should write coerced value back")
	}
	if p.AsBool("missing", true, false) != true {
		t.Fatal("default not honored")
	}
}

func TestProcessInt(t *testing.T) {
	p := Params{"_limit": "20"}
	if err := p.ProcessInt("_limit"); err != nil {
		t.Fatal(err)
	}
	if p["_limit"] != 20 {
		t.Fatalf("_limit = %v", p["_limit"])
	}

	if err := p.ProcessInt("_start", 0); err != nil {
		t.Fatal(err)
	}
	if p["_start"] != 0 {
		t.Fatal("default not applied")
	}

	p["_page"] = "x"
	err := p.ProcessInt("_page")
	if !errors.Is(err, domain.ErrBadParam) {
		t.Fatalf("want ErrBadParam, got %v", err)
	}
	var bp *domain.BadParamError
	if !errors.As(err, &bp) || bp.Name != "_page" {
		t.Fatalf("error should carry the param name: %v", err)
	}
}

func TestProcessIntIdempotent(t *testing.T) {
	p := Params{"_limit": "5"}
	_ = p.ProcessInt("_limit")
	if err := p.ProcessInt("_limit"); err != nil {
		t.Fatalf("second coercion failed: %v", err)
	}
	if p["_limit"] != 5 {
		t.Fatalf("_limit = %v", p["_limit"])
	}
}

func TestProcessDatetime(t *testing.T) {
	p := Params{"since": "2024-03-01T10:30:00Z"}
	if err := p.ProcessDatetime("since"); err != nil {
		t.Fatal(err)
	}
	ts, ok := p["since"].(time.Time)
	if !ok || ts.Hour() != 10 {
		t.Fatalf("since = %v", p["since"])
	}

	p["since"] = "2024-03-01 10:30:00"
	if err := p.ProcessDatetime("since"); !errors.Is(err, domain.ErrBadParam) {
		t.Fatalf("loose format must be rejected, got %v", err)
	}
}

func TestProcessList(t *testing.T) {
	p := Params{"ids": "1,2,3"}
	got, err := p.ProcessList("ids", IntConv, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != 1 {
		t.Fatalf("got %v", got)
	}
	if p.Has("ids") {
		t.Fatal("pop should remove the key")
	}

	p["ids"] = "1,x"
	if _, err := p.ProcessList("ids", IntConv, false); !errors.Is(err, domain.ErrBadParam) {
		t.Fatalf("want ErrBadParam, got %v", err)
	}
}

func TestPopByValues(t *testing.T) {
	p := Params{"a": "", "b": "x", "c": ""}
	p.PopByValues("")
	if len(p) != 1 || p["b"] != "x" {
		t.Fatalf("got %v", p)
	}
}

func TestMGet(t *testing.T) {
	p := Params{"es.chunk_size": "100", "es.hosts": "localhost:9200", "other": "1"}
	got := p.MGet("es", Params{"chunk_size": "50", "sniff": "false"})
	if got["chunk_size"] != "100" {
		t.Fatalf("override lost: %v", got)
	}
	if got["sniff"] != "false" {
		t.Fatalf("default lost: %v", got)
	}
	if got.Has("other") {
		t.Fatal("unprefixed key leaked")
	}
}

func TestDottedToNested(t *testing.T) {
	got, err := DottedToNested(map[string]any{
		"a.b.c": 1,
		"a.d":   2,
		"e":     3,
	})
	if err != nil {
		t.Fatal(err)
	}
	a, ok := got["a"].(map[string]any)
	if !ok {
		t.Fatalf("a = %v", got["a"])
	}
	b, ok := a["b"].(map[string]any)
	if !ok || b["c"] != 1 {
		t.Fatalf("a.b = %v", a["b"])
	}
	if a["d"] != 2 || got["e"] != 3 {
		t.Fatalf("got %v", got)
	}
}

func TestDottedToNestedCollision(t *testing.T) {
	_, err := DottedToNested(map[string]any{
		"a":   1,
		"a.b": 2,
	})
	if !errors.Is(err, domain.ErrBadParam) {
		t.Fatalf("want ErrBadParam, got %v", err)
	}
}
