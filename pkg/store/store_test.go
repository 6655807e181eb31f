package store

import (
	"encoding/json"
	"sync"
	"testing"
)

type rule struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

func TestSetAndGet(t *testing.T) {
	s := New[rule]()
	if replaced := s.Set("/auth AAAA", rule{Status: 200}); replaced {
		t.Error("expected first Set to report no replacement")
	}

	got, ok := s.Get("/auth AAAA")
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if got.Status != 200 {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := New[rule]()
	if _, ok := s.Get("nope"); ok {
		t.Error("expected ok=false for missing key")
	}
}

func TestSetReplacesInPlace(t *testing.T) {
	s := New[rule]()
	s.Set("a", rule{Status: 200})
	s.Set("b", rule{Status: 200})
	if replaced := s.Set("a", rule{Status: 500}); !replaced {
		t.Error("expected replacement to be reported")
	}

	if s.Count() != 2 {
		t.Errorf("expected 2 entries, got %d", s.Count())
	}
	keys := s.Keys()
	if keys[0] != "a" || keys[1] != "b" {
		t.Errorf("replacement must keep position, got %v", keys)
	}
	got, _ := s.Get("a")
	if got.Status != 500 {
		t.Errorf("expected replaced entry, got %+v", got)
	}
}

func TestDelete(t *testing.T) {
	s := New[rule]()
	s.Set("a", rule{})
	s.Set("b", rule{})

	if !s.Delete("a") {
		t.Error("expected Delete to report existing key")
	}
	if s.Delete("a") {
		t.Error("expected second Delete to report missing key")
	}
	if keys := s.Keys(); len(keys) != 1 || keys[0] != "b" {
		t.Errorf("unexpected keys after delete: %v", keys)
	}
}

func TestListOrder(t *testing.T) {
	s := New[rule]()
	for i, k := range []string{"c", "a", "b"} {
		s.Set(k, rule{Status: i})
	}
	list := s.List()
	for i, r := range list {
		if r.Status != i {
			t.Errorf("position %d: expected status %d, got %d", i, i, r.Status)
		}
	}
}

func TestReset(t *testing.T) {
	s := New[rule]()
	s.Set("a", rule{})
	s.Set("b", rule{})
	s.Reset()

	if s.Count() != 0 {
		t.Errorf("expected empty store after reset, got %d", s.Count())
	}
	if len(s.Keys()) != 0 {
		t.Error("expected no keys after reset")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := New[rule]()
	s.Set("a", rule{Status: 200})

	snap := s.Snapshot()
	snap["b"] = rule{Status: 403}

	if s.Count() != 1 {
		t.Errorf("mutating snapshot must not touch store, count=%d", s.Count())
	}
}

func TestLoadSnapshotSortsKeys(t *testing.T) {
	s := New[rule]()
	s.Set("old", rule{})
	s.LoadSnapshot(map[string]rule{"z": {}, "m": {}, "a": {}})

	keys := s.Keys()
	want := []string{"a", "m", "z"}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("expected %v, got %v", want, keys)
			break
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	s := New[rule]()
	s.Set("/auth X", rule{Status: 500, Body: `{"error":"Internal Server Error"}`})

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	other := New[rule]()
	if err := json.Unmarshal(data, other); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, ok := other.Get("/auth X")
	if !ok || got.Status != 500 {
		t.Errorf("unexpected entry after round trip: %+v (ok=%v)", got, ok)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New[rule]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('A' + n%26))
			s.Set(key, rule{Status: n})
			s.Get(key)
			s.List()
		}(i)
	}
	wg.Wait()

	if s.Count() != 26 {
		t.Errorf("expected 26 distinct keys, got %d", s.Count())
	}
}
