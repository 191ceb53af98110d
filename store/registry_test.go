package store_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/bobg/hashtree/store"
	_ "github.com/bobg/hashtree/store/mem"
)

func TestInt(t *testing.T) {
	var conf map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(`{"a": 17, "b": 1.5, "c": "x"}`))
	dec.UseNumber()
	if err := dec.Decode(&conf); err != nil {
		t.Fatal(err)
	}
	conf["d"] = 4.0
	conf["e"] = 5

	cases := []struct {
		key    string
		want   int
		wantOK bool
	}{
		{"a", 17, true},
		{"b", 0, false},
		{"c", 0, false},
		{"d", 4, true},
		{"e", 5, true},
		{"missing", 0, false},
	}
	for _, tc := range cases {
		got, ok := store.Int(conf, tc.key)
		if ok != tc.wantOK || (ok && got != tc.want) {
			t.Errorf("Int(%s) = %d, %v; want %d, %v", tc.key, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestFromConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := store.FromConfig(ctx, map[string]interface{}{"type": "mem"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.FromConfig(ctx, map[string]interface{}{"type": "nonesuch"}); err == nil {
		t.Error("created store of unknown type")
	}
	if _, err := store.FromConfig(ctx, map[string]interface{}{}); err == nil {
		t.Error("created store with no type")
	}
	if _, err := store.Nested(ctx, map[string]interface{}{"nested": map[string]interface{}{"type": "mem"}}); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, name := range store.Names() {
		if name == "mem" {
			found = true
		}
	}
	if !found {
		t.Errorf("mem not in %v", store.Names())
	}
}
