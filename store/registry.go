// Package store holds the registry of Store implementations.
// Each backend in a subpackage registers a Factory under its name
// in an init function,
// so that a program can choose its store from configuration.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bobg/hashtree"
)

// Factory creates a Store from a JSON-style configuration map.
type Factory func(context.Context, map[string]interface{}) (hashtree.Store, error)

var registry = make(map[string]Factory)

// Register makes a Factory available under the given key.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create creates a Store with the Factory registered under key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (hashtree.Store, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// FromConfig creates a Store from a configuration map
// whose "type" entry names the Factory.
// This is the form nested stores take inside the configuration of wrapper stores.
func FromConfig(ctx context.Context, conf map[string]interface{}) (hashtree.Store, error) {
	typ, ok := conf["type"].(string)
	if !ok {
		return nil, fmt.Errorf(`missing "type" in store config`)
	}
	return Create(ctx, typ, conf)
}

// Names lists the registered keys in sorted order.
func Names() []string {
	var names []string
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Nested creates the Store described by the "nested" entry of conf.
// Wrapper stores use it.
func Nested(ctx context.Context, conf map[string]interface{}) (hashtree.Store, error) {
	nested, ok := conf["nested"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf(`missing "nested" parameter`)
	}
	s, err := FromConfig(ctx, nested)
	if err != nil {
		return nil, fmt.Errorf("creating nested store: %w", err)
	}
	return s, nil
}

// Int gets an integer parameter from conf.
// Configuration decoded from JSON holds numbers as float64,
// or as json.Number when decoded with UseNumber.
func Int(conf map[string]interface{}, key string) (int, bool) {
	switch v := conf[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), v == float64(int(v))
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}
