package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree/p2p"
	"github.com/bobg/hashtree/store"
)

// config is the contents of a config file:
//
//	{
//	  "store": {"type": "file", "root": "/var/hashtree"},
//	  "p2p": {"quic_listen": ":4433", "htl": 10},
//	  "log_level": "info"
//	}
type config struct {
	Store    map[string]interface{}
	P2P      p2p.Config
	LogLevel string
}

func readConfig(filename string) (*config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config file %s", filename)
	}
	defer f.Close()

	var raw map[string]interface{}
	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err = dec.Decode(&raw); err != nil {
		return nil, errors.Wrapf(err, "decoding config file %s", filename)
	}
	return parseConfig(raw)
}

func parseConfig(raw map[string]interface{}) (*config, error) {
	var result config

	var ok bool
	result.Store, ok = raw["store"].(map[string]interface{})
	if !ok {
		return nil, errors.New(`config missing "store" section`)
	}

	if p, ok := raw["p2p"]; ok {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, errors.Wrap(err, "re-encoding p2p section")
		}
		if err = json.Unmarshal(b, &result.P2P); err != nil {
			return nil, errors.Wrap(err, "decoding p2p section")
		}
	}

	if lvl, ok := raw["log_level"].(string); ok {
		result.LogLevel = lvl
	}

	return &result, nil
}

// listStoreFromConfig creates the store described in a config file.
// It must be able to list its contents.
func listStoreFromConfig(ctx context.Context, filename string) (store.ListStore, error) {
	conf, err := readConfig(filename)
	if err != nil {
		return nil, err
	}
	s, err := store.FromConfig(ctx, conf.Store)
	if err != nil {
		return nil, errors.Wrapf(err, "creating store from %s", filename)
	}
	ls, ok := s.(store.ListStore)
	if !ok {
		return nil, fmt.Errorf("store in %s is a %T, which cannot list its contents", filename, s)
	}
	return ls, nil
}
