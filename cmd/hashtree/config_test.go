package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bobg/hashtree/p2p"
)

func TestParseConfig(t *testing.T) {
	const text = `{
		"store": {"type": "lru", "size": 100, "nested": {"type": "mem"}},
		"p2p": {"request_timeout": "2s", "htl": 4, "quic_peers": ["a:1", "b:2"], "pools": [{"name": "default", "target": 3, "max": 5}]},
		"log_level": "debug"
	}`

	var raw map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		t.Fatal(err)
	}
	conf, err := parseConfig(raw)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Store["type"] != "lru" {
		t.Errorf("got store type %v", conf.Store["type"])
	}
	if conf.P2P.RequestTimeout != p2p.Duration(2*time.Second) {
		t.Errorf("got request timeout %v", conf.P2P.RequestTimeout)
	}
	if conf.P2P.HTL != 4 {
		t.Errorf("got htl %d", conf.P2P.HTL)
	}
	if len(conf.P2P.QUICPeers) != 2 {
		t.Errorf("got quic peers %v", conf.P2P.QUICPeers)
	}
	if conf.LogLevel != "debug" {
		t.Errorf("got log level %s", conf.LogLevel)
	}
}

func TestParseConfigMissingStore(t *testing.T) {
	if _, err := parseConfig(map[string]interface{}{}); err == nil {
		t.Error("accepted config without a store")
	}
}

func TestListStoreFromConfig(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "conf.json")
	if err := os.WriteFile(filename, []byte(`{"store": {"type": "mem"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := listStoreFromConfig(t.Context(), filename); err != nil {
		t.Fatal(err)
	}
}
