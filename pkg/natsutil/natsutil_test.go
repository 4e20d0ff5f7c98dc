package natsutil

import (
	"sort"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestHeaderCarrier_SetGet(t *testing.T) {
	msg := &nats.Msg{Subject: "runbook.ingest"}
	c := (*natsHeaderCarrier)(msg)

	if got := c.Get("traceparent"); got != "" {
		t.Fatalf("Get on empty header = %q", got)
	}

	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("Get = %q", got)
	}
	if msg.Header.Get("traceparent") != "00-abc-def-01" {
		t.Fatal("header not written through to the message")
	}
}

func TestHeaderCarrier_Keys(t *testing.T) {
	msg := &nats.Msg{}
	c := (*natsHeaderCarrier)(msg)

	if keys := c.Keys(); keys != nil {
		t.Fatalf("Keys on empty header = %v", keys)
	}

	c.Set("traceparent", "00-abc-def-01")
	c.Set("tracestate", "vendor=1")
	keys := c.Keys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "Traceparent" && keys[0] != "traceparent" {
		t.Fatalf("Keys = %v", keys)
	}
}
