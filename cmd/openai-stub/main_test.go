package main

import (
	"encoding/json"
	"testing"
)

func TestImageURLs(t *testing.T) {
	raw := json.RawMessage(`[{"type":"text","text":"Languages: eng"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA","detail":"high"}}]`)
	got := imageURLs(raw)
	if len(got) != 1 || got[0] != "data:image/png;base64,AAAA" {
		t.Fatalf("got %v", got)
	}
	if got := imageURLs(json.RawMessage(`"plain text"`)); got != nil {
		t.Fatalf("string content should have no images, got %v", got)
	}
}

func TestTranscribe_Deterministic(t *testing.T) {
	a, b := transcribe("data:image/png;base64,AAAA"), transcribe("data:image/png;base64,AAAA")
	if a != b {
		t.Fatalf("not deterministic")
	}
	if a == transcribe("data:image/png;base64,BBBB") {
		t.Fatalf("different images should differ")
	}
}
