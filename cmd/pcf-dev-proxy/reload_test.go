package main

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestBuildReloadBody_Full(t *testing.T) {
	body := buildReloadBody("cc_Acme.Widget", "b42", "post-build", "a.ts, b.ts,,c.ts")

	if got := gjson.Get(body, "controlName").String(); got != "cc_Acme.Widget" {
		t.Fatalf("controlName = %q", got)
	}
	if got := gjson.Get(body, "buildId").String(); got != "b42" {
		t.Fatalf("buildId = %q", got)
	}
	if got := gjson.Get(body, "trigger").String(); got != "post-build" {
		t.Fatalf("trigger = %q", got)
	}

	files := gjson.Get(body, "changedFiles").Array()
	if len(files) != 3 {
		t.Fatalf("changedFiles = %v, want 3 entries with blanks dropped", files)
	}
	if files[0].String() != "a.ts" || files[1].String() != "b.ts" || files[2].String() != "c.ts" {
		t.Fatalf("changedFiles = %v", files)
	}
}

func TestBuildReloadBody_OptionalFieldsOmitted(t *testing.T) {
	body := buildReloadBody("cc_Acme.Widget", "", "", "")

	if gjson.Get(body, "buildId").Exists() {
		t.Fatal("empty buildId must be omitted")
	}
	if gjson.Get(body, "trigger").Exists() {
		t.Fatal("empty trigger must be omitted")
	}
	if gjson.Get(body, "changedFiles").Exists() {
		t.Fatal("empty changedFiles must be omitted")
	}
}
