package config

import (
	"reflect"
	"testing"

	"github.com/btrbak/btrbak/internal/endpoint"
)

func TestValidateRequiresSourceAndDestination(t *testing.T) {
	r := &Run{}
	if err := r.Validate(); err == nil {
		t.Fatal("expected an error for a missing source")
	}
	r.Source = "/data"
	if err := r.Validate(); err == nil {
		t.Fatal("expected an error for no destinations")
	}
}

func TestValidateRemoveLocksDoesNotRequireDestinations(t *testing.T) {
	r := &Run{Source: "/data", RemoveLocks: true}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsBadDestination(t *testing.T) {
	r := &Run{Source: "/data", Destinations: []string{"not-a-valid-destination"}}
	if err := r.Validate(); err == nil {
		t.Fatal("expected an error for an unparseable destination")
	}
}

func TestValidateRejectsUnknownCompress(t *testing.T) {
	r := &Run{Source: "/data", Destinations: []string{"/backup"}, Compress: "gzip"}
	if err := r.Validate(); err == nil {
		t.Fatal("expected an error for an unsupported --compress value")
	}
}

func TestMergeFillsZeroValuesOnly(t *testing.T) {
	r := &Run{Source: "/data", SnapshotFolder: "custom_snapshots"}
	d := NewDefaults()
	d.SnapshotPrefix = "nightly-"
	d.NumSnapshots = 5

	r.Merge(d)

	if r.SnapshotFolder != "custom_snapshots" {
		t.Fatalf("expected the explicit flag value to win, got %q", r.SnapshotFolder)
	}
	if r.SnapshotPrefix != "nightly-" {
		t.Fatalf("expected the default prefix to fill in, got %q", r.SnapshotPrefix)
	}
	if r.RetainSourceCount != 5 {
		t.Fatalf("expected the default retention count to fill in, got %d", r.RetainSourceCount)
	}
}

func TestDestinationHookFuncDecodesBareString(t *testing.T) {
	hook := DestinationHookFunc()
	out, err := hook(reflect.TypeOf(""), reflect.TypeOf(&endpoint.Spec{}), "/backup")
	if err != nil {
		t.Fatal(err)
	}
	spec, ok := out.(*endpoint.Spec)
	if !ok {
		t.Fatalf("expected *endpoint.Spec, got %T", out)
	}
	if spec.Path != "/backup" {
		t.Fatalf("expected Path %q, got %q", "/backup", spec.Path)
	}
}

func TestDestinationHookFuncIgnoresOtherTypes(t *testing.T) {
	hook := DestinationHookFunc()
	out, err := hook(reflect.TypeOf(0), reflect.TypeOf(&endpoint.Spec{}), 5)
	if err != nil {
		t.Fatal(err)
	}
	if out != 5 {
		t.Fatalf("expected data passed through unchanged, got %v", out)
	}
}
