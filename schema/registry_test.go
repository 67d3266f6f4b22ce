package schema

import (
	"testing"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/value"
)

func TestDefineAssignsStableUID(t *testing.T) {
	r := NewRegistry()
	d1, err := r.Define("login", []FieldSpec{{Name: "ip", Logical: value.String}})
	if err != nil {
		t.Fatal(err)
	}
	uid := d1.UID
	d2, err := r.Define("login", []FieldSpec{{Name: "ip", Logical: value.String}, {Name: "ua", Logical: value.String}})
	if err != nil {
		t.Fatal(err)
	}
	if d2.UID != uid {
		t.Fatalf("expected uid to stay stable across redefinition, got %d want %d", d2.UID, uid)
	}
	if d2.Version != 2 {
		t.Fatalf("expected version bump, got %d", d2.Version)
	}
}

func TestResolveUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("nope")
	if !errs.Is(err, errs.SchemaError) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestValidatePayloadTypeMismatch(t *testing.T) {
	r := NewRegistry()
	def, _ := r.Define("click", []FieldSpec{{Name: "url", Logical: value.String}})
	err := def.ValidatePayload([]PayloadField{{Name: "url", Value: value.NewI64(5)}})
	if !errs.Is(err, errs.SchemaError) {
		t.Fatalf("expected SchemaError for type mismatch, got %v", err)
	}
	err = def.ValidatePayload([]PayloadField{{Name: "unknown", Value: value.NewString("x")}})
	if !errs.Is(err, errs.SchemaError) {
		t.Fatalf("expected SchemaError for unknown field, got %v", err)
	}
	err = def.ValidatePayload([]PayloadField{{Name: "url", Value: value.Nil()}})
	if err != nil {
		t.Fatalf("expected null to be acceptable regardless of logical type, got %v", err)
	}
}

func TestRegistryJSONRoundtrip(t *testing.T) {
	r := NewRegistry()
	r.Define("login", []FieldSpec{{Name: "ip", Logical: value.String}, {Name: "ok", Logical: value.Bool, Enum: true}})
	r.Define("click", []FieldSpec{{Name: "url", Logical: value.String}})

	data, err := r.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	r2, err := LoadRegistry(data)
	if err != nil {
		t.Fatal(err)
	}
	d1, err := r.Resolve("login")
	if err != nil {
		t.Fatal(err)
	}
	d2, err := r2.Resolve("login")
	if err != nil {
		t.Fatal(err)
	}
	if d1.UID != d2.UID {
		t.Fatalf("uid mismatch after roundtrip: %d vs %d", d1.UID, d2.UID)
	}
	f, ok := d2.Field("ok")
	if !ok || !f.Enum {
		t.Fatalf("expected enum flag to survive roundtrip")
	}
}
