package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	l.Info("msg", String("k", "v"), Int("n", 1), Error("err", errors.New("x")))
	if l.With(String("a", "b")) == nil {
		t.Fatal("With returned nil")
	}
}

func TestNopTracer(t *testing.T) {
	ctx, span := NopTracer().StartSpan(context.Background(), "op")
	if ctx == nil || span == nil {
		t.Fatal("nop tracer returned nil")
	}
	span.SetTag("k", "v")
	span.SetError(errors.New("x"))
	span.Finish()
}

func TestFields(t *testing.T) {
	f := String("key", "val")
	if f.Key() != "key" || f.Value() != "val" {
		t.Fatalf("string field: %v=%v", f.Key(), f.Value())
	}
	if Int("n", 3).Value() != 3 {
		t.Fatal("int field value")
	}
}
