package event

import (
	"strings"
	"testing"
	"time"
)

func TestIdempotencyKeyDeterministic(t *testing.T) {
	target := time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC)

	k1 := IdempotencyKey("user-1", target, TypeBirthday)
	k2 := IdempotencyKey("user-1", target, TypeBirthday)

	if k1 != k2 {
		t.Fatalf("same inputs produced different keys: %s vs %s", k1, k2)
	}
	if !strings.HasPrefix(k1, "event-") {
		t.Fatalf("key missing prefix: %s", k1)
	}
	if len(k1) != len("event-")+16 {
		t.Fatalf("key length = %d, want %d", len(k1), len("event-")+16)
	}
}

func TestIdempotencyKeyDistinguishesInputs(t *testing.T) {
	target := time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC)
	base := IdempotencyKey("user-1", target, TypeBirthday)

	tests := []struct {
		name string
		key  string
	}{
		{"different user", IdempotencyKey("user-2", target, TypeBirthday)},
		{"different instant", IdempotencyKey("user-1", target.Add(time.Hour), TypeBirthday)},
		{"different type", IdempotencyKey("user-1", target, Type("OTHER"))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.key == base {
				t.Fatalf("key collision with base: %s", tc.key)
			}
		})
	}
}

func TestIdempotencyKeyNormalizesToUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}

	utc := time.Date(2026, time.June, 10, 13, 0, 0, 0, time.UTC)
	local := utc.In(loc)

	if IdempotencyKey("user-1", utc, TypeBirthday) != IdempotencyKey("user-1", local, TypeBirthday) {
		t.Fatal("same instant in different zones produced different keys")
	}
}
