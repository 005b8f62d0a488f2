package bytesops

import (
	"bytes"
	"errors"
	"testing"
)

func TestRemove(t *testing.T) {
	cases := []struct {
		name       string
		buf        []byte
		start, len int
		want       []byte
		wantErr    bool
	}{
		{"middle", []byte("hello world"), 5, 6, []byte("hello"), false},
		{"whole", []byte("abc"), 0, 3, []byte{}, false},
		{"start out of range", []byte("abc"), 3, 1, nil, true},
		{"end out of range", []byte("abc"), 1, 5, nil, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Remove(c.buf, c.start, c.len)
			if c.wantErr {
				if err == nil || !errors.Is(err, ErrOutOfBounds) {
					t.Fatalf("expected ErrOutOfBounds, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, c.want) {
				t.Errorf("got %q, want %q", got, c.want)
			}
		})
	}
}

func TestInsert(t *testing.T) {
	got, err := Insert([]byte("helloworld"), 5, []byte(" "))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Errorf("got %q", got)
	}

	if _, err := Insert([]byte("abc"), 4, []byte("x")); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestInsertThenRemoveRoundtrips(t *testing.T) {
	original := []byte("the quick brown fox")
	insertion := []byte("SLOW ")
	start := 4

	withInsert, err := Insert(original, start, insertion)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	back, err := Remove(withInsert, start, len(insertion))
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	if !bytes.Equal(back, original) {
		t.Errorf("roundtrip mismatch: got %q, want %q", back, original)
	}
}

func TestCopyOverlapSafe(t *testing.T) {
	buf := []byte("abcdefgh")
	// copy "abcd" onto position 2: overlapping forward copy
	if err := Copy(buf, 0, 2, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(buf, []byte("ababcdgh")) {
		t.Errorf("got %q", buf)
	}
}

func TestCopyPreservesLength(t *testing.T) {
	buf := []byte("0123456789")
	before := len(buf)
	if err := Copy(buf, 1, 5, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buf) != before {
		t.Errorf("length changed: got %d, want %d", len(buf), before)
	}
}

func TestCopyOutOfBounds(t *testing.T) {
	buf := []byte("abc")
	if err := Copy(buf, 2, 0, 5); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if err := Copy(buf, 0, 2, 5); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}
