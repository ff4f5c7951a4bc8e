package attach

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// pngHeader is enough for content sniffing to see image/png.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStageAndEncode(t *testing.T) {
	p := NewPreparer(nil)
	path := writeFile(t, "photo.png", pngHeader)

	if err := p.Stage(path); err != nil {
		t.Fatal(err)
	}
	if got := p.Staged(); !reflect.DeepEqual(got, []string{"photo.png"}) {
		t.Errorf("staged = %v", got)
	}

	prepared, err := p.EncodeAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(prepared) != 1 {
		t.Fatalf("got %d prepared, want 1", len(prepared))
	}
	if prepared[0].Name != "photo.png" {
		t.Errorf("name = %q", prepared[0].Name)
	}
	if prepared[0].MediaType != "image/png" {
		t.Errorf("media type = %q, want image/png", prepared[0].MediaType)
	}
	decoded, err := base64.StdEncoding.DecodeString(prepared[0].Data)
	if err != nil {
		t.Fatalf("data is not valid base64: %v", err)
	}
	if !reflect.DeepEqual(decoded, pngHeader) {
		t.Error("decoded payload does not round-trip")
	}
}

func TestStageRejectsOversized(t *testing.T) {
	p := NewPreparer(nil, WithLimit(16))
	small := writeFile(t, "ok.bin", []byte("0123456789"))
	big := writeFile(t, "big.bin", []byte("0123456789abcdef-overflow"))

	if err := p.Stage(small); err != nil {
		t.Fatal(err)
	}
	before := p.Staged()

	err := p.Stage(big)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if !strings.Contains(err.Error(), "big.bin") {
		t.Errorf("error does not name the file: %v", err)
	}

	// Rejection must leave the staged set exactly as it was.
	if got := p.Staged(); !reflect.DeepEqual(got, before) {
		t.Errorf("staged changed: %v -> %v", before, got)
	}
}

func TestEncodeAllAbortsOnPartialFailure(t *testing.T) {
	p := NewPreparer(nil)
	good := writeFile(t, "good.png", pngHeader)
	bad := filepath.Join(t.TempDir(), "gone.bin")
	if err := os.WriteFile(bad, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := p.Stage(good); err != nil {
		t.Fatal(err)
	}
	if err := p.Stage(bad); err != nil {
		t.Fatal(err)
	}
	// Make the second file unreadable after staging.
	if err := os.Remove(bad); err != nil {
		t.Fatal(err)
	}

	prepared, err := p.EncodeAll(context.Background())
	if err == nil {
		t.Fatal("expected error when one file fails to encode")
	}
	if prepared != nil {
		t.Errorf("partial set returned: %v", prepared)
	}
	// Staged set preserved for retry.
	if p.Len() != 2 {
		t.Errorf("staged len = %d, want 2", p.Len())
	}
}

func TestEncodeAllEmpty(t *testing.T) {
	p := NewPreparer(nil)
	prepared, err := p.EncodeAll(context.Background())
	if err != nil || prepared != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", prepared, err)
	}
}

func TestClear(t *testing.T) {
	p := NewPreparer(nil)
	path := writeFile(t, "a.bin", []byte("a"))
	if err := p.Stage(path); err != nil {
		t.Fatal(err)
	}
	p.Clear()
	if p.Len() != 0 {
		t.Errorf("len = %d after Clear", p.Len())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		mediaType string
		want      Kind
	}{
		{"image/png", KindImage},
		{"image/jpeg", KindImage},
		{"video/mp4", KindVideo},
		{"application/pdf", KindFile},
		{"text/plain; charset=utf-8", KindFile},
		{"", KindFile},
	}
	for _, tt := range tests {
		if got := Classify(tt.mediaType); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.mediaType, got, tt.want)
		}
	}
}
