package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/xfxf/dabo/internal/storage"
)

func newBackend(t *testing.T) *LocalBackend {
	t.Helper()
	b, err := New(Config{RootPath: t.TempDir(), CreateDirs: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestPutGetDelete(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	if err := b.PutObject(ctx, "app/main.py", strings.NewReader("print(1)"), 8); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	rc, size, err := b.GetObject(ctx, "app/main.py", 0, 0)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "print(1)" || size != 8 {
		t.Errorf("got %q (%d bytes)", data, size)
	}

	rc, size, err = b.GetObject(ctx, "app/main.py", 6, 1)
	if err != nil {
		t.Fatalf("GetObject range: %v", err)
	}
	data, _ = io.ReadAll(rc)
	rc.Close()
	if string(data) != "1" || size != 1 {
		t.Errorf("range read got %q (%d)", data, size)
	}

	if err := b.DeleteObject(ctx, "app/main.py"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if err := b.DeleteObject(ctx, "app/main.py"); err != nil {
		t.Errorf("deleting a missing key should succeed: %v", err)
	}
	if _, _, err := b.GetObject(ctx, "app/main.py", 0, 0); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutObjectShortWrite(t *testing.T) {
	b := newBackend(t)
	err := b.PutObject(context.Background(), "x.txt", strings.NewReader("abc"), 10)
	if err == nil {
		t.Fatal("expected short write error")
	}
	if ok, _ := b.ObjectExists(context.Background(), "x.txt"); ok {
		t.Error("short write must not leave the object behind")
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	for _, key := range []string{"../outside.txt", "/etc/passwd", "a/../../b"} {
		if err := b.PutObject(ctx, key, strings.NewReader("x"), 1); err == nil {
			t.Errorf("PutObject(%q) should fail", key)
		}
		if _, _, err := b.GetObject(ctx, key, 0, 0); err == nil {
			t.Errorf("GetObject(%q) should fail", key)
		}
	}
}

func TestList(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	for _, key := range []string{"inv/main.py", "inv/ui/form.py", "other/x.py"} {
		if err := b.PutObject(ctx, key, strings.NewReader("x"), 1); err != nil {
			t.Fatalf("PutObject(%s): %v", key, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(b.Root(), "inv", "empty"), 0755); err != nil {
		t.Fatal(err)
	}

	objs, err := b.List(ctx, "inv")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var keys []string
	for _, o := range objs {
		keys = append(keys, o.Key)
		if o.ModTime.IsZero() {
			t.Errorf("%s: zero mod time", o.Key)
		}
	}
	sort.Strings(keys)
	if strings.Join(keys, ",") != "inv/main.py,inv/ui/form.py" {
		t.Errorf("List keys = %v", keys)
	}

	if _, err := b.List(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing prefix, got %v", err)
	}
}

func TestNewRequiresRoot(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty root")
	}
	f := filepath.Join(t.TempDir(), "file")
	os.WriteFile(f, []byte("x"), 0644)
	if _, err := New(Config{RootPath: f}); err == nil {
		t.Error("expected error when root is a file")
	}
}
