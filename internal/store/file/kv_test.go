package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/ytmc/internal/store"
)

func TestKV_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.json")

	kv, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := kv.Set(ctx, store.KeyLastVideoID, "dQw4w9WgXcQ"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Set(ctx, store.TokenKeyPrefix+"abc", `{"appName":"remote"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(ctx, store.KeyLastVideoID)
	if err != nil || got != "dQw4w9WgXcQ" {
		t.Errorf("Get = %q, %v", got, err)
	}

	if err := reopened.Delete(ctx, store.KeyLastVideoID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	again, _ := Open(path)
	if _, err := again.Get(ctx, store.KeyLastVideoID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted key survived reopen: %v", err)
	}
	tokens, _ := again.List(ctx, store.TokenKeyPrefix)
	if len(tokens) != 1 {
		t.Errorf("List = %v, want one token", tokens)
	}
}

func TestKV_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	os.WriteFile(path, []byte("{not json"), 0o600)
	if _, err := Open(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestKV_RejectsEmptyKey(t *testing.T) {
	kv, _ := Open(filepath.Join(t.TempDir(), "store.json"))
	if err := kv.Set(context.Background(), "", "v"); err == nil {
		t.Fatal("expected error for empty key")
	}
}
