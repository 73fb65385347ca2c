package lootdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bigipxxe.json")
	st, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return st, path
}

func TestStoreArtifactWritesFileAndIndex(t *testing.T) {
	st, _ := openTemp(t)
	st.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }
	ctx := context.Background()

	data := []byte("root:$6$salt$hash:15000:0:99999:7:::\n")
	stored, err := st.StoreArtifact(ctx, "f5.bigip.file", "application/octet-stream", "10.0.0.5", data, "shadow", "/etc/shadow")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	path := stored.Path
	if stored.ID != 1 {
		t.Fatalf("expected artifact id 1, got %d", stored.ID)
	}

	base := filepath.Base(path)
	if !strings.HasPrefix(base, "20240301123000_f5.bigip.file_10.0.0.5_") || !strings.HasSuffix(base, ".bin") {
		t.Fatalf("unexpected artifact name %q", base)
	}
	if filepath.Dir(path) != st.LootDir() {
		t.Fatalf("artifact written outside loot dir: %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("artifact mode = %v", info.Mode().Perm())
	}

	arts, _ := st.Artifacts(ctx, "")
	if len(arts) != 1 {
		t.Fatalf("expected one artifact, got %d", len(arts))
	}
	sum := sha256.Sum256(data)
	a := arts[0]
	if a.SHA256 != hex.EncodeToString(sum[:]) || a.Size != int64(len(data)) || a.Path != path {
		t.Fatalf("unexpected artifact record %+v", a)
	}
	if a.Filename != "shadow" || a.OriginalPath != "/etc/shadow" || a.Category != "f5.bigip.file" {
		t.Fatalf("unexpected naming %+v", a)
	}

	got, rec, err := st.ReadArtifact(ctx, a.ID)
	if err != nil || string(got) != string(data) || rec.ID != a.ID {
		t.Fatalf("read artifact: %q %v", got, err)
	}
}

func TestStoreReloadsAndContinuesIDs(t *testing.T) {
	st, path := openTemp(t)
	ctx := context.Background()

	id, err := st.UpsertTarget(ctx, "bigip.lab", 443, true)
	if err != nil {
		t.Fatal(err)
	}
	if again, _ := st.UpsertTarget(ctx, "bigip.lab", 443, true); again != id {
		t.Fatalf("upsert created a duplicate: %d vs %d", again, id)
	}
	if _, err := st.RecordAttempt(ctx, Attempt{TargetID: id, Host: "bigip.lab", Port: 443, Outcome: "patched"}); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	target, err := reopened.GetTarget(ctx, id)
	if err != nil || target.Host != "bigip.lab" || !target.SSL {
		t.Fatalf("target not reloaded: %+v %v", target, err)
	}
	next, err := reopened.RecordAttempt(ctx, Attempt{TargetID: id, Outcome: "leaked"})
	if err != nil {
		t.Fatal(err)
	}
	if next != 2 {
		t.Fatalf("expected attempt id 2 after reload, got %d", next)
	}
	attempts, _ := reopened.Attempts(ctx)
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
}

func TestFailedPersistRollsBack(t *testing.T) {
	st, path := openTemp(t)
	ctx := context.Background()

	// A non-empty directory at the index path makes the rename fail.
	if err := os.MkdirAll(filepath.Join(path, "blocker"), 0o700); err != nil {
		t.Fatal(err)
	}

	if _, err := st.StoreArtifact(ctx, "f5.bigip.file", "application/octet-stream", "10.0.0.5", []byte("secret"), "passwd", "/etc/passwd"); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := st.RecordAttempt(ctx, Attempt{Host: "10.0.0.5", Outcome: "leaked"}); err == nil {
		t.Fatal("expected journal error")
	}
	if _, err := st.UpsertTarget(ctx, "10.0.0.5", 443, true); err == nil {
		t.Fatal("expected upsert error")
	}

	arts, _ := st.Artifacts(ctx, "")
	attempts, _ := st.Attempts(ctx)
	if len(arts) != 0 || len(attempts) != 0 || len(st.data.Targets) != 0 {
		t.Fatalf("failed writes left records: %d artifacts, %d attempts, %d targets", len(arts), len(attempts), len(st.data.Targets))
	}
	files, _ := os.ReadDir(st.LootDir())
	if len(files) != 0 {
		t.Fatalf("loot file left on disk after failed store: %v", files)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary index left behind: %v", err)
	}

	if err := os.RemoveAll(path); err != nil {
		t.Fatal(err)
	}
	stored, err := st.StoreArtifact(ctx, "f5.bigip.file", "application/octet-stream", "10.0.0.5", []byte("secret"), "passwd", "/etc/passwd")
	if err != nil {
		t.Fatalf("store after recovery: %v", err)
	}
	if stored.ID != 1 {
		t.Fatalf("expected the released id to be reused, got %d", stored.ID)
	}
	if id, err := st.RecordAttempt(ctx, Attempt{Host: "10.0.0.5", ArtifactID: stored.ID}); err != nil || id != 1 {
		t.Fatalf("record after recovery: id=%d err=%v", id, err)
	}
}

func TestArtifactsHostFilterAndLookups(t *testing.T) {
	st, _ := openTemp(t)
	ctx := context.Background()

	for _, host := range []string{"a.lab", "b.lab", "a.lab"} {
		if _, err := st.StoreArtifact(ctx, "f5.bigip.file", "application/octet-stream", host, []byte("x"), "passwd", "/etc/passwd"); err != nil {
			t.Fatal(err)
		}
	}
	arts, _ := st.Artifacts(ctx, "a.lab")
	if len(arts) != 2 {
		t.Fatalf("expected 2 artifacts for a.lab, got %d", len(arts))
	}
	if _, err := st.GetArtifact(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.GetTarget(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenRejectsCorruptIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestExtensionAndSanitize(t *testing.T) {
	cases := []struct{ filename, mime, want string }{
		{"shadow", "application/octet-stream", "bin"},
		{"bigip.conf", "application/octet-stream", "conf"},
		{"archive.tar.gzip2", "application/octet-stream", "bin"},
		{"notes", "text/plain", "txt"},
	}
	for _, tc := range cases {
		if got := extension(tc.filename, tc.mime); got != tc.want {
			t.Errorf("extension(%q, %q) = %q, want %q", tc.filename, tc.mime, got, tc.want)
		}
	}
	if got := sanitize("fe80::1%eth0"); got != "fe80__1_eth0" {
		t.Errorf("sanitize = %q", got)
	}
}
