package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/al-munazzim/cobot/internal/config"
)

func TestStartCreatesTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workspace")
	t.Setenv("COBOT_WORKSPACE", root)

	p := New(nil)
	if err := p.Configure(&config.Config{}); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, sub := range []string{"memory", "skills", "plugins", "logs"} {
		info, err := os.Stat(filepath.Join(root, sub))
		if err != nil || !info.IsDir() {
			t.Fatalf("missing workspace dir %s: %v", sub, err)
		}
	}
}

func TestPathJoinsOntoRoot(t *testing.T) {
	root := t.TempDir()
	t.Setenv("COBOT_WORKSPACE", root)

	p := New(nil)
	if err := p.Configure(&config.Config{}); err != nil {
		t.Fatal(err)
	}

	if got := p.Path(); got != root {
		t.Fatalf("root %q", got)
	}
	if got := p.Path("memory", "conversations.db"); got != filepath.Join(root, "memory", "conversations.db") {
		t.Fatalf("path %q", got)
	}
}
