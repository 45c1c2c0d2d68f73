package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/revclient/revclient/importq"
	"github.com/revclient/revclient/internal/localstore"
	"github.com/revclient/revclient/types"
)

func cobraTest(t *testing.T, args ...string) (string, error) {
	t.Helper()

	buf := new(bytes.Buffer)
	cmd := NewRootCmd()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return strings.TrimSpace(buf.String()), err
}

func writeLayout(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		err := os.MkdirAll(filepath.Dir(full), 0700)
		if err != nil {
			t.Fatalf("failed to create dir for %s: %v", name, err)
		}
		err = os.WriteFile(full, []byte(content), 0600)
		if err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return root
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "revwarm.yml")
	err := os.WriteFile(file, []byte(content), 0600)
	if err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return file
}

func TestConfigLoadReader(t *testing.T) {
	cRead := bytes.NewReader([]byte(`
version: 1
backing:
  path: /srv/revs
client:
  import:
    workers: 4
defaults:
  parallel: 2
  interval: 1h
  priority: normal
warm:
  - rev: aaaa
  - rev: bbbb
    path: docs
    schedule: "15 3 * * *"
    priority: high
`))
	c, err := ConfigLoadReader(cRead)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if c.Backing.Path != "/srv/revs" {
		t.Errorf("backing path mismatch, expected /srv/revs, received %s", c.Backing.Path)
	}
	if c.Client.Import.Workers != 4 {
		t.Errorf("client workers mismatch, expected 4, received %d", c.Client.Import.Workers)
	}
	if len(c.Warm) != 2 {
		t.Fatalf("expected 2 warm entries, received %d", len(c.Warm))
	}
	if c.Warm[0].Interval != time.Hour {
		t.Errorf("default interval not applied, received %s", c.Warm[0].Interval)
	}
	if c.Warm[0].Priority != "normal" {
		t.Errorf("default priority not applied, received %s", c.Warm[0].Priority)
	}
	if c.Warm[1].Schedule != "15 3 * * *" {
		t.Errorf("entry schedule overwritten, received %s", c.Warm[1].Schedule)
	}
	if c.Warm[1].Interval != 0 {
		t.Errorf("interval applied despite schedule, received %s", c.Warm[1].Interval)
	}
	if c.Warm[1].Priority != "high" {
		t.Errorf("entry priority overwritten, received %s", c.Warm[1].Priority)
	}
}

func TestConfigLoadErrors(t *testing.T) {
	tt := []struct {
		name      string
		conf      string
		expectErr error
	}{
		{
			name:      "unsupported version",
			conf:      "version: 2\n",
			expectErr: ErrUnsupportedConfigVersion,
		},
		{
			name:      "missing rev",
			conf:      "version: 1\nwarm:\n  - path: docs\n",
			expectErr: ErrInvalidInput,
		},
		{
			name:      "bad priority",
			conf:      "version: 1\nwarm:\n  - rev: aaaa\n    priority: urgent\n",
			expectErr: ErrInvalidInput,
		},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ConfigLoadReader(bytes.NewReader([]byte(tc.conf)))
			if !errors.Is(err, tc.expectErr) {
				t.Errorf("expected error %v, received %v", tc.expectErr, err)
			}
		})
	}
}

func TestParsePriority(t *testing.T) {
	tt := []struct {
		name        string
		expectClass importq.Class
		expectErr   bool
	}{
		{name: "", expectClass: importq.ClassLow},
		{name: "low", expectClass: importq.ClassLow},
		{name: "normal", expectClass: importq.ClassNormal},
		{name: "high", expectClass: importq.ClassHigh},
		{name: "urgent", expectErr: true},
	}
	for _, tc := range tt {
		class, err := parsePriority(tc.name)
		if tc.expectErr {
			if err == nil {
				t.Errorf("parse %q did not fail", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("parse %q failed: %v", tc.name, err)
		} else if class != tc.expectClass {
			t.Errorf("parse %q expected %s, received %s", tc.name, tc.expectClass, class)
		}
	}
}

func TestRunOnce(t *testing.T) {
	srcDir := writeLayout(t, map[string]string{
		"rev-a/docs/readme.md": "# readme\n",
		"rev-a/docs/guide.md":  "# guide\n",
		"rev-a/main.go":        "package main\n",
	})
	localPath := filepath.Join(t.TempDir(), "local.db")
	confFile := writeConfig(t, fmt.Sprintf(`
version: 1
backing:
  path: %s
client:
  cache:
    localPath: %s
defaults:
  parallel: 2
warm:
  - rev: rev-a
`, srcDir, localPath))
	_, err := cobraTest(t, "once", "-c", confFile, "-v", "warn")
	if err != nil {
		t.Fatalf("failed to run once: %v", err)
	}
	// content from the warm pass is persisted in the local cache
	ls, err := localstore.New(localPath)
	if err != nil {
		t.Fatalf("failed to open local store: %v", err)
	}
	defer ls.Close()
	blobProxy := types.ProxyRef{Rev: "rev-a", Path: "docs/readme.md"}
	obj, err := ls.GetObject(types.KindBlob, blobProxy.ContentHash())
	if err != nil {
		t.Fatalf("blob missing from local store: %v", err)
	}
	if string(obj.Data) != "# readme\n" {
		t.Errorf("blob content mismatch, received %s", obj.Data)
	}
	treeProxy := types.ProxyRef{Rev: "rev-a", Path: "docs"}
	_, err = ls.GetObject(types.KindTree, treeProxy.ContentHash())
	if err != nil {
		t.Errorf("tree missing from local store: %v", err)
	}
}

func TestRunCheck(t *testing.T) {
	srcDir := writeLayout(t, map[string]string{
		"rev-a/docs/readme.md": "# readme\n",
	})
	localPath := filepath.Join(t.TempDir(), "local.db")
	confFile := writeConfig(t, fmt.Sprintf(`
version: 1
backing:
  path: %s
client:
  cache:
    localPath: %s
warm:
  - rev: rev-a
`, srcDir, localPath))
	_, err := cobraTest(t, "check", "-c", confFile, "-v", "warn")
	if err != nil {
		t.Fatalf("failed to run check: %v", err)
	}
	ls, err := localstore.New(localPath)
	if err != nil {
		t.Fatalf("failed to open local store: %v", err)
	}
	defer ls.Close()
	// check resolves trees but must not fetch blob content
	treeProxy := types.ProxyRef{Rev: "rev-a", Path: "docs"}
	_, err = ls.GetObject(types.KindTree, treeProxy.ContentHash())
	if err != nil {
		t.Errorf("tree missing from local store: %v", err)
	}
	blobProxy := types.ProxyRef{Rev: "rev-a", Path: "docs/readme.md"}
	_, err = ls.GetObject(types.KindBlob, blobProxy.ContentHash())
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("check fetched blob content, expected %v, received %v", types.ErrNotFound, err)
	}
}

func TestRunOnceMissingRev(t *testing.T) {
	srcDir := writeLayout(t, map[string]string{
		"rev-a/docs/readme.md": "# readme\n",
	})
	confFile := writeConfig(t, fmt.Sprintf(`
version: 1
backing:
  path: %s
warm:
  - rev: rev-missing
`, srcDir))
	_, err := cobraTest(t, "once", "-c", confFile, "-v", "warn")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected %v for unknown revision, received %v", types.ErrNotFound, err)
	}
}

func TestRunConfig(t *testing.T) {
	srcDir := writeLayout(t, map[string]string{
		"rev-a/docs/readme.md": "# readme\n",
	})
	confFile := writeConfig(t, fmt.Sprintf(`
version: 1
backing:
  path: %s
defaults:
  priority: high
warm:
  - rev: rev-a
`, srcDir))
	out, err := cobraTest(t, "config", "-c", confFile, "-v", "warn")
	if err != nil {
		t.Fatalf("failed to run config: %v", err)
	}
	if !strings.Contains(out, "rev-a") {
		t.Errorf("config output missing warm entry: %s", out)
	}
	if !strings.Contains(out, "priority: high") {
		t.Errorf("config output missing applied default: %s", out)
	}
}

func TestRunVersion(t *testing.T) {
	out, err := cobraTest(t, "version", "--format", "{{.GoVer}}")
	if err != nil {
		t.Fatalf("failed to run version: %v", err)
	}
	if out == "" {
		t.Errorf("version output is empty")
	}
}

func TestRunMissingConfig(t *testing.T) {
	_, err := cobraTest(t, "once", "-v", "warn")
	if !errors.Is(err, ErrMissingInput) {
		t.Errorf("expected %v, received %v", ErrMissingInput, err)
	}
}
