package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
)

// buildZip assembles an in-memory archive from name→content pairs.
func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func TestExtractTextCollectsSourceWithMarkers(t *testing.T) {
	data := buildZip(t, map[string]string{
		"main.go":        "package main\n",
		"pkg/helper.py":  "def f():\n    pass\n",
		"README.md":      "# readme\n",
		"build/out.bin":  "\x00\x01\x02",
		"image.png":      "not really a png",
		"__MACOSX/junk":  "resource fork",
		".hidden/x.go":   "package hidden\n",
		"vendor/.env.go": "package env\n",
	})

	got, err := ExtractText(data, 0)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	for _, want := range []string{
		"// File: main.go\npackage main\n",
		"// File: pkg/helper.py\n",
		"// File: README.md\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q", want)
		}
	}
	for _, reject := range []string{"out.bin", "image.png", "__MACOSX", ".hidden", ".env.go"} {
		if strings.Contains(got, reject) {
			t.Errorf("output should not mention %q", reject)
		}
	}
}

func TestExtractTextSkipsBinaryContentDespiteExtension(t *testing.T) {
	data := buildZip(t, map[string]string{
		"fake.go": "package x\x00garbage",
		"real.go": "package x\n",
	})
	got, err := ExtractText(data, 0)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if strings.Contains(got, "fake.go") {
		t.Error("NUL-bearing entry should be skipped")
	}
	if !strings.Contains(got, "real.go") {
		t.Error("clean entry should survive")
	}
}

func TestExtractTextEmptyOrSourcelessArchive(t *testing.T) {
	data := buildZip(t, map[string]string{"photo.jpg": "jpeg"})
	if _, err := ExtractText(data, 0); !errors.Is(err, ErrNoSource) {
		t.Fatalf("err = %v, want ErrNoSource", err)
	}
	if _, err := ExtractText([]byte("not a zip"), 0); err == nil {
		t.Fatal("expected error for malformed archive")
	}
}

func TestExtractTextEnforcesTotalBudget(t *testing.T) {
	data := buildZip(t, map[string]string{
		"a.go": strings.Repeat("x", 400),
		"b.go": strings.Repeat("y", 400),
	})
	if _, err := ExtractText(data, 500); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if out, err := ExtractText(data, 10_000); err != nil || out == "" {
		t.Fatalf("generous budget should pass, got %v", err)
	}
}

func TestExtractTextRejectsTraversalNames(t *testing.T) {
	data := buildZip(t, map[string]string{
		"../escape.go": "package evil\n",
		"ok.go":        "package ok\n",
	})
	got, err := ExtractText(data, 0)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if strings.Contains(got, "escape.go") {
		t.Error("traversal-named entry should be skipped")
	}
}
