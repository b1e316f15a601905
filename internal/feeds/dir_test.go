package feeds

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"funding-recon-service/pkg/logger"
)

func TestDirRemittanceSource(t *testing.T) {
	dir := t.TempDir()
	writeFile := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	writeFile("advice-b.txt", sampleAdvice)
	writeFile("advice-a.txt", sampleAdvice)
	writeFile("garbage.txt", "not an advice at all")
	writeFile(".hidden", sampleAdvice)

	src := NewDirRemittanceSource(dir, "oasys", logger.Discard())
	advices, err := src.FetchAdvices(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(advices) != 2 {
		t.Fatalf("got %d advices, want 2 (garbage and hidden files skipped)", len(advices))
	}
	if advices[0].MessageID != "advice-a.txt" || advices[1].MessageID != "advice-b.txt" {
		t.Errorf("message ids = %q, %q, want sorted file names", advices[0].MessageID, advices[1].MessageID)
	}
	if advices[0].SourceType != "oasys" {
		t.Errorf("source type = %q, want oasys", advices[0].SourceType)
	}
	if len(advices[0].Lines) == 0 {
		t.Error("advice lines should be parsed from the file body")
	}
}

func TestDirRemittanceSourceMissingDir(t *testing.T) {
	src := NewDirRemittanceSource("/does/not/exist", "oasys", logger.Discard())
	if _, err := src.FetchAdvices(context.Background()); err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}
