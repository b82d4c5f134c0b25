package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"relaybot/internal/domain"
	"relaybot/internal/tool"
)

// fakeRunner implements ToolRunner. When writeFile is set it writes that
// content to the path following "-o".
type fakeRunner struct {
	stdout    []byte
	err       error
	writeFile []byte
	gotName   string
	gotArgs   []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.gotName = name
	f.gotArgs = args
	if f.err != nil {
		return nil, f.err
	}
	if f.writeFile != nil {
		for i, a := range args {
			if a == "-o" && i+1 < len(args) {
				if err := os.WriteFile(args[i+1], f.writeFile, 0o600); err != nil {
					return nil, err
				}
			}
		}
	}
	return f.stdout, nil
}

var igLink = domain.PlatformLink{Platform: domain.Instagram, URL: "https://www.instagram.com/reel/Cxyz/", ID: "Cxyz"}

func TestYTDLPStdout_Success(t *testing.T) {
	r := &fakeRunner{stdout: []byte("video-bytes")}
	s := NewYTDLPStdout(YTDLPConfig{Runner: r, CookiesFile: "/etc/cookies.txt"})

	res, err := s.Attempt(context.Background(), igLink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != domain.VideoBytes || string(res.Bytes) != "video-bytes" || res.Filename != "Cxyz.mp4" {
		t.Fatalf("unexpected result %+v", res)
	}
	args := strings.Join(r.gotArgs, " ")
	if r.gotName != "yt-dlp" || !strings.HasPrefix(args, "-o -") {
		t.Fatalf("unexpected invocation %s %s", r.gotName, args)
	}
	if !strings.Contains(args, "--cookies /etc/cookies.txt") || !strings.HasSuffix(args, igLink.URL) {
		t.Fatalf("missing cookies or url: %s", args)
	}
}

func TestYTDLPStdout_EmptyOutput(t *testing.T) {
	s := NewYTDLPStdout(YTDLPConfig{Runner: &fakeRunner{}})
	if _, err := s.Attempt(context.Background(), igLink); !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestYTDLPStdout_ToolMissingClassified(t *testing.T) {
	s := NewYTDLPStdout(YTDLPConfig{Runner: &fakeRunner{err: tool.ErrNotInstalled}})
	_, err := s.Attempt(context.Background(), igLink)
	if got := classify(context.Background(), s.Name(), err); got.Kind != ErrToolMissing {
		t.Fatalf("expected tool_missing, got %v", got.Kind)
	}
}

func TestYTDLPFile_ReadsAndCleansUp(t *testing.T) {
	scratch := t.TempDir()
	r := &fakeRunner{writeFile: []byte("file-bytes")}
	s := NewYTDLPFile(YTDLPConfig{Runner: r, ScratchDir: scratch, MaxFileBytes: 1024})

	res, err := s.Attempt(context.Background(), igLink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Bytes) != "file-bytes" {
		t.Fatalf("unexpected bytes %q", res.Bytes)
	}
	if !strings.Contains(strings.Join(r.gotArgs, " "), "--max-filesize 1024") {
		t.Fatalf("max filesize not passed: %v", r.gotArgs)
	}
	entries, _ := os.ReadDir(scratch)
	if len(entries) != 0 {
		t.Fatalf("scratch dir not cleaned up: %v", entries)
	}
}

func TestYTDLPFile_CleansUpOnFailure(t *testing.T) {
	scratch := t.TempDir()
	s := NewYTDLPFile(YTDLPConfig{Runner: &fakeRunner{err: &tool.ExitError{Tool: "yt-dlp", Code: 1}}, ScratchDir: scratch})

	if _, err := s.Attempt(context.Background(), igLink); err == nil {
		t.Fatal("expected error")
	}
	entries, _ := os.ReadDir(scratch)
	if len(entries) != 0 {
		t.Fatalf("scratch dir not cleaned up: %v", entries)
	}
}

func TestYTDLPFile_NoFile(t *testing.T) {
	s := NewYTDLPFile(YTDLPConfig{Runner: &fakeRunner{}, ScratchDir: filepath.Join(t.TempDir(), "nested")})
	if _, err := s.Attempt(context.Background(), igLink); !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestMediaFilename(t *testing.T) {
	if got := mediaFilename(domain.PlatformLink{Platform: domain.Facebook}); got != "facebook_video.mp4" {
		t.Fatalf("unexpected %q", got)
	}
	if got := mediaFilename(domain.PlatformLink{ID: "../etc/passwd"}); got != "etcpasswd.mp4" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestFFmpegCompressor_CleansUp(t *testing.T) {
	scratch := t.TempDir()
	r := &fakeRunner{writeFile: nil}
	c := NewFFmpegCompressor(FFmpegConfig{Runner: r, ScratchDir: scratch, Logger: testLogger()})

	// fakeRunner writes nothing, so reading the output fails.
	if _, err := c.Compress(context.Background(), []byte("in"), 8<<20); err == nil {
		t.Fatal("expected error when ffmpeg produced no output")
	}
	if r.gotName != "ffmpeg" {
		t.Fatalf("expected ffmpeg, got %q", r.gotName)
	}
	entries, _ := os.ReadDir(scratch)
	if len(entries) != 0 {
		t.Fatalf("scratch dir not cleaned up: %v", entries)
	}
}
