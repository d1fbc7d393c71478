package main

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raspberrypi/libpisp"
)

// binaryPath holds the path to the compiled pispbe binary. Set in TestMain.
var binaryPath string

func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "pispbe-test-bin-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmp)

	binaryPath = filepath.Join(tmp, "pispbe")
	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		// Mark binary as empty so tests skip gracefully.
		binaryPath = ""
	}

	os.Exit(m.Run())
}

// skipIfNoBinary skips the test when the binary was not built.
func skipIfNoBinary(t *testing.T) {
	t.Helper()
	if binaryPath == "" {
		t.Skip("pispbe binary not built; skipping")
	}
}

// runPispbe executes pispbe with the given arguments and optional stdin data.
// Returns stdout, stderr, and any error.
func runPispbe(t *testing.T, stdin []byte, args ...string) (stdout, stderr []byte, err error) {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// --- prepare tests ---

func TestPrepareWritesBlob(t *testing.T) {
	skipIfNoBinary(t)
	out := filepath.Join(t.TempDir(), "config.bin")

	_, stderr, err := runPispbe(t, nil, "prepare", "-o", out)
	if err != nil {
		t.Fatalf("prepare: %v\nstderr: %s", err, stderr)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if len(data) != libpisp.TilesConfigSize {
		t.Errorf("blob is %d bytes, want %d", len(data), libpisp.TilesConfigSize)
	}
	if !strings.Contains(string(stderr), "Prepared") {
		t.Errorf("stderr = %q, want a Prepared summary", stderr)
	}
}

func TestPrepareStdout(t *testing.T) {
	skipIfNoBinary(t)

	stdout, stderr, err := runPispbe(t, nil, "prepare", "-width", "640", "-height", "480", "-o", "-")
	if err != nil {
		t.Fatalf("prepare: %v\nstderr: %s", err, stderr)
	}
	if len(stdout) != libpisp.TilesConfigSize {
		t.Errorf("stdout is %d bytes, want %d", len(stdout), libpisp.TilesConfigSize)
	}
}

func TestPrepareResize(t *testing.T) {
	skipIfNoBinary(t)

	stdout, stderr, err := runPispbe(t, nil, "prepare",
		"-branch", "1", "-resize", "480x270", "-o", "-")
	if err != nil {
		t.Fatalf("prepare: %v\nstderr: %s", err, stderr)
	}

	var tc libpisp.TilesConfig
	if err := tc.UnmarshalBinary(stdout); err != nil {
		t.Fatalf("decoding blob: %v", err)
	}
	img := tc.Config.OutputFormat[1].Image
	if img.Width != 480 || img.Height != 270 {
		t.Errorf("output 1 = %dx%d, want 480x270", img.Width, img.Height)
	}
}

func TestPrepareRawInput(t *testing.T) {
	skipIfNoBinary(t)

	stdout, stderr, err := runPispbe(t, nil, "prepare",
		"-format", "BAYER", "-bayer-order", "bggr", "-o", "-")
	if err != nil {
		t.Fatalf("prepare: %v\nstderr: %s", err, stderr)
	}

	var tc libpisp.TilesConfig
	if err := tc.UnmarshalBinary(stdout); err != nil {
		t.Fatalf("decoding blob: %v", err)
	}
	g := tc.Config.Global
	if g.BayerEnables&libpisp.BayerEnableInput == 0 {
		t.Error("Bayer input not enabled for a raw format")
	}
	if g.RGBEnables&libpisp.RGBEnableInput != 0 {
		t.Error("RGB input enabled alongside the Bayer input")
	}
	if g.BayerOrder != libpisp.BayerOrderBGGR {
		t.Errorf("BayerOrder = %d, want %d", g.BayerOrder, libpisp.BayerOrderBGGR)
	}
}

func TestPrepareErrors(t *testing.T) {
	skipIfNoBinary(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown format", []string{"prepare", "-format", "BOGUS", "-o", "-"}, "unknown image format"},
		{"unknown transform", []string{"prepare", "-transform", "diagonal", "-o", "-"}, "unknown transform"},
		{"bad crop", []string{"prepare", "-crop", "1,2", "-o", "-"}, "bad -crop"},
		{"bad resize", []string{"prepare", "-resize", "wide", "-o", "-"}, "bad -resize"},
		{"branch out of range", []string{"prepare", "-branch", "7", "-o", "-"}, "out of range"},
		{"zero width", []string{"prepare", "-width", "0", "-o", "-"}, "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, err := runPispbe(t, nil, tt.args...)
			if err == nil {
				t.Fatal("expected a failure exit")
			}
			if !strings.Contains(string(stderr), tt.want) {
				t.Errorf("stderr = %q, want it to mention %q", stderr, tt.want)
			}
		})
	}
}

// --- info tests ---

func TestInfo(t *testing.T) {
	skipIfNoBinary(t)
	out := filepath.Join(t.TempDir(), "config.bin")

	if _, stderr, err := runPispbe(t, nil, "prepare", "-o", out); err != nil {
		t.Fatalf("prepare: %v\nstderr: %s", err, stderr)
	}
	stdout, stderr, err := runPispbe(t, nil, "info", out)
	if err != nil {
		t.Fatalf("info: %v\nstderr: %s", err, stderr)
	}

	text := string(stdout)
	for _, want := range []string{"Input:", "1920x1080 RGB888", "Output 0:", "Tiles:"} {
		if !strings.Contains(text, want) {
			t.Errorf("info output missing %q:\n%s", want, text)
		}
	}
}

func TestInfoTiles(t *testing.T) {
	skipIfNoBinary(t)
	out := filepath.Join(t.TempDir(), "config.bin")

	if _, stderr, err := runPispbe(t, nil, "prepare", "-o", out); err != nil {
		t.Fatalf("prepare: %v\nstderr: %s", err, stderr)
	}
	stdout, stderr, err := runPispbe(t, nil, "info", "-tiles", out)
	if err != nil {
		t.Fatalf("info: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(string(stdout), "tile  0: input") {
		t.Errorf("info -tiles output missing the tile listing:\n%s", stdout)
	}
}

func TestInfoStdin(t *testing.T) {
	skipIfNoBinary(t)

	blob, stderr, err := runPispbe(t, nil, "prepare", "-o", "-")
	if err != nil {
		t.Fatalf("prepare: %v\nstderr: %s", err, stderr)
	}
	stdout, stderr, err := runPispbe(t, blob, "info", "-")
	if err != nil {
		t.Fatalf("info: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(string(stdout), "<stdin>") {
		t.Errorf("info output missing <stdin>:\n%s", stdout)
	}
}

func TestInfoWrongSize(t *testing.T) {
	skipIfNoBinary(t)

	_, stderr, err := runPispbe(t, make([]byte, 10), "info", "-")
	if err == nil {
		t.Fatal("expected a failure exit")
	}
	if !strings.Contains(string(stderr), "want") {
		t.Errorf("stderr = %q, want a size complaint", stderr)
	}
}

// --- formats tests ---

func TestFormats(t *testing.T) {
	skipIfNoBinary(t)

	stdout, stderr, err := runPispbe(t, nil, "formats")
	if err != nil {
		t.Fatalf("formats: %v\nstderr: %s", err, stderr)
	}
	text := string(stdout)
	for _, want := range []string{"RGB888", "NV12", "BAYER"} {
		if !strings.Contains(text, want) {
			t.Errorf("formats output missing %q:\n%s", want, text)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	skipIfNoBinary(t)

	_, stderr, err := runPispbe(t, nil, "transcode")
	if err == nil {
		t.Fatal("expected a failure exit")
	}
	if !strings.Contains(string(stderr), "unknown command") {
		t.Errorf("stderr = %q, want unknown command", stderr)
	}
}

// --- flag parsing tests ---

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{"1920x1080", 1920, 1080, false},
		{"64x48", 64, 48, false},
		{"1920", 0, 0, true},
		{"0x48", 0, 0, true},
		{"ax48", 0, 0, true},
		{"65536x2", 0, 0, true},
	}
	for _, tt := range tests {
		w, h, err := parseSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSize(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && (w != tt.w || h != tt.h) {
			t.Errorf("parseSize(%q) = %dx%d, want %dx%d", tt.in, w, h, tt.w, tt.h)
		}
	}
}

func TestParseCrop(t *testing.T) {
	window, err := parseCrop("32,16,256x128")
	if err != nil {
		t.Fatalf("parseCrop: %v", err)
	}
	want := libpisp.CropConfig{OffsetX: 32, OffsetY: 16, Width: 256, Height: 128}
	if window != want {
		t.Errorf("parseCrop = %+v, want %+v", window, want)
	}

	for _, bad := range []string{"", "32,16", "-1,0,64x48", "0,0,64"} {
		if _, err := parseCrop(bad); err == nil {
			t.Errorf("parseCrop(%q) accepted", bad)
		}
	}
}

func TestParseTransform(t *testing.T) {
	tests := []struct {
		in   string
		want libpisp.Transform
	}{
		{"none", libpisp.TransformNone},
		{"hflip", libpisp.TransformHFlip},
		{"VFlip", libpisp.TransformVFlip},
		{"rot180", libpisp.TransformRot180},
	}
	for _, tt := range tests {
		got, err := parseTransform(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseTransform(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := parseTransform("diagonal"); err == nil {
		t.Error("parseTransform(diagonal) accepted")
	}
}
