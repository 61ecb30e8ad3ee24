package validate

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"
	"testing"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, width, height int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height)), nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// pngHeaderBytes builds a PNG signature plus a valid IHDR chunk declaring
// the given dimensions. Dimension checks read only the header, so 8K-sized
// claims need no pixel data.
func pngHeaderBytes(t *testing.T, width, height int) []byte {
	t.Helper()

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(height))
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(ihdr)))
	buf.Write(length[:])
	buf.WriteString("IHDR")
	buf.Write(ihdr)

	crc := crc32.NewIEEE()
	crc.Write([]byte("IHDR"))
	crc.Write(ihdr)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	buf.Write(sum[:])

	return buf.Bytes()
}

func validUpload(t *testing.T) Upload {
	t.Helper()
	return Upload{
		UserID:   "user-1",
		HasFile:  true,
		Filename: "sunset.png",
		Data:     pngBytes(t, 1920, 1080),
	}
}

func TestValidUpload(t *testing.T) {
	e := NewEngine(nil)

	res, verr := e.Validate(context.Background(), validUpload(t))
	if verr != nil {
		t.Fatalf("expected success, got %v", verr)
	}
	if res.MimeType != "image/png" {
		t.Errorf("expected image/png, got %s", res.MimeType)
	}
	if res.Width != 1920 || res.Height != 1080 {
		t.Errorf("expected 1920x1080, got %dx%d", res.Width, res.Height)
	}
	if res.AspectRatio < 1.77 || res.AspectRatio > 1.78 {
		t.Errorf("expected ~16:9 aspect ratio, got %f", res.AspectRatio)
	}
	if res.Filename != "sunset.png" {
		t.Errorf("expected filename to survive, got %q", res.Filename)
	}
}

func TestValidJPEG(t *testing.T) {
	e := NewEngine(nil)

	up := validUpload(t)
	up.Data = jpegBytes(t, 2560, 1440)

	res, verr := e.Validate(context.Background(), up)
	if verr != nil {
		t.Fatalf("expected success, got %v", verr)
	}
	if res.MimeType != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", res.MimeType)
	}
}

func TestMissingUserID(t *testing.T) {
	e := NewEngine(nil)

	up := validUpload(t)
	up.UserID = ""

	_, verr := e.Validate(context.Background(), up)
	if verr == nil || verr.Code != CodeMissingUserID {
		t.Fatalf("expected %s, got %v", CodeMissingUserID, verr)
	}
	if verr.Status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", verr.Status)
	}
}

func TestMissingFile(t *testing.T) {
	e := NewEngine(nil)

	_, verr := e.Validate(context.Background(), Upload{UserID: "user-1"})
	if verr == nil || verr.Code != CodeMissingFile {
		t.Fatalf("expected %s, got %v", CodeMissingFile, verr)
	}
}

func TestEmptyFile(t *testing.T) {
	e := NewEngine(nil)

	up := Upload{UserID: "user-1", HasFile: true, Filename: "x.png"}
	_, verr := e.Validate(context.Background(), up)
	if verr == nil || verr.Code != CodeMissingFile {
		t.Fatalf("expected %s, got %v", CodeMissingFile, verr)
	}
}

func TestRejectsNonImage(t *testing.T) {
	e := NewEngine(nil)

	up := validUpload(t)
	up.Data = []byte("definitely not an image, just text")

	_, verr := e.Validate(context.Background(), up)
	if verr == nil || verr.Code != CodeInvalidFileFormat {
		t.Fatalf("expected %s, got %v", CodeInvalidFileFormat, verr)
	}
	if got := verr.Extensions["receivedMimeType"]; got != "text/plain" {
		t.Errorf("expected receivedMimeType text/plain, got %v", got)
	}
}

func TestRejectsGIF(t *testing.T) {
	e := NewEngine(nil)

	up := validUpload(t)
	up.Data = []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00")

	_, verr := e.Validate(context.Background(), up)
	if verr == nil || verr.Code != CodeInvalidFileFormat {
		t.Fatalf("expected %s, got %v", CodeInvalidFileFormat, verr)
	}
}

func TestWebPSniffAccepted(t *testing.T) {
	e := NewEngine(nil)

	// A valid WebP RIFF header with a truncated body: the format check
	// passes, the dimension decode then fails.
	up := validUpload(t)
	up.Data = []byte("RIFF\x24\x00\x00\x00WEBPVP8 \x00\x00\x00\x00")

	_, verr := e.Validate(context.Background(), up)
	if verr == nil || verr.Code != CodeUnreadableImage {
		t.Fatalf("expected %s, got %v", CodeUnreadableImage, verr)
	}
}

func TestFileTooLarge(t *testing.T) {
	limits := DefaultLimitSet()
	limits.MaxFileSizeBytes = 64
	e := NewEngine(GlobalLimits{Set: limits})

	up := validUpload(t)
	_, verr := e.Validate(context.Background(), up)
	if verr == nil || verr.Code != CodeFileTooLarge {
		t.Fatalf("expected %s, got %v", CodeFileTooLarge, verr)
	}
	if verr.Status != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", verr.Status)
	}
	if verr.Extensions["maxFileSizeBytes"] != int64(64) {
		t.Errorf("expected maxFileSizeBytes extension, got %v", verr.Extensions["maxFileSizeBytes"])
	}
}

func TestDimensionsTooSmall(t *testing.T) {
	e := NewEngine(nil)

	up := validUpload(t)
	up.Data = pngBytes(t, 640, 480)

	_, verr := e.Validate(context.Background(), up)
	if verr == nil || verr.Code != CodeDimensionsOOB {
		t.Fatalf("expected %s, got %v", CodeDimensionsOOB, verr)
	}
	if verr.Extensions["width"] != 640 || verr.Extensions["height"] != 480 {
		t.Errorf("expected dimension extensions, got %v", verr.Extensions)
	}
	if verr.Extensions["minWidth"] != 1280 {
		t.Errorf("expected minWidth extension, got %v", verr.Extensions["minWidth"])
	}
}

func TestDimensionBoundsAreInclusive(t *testing.T) {
	e := NewEngine(nil)

	up := validUpload(t)
	up.Data = pngBytes(t, 1280, 720)

	if _, verr := e.Validate(context.Background(), up); verr != nil {
		t.Fatalf("expected exact minimum to pass, got %v", verr)
	}

	for _, dims := range [][2]int{{1279, 720}, {1280, 719}} {
		up.Data = pngHeaderBytes(t, dims[0], dims[1])
		_, verr := e.Validate(context.Background(), up)
		if verr == nil || verr.Code != CodeDimensionsOOB {
			t.Fatalf("expected %dx%d to be rejected, got %v", dims[0], dims[1], verr)
		}
	}
}

func TestDimensionMaximaAreInclusive(t *testing.T) {
	e := NewEngine(nil)

	up := validUpload(t)
	up.Data = pngHeaderBytes(t, 7680, 4320)
	if _, verr := e.Validate(context.Background(), up); verr != nil {
		t.Fatalf("expected exact 8K maximum to pass, got %v", verr)
	}

	for _, dims := range [][2]int{{7681, 4320}, {7680, 4321}} {
		up.Data = pngHeaderBytes(t, dims[0], dims[1])
		_, verr := e.Validate(context.Background(), up)
		if verr == nil || verr.Code != CodeDimensionsOOB {
			t.Fatalf("expected %dx%d to be rejected, got %v", dims[0], dims[1], verr)
		}
	}
}

func TestFileSizeLimitIsInclusive(t *testing.T) {
	up := validUpload(t)

	limits := DefaultLimitSet()
	limits.MaxFileSizeBytes = int64(len(up.Data))
	e := NewEngine(GlobalLimits{Set: limits})
	if _, verr := e.Validate(context.Background(), up); verr != nil {
		t.Fatalf("expected a file of exactly the size limit to pass, got %v", verr)
	}

	limits.MaxFileSizeBytes = int64(len(up.Data)) - 1
	e = NewEngine(GlobalLimits{Set: limits})
	_, verr := e.Validate(context.Background(), up)
	if verr == nil || verr.Code != CodeFileTooLarge {
		t.Fatalf("expected one byte over the limit to be rejected, got %v", verr)
	}
	if verr.Extensions["fileSizeBytes"] != int64(len(up.Data)) {
		t.Errorf("expected fileSizeBytes extension %d, got %v", len(up.Data), verr.Extensions["fileSizeBytes"])
	}
}

func TestDimensionsTooLarge(t *testing.T) {
	limits := DefaultLimitSet()
	limits.MaxWidth = 1920
	limits.MaxHeight = 1080
	e := NewEngine(GlobalLimits{Set: limits})

	up := validUpload(t)
	up.Data = pngBytes(t, 2560, 1440)

	_, verr := e.Validate(context.Background(), up)
	if verr == nil || verr.Code != CodeDimensionsOOB {
		t.Fatalf("expected %s, got %v", CodeDimensionsOOB, verr)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"sunset.jpg", "sunset.jpg"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\x\wall.png`, "wall.png"},
		{"with\x00control\x1fchars.png", "withcontrolchars.png"},
		{"", "upload"},
		{"..", "upload"},
		{strings.Repeat("a", 300) + ".png", strings.Repeat("a", 255)},
	}
	for _, c := range cases {
		if got := SanitizeFilename(c.in); got != c.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
