package exporter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	d2renderer "github.com/euforicio/mdpreview/internal/renderer/d2"
)

// diagramEncoder turns fenced diagram blocks into data URI images so the
// PDF renderer never has to understand diagram syntax. A block whose
// rendering fails is emitted unchanged as its original fence.
type diagramEncoder struct {
	d2     *d2renderer.Renderer
	logger *slog.Logger
}

func (e *diagramEncoder) encode(ctx context.Context, raw []byte) ([]byte, error) {
	var (
		out          bytes.Buffer
		scanner      = bufio.NewScanner(bytes.NewReader(raw))
		inFence      bool
		fenceMarker  string
		fenceLang    string
		diagramLines bytes.Buffer
	)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if !inFence {
			if marker, lang, ok := parseFenceStart(trimmed); ok {
				inFence = true
				fenceMarker = marker
				fenceLang = lang
				diagramLines.Reset()
				if !isDiagramFence(lang) {
					writeLine(&out, line)
				}
				continue
			}
			writeLine(&out, line)
			continue
		}

		if isFenceEnd(trimmed, fenceMarker) {
			if isDiagramFence(fenceLang) {
				if err := e.flush(ctx, &out, fenceLang, diagramLines.String()); err != nil {
					if e.logger != nil {
						e.logger.Warn("diagram encode failed, keeping fence",
							slog.String("lang", fenceLang), slog.Any("err", err))
					}
					writeLine(&out, fenceMarker+fenceLang)
					out.Write(diagramLines.Bytes())
					writeLine(&out, fenceMarker)
				}
			} else {
				writeLine(&out, line)
			}
			inFence = false
			fenceMarker = ""
			fenceLang = ""
			continue
		}

		if isDiagramFence(fenceLang) {
			writeLine(&diagramLines, line)
		} else {
			writeLine(&out, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Unclosed fence: emit buffered content as-is
	if inFence {
		writeLine(&out, fenceMarker+fenceLang)
		out.Write(diagramLines.Bytes())
	}

	return out.Bytes(), nil
}

func (e *diagramEncoder) flush(ctx context.Context, out *bytes.Buffer, lang, source string) error {
	if strings.TrimSpace(source) == "" {
		return nil
	}

	var (
		pngData []byte
		err     error
		alt     string
	)
	switch strings.ToLower(lang) {
	case "d2":
		alt = "D2 diagram"
		pngData, err = e.renderD2(ctx, source)
	case "mermaid":
		alt = "Mermaid diagram"
		pngData, err = renderMermaidWithCLI(ctx, source)
	default:
		return fmt.Errorf("not a diagram fence: %s", lang)
	}
	if err != nil {
		return err
	}

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
	_, err = fmt.Fprintf(out, "![%s](%s)\n\n", alt, dataURI)
	return err
}

func (e *diagramEncoder) renderD2(ctx context.Context, source string) ([]byte, error) {
	if e.d2 == nil {
		return nil, fmt.Errorf("d2 renderer unavailable")
	}
	res, err := e.d2.Render(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("render d2: %w", err)
	}
	return svgToPNG([]byte(res.SVG))
}

func parseFenceStart(line string) (marker, lang string, ok bool) {
	if strings.HasPrefix(line, "```") {
		marker = line[:leadingCount(line, '`')]
	} else if strings.HasPrefix(line, "~~~") {
		marker = line[:leadingCount(line, '~')]
	} else {
		return "", "", false
	}
	lang = strings.TrimSpace(strings.TrimPrefix(line, marker))
	return marker, lang, len(marker) >= 3
}

func isFenceEnd(line, marker string) bool {
	if marker == "" {
		return false
	}
	return line == strings.Repeat(string(marker[0]), len(marker))
}

func isDiagramFence(lang string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	return lang == "d2" || lang == "mermaid"
}

func leadingCount(line string, char rune) int {
	count := 0
	for _, r := range line {
		if r != char {
			break
		}
		count++
	}
	return count
}

func writeLine(buf *bytes.Buffer, line string) {
	buf.WriteString(line)
	buf.WriteByte('\n')
}

// svgToPNG rasterizes an SVG into a PNG byte slice suitable for embedding
// as a data URI.
func svgToPNG(svg []byte) ([]byte, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg))
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}

	viewbox := icon.ViewBox
	width := int(math.Ceil(viewbox.W))
	height := int(math.Ceil(viewbox.H))
	if width <= 0 || height <= 0 {
		width, height = 800, 600
	}

	icon.SetTarget(0, 0, float64(width), float64(height))

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, canvas, canvas.Bounds())
	raster := rasterx.NewDasher(width, height, scanner)
	icon.Draw(raster, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// renderMermaidWithCLI shells out to the Mermaid CLI (mmdc) when it is
// installed. There is no embeddable Mermaid renderer for Go; without the
// CLI the fence stays in place.
func renderMermaidWithCLI(ctx context.Context, source string) ([]byte, error) {
	bin, err := exec.LookPath("mmdc")
	if err != nil {
		return nil, fmt.Errorf("mmdc not found: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "mermaid-cli-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, "diagram.mmd")
	outPath := filepath.Join(tmpDir, "diagram.png")

	if err := os.WriteFile(inPath, []byte(source), 0o644); err != nil { //nolint:gosec // temp file
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin,
		"-i", inPath,
		"-o", outPath,
		"-b", "white",
		"-s", "2",
		"--quiet",
	)
	cmd.Dir = tmpDir

	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("mmdc failed: %w; output: %s", err, string(output))
	}

	data, err := os.ReadFile(outPath) //nolint:gosec // path within owned temp dir
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("mmdc produced empty png")
	}
	return data, nil
}
