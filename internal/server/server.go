// Package server provides the HTTP server for the mdpreview web application.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/euforicio/mdpreview/internal/classify"
	"github.com/euforicio/mdpreview/internal/config"
	"github.com/euforicio/mdpreview/internal/exporter"
	"github.com/euforicio/mdpreview/internal/preview"
	"github.com/euforicio/mdpreview/internal/renderer"
	"github.com/euforicio/mdpreview/static"
)

// Server wraps the HTTP server serving the live preview: document pages,
// a JSON API for the editor surface, a server-sent-events change feed,
// and one-shot exports.
type Server struct {
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
	preview    *preview.Service
	renderer   *renderer.Service
	exporter   *exporter.Exporter
	templates  *templateRenderer
	cfg        config.Config
}

// New constructs a Server with the provided configuration and services.
func New(cfg config.Config, logger *slog.Logger, previewSvc *preview.Service, rendererSvc *renderer.Service, exp *exporter.Exporter) (*Server, error) {
	if previewSvc == nil || rendererSvc == nil {
		return nil, errors.New("preview and renderer services must be provided")
	}

	tmpl, err := newTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "http"),
		preview:   previewSvc,
		renderer:  rendererSvc,
		exporter:  exp,
		templates: tmpl,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	staticHandler := http.StripPrefix("/static/", http.FileServer(s.resolveStaticFS()))
	s.mux.Handle("GET /static/{path...}", staticHandler)
	s.mux.Handle("HEAD /static/{path...}", staticHandler)

	s.mux.HandleFunc("GET /media/{path...}", s.handleMedia)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /view/{path...}", s.handleView)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)

	s.mux.HandleFunc("GET /api/documents", s.handleDocuments)
	s.mux.HandleFunc("GET /api/document/{path...}", s.handleDocument)
	s.mux.HandleFunc("PUT /api/document/{path...}", s.handleSaveDocument)
	s.mux.HandleFunc("POST /api/preview", s.handlePreview)
	s.mux.HandleFunc("GET /api/export", s.handleExport)
	s.mux.HandleFunc("GET /events", s.handleEvents)
}

func (s *Server) resolveStaticFS() http.FileSystem {
	dir := strings.TrimSpace(s.cfg.AssetsDir)
	if dir != "" {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() && static.HasLocalOverride(dir) {
			s.logger.Debug("serving assets from filesystem", slog.String("dir", dir))
			return http.Dir(dir)
		}
	}
	return static.HTTP()
}

// Start runs the HTTP server until ctx is canceled or serving fails.
func (s *Server) Start(ctx context.Context) error {
	handler := chain(s.mux,
		recoveryMiddleware,
		csrfMiddleware,
		gzipMiddleware,
		loggingMiddleware(s.logger, s.cfg.Verbose),
	)

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var (
		listener  net.Listener
		serverURL string
		err       error
	)
	if s.cfg.Port == 0 {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to allocate port: %w", err)
		}
		tcpAddr, ok := listener.Addr().(*net.TCPAddr)
		if !ok {
			return errors.New("unexpected listener address type")
		}
		serverURL = fmt.Sprintf("http://localhost:%d", tcpAddr.Port)
	} else {
		listener, err = net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
		if err != nil {
			return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
		}
		serverURL = fmt.Sprintf("http://localhost:%d", s.cfg.Port)
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stdout, "mdpreview listening on %s\n", serverURL)
		errCh <- s.httpServer.Serve(listener)
	}()

	if s.cfg.AutoOpen {
		go s.openBrowserWhenReady(ctx, serverURL)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.ErrorContext(ctx, "graceful shutdown failed", slog.Any("err", err))
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the server with the provided context timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	docs, err := s.preview.Documents(r.Context())
	if err != nil {
		http.Error(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	s.renderTemplate(w, r, "index", indexViewData{
		Documents: docs,
		DarkMode:  s.cfg.DarkModeFirst,
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	doc, err := s.preview.Document(r.Context(), path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		s.logger.WarnContext(r.Context(), "load document failed", slog.String("path", path), slog.Any("err", err))
		http.Error(w, "document unavailable", http.StatusNotFound)
		return
	}

	title := doc.Metadata.Title
	if title == "" {
		title = filepath.Base(path)
	}

	s.renderTemplate(w, r, "view", pageViewData{
		Path:         path,
		Title:        title,
		HTML:         template.HTML(doc.HTML), //nolint:gosec // HTML from trusted renderer
		BadgeLabel:   doc.Classification.Badge.Label,
		BadgeCode:    doc.Classification.Badge.Code,
		BadgeStyle:   badgeStyle(doc.Classification.Badge),
		AppliedFixes: doc.AppliedFixes,
		Modified:     doc.Modified,
		DarkMode:     s.cfg.DarkModeFirst,
	})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.preview.Documents(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list documents"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

type badgePayload struct {
	Label      string `json:"label"`
	Code       string `json:"code"`
	Foreground string `json:"foreground"`
	Background string `json:"background"`
	Border     string `json:"border"`
}

type classificationPayload struct {
	Kind          string       `json:"kind"`
	DiagramBlocks int          `json:"diagramBlocks"`
	Badge         badgePayload `json:"badge"`
	PendingFixes  []string     `json:"pendingFixes,omitempty"`
}

type documentPayload struct {
	Path           string                `json:"path,omitempty"`
	HTML           string                `json:"html"`
	Corrected      string                `json:"corrected"`
	AppliedFixes   []string              `json:"appliedFixes"`
	WasModified    bool                  `json:"wasModified"`
	Classification classificationPayload `json:"classification"`
	Modified       time.Time             `json:"modified,omitzero"`
}

func classificationToPayload(res classify.Result) classificationPayload {
	return classificationPayload{
		Kind:          res.Kind.String(),
		DiagramBlocks: res.DiagramBlocks,
		Badge: badgePayload{
			Label:      res.Badge.Label,
			Code:       res.Badge.Code,
			Foreground: res.Badge.Foreground,
			Background: res.Badge.Background,
			Border:     res.Badge.Border,
		},
		PendingFixes: res.PendingFixes,
	}
}

func documentToPayload(path string, doc renderer.Document) documentPayload {
	return documentPayload{
		Path:           path,
		HTML:           doc.HTML,
		Corrected:      doc.Corrected,
		AppliedFixes:   doc.AppliedFixes,
		WasModified:    len(doc.AppliedFixes) > 0,
		Classification: classificationToPayload(doc.Classification),
		Modified:       doc.Modified,
	}
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	doc, err := s.preview.Document(r.Context(), path)
	if err != nil {
		status := http.StatusNotFound
		respondJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, documentToPayload(path, doc))
}

type savePayload struct {
	Content string `json:"content"`
}

func (s *Server) handleSaveDocument(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	var payload savePayload
	if err := decodeJSON(r, &payload); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.preview.SaveDocument(r.Context(), path, []byte(payload.Content)); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		respondJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	doc, err := s.preview.Document(r.Context(), path)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, documentToPayload(path, doc))
}

type previewPayload struct {
	Text string `json:"text"`
}

// handlePreview runs the classify → fix → render pipeline over editor
// text that has no backing file. Zero mod time bypasses the render cache.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var payload previewPayload
	if err := decodeJSON(r, &payload); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	doc, err := s.renderer.Render(r.Context(), "editor", time.Time{}, []byte(payload.Text))
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "render failed"})
		return
	}
	respondJSON(w, http.StatusOK, documentToPayload("", doc))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "export unavailable"})
		return
	}

	path := strings.TrimSpace(r.URL.Query().Get("path"))
	format := strings.TrimSpace(r.URL.Query().Get("format"))
	if format == "" {
		format = string(exporter.FormatHTML)
	}
	if path == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "path is required"})
		return
	}
	if !exporter.IsValidFormat(format) {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported format: " + format})
		return
	}

	filename := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch exporter.Format(format) {
	case exporter.FormatPDF:
		w.Header().Set("Content-Type", "application/pdf")
		filename += ".pdf"
	case exporter.FormatMarkdown:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		filename += ".md"
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		filename += ".html"
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	err := s.exporter.Export(r.Context(), exporter.Options{
		Writer:  w,
		Format:  exporter.Format(format),
		RootDir: s.preview.Root(),
		Path:    path,
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "export failed", slog.String("path", path), slog.Any("err", err))
		// Headers may already be written; nothing more to do.
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := s.preview.Subscribe(ctx)

	if _, err := w.Write([]byte(": ready\n\n")); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := encodeJSON(evt)
			if err != nil {
				s.logger.WarnContext(ctx, "encode sse event failed", slog.Any("err", err))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

var mediaExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".ico":  "image/x-icon",
}

// handleMedia serves image files referenced by documents, constrained to
// the preview root.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	rel := filepath.Clean(r.PathValue("path"))
	if rel == "." || filepath.IsAbs(rel) || strings.HasPrefix(filepath.ToSlash(rel), "../") {
		http.NotFound(w, r)
		return
	}

	contentType, ok := mediaExtensions[strings.ToLower(filepath.Ext(rel))]
	if !ok {
		http.NotFound(w, r)
		return
	}

	abs := filepath.Join(s.preview.Root(), rel)
	relToRoot, err := filepath.Rel(s.preview.Root(), abs)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(os.PathSeparator)) {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, abs)
}

func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.render(w, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "template render failed", slog.String("template", name), slog.Any("err", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// openBrowserWhenReady polls the health endpoint, then opens the default
// browser. Best effort only.
func (s *Server) openBrowserWhenReady(ctx context.Context, url string) {
	client := &http.Client{Timeout: 500 * time.Millisecond}
	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		resp, err := client.Get(url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		s.logger.Debug("failed to open browser", slog.Any("err", err))
	}
}
