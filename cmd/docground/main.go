// Command docground runs the document extraction service: HTTP API for
// uploads, status polling, grounded results and corrections, with an
// optional MCP surface over stdio.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docground/dbopen"
	"github.com/hazyhaar/docground/extraction"
	"github.com/hazyhaar/docground/pipeline"
	"github.com/hazyhaar/docground/shield"
	"github.com/hazyhaar/docground/vault"
)

func main() {
	cfg, err := LoadConfig(env("CONFIG", ""))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging. MCP over stdio owns stdout, so logs move to stderr there.
	logOut := os.Stdout
	if cfg.MCPTransport == "stdio" {
		logOut = os.Stderr
	}
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(extraction.Schema))
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	maxUpload := int64(cfg.MaxFileMB) << 20
	svc := extraction.New(db, extraction.Config{
		DataDir:       cfg.DataDir,
		MaxFileSize:   maxUpload,
		MaxConcurrent: cfg.MaxConcurrent,
		Pipeline: pipeline.Config{
			CaptionProximity:    cfg.Pipeline.CaptionProximity,
			ColumnGap:           cfg.Pipeline.ColumnGap,
			ValidationThreshold: cfg.Pipeline.ValidationThreshold,
			Logger:              logger,
		},
		Logger: logger,
	})

	// Optional MCP over stdio.
	if cfg.MCPTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "docground",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			slog.Info("MCP stdio starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", err)
			}
		}()
	}

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(1 << 20) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", func(w http.ResponseWriter, r *http.Request) {
			// Multipart framing overhead on top of the document cap.
			r.Body = http.MaxBytesReader(w, r.Body, maxUpload+(1<<20))
			file, header, err := r.FormFile("file")
			if err != nil {
				writeError(w, 400, fmt.Errorf("multipart field 'file': %w", err))
				return
			}
			defer file.Close()

			txn, err := svc.Upload(r.Context(), header.Filename, header.Size, file)
			if err != nil {
				writeServiceError(w, err, nil)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]any{
				"transaction_id": txn.ID,
				"status":         txn.Status,
				"message":        "document accepted for processing",
			})
		})

		r.Get("/status/{transactionID}", func(w http.ResponseWriter, r *http.Request) {
			txn, err := svc.Status(r.Context(), chi.URLParam(r, "transactionID"))
			if err != nil {
				writeServiceError(w, err, nil)
				return
			}
			resp := map[string]any{
				"transaction_id": txn.ID,
				"status":         txn.Status,
				"progress":       txn.Progress,
			}
			if txn.Error != "" {
				resp["error"] = txn.Error
			}
			writeJSON(w, 200, resp)
		})

		r.Get("/result/{transactionID}", func(w http.ResponseWriter, r *http.Request) {
			res, err := svc.Result(r.Context(), chi.URLParam(r, "transactionID"))
			if err != nil {
				writeServiceError(w, err, nil)
				return
			}
			writeJSON(w, 200, res)
		})

		r.Get("/grounding/{elementID}", func(w http.ResponseWriter, r *http.Request) {
			txnID := r.URL.Query().Get("transaction_id")
			if txnID == "" {
				writeError(w, 400, errors.New("transaction_id query parameter is required"))
				return
			}
			withCrop := r.URL.Query().Get("crop") == "1"
			info, err := svc.Grounding(r.Context(), txnID, chi.URLParam(r, "elementID"), withCrop)
			if err != nil {
				writeServiceError(w, err, nil)
				return
			}
			writeJSON(w, 200, info)
		})

		r.Get("/page-image/{transactionID}", func(w http.ResponseWriter, r *http.Request) {
			page := queryInt(r, "page", 1)
			img, err := svc.PageImage(r.Context(), chi.URLParam(r, "transactionID"), page)
			if err != nil {
				writeServiceError(w, err, nil)
				return
			}
			writeJSON(w, 200, map[string]any{"page": page, "image_png": img})
		})

		r.Patch("/correct/{transactionID}", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Corrections []vault.CorrectionRequest `json:"corrections"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, 400, fmt.Errorf("decode body: %w", err))
				return
			}
			res, failed, err := svc.Correct(r.Context(), chi.URLParam(r, "transactionID"), body.Corrections)
			if err != nil {
				writeServiceError(w, err, failed)
				return
			}
			writeJSON(w, 200, res)
		})

		r.Delete("/result/{transactionID}", func(w http.ResponseWriter, r *http.Request) {
			if err := svc.Delete(r.Context(), chi.URLParam(r, "transactionID")); err != nil {
				writeServiceError(w, err, nil)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "deleted"})
		})
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	// In-flight pipeline runs reach a terminal state before exit.
	svc.Wait()
	slog.Info("server stopped")
}

// writeServiceError maps service sentinels to HTTP status codes. A
// correction batch with unknown targets answers 422 with the IDs.
func writeServiceError(w http.ResponseWriter, err error, failedIDs []string) {
	switch {
	case errors.Is(err, extraction.ErrElementNotFound) && len(failedIDs) > 0:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":              err.Error(),
			"failed_element_ids": failedIDs,
		})
	case errors.Is(err, extraction.ErrInvalidInput):
		writeError(w, 400, err)
	case errors.Is(err, extraction.ErrNotFound), errors.Is(err, extraction.ErrElementNotFound):
		writeError(w, 404, err)
	case errors.Is(err, extraction.ErrNotCompleted):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, 500, err)
	}
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
