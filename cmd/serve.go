package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/oficio-pipeline/internal/intake"
	"github.com/sells-group/oficio-pipeline/internal/model"
	"github.com/sells-group/oficio-pipeline/internal/status"
)

var servePort int

// maxIngestBytes bounds an uploaded composite artifact.
const maxIngestBytes = 64 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP ingest and status server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		admitter := intake.NewAdmitter(env.Store, env.Objects, env.Extract, cfg.Intake.DefaultOperator)
		statusSvc := status.NewService(env.Store)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/ingest", func(w http.ResponseWriter, req *http.Request) {
			data, origin, operator, sourceKey, err := readIngestRequest(env, req)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}

			res, err := admitter.Admit(req.Context(), data, origin, sourceKey, operator)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, res)
		})

		r.Get("/batches/{id}", func(w http.ResponseWriter, req *http.Request) {
			bs, err := statusSvc.GetBatchStatus(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, bs)
		})

		r.Get("/units/{id}", func(w http.ResponseWriter, req *http.Request) {
			unit, err := statusSvc.GetUnitStatus(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, unit)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// readIngestRequest accepts either a multipart upload (file field plus
// origin/operator form values) or a JSON reference to an artifact already in
// object storage.
func readIngestRequest(env *pipelineEnv, req *http.Request) (data []byte, origin model.Origin, operator, sourceKey string, err error) {
	contentType := req.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := req.ParseMultipartForm(maxIngestBytes); err != nil {
			return nil, "", "", "", eris.Wrap(err, "parse multipart form")
		}
		file, header, err := req.FormFile("file")
		if err != nil {
			return nil, "", "", "", eris.New("file field is required")
		}
		defer file.Close() //nolint:errcheck

		data, err = io.ReadAll(io.LimitReader(file, maxIngestBytes))
		if err != nil {
			return nil, "", "", "", eris.Wrap(err, "read upload")
		}
		origin, err = parseOrigin(req.FormValue("origin"))
		if err != nil {
			return nil, "", "", "", err
		}
		return data, origin, req.FormValue("operator"), header.Filename, nil
	}

	var ref struct {
		SourceKey string `json:"source_key"`
		Origin    string `json:"origin"`
		Operator  string `json:"operator"`
	}
	if err := json.NewDecoder(req.Body).Decode(&ref); err != nil {
		return nil, "", "", "", eris.Wrap(err, "decode request body")
	}
	if ref.SourceKey == "" {
		return nil, "", "", "", eris.New("source_key is required")
	}
	origin, err = parseOrigin(ref.Origin)
	if err != nil {
		return nil, "", "", "", err
	}

	data, err = env.Objects.Get(req.Context(), ref.SourceKey)
	if err != nil {
		return nil, "", "", "", eris.Wrapf(err, "load artifact %s", ref.SourceKey)
	}
	return data, origin, ref.Operator, ref.SourceKey, nil
}

func parseOrigin(raw string) (model.Origin, error) {
	switch raw {
	case "", string(model.OriginDirect):
		return model.OriginDirect, nil
	case string(model.OriginEmail):
		return model.OriginEmail, nil
	default:
		return "", eris.Errorf("invalid origin %q (want email or direct)", raw)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var cfgErr *model.ConfigValidationError
	var countErr *model.CountMismatchError
	switch {
	case model.IsNotFound(err):
		code = http.StatusNotFound
	case errors.As(err, &cfgErr), errors.As(err, &countErr):
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
