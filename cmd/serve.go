package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/internal/normalize"
	"github.com/brandtrace/ownership-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for ownership resolution",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			states := map[string]string{}
			for name, st := range env.Pipeline.BreakerStates() {
				states[name] = st.String()
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"status":   "ok",
				"breakers": states,
			})
		})

		r.Post("/v1/resolve", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Brand   string            `json:"brand"`
				Product string            `json:"product"`
				Barcode string            `json:"barcode"`
				Hints   map[string]string `json:"hints"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}

			q, err := model.NewQuery(body.Brand, body.Product, body.Barcode, body.Hints)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}

			if req.URL.Query().Get("stream") != "" {
				streamResolution(w, req, env, q)
				return
			}

			res := env.Pipeline.Resolve(req.Context(), q)
			writeJSON(w, http.StatusOK, res)
		})

		r.Get("/v1/resolutions", func(w http.ResponseWriter, req *http.Request) {
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
			filter := store.ResolutionFilter{
				Brand:  req.URL.Query().Get("brand"),
				Limit:  limit,
				Offset: offset,
			}

			resolutions, err := env.Store.ListResolutions(req.Context(), filter)
			if err != nil {
				zap.L().Error("list resolutions failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list failed"})
				return
			}
			writeJSON(w, http.StatusOK, resolutions)
		})

		r.Get("/v1/resolutions/{id}", func(w http.ResponseWriter, req *http.Request) {
			res, err := env.Store.GetResolution(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "resolution not found"})
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownGracefully(srv, 15*time.Second)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// streamResolution runs the pipeline while pushing stage records to the
// client as server-sent events, ending with the full resolution.
func streamResolution(w http.ResponseWriter, req *http.Request, env *pipelineEnv, q model.OwnershipQuery) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	// Stage events are published under the query fingerprint so a request
	// joined onto an in-flight run still receives them.
	key := normalize.Fingerprint(q.Brand, q.ProductName, q.Barcode)
	events := env.Hub.Subscribe(key)
	defer env.Hub.Unsubscribe(key, events)

	done := make(chan *model.Resolution, 1)
	go func() {
		done <- env.Pipeline.Resolve(req.Context(), q)
	}()

	for {
		select {
		case rec := <-events:
			payload, _ := json.Marshal(rec)
			fmt.Fprintf(w, "event: stage\ndata: %s\n\n", payload)
			flusher.Flush()
		case res := <-done:
			// Drain events published before the resolution finished.
			for {
				select {
				case rec := <-events:
					payload, _ := json.Marshal(rec)
					fmt.Fprintf(w, "event: stage\ndata: %s\n\n", payload)
				default:
					payload, _ := json.Marshal(res)
					fmt.Fprintf(w, "event: result\ndata: %s\n\n", payload)
					flusher.Flush()
					return
				}
			}
		case <-req.Context().Done():
			return
		}
	}
}

// shutdownGracefully drains in-flight requests on a fresh context; the
// signal context is already canceled by the time shutdown starts.
func shutdownGracefully(srv *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
