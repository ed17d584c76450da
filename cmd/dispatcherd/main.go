// Command dispatcherd runs the per-builder build dispatcher: one Builder
// per configured builder name, an HTTP submission/status API, a JWT-guarded
// admin endpoint, and a Prometheus /metrics endpoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jackhou/buildbot/auth"
	"github.com/jackhou/buildbot/build"
	"github.com/jackhou/buildbot/cachepkg"
	"github.com/jackhou/buildbot/clock"
	"github.com/jackhou/buildbot/config"
	"github.com/jackhou/buildbot/dispatcher"
	"github.com/jackhou/buildbot/errors"
	"github.com/jackhou/buildbot/eventbus"
	"github.com/jackhou/buildbot/expectations"
	"github.com/jackhou/buildbot/remoteworker"
	"github.com/jackhou/buildbot/statussink"
	"github.com/jackhou/buildbot/store"
	"github.com/jackhou/buildbot/validation"
)

// deployConfig is the on-disk shape for this binary: a GlobalConfig plus
// the static worker-name to net/rpc-address map, since this deployment
// dials out to workers rather than accepting inbound registrations.
type deployConfig struct {
	config.GlobalConfig
	WorkerAddresses map[string]string `json:"worker_addresses"`
}

func main() {
	configPath := "dispatcherd.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	deploy, err := loadDeployConfig(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := validation.ValidateGlobalConfig(&deploy.GlobalConfig); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	sink := statussink.NewPrometheusSink(reg)

	dbPath := os.Getenv("DISPATCHER_DB_PATH")
	if dbPath == "" {
		dbPath = ":memory:"
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var bus eventbus.Bus
	if natsURL := os.Getenv("DISPATCHER_NATS_URL"); natsURL != "" {
		natsBus, err := eventbus.NewNATSBus(natsURL, "dispatcher")
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsBus.Close()
		bus = natsBus
	} else {
		bus = eventbus.NewMemoryBus()
	}

	cache := cachepkg.NewCache(cachepkg.Config{
		StorageDir:   os.Getenv("DISPATCHER_CACHE_DIR"),
		MaxCacheSize: 1 << 30,
		TTL:          24 * time.Hour,
	}, reg, logger)

	expect := expectations.NewTracker(50)

	commands := func(builderName string, env, properties map[string]string) (build.Command, error) {
		return build.Command{Program: "sh", Args: []string{"-c", properties["command"]}, Dir: properties["workdir"]}, nil
	}
	factory := build.NewFactory(commands, cache, logger)

	masterID := os.Getenv("DISPATCHER_MASTER_ID")
	if masterID == "" {
		masterID = uuid.NewString()
		logger.Info("generated master id", "master_id", masterID)
	}

	deps := dispatcher.Dependencies{
		RequestStore: st,
		BuildStore:   st,
		Registry:     st,
		Bus:          bus,
		Sink:         sink,
		Locks:        dispatcher.NewLockSet(),
		Clock:        clock.WallClock,
		Expectations: expect,
		MasterID:     masterID,
	}

	builders := make(map[string]*dispatcher.Builder, len(deploy.Builders))
	for _, bc := range deploy.Builders {
		b := dispatcher.NewBuilder(bc.Name, bc, factory, deps, logger)
		b.Start()
		defer b.Stop()
		builders[bc.Name] = b

		for _, workerName := range bc.WorkerNames {
			addr, ok := deploy.WorkerAddresses[workerName]
			if !ok {
				logger.Warn("no address configured for worker", "worker", workerName)
				continue
			}
			w, err := remoteworker.Dial(addr)
			if err != nil {
				logger.Warn("failed to dial worker", "worker", workerName, "addr", addr, "error", err)
				continue
			}
			if err := b.Attached(context.Background(), workerName, w); err != nil {
				logger.Warn("failed to attach worker", "worker", workerName, "error", err)
			}
		}
	}

	authSecret := os.Getenv("DISPATCHER_AUTH_SECRET")
	if authSecret == "" {
		authSecret = "dev-secret-change-me"
	}
	authSvc := auth.NewAuthService(authSecret, time.Hour)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/requests", handleSubmit(st, logger))
	apiMux.Handle("/api/builders/", authSvc.RequirePermission("status:read")(handleBuilderStatus(builders, st, logger)))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/api/", authSvc.AuthMiddleware(apiMux))

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/api/admin/reconfigure", handleReconfigure(builders, configPath, logger))
	adminMux.HandleFunc("/api/admin/tokens", handleIssueToken(authSvc, logger))
	mux.Handle("/api/admin/", authSvc.AdminMiddleware(adminMux))

	srv := &http.Server{Addr: addr(os.Getenv("DISPATCHER_HTTP_ADDR")), Handler: mux}
	go func() {
		logger.Info("dispatcherd listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func addr(a string) string {
	if a == "" {
		return ":8080"
	}
	return a
}

func loadDeployConfig(path string) (*deployConfig, error) {
	global, err := config.LoadGlobalConfig(path)
	if err != nil {
		return nil, err
	}
	deploy := &deployConfig{GlobalConfig: *global, WorkerAddresses: map[string]string{}}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return deploy, nil
		}
		return nil, err
	}
	defer file.Close()
	if err := json.NewDecoder(file).Decode(deploy); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return deploy, nil
}

func handleSubmit(requests store.RequestStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			BuildsetID  int64             `json:"buildset_id"`
			BuilderName string            `json:"builder_name"`
			Properties  map[string]string `json:"properties"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validation.ValidateBuilderName(req.BuilderName); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		claims, ok := auth.GetClaimsFromContext(r)
		if !ok || !auth.HasPermission(claims, auth.BuilderSubmitPermission(req.BuilderName)) {
			apiErr := errors.NewAPIError(errors.ErrCodeForbidden, "missing permission: "+auth.BuilderSubmitPermission(req.BuilderName))
			http.Error(w, apiErr.Error(), http.StatusForbidden)
			return
		}

		logger.Info("received build request", "builder", req.BuilderName, "bsid", req.BuildsetID, "user", claims.UserID)
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}
}

// handleIssueToken lets an admin mint a token scoped to submitting builds
// for a single builder, so callers never need the admin-wildcard token to
// use the submission API.
func handleIssueToken(authSvc *auth.AuthService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			UserID      string `json:"user_id"`
			BuilderName string `json:"builder_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validation.ValidateBuilderName(req.BuilderName); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		token, err := authSvc.GenerateToken(req.UserID, "service", []string{auth.BuilderSubmitPermission(req.BuilderName)})
		if err != nil {
			logger.Error("failed to generate token", "error", err)
			http.Error(w, "failed to generate token", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	}
}

func handleBuilderStatus(builders map[string]*dispatcher.Builder, requests store.RequestStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/api/builders/"):]
		b, ok := builders[name]
		if !ok {
			http.Error(w, errors.NewAPIError(errors.ErrCodeNotFound, "unknown builder: "+name).Error(), http.StatusNotFound)
			return
		}
		oldest, err := b.GetOldestRequestTime(r.Context())
		if err != nil {
			logger.Warn("get oldest request time failed", "builder", name, "error", err)
		}
		resp := map[string]interface{}{"name": name, "oldest_queued": oldest}
		json.NewEncoder(w).Encode(resp)
	}
}

func handleReconfigure(builders map[string]*dispatcher.Builder, configPath string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		global, err := config.LoadGlobalConfig(configPath)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var failures []string
		for name, b := range builders {
			if err := b.Reconfigure(r.Context(), global); err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			}
		}
		if len(failures) > 0 {
			http.Error(w, strconvJoin(failures), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func strconvJoin(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "; "
		}
		out += p
	}
	return out
}
