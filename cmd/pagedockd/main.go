// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Binary pagedockd is the combined control-plane and serving daemon: it
// accepts deployments under /__api and serves deployed projects by subdomain
// or /__project/ path prefix on the same listener.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pagedock/pagedock/internal/assets"
	"github.com/pagedock/pagedock/internal/config"
	"github.com/pagedock/pagedock/internal/control"
	"github.com/pagedock/pagedock/internal/httpx"
	"github.com/pagedock/pagedock/internal/kv"
	"github.com/pagedock/pagedock/internal/project"
	"github.com/pagedock/pagedock/internal/ratelimit"
	"github.com/pagedock/pagedock/internal/router"
	"github.com/pagedock/pagedock/internal/taskqueue"
	"github.com/pagedock/pagedock/internal/token"
	"github.com/pagedock/pagedock/internal/watchdog"
	"github.com/pagedock/pagedock/internal/worker"
)

var (
	addr        = flag.String("addr", ":8080", "address to serve on")
	metricsAddr = flag.String("metrics-addr", "", "if provided, serve Prometheus metrics on this address")
	configPath  = flag.String("config", "", "deployment config file; defaults to in-memory backends")
	adminToken  = flag.String("admin-token", "", "control-plane token; defaults to $PAGEDOCK_ADMIN_TOKEN")
	jwtSecret   = flag.String("jwt-secret", "", "upload-session signing secret; defaults to $PAGEDOCK_JWT_SECRET")
	adminDir    = flag.String("admin-dir", "", "if provided, serve the admin UI from this directory")
)

// buildStore constructs one KV binding. Remote backends are wrapped in a
// single-retry layer; the asset read path depends on that behavior.
func buildStore(ctx context.Context, b config.Binding, gcpProject string) (kv.Store, error) {
	switch b.Backend {
	case config.BackendMemory:
		return kv.NewMemoryStore(), nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: b.Addr})
		return &kv.RetryStore{Store: kv.NewRedisStore(client, b.Namespace)}, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "creating storage client")
		}
		return &kv.RetryStore{Store: kv.NewGCSStore(client, b.Bucket, b.Prefix)}, nil
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, gcpProject)
		if err != nil {
			return nil, errors.Wrap(err, "creating firestore client")
		}
		return &kv.RetryStore{Store: kv.NewFirestoreStore(client, b.Collection)}, nil
	default:
		return nil, errors.Errorf("unknown backend %q", b.Backend)
	}
}

func secret(flagValue, envName string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(envName)
}

func main() {
	flag.Parse()
	ctx := context.Background()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalln(err)
		}
	}
	admin := secret(*adminToken, "PAGEDOCK_ADMIN_TOKEN")
	signing := secret(*jwtSecret, "PAGEDOCK_JWT_SECRET")
	if signing == "" {
		log.Fatalln("missing signing secret: set -jwt-secret or PAGEDOCK_JWT_SECRET")
	}
	if admin == "" {
		log.Println("warning: no admin token configured, control plane is open")
	}

	projectsKV, err := buildStore(ctx, cfg.Bindings.Projects, cfg.GCPProject)
	if err != nil {
		log.Fatalln(errors.Wrap(err, "projects binding"))
	}
	assetsKV, err := buildStore(ctx, cfg.Bindings.Assets, cfg.GCPProject)
	if err != nil {
		log.Fatalln(errors.Wrap(err, "assets binding"))
	}
	serverKV, err := buildStore(ctx, cfg.Bindings.ServerCode, cfg.GCPProject)
	if err != nil {
		log.Fatalln(errors.Wrap(err, "servercode binding"))
	}

	store := project.NewStore(projectsKV, assetsKV, serverKV)
	assetService := assets.NewService(assetsKV)
	signer := token.NewSigner([]byte(signing))

	var limiter ratelimit.Limiter = ratelimit.Unlimited
	if cfg.RateLimit.RPS > 0 {
		limiter = ratelimit.NewPerProject(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	var adminUI http.Handler
	if *adminDir != "" {
		adminUI = http.StripPrefix("/admin", httpx.FSHandler(osfs.New(*adminDir)))
	}
	handler := &router.Handler{
		Projects: store,
		Assets:   assetService,
		Loader:   worker.NewLoader(serverKV),
		Executor: worker.Unimplemented{},
		Limiter:  limiter,
		Control: control.Handler(&control.Deps{
			Store:      store,
			Assets:     assetService,
			Signer:     signer,
			AdminToken: admin,
		}),
		Admin: adminUI,
	}

	if !cfg.Watchdog.Disabled {
		deps := &watchdog.Deps{Store: store}
		if cfg.Watchdog.QueuePath != "" {
			queue, err := taskqueue.NewQueue(ctx, cfg.Watchdog.QueuePath, cfg.Watchdog.ServiceAccount, admin)
			if err != nil {
				log.Fatalln(errors.Wrap(err, "creating watchdog queue"))
			}
			deps.Queue = queue
			deps.ControlURL = cfg.WatchdogControlURL()
		}
		go watchdog.New(deps).Run(ctx)
	}
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Fatalln(err)
			}
		}()
	}

	if cfg.Domain != "" {
		log.Printf("serving *.%s on %s", cfg.Domain, *addr)
	} else {
		log.Printf("serving on %s", *addr)
	}
	if err := http.ListenAndServe(*addr, handler); err != nil {
		log.Fatalln(err)
	}
}
