// Command meshnode runs one cluster member: it registers itself in
// etcd, discovers peers, and serves the replicated map over HTTP.
// Adapted from the teacher's cmd/server/main.go boot sequence (etcd
// client, bootstrap-from-existing-registrations, WatchPeers callback,
// mux wiring) with the ring/kv store swapped for meshmap.Map.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/meshmap/internal/telemetry"
	"github.com/ryandielhenn/meshmap/pkg/codec/gobcodec"
	"github.com/ryandielhenn/meshmap/pkg/discovery"
	"github.com/ryandielhenn/meshmap/pkg/meshmap"
	"github.com/ryandielhenn/meshmap/pkg/meshnode"
	"github.com/ryandielhenn/meshmap/pkg/transport/httpchan"
	"github.com/ryandielhenn/meshmap/pkg/value"
)

// Overridden at build time via -ldflags "-X main.buildVersion=... -X main.buildGitSHA=...".
var (
	buildVersion = "dev"
	buildGitSHA  = "unknown"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	telemetry.SetBuildInfo(buildVersion, buildGitSHA)

	selfID := os.Getenv("SELF_ID")
	selfAddr := os.Getenv("SELF_ADDR") // e.g. "http://10.0.0.3:8080"
	if selfAddr == "" {
		selfAddr = "http://localhost:8080"
	}

	ttl := int64(10)
	if v := os.Getenv("LEASE_TTL_SECONDS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			ttl = n
		}
	}

	logger.Info("creating etcd client")
	cli, err := discovery.NewClient([]string{etcdEndpoint()})
	if err != nil {
		log.Fatal(err)
	}
	defer cli.Close()

	transport := httpchan.New(selfAddr)
	channel, rpc := transport.MapContext("kv")

	metrics := telemetry.NewMeshmap("kv")
	m, err := meshmap.New[string, value.Bytes](
		channel, rpc,
		gobcodec.New[string](), gobcodec.New[value.Bytes](),
		"kv",
		meshmap.WithLogger[string, value.Bytes](logger),
		meshmap.WithMetrics[string, value.Bytes](metrics),
	)
	if err != nil {
		log.Fatal(err)
	}

	node := meshnode.New(m, selfAddr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("registering with etcd", zap.String("id", selfID), zap.String("addr", selfAddr))
	if _, err := discovery.RegisterNode(ctx, cli, selfID, selfAddr, ttl); err != nil {
		log.Fatal(err)
	}

	peers, err := discovery.GetPeers(ctx, cli)
	if err != nil {
		log.Fatal(err)
	}
	bootstrap := make(map[meshmap.MemberID]string, len(peers))
	for _, p := range peers {
		if p.Addr == selfAddr {
			continue
		}
		bootstrap[meshmap.MemberID(p.Addr)] = p.Addr
	}
	transport.UpdatePeers(bootstrap)

	go discovery.WatchPeers(ctx, cli, func(n discovery.Node, ev discovery.EventType) {
		if n.Addr == selfAddr {
			return
		}
		switch ev {
		case discovery.PeerAdded:
			logger.Info("peer discovered", zap.String("addr", n.Addr))
		case discovery.PeerRemoved:
			logger.Info("peer lost", zap.String("addr", n.Addr))
		}
		refreshed, err := discovery.GetPeers(ctx, cli)
		if err != nil {
			logger.Warn("unable to refresh peers", zap.Error(err))
			return
		}
		addrs := make(map[meshmap.MemberID]string, len(refreshed))
		for _, p := range refreshed {
			if p.Addr == selfAddr {
				continue
			}
			addrs[meshmap.MemberID(p.Addr)] = p.Addr
		}
		transport.UpdatePeers(addrs)
	})

	heartbeat := time.NewTicker(5 * time.Second)
	defer heartbeat.Stop()
	go func() {
		for range heartbeat.C {
			m.Heartbeat()
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", node.Healthz)
	mux.HandleFunc("/info", node.Info)
	mux.HandleFunc("/debug", node.Debug)
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.HandleFunc("/kv/", func(w http.ResponseWriter, r *http.Request) {
		op := methodToOp(r.Method)
		telemetry.Instrument(op, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPut, http.MethodPost:
				node.Put(w, r)
			case http.MethodGet:
				node.Get(w, r)
			case http.MethodDelete:
				node.Del(w, r)
			default:
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			}
		})).ServeHTTP(w, r)
	})
	mux.Handle("/meshmap/", transport.Handler())

	listenAddr := ":8080"
	fmt.Println("meshnode listening on", listenAddr)
	if err := http.ListenAndServe(listenAddr, mux); err != nil {
		log.Fatal(err)
	}
}

func etcdEndpoint() string {
	if v := os.Getenv("ETCD_ENDPOINT"); v != "" {
		return v
	}
	return "http://etcd:2379"
}

func methodToOp(m string) string {
	switch m {
	case http.MethodGet:
		return "get"
	case http.MethodPut:
		return "put"
	case http.MethodPost:
		return "post"
	case http.MethodDelete:
		return "delete"
	default:
		return "other"
	}
}
