// Command cachecored is a minimal demo binary for the caching core: it
// parses store tokens and a listen address, wires a corecache.Context,
// and serves a read-only counters dump over HTTP. It is not the
// excluded VCL/config-loading management plane (spec.md's Non-goals) —
// just enough of a process to watch the core run.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coreproxy/cachecore/common"
	"github.com/coreproxy/cachecore/config"
	"github.com/coreproxy/cachecore/corecache"
	"github.com/coreproxy/cachecore/log"
	"github.com/coreproxy/cachecore/metrics"
	"github.com/gorilla/mux"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
)

var (
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "address the debug/metrics HTTP endpoint listens on",
		Value: "127.0.0.1:6081",
	}
	storeFlag = &cli.StringSliceFlag{
		Name:  "store",
		Usage: `storage engine token, name=kind[,args...] (e.g. "disk0=file,/var/cache/disk0,10G")`,
	}
	transientFlag = &cli.IntFlag{
		Name:  "transient-bytes",
		Usage: "memory budget for the built-in transient store",
		Value: 256 << 20,
	}
)

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Info(fmt.Sprintf(format, args...))
	})); err != nil {
		log.Warn("cachecored: GOMAXPROCS adjustment failed", "err", err)
	}

	app := &cli.App{
		Name:  "cachecored",
		Usage: "run the caching core with a debug/metrics HTTP endpoint",
		Flags: []cli.Flag{listenFlag, storeFlag, transientFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("cachecored: fatal", "err", err)
	}
}

func run(c *cli.Context) error {
	tokens, err := parseStoreTokens(c.StringSlice(storeFlag.Name))
	if err != nil {
		return err
	}

	reg, err := corecache.NewRegistry(tokens, c.Int(transientFlag.Name))
	if err != nil {
		return err
	}

	ctx, err := corecache.New(common.RealClock{}, config.NewParams(), reg)
	if err != nil {
		return err
	}
	ctx.Start()

	srv := newDebugServer(c.String(listenFlag.Name))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("cachecored: debug server stopped", "err", err)
		}
	}()
	log.Info("cachecored: listening", "addr", c.String(listenFlag.Name), "stores", len(tokens))

	waitForSignal()

	log.Info("cachecored: shutting down")
	_ = srv.Close()
	ctx.Close()
	return corecache.CloseRegistry(reg)
}

// parseStoreTokens turns repeated --store name=token flags into the map
// corecache.NewRegistry expects (spec.md §6 "Storage engine registration").
func parseStoreTokens(raw []string) (map[string]string, error) {
	tokens := make(map[string]string, len(raw))
	for _, r := range raw {
		name, token, ok := strings.Cut(r, "=")
		if !ok || name == "" || token == "" {
			return nil, fmt.Errorf("cachecored: malformed --store value %q, want name=token", r)
		}
		tokens[name] = token
	}
	return tokens, nil
}

// newDebugServer builds the read-only counters endpoint (spec.md §6
// "Counters"), routed through gorilla/mux the way the teacher's own RPC
// servers separate route registration from the net/http plumbing.
func newDebugServer(addr string) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/debug/metrics", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(metrics.Snapshot())
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
