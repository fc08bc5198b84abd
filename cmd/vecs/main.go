// Copyright (c) 2024 The vecs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License"): you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations
// under the License.

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/riccardogiuriola/vecs/internal/config"
	"github.com/riccardogiuriola/vecs/internal/embedder"
	"github.com/riccardogiuriola/vecs/internal/logging"
	"github.com/riccardogiuriola/vecs/internal/reactor"
	"github.com/riccardogiuriola/vecs/internal/stats"
	"github.com/riccardogiuriola/vecs/web"
)

// defaultEmbeddingDim is the vector width of the reference hash
// embedder, which main always uses whatever MODEL_PATH names. spec.md
// §4.F leaves the embedding model opaque; this repository's core only
// needs whatever dimension the configured Embedder reports from Dim().
const defaultEmbeddingDim = 256

var (
	version = flag.Bool("v", false, "Show version")
	help    = flag.Bool("h", false, "Show usage info")
)

var (
	CommitSHA string
	Tag       string
	BuildTime string
)

func init() {
	if Tag == "" {
		Tag = "dev"
	}
	if CommitSHA == "" {
		CommitSHA = "unknown"
	}
	if BuildTime == "" {
		BuildTime = "unknown"
	}
}

const banner = `
__   _____  ___ ___
\ \ / / _ \/ __/ __|
 \ V /  __/ (__\__ \
  \_/ \___|\___|___/
`

func parseCLI() {
	flag.Parse()
	if *version {
		fmt.Printf("version: %s\ncommit: %s\ntime: %s\n", Tag, CommitSHA, BuildTime)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}
}

func main() {
	parseCLI()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}

	if err := logging.Init(
		logging.WithPath(cfg.LogPath),
		logging.WithExpireDay(cfg.LogExpireDay),
		logging.WithLevel(cfg.LogLevel),
	); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %s\n", err)
		os.Exit(1)
	}

	if err := config.WatchLogLevel(os.Getenv("CONFIG_FILE")); err != nil {
		logging.Warnf("config watch not started: %s", err)
	}

	fmt.Print(banner)
	fmt.Printf("vecs version: %s, pid: %d\n", Tag, os.Getpid())
	logging.Infof("vecs starting: version=%s port=%d pid=%d", Tag, cfg.Port, os.Getpid())

	st := stats.New("vecs")
	emb := embedder.NewHashEmbedder(defaultEmbeddingDim, cfg.NumWorkers, cfg.ModelPath)

	if cfg.AdminPort > 0 {
		startAdminServer(cfg.AdminPort)
	}

	eng, err := reactor.New(cfg, emb, st)
	if err != nil {
		logging.Errorf("failed to initialize reactor: %s", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Infof("vecs received signal %s, shutting down", sig)
		eng.Shutdown()
		os.Exit(0)
	}()

	if err := eng.Run(); err != nil {
		logging.Errorf("reactor exited with error: %s", err)
		eng.Shutdown()
		os.Exit(1)
	}

	logging.Infof("vecs shutdown, pid: %d", os.Getpid())
}

func startAdminServer(port int) {
	web.Version = Tag
	gin.SetMode(gin.ReleaseMode)
	ginSrv := gin.New()
	web.Init(ginSrv)
	httpSrv := &http.Server{Handler: ginSrv, Addr: fmt.Sprintf(":%d", port)}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("admin http server failed: %s", err)
		}
	}()
}
