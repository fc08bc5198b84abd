// Copyright (c) 2024 The vecs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package web is the optional administrative HTTP surface: metrics,
// pprof, a liveness probe, and a version endpoint. It is gated by
// config.Config.AdminPort and never touches the reactor's owned state
// directly — it only reads counters the reactor updates.
package web

import (
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version is set by the main package's build metadata, mirroring the
// teacher's ldflags-injected CommitSHA/Tag/BuildTime.
var Version = "dev"

// Init registers the admin routes on ginSrv, same set the teacher
// exposes from web.Init (pprof + /metrics), plus a liveness probe and
// a version endpoint this server adds.
func Init(ginSrv *gin.Engine) {
	pprof.Register(ginSrv)
	ginSrv.GET("/metrics", gin.WrapH(promhttp.Handler()))
	ginSrv.GET("/healthz", handleHealthz)
	ginSrv.GET("/version", handleVersion)
}

func handleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": Version})
}
