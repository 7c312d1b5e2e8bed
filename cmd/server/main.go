package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jun/gophsync/internal/app"
	"github.com/jun/gophsync/internal/config"
	"github.com/jun/gophsync/internal/logutils"
)

func main() {
	cfg := config.GetConfig()
	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	application := app.NewApp(context.Background())
	defer application.Close()

	r := application.Router(prometheus.DefaultGatherer)
	logutils.Log.WithField("addr", cfg.ListenAddr).Info("starting local server")
	if err := r.Run(cfg.ListenAddr); err != nil {
		logutils.Log.Fatal(err)
	}
}
