// Package main boots the media acquisition service: HTTP resolver,
// batch sweep task and disk-space guard under one Kratos lifecycle.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/bionicotaku/lingo-utils/observability"
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	"github.com/bionicotaku/lingo-services-media/internal/infrastructure/conf"
	loginfra "github.com/bionicotaku/lingo-services-media/internal/infrastructure/logger"
	"github.com/bionicotaku/lingo-services-media/internal/tasks/diskguard"
	"github.com/bionicotaku/lingo-services-media/internal/tasks/mediasweep"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name string
	// Version is the version of the compiled software.
	Version string

	id, _ = os.Hostname()
)

func newApp(
	logger log.Logger,
	hs *http.Server,
	guard *diskguard.Guard,
	sweep *mediasweep.Runner,
	meta conf.ServiceMetadata,
) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(meta.Name),
		kratos.Version(meta.Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			hs,
			guard,
			sweep,
		),
	)
}

func main() {
	// Parse command-line flags (currently only -conf).
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	confPath, err := conf.ParseConfPath(fs, os.Args[1:])
	if err != nil {
		panic(err)
	}

	// Load runtime configuration and derive service metadata.
	rc, cleanupConfig, err := conf.Load(conf.Params{ConfPath: confPath, Name: Name, Version: Version})
	if err != nil {
		panic(err)
	}
	defer cleanupConfig()

	// Build the structured logger used by the entire application.
	loggr, err := loginfra.NewLogger(rc.Service)
	if err != nil {
		panic(err)
	}

	obsShutdown, err := observability.Init(context.Background(), rc.Observability,
		observability.WithLogger(loggr),
		observability.WithServiceName(rc.Service.Name),
		observability.WithServiceVersion(rc.Service.Version),
		observability.WithEnvironment(rc.Service.Environment),
	)
	if err != nil {
		panic(err)
	}
	defer func() {
		if obsShutdown == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obsShutdown(ctx); err != nil {
			log.NewHelper(loggr).Warnf("shutdown observability: %v", err)
		}
	}()

	// Assemble all dependencies (logger, servers, repositories, etc.) via Wire and create the Kratos app.
	app, cleanupApp, err := wireApp(context.Background(), rc, loggr)
	if err != nil {
		panic(err)
	}
	defer cleanupApp()

	// Start the application and block until a stop signal is received.
	if err := app.Run(); err != nil {
		panic(err)
	}
}
