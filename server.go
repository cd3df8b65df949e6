package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/notegate/notegate/config"
	"github.com/notegate/notegate/graph"
	"github.com/notegate/notegate/internal/runtime"
	"github.com/notegate/notegate/routes"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

const defaultConfigPath = "notegate.yaml"
const serviceName = "notegate"
const insecure = true

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	configPath := os.Getenv("NOTEGATE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	collectorURL := os.Getenv("COLLECTOR_URL")
	useOpenTelemetry := false
	if collectorURL != "" {
		cleanup := initTracer(collectorURL)
		defer cleanup(context.Background())
		if cleanup != nil {
			useOpenTelemetry = true
		}
	}

	ctx, cancel := runtime.SignalContext(context.Background())
	defer cancel()

	executor, err := graph.NewGateway(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("connect to http://localhost:%s/ for GraphQL playground", cfg.Server.Port)
	// the below function sets up the routes for the server
	// this includes the graphql stuff
	r := routes.Run(executor, useOpenTelemetry, serviceName)
	// this configures the basic server stuff
	s := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadTimeout:       2 * time.Second,
		WriteTimeout:      cfg.Server.Deadline.Std() + 2*time.Second,
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}
	s.SetKeepAlivesEnabled(false)

	go func() {
		<-ctx.Done()
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer drainCancel()
		if err := s.Shutdown(drainCtx); err != nil {
			log.Warn("shutdown: ", err)
		}
	}()

	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func initTracer(collectorURL string) func(context.Context) error {

	secureOption := otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, ""))
	if insecure {
		secureOption = otlptracegrpc.WithInsecure()
	}

	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			secureOption,
			otlptracegrpc.WithEndpoint(collectorURL),
		),
	)

	if err != nil {
		log.Fatal(err)
	}
	resources, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		log.Print("Could not set resources: ", err)
	}
	otel.SetTracerProvider(
		sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resources),
		),
	)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return exporter.Shutdown
}
