package main

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"

	"github.com/storelink/dpdbridge/internal/config"
	"github.com/storelink/dpdbridge/internal/label"
	"github.com/storelink/dpdbridge/internal/shipment"
	"github.com/storelink/dpdbridge/internal/store"
	"github.com/storelink/dpdbridge/internal/telemetry"
	"github.com/storelink/dpdbridge/pkg/dpdconnect"
)

func loadConfig() (*config.Config, error) {
	// A local .env is optional; the environment always wins.
	_ = godotenv.Load()
	return config.Load()
}

func initLogger(cfg *config.Config) (*otelzap.Logger, error) {
	return telemetry.NewLogger(cfg.ServiceName, cfg.LogLevel)
}

func initTracer(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return func(context.Context) error { return nil }, nil
	}
	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.Attributes())
}

// dependencies is the wired object graph shared by the commands.
type dependencies struct {
	db           *sqlx.DB
	carrier      *dpdconnect.Client
	labels       *store.LabelStore
	batches      *store.BatchStore
	orders       *store.OrderStore
	metrics      *telemetry.Metrics
	orchestrator *label.Orchestrator
}

func buildDependencies(cfg *config.Config, logger *otelzap.Logger) (*dependencies, error) {
	db, err := store.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	tracer := otel.Tracer(cfg.ServiceName)
	settings := store.NewSettingsStore(db)

	carrier := dpdconnect.New(dpdconnect.Config{
		BaseURL:  cfg.DPDBaseURL,
		Username: cfg.DPDUsername,
		Password: cfg.DPDPassword,
		UseMock:  cfg.DPDUseMock,
	}, settings, logger, tracer)

	orders := store.NewOrderStore(db)
	products := store.NewProductStore(db)
	labels := store.NewLabelStore(db)
	batches := store.NewBatchStore(db)
	metrics := telemetry.NewMetrics()

	builder := shipment.NewBuilder(
		shipment.SenderConfig{
			Depot:      cfg.SenderDepot,
			Company:    cfg.SenderCompany,
			Street:     cfg.SenderStreet,
			Country:    cfg.SenderCountry,
			PostalCode: cfg.SenderPostalCode,
			City:       cfg.SenderCity,
			Phone:      cfg.SenderPhone,
			Email:      cfg.SenderEmail,
			VATNumber:  cfg.SenderVATNumber,
			EORINumber: cfg.SenderEORINumber,
			SPRN:       cfg.SenderSPRN,
		},
		shipment.CustomsConfig{
			HSCodeFeature:        cfg.HSCodeFeature,
			OriginCountryFeature: cfg.OriginCountryFeature,
			CustomsValueFeature:  cfg.CustomsValueFeature,
			AgeCheckFeature:      cfg.AgeCheckFeature,
			DefaultHSCode:        cfg.DefaultHSCode,
			DefaultLineWeight:    100,
		},
		products,
		carrier,
	)

	orchestrator := label.New(
		carrier,
		labels,
		batches,
		orders,
		products,
		builder,
		label.Options{
			AsyncThreshold: cfg.AsyncThreshold,
			CallbackURL:    cfg.CallbackURL,
			PaperFormat:    cfg.PaperFormat,
		},
		metrics,
		logger,
		tracer,
	)

	return &dependencies{
		db:           db,
		carrier:      carrier,
		labels:       labels,
		batches:      batches,
		orders:       orders,
		metrics:      metrics,
		orchestrator: orchestrator,
	}, nil
}
