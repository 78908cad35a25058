// Package label orchestrates label generation: collecting archived
// labels, building shipment requests, submitting them to the carrier
// sync or async, and reconciling the results into the label archive.
package label

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/storelink/dpdbridge/internal/shipment"
	"github.com/storelink/dpdbridge/internal/store"
	"github.com/storelink/dpdbridge/internal/telemetry"
	"github.com/storelink/dpdbridge/pkg/dpdconnect"
)

// Async threshold bounds. A configured threshold outside [1,10] falls
// back to the maximum.
const (
	minAsyncThreshold     = 1
	maxAsyncThreshold     = 10
	defaultAsyncThreshold = 10
)

// Gateway is the carrier booking surface the orchestrator needs.
type Gateway interface {
	CreateShipments(ctx context.Context, req *dpdconnect.LabelRequest) (*dpdconnect.LabelResponseList, error)
	CreateShipmentsAsync(ctx context.Context, req *dpdconnect.AsyncLabelRequest) ([]dpdconnect.Job, error)
}

// LabelArchive is the label persistence surface.
type LabelArchive interface {
	Get(ctx context.Context, orderID int, retour bool) (*store.LabelRecord, error)
	Insert(ctx context.Context, rec *store.LabelRecord) error
}

// BatchWriter records async batches.
type BatchWriter interface {
	CreateBatch(ctx context.Context, batchID string, jobs []store.JobRecord) error
}

// OrderWriter extends the read-only order source with the tracking
// write-back done during reconciliation.
type OrderWriter interface {
	shipment.OrderSource
	SetTrackingNumber(ctx context.Context, orderID int, tracking string) error
}

// ExtrasSource reads per-order fresh/freeze metadata.
type ExtrasSource interface {
	FreshFreezeInfo(ctx context.Context, orderID, productID int) (shipment.FreshFreezeInfo, error)
}

// Options steers one orchestrator instance.
type Options struct {
	AsyncThreshold int
	CallbackURL    string
	PaperFormat    string // "A4" or "A6"
}

// Request is one label generation invocation.
type Request struct {
	OrderIDs    []int
	ParcelCount int
	IsReturn    bool
}

// ReadyLabel is one label available for direct download.
type ReadyLabel struct {
	OrderID    int
	ShipmentID string
	PDF        []byte
}

// Result is the outcome of one generation run. Exactly one of the
// three shapes is meaningful: a non-empty error set, a batch id for an
// async hand-off, or the ready label set.
type Result struct {
	Labels  []ReadyLabel
	BatchID string
	Errors  ErrorSet
}

// submission pairs one submitted shipment with its originating order.
// The slice is ordered 1:1 with the carrier request, so carrier error
// indices and job lists map back to orders without guessing.
type submission struct {
	OrderID int
	Retour  bool
}

// Orchestrator drives the label generation state machine.
type Orchestrator struct {
	gateway Gateway
	labels  LabelArchive
	batches BatchWriter
	orders  OrderWriter
	extras  ExtrasSource
	builder *shipment.Builder
	opts    Options
	metrics *telemetry.Metrics
	logger  *otelzap.Logger
	tracer  trace.Tracer
}

// New creates an orchestrator.
func New(gateway Gateway, labels LabelArchive, batches BatchWriter, orders OrderWriter, extras ExtrasSource, builder *shipment.Builder, opts Options, metrics *telemetry.Metrics, logger *otelzap.Logger, tracer trace.Tracer) *Orchestrator {
	return &Orchestrator{
		gateway: gateway,
		labels:  labels,
		batches: batches,
		orders:  orders,
		extras:  extras,
		builder: builder,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
		tracer:  tracer,
	}
}

// Generate runs one label generation invocation to completion.
//
// Archived labels are re-served without a carrier call. Soft per-order
// problems skip only the offending order; its siblings are still
// submitted and persisted. Any recorded error suppresses the artifact,
// but persisted labels remain retrievable through the archive.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "label.Generate")
	defer span.End()

	result := &Result{}

	o.logger.Ctx(ctx).Info("Generating labels",
		zap.Int("order_count", len(req.OrderIDs)),
		zap.Bool("return", req.IsReturn),
	)

	shipments, order, err := o.collect(ctx, req, result)
	if err != nil {
		return nil, err
	}

	if len(shipments) == 0 {
		return result, nil
	}

	if len(shipments) >= clampThreshold(o.opts.AsyncThreshold) {
		if err := o.submitAsync(ctx, req, shipments, order, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	o.submitSync(ctx, req, shipments, order, result)
	return result, nil
}

// collect walks the requested orders, serving archived labels and
// building carrier shipments for the rest. The returned submission
// slice is ordered 1:1 with the shipments.
func (o *Orchestrator) collect(ctx context.Context, req Request, result *Result) ([]dpdconnect.Shipment, []submission, error) {
	var shipments []dpdconnect.Shipment
	var order []submission

	for _, orderID := range req.OrderIDs {
		archived, err := o.labels.Get(ctx, orderID, req.IsReturn)
		if err == nil {
			result.Labels = append(result.Labels, ReadyLabel{
				OrderID:    orderID,
				ShipmentID: archived.MPSID,
				PDF:        archived.Label,
			})
			continue
		}
		if !errors.Is(err, store.ErrLabelNotFound) {
			return nil, nil, fmt.Errorf("checking label archive for order %d: %w", orderID, err)
		}

		ord, err := o.orders.Order(ctx, orderID)
		if err != nil && !errors.Is(err, shipment.ErrOrderNotFound) {
			return nil, nil, fmt.Errorf("loading order %d: %w", orderID, err)
		}

		// Orders neither routed through our carrier nor carrying
		// fresh/freeze lines never reach the carrier.
		if ord != nil && !shipment.Eligible(ord) {
			o.logger.Ctx(ctx).Info("Skipping order outside carrier routing",
				zap.Int("order_id", orderID),
			)
			continue
		}

		groups := []shipment.Group{{OrderID: orderID}}
		if ord != nil {
			groups = shipment.Bundle(ord)
			if len(groups) == 0 {
				groups = []shipment.Group{{OrderID: orderID}}
			}
		}

		for _, group := range groups {
			extras, err := o.loadExtras(ctx, group)
			if err != nil {
				return nil, nil, err
			}

			sh, issues, err := o.builder.Build(ctx, ord, group, req.ParcelCount, req.IsReturn, extras)
			if err != nil {
				// Multi-parcel validation aborts the whole batch
				// before anything reaches the carrier.
				return nil, nil, err
			}
			for _, issue := range issues {
				result.Errors.AddIssue(issue)
			}
			if sh == nil {
				break
			}

			shipments = append(shipments, *sh)
			order = append(order, submission{OrderID: orderID, Retour: req.IsReturn})
		}
	}

	return shipments, order, nil
}

// loadExtras fetches fresh/freeze metadata for temperature controlled
// groups; other groups carry none.
func (o *Orchestrator) loadExtras(ctx context.Context, group shipment.Group) (shipment.Extras, error) {
	if !group.SubType.TemperatureControlled() {
		return nil, nil
	}

	extras := shipment.Extras{group.OrderID: {}}
	for _, line := range group.Lines {
		info, err := o.extras.FreshFreezeInfo(ctx, group.OrderID, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("loading fresh/freeze info for order %d: %w", group.OrderID, err)
		}
		extras[group.OrderID][line.ProductID] = info
	}
	return extras, nil
}

// submitAsync hands the batch to the carrier job pipeline and records
// the batch with one job per accepted shipment.
func (o *Orchestrator) submitAsync(ctx context.Context, req Request, shipments []dpdconnect.Shipment, order []submission, result *Result) error {
	batchID := uuid.NewString()

	jobs, err := o.gateway.CreateShipmentsAsync(ctx, &dpdconnect.AsyncLabelRequest{
		CallbackURI: o.opts.CallbackURL,
		Label:       o.labelRequest(shipments),
	})
	if err != nil {
		o.recordCarrierError(err, order, result)
		return nil
	}

	if len(jobs) != len(order) {
		result.Errors.AddBatch("carrier returned %d jobs for %d shipments", len(jobs), len(order))
		return nil
	}

	records := make([]store.JobRecord, 0, len(jobs))
	for i, job := range jobs {
		records = append(records, store.JobRecord{
			CarrierJobID: job.JobID,
			OrderID:      order[i].OrderID,
			Retour:       order[i].Retour,
		})
	}

	if err := o.batches.CreateBatch(ctx, batchID, records); err != nil {
		return fmt.Errorf("recording batch %s: %w", batchID, err)
	}

	o.logger.Ctx(ctx).Info("Batch handed to carrier job pipeline",
		zap.String("batch_id", batchID),
		zap.Int("job_count", len(records)),
	)

	result.BatchID = batchID
	return nil
}

// submitSync books the batch inline and reconciles the responses into
// the label archive.
func (o *Orchestrator) submitSync(ctx context.Context, req Request, shipments []dpdconnect.Shipment, order []submission, result *Result) {
	labelReq := o.labelRequest(shipments)
	resp, err := o.gateway.CreateShipments(ctx, &labelReq)
	if err != nil {
		o.recordCarrierError(err, order, result)
		return
	}

	o.reconcile(ctx, req, resp, result)
}

// reconcile persists each booked label and writes the tracking number
// back onto the order.
func (o *Orchestrator) reconcile(ctx context.Context, req Request, resp *dpdconnect.LabelResponseList, result *Result) {
	for _, lr := range resp.LabelResponses {
		orderID, err := strconv.Atoi(lr.OrderID)
		if err != nil {
			result.Errors.AddBatch("carrier returned unknown order reference %q", lr.OrderID)
			continue
		}

		pdf, err := base64.StdEncoding.DecodeString(lr.Label)
		if err != nil {
			result.Errors.AddOrder(orderID, "carrier returned an unreadable label")
			continue
		}

		shipped := false
		if ord, err := o.orders.Order(ctx, orderID); err == nil {
			shipped = ord.Status == shipment.StatusShipped || ord.Status == shipment.StatusDelivered
		}

		rec := &store.LabelRecord{
			OrderID:       orderID,
			Retour:        req.IsReturn,
			MPSID:         lr.ShipmentIdentifier,
			ParcelNumbers: store.StringList(lr.ParcelNumbers),
			Label:         pdf,
			Shipped:       shipped,
		}
		if err := o.labels.Insert(ctx, rec); err != nil {
			result.Errors.AddOrder(orderID, "storing label failed: %v", err)
			continue
		}

		if len(lr.ParcelNumbers) > 0 {
			if err := o.orders.SetTrackingNumber(ctx, orderID, lr.ParcelNumbers[0]); err != nil {
				o.logger.Ctx(ctx).Warn("Writing tracking number failed",
					zap.Int("order_id", orderID),
					zap.Error(err),
				)
			}
		}

		result.Labels = append(result.Labels, ReadyLabel{
			OrderID:    orderID,
			ShipmentID: lr.ShipmentIdentifier,
			PDF:        pdf,
		})
	}
}

func (o *Orchestrator) labelRequest(shipments []dpdconnect.Shipment) dpdconnect.LabelRequest {
	paper := o.opts.PaperFormat
	if paper == "" {
		paper = "A4"
	}
	return dpdconnect.LabelRequest{
		PrintOptions: dpdconnect.PrintOptions{
			PrinterLanguage: "PDF",
			PaperFormat:     paper,
		},
		CreateLabel: true,
		Shipments:   shipments,
	}
}

// clampThreshold keeps the async threshold inside the carrier's
// supported range; anything outside falls back to the default.
func clampThreshold(t int) int {
	if t < minAsyncThreshold || t > maxAsyncThreshold {
		return defaultAsyncThreshold
	}
	return t
}

// shipmentPathRe matches the carrier's flat error paths, e.g.
// "shipments[2].receiver.postalcode".
var shipmentPathRe = regexp.MustCompile(`shipments\[(\d+)\]\.?(.*)`)

// recordCarrierError turns a carrier failure into user-facing messages.
// Structured validation details map back to order ids through the
// ordered submission slice; anything else becomes one batch message.
func (o *Orchestrator) recordCarrierError(err error, order []submission, result *Result) {
	validation, ok := dpdconnect.AsValidation(err)
	if !ok {
		o.metrics.RecordError("carrier_fault")
		result.Errors.AddBatch("carrier request failed: %v", err)
		return
	}

	o.metrics.RecordError("validation")
	for _, detail := range validation.Details {
		match := shipmentPathRe.FindStringSubmatch(detail.Path)
		if match == nil {
			result.Errors.AddBatch("%s: %s", detail.Path, detail.Message)
			continue
		}

		index, convErr := strconv.Atoi(match[1])
		if convErr != nil || index < 0 || index >= len(order) {
			result.Errors.AddBatch("%s: %s", detail.Path, detail.Message)
			continue
		}

		field := match[2]
		if field == "" {
			result.Errors.AddOrder(order[index].OrderID, "%s", detail.Message)
			continue
		}
		result.Errors.AddOrder(order[index].OrderID, "%s: %s", field, detail.Message)
	}
}
