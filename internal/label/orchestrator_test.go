package label_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/storelink/dpdbridge/internal/label"
	"github.com/storelink/dpdbridge/internal/shipment"
	"github.com/storelink/dpdbridge/internal/store"
	"github.com/storelink/dpdbridge/internal/telemetry"
	"github.com/storelink/dpdbridge/pkg/dpdconnect"
)

// Prometheus collectors register globally, so all tests in the package
// share one instance.
var testMetrics = telemetry.NewMetrics()

// ============================================================================
// Test doubles
// ============================================================================

type fakeGateway struct {
	OnCreateShipments      func(ctx context.Context, req *dpdconnect.LabelRequest) (*dpdconnect.LabelResponseList, error)
	OnCreateShipmentsAsync func(ctx context.Context, req *dpdconnect.AsyncLabelRequest) ([]dpdconnect.Job, error)

	SyncCalls  int
	AsyncCalls int
}

func (g *fakeGateway) CreateShipments(ctx context.Context, req *dpdconnect.LabelRequest) (*dpdconnect.LabelResponseList, error) {
	g.SyncCalls++
	if g.OnCreateShipments != nil {
		return g.OnCreateShipments(ctx, req)
	}

	resp := &dpdconnect.LabelResponseList{}
	for i, sh := range req.Shipments {
		resp.LabelResponses = append(resp.LabelResponses, dpdconnect.LabelResponse{
			OrderID:            sh.OrderID,
			ShipmentIdentifier: fmt.Sprintf("MPS%s", sh.OrderID),
			ParcelNumbers:      []string{fmt.Sprintf("0555%04d", i)},
			Label:              base64.StdEncoding.EncodeToString([]byte("%PDF " + sh.OrderID)),
		})
	}
	return resp, nil
}

func (g *fakeGateway) CreateShipmentsAsync(ctx context.Context, req *dpdconnect.AsyncLabelRequest) ([]dpdconnect.Job, error) {
	g.AsyncCalls++
	if g.OnCreateShipmentsAsync != nil {
		return g.OnCreateShipmentsAsync(ctx, req)
	}

	jobs := make([]dpdconnect.Job, 0, len(req.Label.Shipments))
	for i := range req.Label.Shipments {
		jobs = append(jobs, dpdconnect.Job{JobID: fmt.Sprintf("job-%d", i)})
	}
	return jobs, nil
}

type archiveKey struct {
	orderID int
	retour  bool
}

type fakeArchive struct {
	records  map[archiveKey]*store.LabelRecord
	inserted []*store.LabelRecord
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{records: make(map[archiveKey]*store.LabelRecord)}
}

func (a *fakeArchive) Get(ctx context.Context, orderID int, retour bool) (*store.LabelRecord, error) {
	if rec, ok := a.records[archiveKey{orderID, retour}]; ok {
		return rec, nil
	}
	return nil, store.ErrLabelNotFound
}

func (a *fakeArchive) Insert(ctx context.Context, rec *store.LabelRecord) error {
	a.records[archiveKey{rec.OrderID, rec.Retour}] = rec
	a.inserted = append(a.inserted, rec)
	return nil
}

type fakeBatches struct {
	created map[string][]store.JobRecord
}

func newFakeBatches() *fakeBatches {
	return &fakeBatches{created: make(map[string][]store.JobRecord)}
}

func (b *fakeBatches) CreateBatch(ctx context.Context, batchID string, jobs []store.JobRecord) error {
	b.created[batchID] = jobs
	return nil
}

type fakeOrders struct {
	orders   map[int]*shipment.Order
	tracking map[int]string
}

func newFakeOrders(orders ...*shipment.Order) *fakeOrders {
	f := &fakeOrders{orders: make(map[int]*shipment.Order), tracking: make(map[int]string)}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) Order(ctx context.Context, id int) (*shipment.Order, error) {
	if o, ok := f.orders[id]; ok {
		return o, nil
	}
	return nil, shipment.ErrOrderNotFound
}

func (f *fakeOrders) SetTrackingNumber(ctx context.Context, orderID int, tracking string) error {
	f.tracking[orderID] = tracking
	return nil
}

type fakeExtras struct {
	infos map[int]shipment.FreshFreezeInfo // keyed by product id
}

func (f *fakeExtras) FreshFreezeInfo(ctx context.Context, orderID, productID int) (shipment.FreshFreezeInfo, error) {
	return f.infos[productID], nil
}

type stubProducts struct{}

func (stubProducts) Product(ctx context.Context, id int) (*shipment.Product, error) {
	return &shipment.Product{ID: id, Features: map[string]string{}}, nil
}

func (stubProducts) Override(ctx context.Context, productID int, column string) (string, error) {
	return "", nil
}

type stubCountries struct{}

func (stubCountries) SingleMarket(ctx context.Context, iso2 string) (bool, error) {
	return iso2 == "NL" || iso2 == "nl", nil
}

// ============================================================================
// Helpers
// ============================================================================

type testEnv struct {
	gateway *fakeGateway
	archive *fakeArchive
	batches *fakeBatches
	orders  *fakeOrders
}

func newTestOrchestrator(t *testing.T, env *testEnv, opts label.Options) *label.Orchestrator {
	t.Helper()

	builder := shipment.NewBuilder(
		shipment.SenderConfig{Depot: "0522", Company: "Storelink BV", Country: "NL"},
		shipment.CustomsConfig{DefaultHSCode: "080550", DefaultLineWeight: 100},
		stubProducts{},
		stubCountries{},
	)

	return label.New(
		env.gateway,
		env.archive,
		env.batches,
		env.orders,
		&fakeExtras{},
		builder,
		opts,
		testMetrics,
		otelzap.New(zap.NewNop()),
		otel.Tracer("test"),
	)
}

func openOrder(id int) *shipment.Order {
	return &shipment.Order{
		ID:          id,
		Status:      shipment.StatusOpen,
		CurrencyISO: "EUR",
		Customer:    shipment.Customer{Email: "jan@example.com"},
		Delivery: &shipment.Address{
			FirstName:  "Jan",
			LastName:   "Jansen",
			Line1:      "Dorpsstraat 1",
			City:       "Amsterdam",
			PostalCode: "1234AB",
			CountryISO: "NL",
			Phone:      "+31612345678",
		},
		Lines: []shipment.Line{
			{ProductID: 1, Reference: fmt.Sprintf("SKU-%d", id), Name: "Widget", WeightKG: 1, Quantity: 1, SubType: shipment.SubTypeRegular},
		},
		Routing: shipment.Routing{Managed: true},
	}
}

func manyOrders(n int) (*fakeOrders, []int) {
	orders := newFakeOrders()
	ids := make([]int, 0, n)
	for i := 0; i < n; i++ {
		id := 100 + i
		orders.orders[id] = openOrder(id)
		ids = append(ids, id)
	}
	return orders, ids
}

// ============================================================================
// Tests
// ============================================================================

func TestGenerate_SyncReconcile(t *testing.T) {
	env := &testEnv{
		gateway: &fakeGateway{},
		archive: newFakeArchive(),
		batches: newFakeBatches(),
		orders:  newFakeOrders(openOrder(100)),
	}
	orch := newTestOrchestrator(t, env, label.Options{})

	result, err := orch.Generate(context.Background(), label.Request{OrderIDs: []int{100}, ParcelCount: 1})

	require.NoError(t, err)
	assert.True(t, result.Errors.Empty())
	assert.Empty(t, result.BatchID)
	require.Len(t, result.Labels, 1)
	assert.Equal(t, "MPS100", result.Labels[0].ShipmentID)
	assert.Equal(t, []byte("%PDF 100"), result.Labels[0].PDF)

	require.Len(t, env.archive.inserted, 1)
	rec := env.archive.inserted[0]
	assert.Equal(t, 100, rec.OrderID)
	assert.False(t, rec.Retour)
	assert.False(t, rec.Shipped)
	assert.Equal(t, "05550000", env.orders.tracking[100])
}

func TestGenerate_ArchivedLabelSkipsCarrier(t *testing.T) {
	env := &testEnv{
		gateway: &fakeGateway{},
		archive: newFakeArchive(),
		batches: newFakeBatches(),
		orders:  newFakeOrders(openOrder(42)),
	}
	env.archive.records[archiveKey{42, false}] = &store.LabelRecord{
		OrderID: 42,
		MPSID:   "MPS42",
		Label:   []byte("%PDF stored"),
	}
	orch := newTestOrchestrator(t, env, label.Options{})

	result, err := orch.Generate(context.Background(), label.Request{OrderIDs: []int{42}, ParcelCount: 1})

	require.NoError(t, err)
	assert.Zero(t, env.gateway.SyncCalls)
	assert.Zero(t, env.gateway.AsyncCalls)
	require.Len(t, result.Labels, 1)
	assert.Equal(t, []byte("%PDF stored"), result.Labels[0].PDF)
}

func TestGenerate_UnmanagedOrderNeverReachesCarrier(t *testing.T) {
	unmanaged := openOrder(900)
	unmanaged.Routing.Managed = false

	env := &testEnv{
		gateway: &fakeGateway{},
		archive: newFakeArchive(),
		batches: newFakeBatches(),
		orders:  newFakeOrders(unmanaged),
	}
	orch := newTestOrchestrator(t, env, label.Options{})

	result, err := orch.Generate(context.Background(), label.Request{OrderIDs: []int{900}, ParcelCount: 1})

	require.NoError(t, err)
	assert.Zero(t, env.gateway.SyncCalls)
	assert.Zero(t, env.gateway.AsyncCalls)
	assert.Empty(t, result.Labels)
	assert.True(t, result.Errors.Empty())
	assert.Empty(t, env.archive.inserted)
}

func TestGenerate_FreshLinesKeepUnmanagedOrderEligible(t *testing.T) {
	unmanaged := openOrder(901)
	unmanaged.Routing.Managed = false
	unmanaged.Lines = append(unmanaged.Lines, shipment.Line{
		ProductID: 2, Reference: "SKU-FRESH", Name: "Cheese", WeightKG: 1, Quantity: 1, SubType: shipment.SubTypeFresh,
	})

	env := &testEnv{
		gateway: &fakeGateway{},
		archive: newFakeArchive(),
		batches: newFakeBatches(),
		orders:  newFakeOrders(unmanaged),
	}
	orch := newTestOrchestrator(t, env, label.Options{})

	result, err := orch.Generate(context.Background(), label.Request{OrderIDs: []int{901}, ParcelCount: 1})

	require.NoError(t, err)
	assert.Equal(t, 1, env.gateway.SyncCalls)
	// Mixed regular and fresh lines split into two shipments.
	require.Len(t, result.Labels, 2)
}

func TestGenerate_ThresholdRouting(t *testing.T) {
	tests := []struct {
		name       string
		configured int
		orderCount int
		wantAsync  bool
	}{
		{"ten shipments at default threshold route async", 0, 10, true},
		{"nine shipments at default threshold route sync", 0, 9, false},
		{"configured threshold applies", 3, 3, true},
		{"below configured threshold stays sync", 3, 2, false},
		{"over-limit configuration clamps to ten", 11, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders, ids := manyOrders(tt.orderCount)
			env := &testEnv{
				gateway: &fakeGateway{},
				archive: newFakeArchive(),
				batches: newFakeBatches(),
				orders:  orders,
			}
			orch := newTestOrchestrator(t, env, label.Options{
				AsyncThreshold: tt.configured,
				CallbackURL:    "https://shop.example/callback",
			})

			result, err := orch.Generate(context.Background(), label.Request{OrderIDs: ids, ParcelCount: 1})

			require.NoError(t, err)
			if tt.wantAsync {
				assert.Equal(t, 1, env.gateway.AsyncCalls)
				assert.Zero(t, env.gateway.SyncCalls)
				assert.NotEmpty(t, result.BatchID)
				assert.Empty(t, result.Labels)
			} else {
				assert.Equal(t, 1, env.gateway.SyncCalls)
				assert.Zero(t, env.gateway.AsyncCalls)
				assert.Empty(t, result.BatchID)
				assert.Len(t, result.Labels, tt.orderCount)
			}
		})
	}
}

func TestGenerate_AsyncBatchRecordsJobsInOrder(t *testing.T) {
	orders, ids := manyOrders(10)
	env := &testEnv{
		gateway: &fakeGateway{},
		archive: newFakeArchive(),
		batches: newFakeBatches(),
		orders:  orders,
	}
	orch := newTestOrchestrator(t, env, label.Options{CallbackURL: "https://shop.example/callback"})

	result, err := orch.Generate(context.Background(), label.Request{OrderIDs: ids, ParcelCount: 1})

	require.NoError(t, err)
	require.NotEmpty(t, result.BatchID)

	jobs := env.batches.created[result.BatchID]
	require.Len(t, jobs, 10)
	for i, job := range jobs {
		assert.Equal(t, fmt.Sprintf("job-%d", i), job.CarrierJobID)
		assert.Equal(t, ids[i], job.OrderID)
		assert.False(t, job.Retour)
	}
}

func TestGenerate_MultiParcelAbortsBatch(t *testing.T) {
	abroad := openOrder(7)
	abroad.Delivery.CountryISO = "US"
	env := &testEnv{
		gateway: &fakeGateway{},
		archive: newFakeArchive(),
		batches: newFakeBatches(),
		orders:  newFakeOrders(openOrder(6), abroad),
	}
	orch := newTestOrchestrator(t, env, label.Options{})

	_, err := orch.Generate(context.Background(), label.Request{OrderIDs: []int{6, 7}, ParcelCount: 2})

	assert.ErrorIs(t, err, shipment.ErrMultiParcelNotAllowed)
	assert.Zero(t, env.gateway.SyncCalls)
	assert.Empty(t, env.archive.inserted)
}

func TestGenerate_SoftErrorsSkipOnlyOffendingOrder(t *testing.T) {
	cancelled := openOrder(8)
	cancelled.Status = shipment.StatusCancelled
	env := &testEnv{
		gateway: &fakeGateway{},
		archive: newFakeArchive(),
		batches: newFakeBatches(),
		orders:  newFakeOrders(openOrder(5), cancelled),
	}
	orch := newTestOrchestrator(t, env, label.Options{})

	// Order 9 does not exist at all.
	result, err := orch.Generate(context.Background(), label.Request{OrderIDs: []int{5, 8, 9}, ParcelCount: 1})

	require.NoError(t, err)
	require.Len(t, result.Errors.Errors, 2)

	// The healthy sibling is still booked and persisted.
	require.Len(t, result.Labels, 1)
	assert.Equal(t, 5, result.Labels[0].OrderID)
	require.Len(t, env.archive.inserted, 1)

	// No artifact while the error set is non-empty.
	artifact, err := label.BuildArtifact(result)
	require.NoError(t, err)
	assert.Nil(t, artifact)
}

func TestGenerate_StructuredRejectionMapsToOrders(t *testing.T) {
	env := &testEnv{
		gateway: &fakeGateway{
			OnCreateShipments: func(ctx context.Context, req *dpdconnect.LabelRequest) (*dpdconnect.LabelResponseList, error) {
				return nil, &dpdconnect.ValidationError{
					Details: []dpdconnect.ValidationDetail{
						{Path: "shipments[1].receiver.postalcode", Message: "postal code invalid"},
					},
				}
			},
		},
		archive: newFakeArchive(),
		batches: newFakeBatches(),
		orders:  newFakeOrders(openOrder(6), openOrder(7)),
	}
	orch := newTestOrchestrator(t, env, label.Options{})

	before := testutil.ToFloat64(testMetrics.CarrierErrors.WithLabelValues("validation"))
	result, err := orch.Generate(context.Background(), label.Request{OrderIDs: []int{6, 7}, ParcelCount: 1})

	require.NoError(t, err)
	require.Len(t, result.Errors.Errors, 1)
	assert.Equal(t, 7, result.Errors.Errors[0].OrderID)
	assert.Contains(t, result.Errors.Errors[0].Text, "receiver.postalcode")
	assert.Empty(t, result.Labels)
	assert.Equal(t, before+1, testutil.ToFloat64(testMetrics.CarrierErrors.WithLabelValues("validation")))
}

func TestGenerate_UnstructuredFaultIsOneBatchMessage(t *testing.T) {
	env := &testEnv{
		gateway: &fakeGateway{
			OnCreateShipments: func(ctx context.Context, req *dpdconnect.LabelRequest) (*dpdconnect.LabelResponseList, error) {
				return nil, &dpdconnect.APIError{Code: "HTTP_502", Message: "bad gateway", StatusCode: 502}
			},
		},
		archive: newFakeArchive(),
		batches: newFakeBatches(),
		orders:  newFakeOrders(openOrder(6), openOrder(7)),
	}
	orch := newTestOrchestrator(t, env, label.Options{})

	before := testutil.ToFloat64(testMetrics.CarrierErrors.WithLabelValues("carrier_fault"))
	result, err := orch.Generate(context.Background(), label.Request{OrderIDs: []int{6, 7}, ParcelCount: 1})

	require.NoError(t, err)
	require.Len(t, result.Errors.Errors, 1)
	assert.Zero(t, result.Errors.Errors[0].OrderID)
	assert.Equal(t, before+1, testutil.ToFloat64(testMetrics.CarrierErrors.WithLabelValues("carrier_fault")))
}

func TestGenerate_ShippedFlagFromOrderStatus(t *testing.T) {
	shipped := openOrder(11)
	shipped.Status = shipment.StatusShipped
	env := &testEnv{
		gateway: &fakeGateway{},
		archive: newFakeArchive(),
		batches: newFakeBatches(),
		orders:  newFakeOrders(shipped),
	}
	orch := newTestOrchestrator(t, env, label.Options{})

	_, err := orch.Generate(context.Background(), label.Request{OrderIDs: []int{11}, ParcelCount: 1})

	require.NoError(t, err)
	require.Len(t, env.archive.inserted, 1)
	assert.True(t, env.archive.inserted[0].Shipped)
}

func TestBuildArtifact(t *testing.T) {
	t.Run("single label streams as pdf", func(t *testing.T) {
		result := &label.Result{
			Labels: []label.ReadyLabel{{OrderID: 1, ShipmentID: "MPS1", PDF: []byte("%PDF one")}},
		}

		artifact, err := label.BuildArtifact(result)

		require.NoError(t, err)
		require.NotNil(t, artifact)
		assert.Equal(t, "application/pdf", artifact.ContentType)
		assert.Equal(t, "MPS1.pdf", artifact.Filename)
		assert.Equal(t, []byte("%PDF one"), artifact.Data)
	})

	t.Run("multiple labels zip with one entry per shipment", func(t *testing.T) {
		result := &label.Result{
			Labels: []label.ReadyLabel{
				{OrderID: 1, ShipmentID: "MPS1", PDF: []byte("%PDF one")},
				{OrderID: 2, ShipmentID: "MPS2", PDF: []byte("%PDF two")},
			},
		}

		artifact, err := label.BuildArtifact(result)

		require.NoError(t, err)
		require.NotNil(t, artifact)
		assert.Equal(t, "application/zip", artifact.ContentType)

		entries := readZipNames(t, artifact.Data)
		assert.Equal(t, []string{"MPS1.pdf", "MPS2.pdf"}, entries)
	})

	t.Run("async handoff yields no artifact", func(t *testing.T) {
		artifact, err := label.BuildArtifact(&label.Result{BatchID: "batch-1"})
		require.NoError(t, err)
		assert.Nil(t, artifact)
	})

	t.Run("errors suppress the artifact", func(t *testing.T) {
		result := &label.Result{
			Labels: []label.ReadyLabel{{OrderID: 1, ShipmentID: "MPS1", PDF: []byte("%PDF")}},
		}
		result.Errors.AddOrder(2, "order is cancelled")

		artifact, err := label.BuildArtifact(result)
		require.NoError(t, err)
		assert.Nil(t, artifact)
	})
}

func readZipNames(t *testing.T, data []byte) []string {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}
