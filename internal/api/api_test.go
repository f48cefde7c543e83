package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"ingest-backend/internal/api"
	"ingest-backend/internal/database"
	"ingest-backend/internal/messaging"
	"ingest-backend/internal/normalize"
	"ingest-backend/internal/pipeline"
	"ingest-backend/internal/storage"
	"ingest-backend/internal/warehouse"
	"ingest-backend/pkg/models"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testBucket  = "transactions-event-bucket"
	testDataset = "transactions_dataset"
	testTable   = "transactions_partitioned"
)

type testEnv struct {
	router chi.Router
	db     *gorm.DB
	store  storage.ObjectStore
}

func setupTestEnv(t *testing.T, policy normalize.Policy) testEnv {
	return setupEnv(t, policy, nil)
}

func setupEnv(t *testing.T, policy normalize.Policy, queue *messaging.InMemoryQueue) testEnv {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket(context.Background(), testBucket))

	var materializer pipeline.SourceMaterializer = pipeline.ReferenceMaterializer{}
	if policy != nil {
		materializer = pipeline.NewNormalizeMaterializer(store, policy)
	}

	loader := pipeline.NewLoader(
		pipeline.NewResolver(store, testBucket),
		materializer,
		warehouse.NewBuilder(testDataset, testTable),
		warehouse.NewSQLWarehouse(db, store),
	)

	service := api.NewIngestService(loader, db)
	if queue != nil {
		service = service.WithAsyncAccept(queue)
	}

	router := chi.NewRouter()
	service.AddRoutes(router)

	return testEnv{router: router, db: db, store: store}
}

func (e testEnv) putObject(t *testing.T, name, content string) {
	require.NoError(t, e.store.PutObject(context.Background(), testBucket, name, strings.NewReader(content)))
}

func (e testEnv) destinationRows(t *testing.T) int64 {
	var count int64
	err := e.db.Raw(fmt.Sprintf(`SELECT COUNT(*) FROM "%s_%s"`, testDataset, testTable)).Scan(&count).Error
	require.NoError(t, err)
	return count
}

func (e testEnv) post(body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e testEnv) get(t *testing.T, path string, out any) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w
}

func envelope(t *testing.T, bucket, name string) []byte {
	payload, err := json.Marshal(map[string]string{"bucket": bucket, "name": name})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"message": map[string]string{"data": base64.StdEncoding.EncodeToString(payload)},
	})
	require.NoError(t, err)
	return body
}

func transactionsCsv(rows int) string {
	var b strings.Builder
	b.WriteString("transaction_id,purchase_amount,purchase_date\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "tx-%d,%d.50,2024-01-%02d\n", i, i, i%28+1)
	}
	return b.String()
}

func TestNotificationLoadsObject(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.putObject(t, "2024-01.csv", transactionsCsv(10))

	w := env.post(envelope(t, testBucket, "2024-01.csv"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.LoadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "load_2024_01_csv", resp.JobId)
	assert.Equal(t, "2024-01.csv", resp.Object)
	assert.Equal(t, testDataset+"."+testTable, resp.Table)
	assert.Equal(t, int64(10), resp.RowsLoaded)
	assert.Contains(t, resp.Message, "successfully loaded")

	assert.Equal(t, int64(10), env.destinationRows(t))
}

func TestNotificationFromUnexpectedBucket(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.putObject(t, "2024-01.csv", transactionsCsv(1))

	w := env.post(envelope(t, "other-bucket", "2024-01.csv"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unexpected bucket")

	// The rejected event must not have touched the warehouse.
	var jobs int64
	require.NoError(t, env.db.Model(&database.LoadJob{}).Count(&jobs).Error)
	assert.Zero(t, jobs)
}

func TestMalformedEnvelopes(t *testing.T) {
	env := setupTestEnv(t, nil)

	for _, body := range [][]byte{nil, []byte("not json"), []byte(`[]`)} {
		assert.Equal(t, http.StatusBadRequest, env.post(body).Code)
	}

	// Envelope without a payload.
	assert.Equal(t, http.StatusBadRequest, env.post([]byte(`{"message":{}}`)).Code)

	// Payload that is not valid base64.
	body, err := json.Marshal(map[string]any{"message": map[string]string{"data": "!!!"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, env.post(body).Code)
}

func TestHeaderOnlyObjectLoadsZeroRows(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.putObject(t, "empty.csv", "transaction_id,purchase_amount,purchase_date\n")

	w := env.post(envelope(t, testBucket, "empty.csv"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.LoadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(0), resp.RowsLoaded)
	assert.Equal(t, int64(0), env.destinationRows(t))
}

func TestListingFallbackWhenNameMissing(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.putObject(t, "2024-01.csv", transactionsCsv(2))
	env.putObject(t, "readme.txt", "not a csv")

	w := env.post(envelope(t, testBucket, ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.LoadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2024-01.csv", resp.Object)
}

func TestNoCsvInBucket(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.putObject(t, "readme.txt", "not a csv")

	w := env.post(envelope(t, testBucket, ""))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDuplicateDeliveryDoesNotAppendTwice(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.putObject(t, "2024-01.csv", transactionsCsv(5))

	body := envelope(t, testBucket, "2024-01.csv")
	require.Equal(t, http.StatusOK, env.post(body).Code)

	w := env.post(body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.LoadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(5), resp.RowsLoaded)
	assert.Equal(t, int64(5), env.destinationRows(t))
}

func TestNormalizedLoad(t *testing.T) {
	env := setupTestEnv(t, normalize.Types(normalize.TypeRules{
		DateColumns: []string{"purchase_date"},
		IntColumns:  []string{"nb_gift_card_used"},
	}))
	env.putObject(t, "2024-01.csv",
		"transaction_id,purchase_date,nb_gift_card_used\n"+
			"tx-1,2024/01/15,2\n"+
			"tx-2,garbage,oops\n")

	w := env.post(envelope(t, testBucket, "2024-01.csv"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.LoadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.RowsLoaded)

	var fixedDates int64
	err := env.db.Raw(fmt.Sprintf(`SELECT COUNT(*) FROM "%s_%s" WHERE "purchase_date" = ?`, testDataset, testTable), "2024-01-15").Scan(&fixedDates).Error
	require.NoError(t, err)
	assert.Equal(t, int64(1), fixedDates)
}

func TestAsyncAcceptQueuesNotification(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	env := setupEnv(t, nil, queue)
	env.putObject(t, "2024-01.csv", transactionsCsv(2))

	body := envelope(t, testBucket, "2024-01.csv")
	w := env.post(body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.AcceptResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2024-01.csv", resp.Object)
	assert.Contains(t, resp.Message, "accepted")

	select {
	case task := <-queue.Tasks():
		var payload models.NotificationTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.Equal(t, body, payload.Envelope)
	default:
		t.Fatal("no task queued")
	}

	// The load belongs to the worker; accepting must not touch the ledger.
	var jobs int64
	require.NoError(t, env.db.Model(&database.LoadJob{}).Count(&jobs).Error)
	assert.Zero(t, jobs)
}

func TestAsyncAcceptRejectsBadNotificationSynchronously(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	env := setupEnv(t, nil, queue)

	w := env.post(envelope(t, "other-bucket", "2024-01.csv"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	select {
	case <-queue.Tasks():
		t.Fatal("invalid notification was queued")
	default:
	}
}

func TestUnparsableObjectUnderNormalization(t *testing.T) {
	env := setupTestEnv(t, normalize.DropSynthetic(""))
	env.putObject(t, "empty.csv", "")

	w := env.post(envelope(t, testBucket, "empty.csv"))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "not parsable")
}

func TestGetLoadJob(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.putObject(t, "2024-01.csv", transactionsCsv(3))
	require.Equal(t, http.StatusOK, env.post(envelope(t, testBucket, "2024-01.csv")).Code)

	var entry models.LoadJobEntry
	w := env.get(t, "/loads/load_2024_01_csv", &entry)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "load_2024_01_csv", entry.JobId)
	assert.Equal(t, database.JobCompleted, entry.Status)
	assert.Equal(t, int64(3), entry.RowsLoaded)
	assert.Equal(t, testDataset+"."+testTable, entry.Table)
	assert.NotNil(t, entry.CompletionTime)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/loads/no_such_job", nil).Code)
}

func TestListLoadJobs(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.putObject(t, "2024-01.csv", transactionsCsv(1))
	env.putObject(t, "2024-02.csv", transactionsCsv(2))
	require.Equal(t, http.StatusOK, env.post(envelope(t, testBucket, "2024-01.csv")).Code)
	require.Equal(t, http.StatusOK, env.post(envelope(t, testBucket, "2024-02.csv")).Code)

	var resp models.ListLoadJobsResponse
	w := env.get(t, "/loads/", &resp)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, resp.Jobs, 2)

	w = env.get(t, "/loads/?status="+database.JobCompleted+"&limit=1", &resp)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, resp.Jobs, 1)

	w = env.get(t, "/loads/?status="+database.JobFailed, &resp)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, resp.Jobs)
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t, nil)
	assert.Equal(t, http.StatusOK, env.get(t, "/health", nil).Code)
}
