// internal/repository/qdrant.go
package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/vectorcached/internal/config"
	"github.com/fyrsmithlabs/vectorcached/internal/scope"
	"github.com/fyrsmithlabs/vectorcached/internal/vectorcache"
)

// maxMessageSize is the gRPC message cap. Scroll pages of wide embeddings
// with full payloads can run large.
const maxMessageSize = 50 * 1024 * 1024 // 50MB

// Payload field names for the closed entry schema. Everything else an
// entry carries travels inside the metadata struct.
const (
	payloadKeyID         = "id"
	payloadKeyContent    = "content"
	payloadKeyCategory   = "category"
	payloadKeySourceType = "source_type"
	payloadKeyPriority   = "priority"
	payloadKeyChecksum   = "checksum"
	payloadKeyCreatedAt  = "created_at"
	payloadKeyMetadata   = "metadata"
)

// pointNamespace scopes the deterministic UUIDs derived from entry IDs.
// Qdrant point IDs must be UUIDs or integers, so arbitrary entry IDs map
// through uuid.NewSHA1 and the original ID rides in the payload.
var pointNamespace = uuid.MustParse("b6e1a9c2-4f63-4a8d-9b21-3c0d5e8f7a14")

// QdrantRepository reads entries from a Qdrant cluster over gRPC. Each
// scope lives in its own collection named by scope.Key.CollectionName.
// Transient failures are retried with exponential backoff behind a circuit
// breaker so a flapping cluster cannot melt warm-up.
type QdrantRepository struct {
	client  *qdrant.Client
	config  config.QdrantConfig
	breaker *CircuitBreaker
	logger  *zap.Logger
}

var (
	_ Repository = (*QdrantRepository)(nil)
	_ Writer     = (*QdrantRepository)(nil)
)

// NewQdrant connects to Qdrant and verifies the connection with a health
// check before returning.
func NewQdrant(ctx context.Context, cfg config.QdrantConfig, logger *zap.Logger) (*QdrantRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	applyQdrantDefaults(&cfg)

	grpcOpts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	}
	// For non-TLS connections, explicitly set insecure credentials.
	if !cfg.UseTLS {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		UseTLS:      cfg.UseTLS,
		APIKey:      cfg.APIKey.Value(),
		GrpcOptions: grpcOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	r := &QdrantRepository{
		client:  client,
		config:  cfg,
		breaker: NewCircuitBreaker(int32(cfg.BreakerThreshold), cfg.BreakerCooldown),
		logger:  logger,
	}

	healthCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	logger.Info("connecting to qdrant",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
	)
	if _, err := client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}

	return r, nil
}

func applyQdrantDefaults(cfg *config.QdrantConfig) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCooldown == 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
}

// LoadAll implements Repository. It pages through the scope's collection
// with the raw points client, because the high-level Scroll wrapper drops
// the next-page offset the loop needs.
func (r *QdrantRepository) LoadAll(ctx context.Context, key scope.Key, batchSize int, fn BatchFunc) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}

	collection := key.CollectionName()
	var offset *qdrant.PointId
	total := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var resp *qdrant.ScrollResponse
		err := r.withRetry(ctx, "scroll", func(opCtx context.Context) error {
			var err error
			resp, err = r.client.GetPointsClient().Scroll(opCtx, &qdrant.ScrollPoints{
				CollectionName: collection,
				Limit:          qdrant.PtrOf(uint32(batchSize)),
				Offset:         offset,
				WithPayload:    qdrant.NewWithPayload(true),
				WithVectors:    qdrant.NewWithVectors(true),
			})
			return err
		})
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s (collection %s)", ErrScopeNotFound, key, collection)
			}
			return err
		}

		points := resp.GetResult()
		if len(points) > 0 {
			entries := make([]*vectorcache.VectorEntry, 0, len(points))
			for _, point := range points {
				entry, err := pointToEntry(point)
				if err != nil {
					return fmt.Errorf("collection %s: %w", collection, err)
				}
				entries = append(entries, entry)
			}
			if err := fn(ctx, entries); err != nil {
				return fmt.Errorf("deliver batch: %w", err)
			}
			total += len(entries)
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	if total == 0 {
		return fmt.Errorf("%w: %s", ErrScopeNotFound, key)
	}
	r.logger.Debug("qdrant scope loaded",
		zap.String("scope", key.String()),
		zap.Int("entries", total),
	)
	return nil
}

// Load implements Repository.
func (r *QdrantRepository) Load(ctx context.Context, key scope.Key, ids []string) ([]*vectorcache.VectorEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	collection := key.CollectionName()
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(collection, id)
	}

	var points []*qdrant.RetrievedPoint
	err := r.withRetry(ctx, "get", func(opCtx context.Context) error {
		var err error
		points, err = r.client.Get(opCtx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            pointIDs,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		return err
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s (collection %s)", ErrScopeNotFound, key, collection)
		}
		return nil, err
	}

	entries := make([]*vectorcache.VectorEntry, 0, len(points))
	for _, point := range points {
		entry, err := pointToEntry(point)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", collection, err)
		}
		entries = append(entries, entry)
	}
	sortEntriesByID(entries)
	return entries, nil
}

// Save implements Writer. The collection is created on first use with the
// dimensionality of the first entry and cosine distance.
func (r *QdrantRepository) Save(ctx context.Context, key scope.Key, entries []*vectorcache.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			return fmt.Errorf("entry %q: empty embedding", e.ID)
		}
	}

	collection := key.CollectionName()
	if err := r.ensureCollection(ctx, collection, uint64(len(entries[0].Embedding))); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		prepared := cloneEntry(e)
		if prepared.ID == "" {
			prepared.ID = uuid.NewString()
		}
		if prepared.Checksum == 0 {
			prepared.Checksum = vectorcache.ComputeChecksum(prepared.Content, prepared.Embedding)
		}
		if prepared.CreatedAt.IsZero() {
			prepared.CreatedAt = time.Now().UTC()
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(collection, prepared.ID),
			Vectors: qdrant.NewVectors(prepared.Embedding...),
			Payload: entryToPayload(prepared),
		})
	}

	return r.withRetry(ctx, "upsert", func(opCtx context.Context) error {
		_, err := r.client.Upsert(opCtx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
}

// Delete implements Writer.
func (r *QdrantRepository) Delete(ctx context.Context, key scope.Key, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	collection := key.CollectionName()
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(collection, id)
	}

	return r.withRetry(ctx, "delete", func(opCtx context.Context) error {
		_, err := r.client.Delete(opCtx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
			Wait: qdrant.PtrOf(true),
		})
		return err
	})
}

// Ping implements Repository.
func (r *QdrantRepository) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, r.config.RequestTimeout)
	defer cancel()

	if _, err := r.client.HealthCheck(pingCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close implements Repository.
func (r *QdrantRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Breaker exposes the circuit breaker state for health reporting.
func (r *QdrantRepository) Breaker() *CircuitBreaker {
	return r.breaker
}

func (r *QdrantRepository) ensureCollection(ctx context.Context, collection string, dimension uint64) error {
	var exists bool
	err := r.withRetry(ctx, "collection_exists", func(opCtx context.Context) error {
		var err error
		exists, err = r.client.CollectionExists(opCtx, collection)
		return err
	})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	return r.withRetry(ctx, "create_collection", func(opCtx context.Context) error {
		return r.client.CreateCollection(opCtx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dimension,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

// withRetry runs one logical operation with per-attempt timeouts and
// exponential backoff on transient errors. The circuit breaker is checked
// once up front; non-transient errors return unwrapped so callers can
// still classify them with status.Code.
func (r *QdrantRepository) withRetry(ctx context.Context, operation string, fn func(context.Context) error) error {
	if !r.breaker.Allow() {
		return fmt.Errorf("%w: circuit breaker open for %s", ErrUnavailable, operation)
	}

	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, r.config.RequestTimeout)
		err := fn(opCtx)
		cancel()

		if err == nil {
			r.breaker.RecordSuccess()
			if attempt > 0 {
				r.logger.Info("qdrant operation recovered",
					zap.String("operation", operation),
					zap.Int("attempts", attempt+1),
				)
			}
			return nil
		}
		lastErr = err

		if !isTransientError(err) {
			return err
		}
		r.breaker.RecordFailure()

		if attempt == r.config.MaxRetries {
			break
		}
		r.logger.Debug("retrying qdrant operation after transient error",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	r.logger.Warn("qdrant operation failed after retries",
		zap.String("operation", operation),
		zap.Int("attempts", r.config.MaxRetries+1),
		zap.Error(lastErr),
	)
	return fmt.Errorf("%w: %s failed after %d attempts: %v",
		ErrUnavailable, operation, r.config.MaxRetries+1, lastErr)
}

// isTransientError reports whether a gRPC error should be retried.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// pointID derives the deterministic Qdrant point ID for an entry.
func pointID(collection, entryID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(collection+"/"+entryID)).String())
}

// pointIDString renders a point ID for error messages.
func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	if num := id.GetNum(); num != 0 {
		return strconv.FormatUint(num, 10)
	}
	return ""
}

// pointToEntry converts a retrieved point into a fresh entry.
func pointToEntry(point *qdrant.RetrievedPoint) (*vectorcache.VectorEntry, error) {
	return entryFromPayload(pointIDString(point.GetId()), extractVector(point.GetVectors()), point.GetPayload())
}

// extractVector pulls the dense vector data out of a retrieved point.
func extractVector(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	if vec := vectors.GetVector(); vec != nil {
		if dense := vec.GetDense(); dense != nil {
			return dense.GetData()
		}
	}
	return nil
}

// entryFromPayload builds an entry from the closed payload schema. Unknown
// payload fields are ignored; the metadata struct keeps only values with a
// string rendering.
func entryFromPayload(fallbackID string, vector []float32, payload map[string]*qdrant.Value) (*vectorcache.VectorEntry, error) {
	id := payload[payloadKeyID].GetStringValue()
	if id == "" {
		id = fallbackID
	}
	if id == "" {
		return nil, fmt.Errorf("point has no entry id")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("point %s: empty vector", id)
	}

	entry := &vectorcache.VectorEntry{
		ID:         id,
		Embedding:  vector,
		Content:    payload[payloadKeyContent].GetStringValue(),
		Category:   payload[payloadKeyCategory].GetStringValue(),
		SourceType: payload[payloadKeySourceType].GetStringValue(),
		Priority:   int(payload[payloadKeyPriority].GetIntegerValue()),
	}

	if text := payload[payloadKeyChecksum].GetStringValue(); text != "" {
		checksum, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("point %s: decode checksum: %w", id, err)
		}
		entry.Checksum = checksum
	}
	if nanos := payload[payloadKeyCreatedAt].GetIntegerValue(); nanos > 0 {
		entry.CreatedAt = time.Unix(0, nanos).UTC()
	}
	if meta := payload[payloadKeyMetadata].GetStructValue(); meta != nil {
		fields := meta.GetFields()
		entry.Metadata = make(map[string]string, len(fields))
		for k, v := range fields {
			switch val := v.GetKind().(type) {
			case *qdrant.Value_StringValue:
				entry.Metadata[k] = val.StringValue
			case *qdrant.Value_IntegerValue:
				entry.Metadata[k] = strconv.FormatInt(val.IntegerValue, 10)
			case *qdrant.Value_DoubleValue:
				entry.Metadata[k] = strconv.FormatFloat(val.DoubleValue, 'g', -1, 64)
			case *qdrant.Value_BoolValue:
				entry.Metadata[k] = strconv.FormatBool(val.BoolValue)
			}
		}
	}
	return entry, nil
}

// entryToPayload renders an entry into the closed payload schema.
func entryToPayload(e *vectorcache.VectorEntry) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		payloadKeyID:         stringValue(e.ID),
		payloadKeyContent:    stringValue(e.Content),
		payloadKeyCategory:   stringValue(e.Category),
		payloadKeySourceType: stringValue(e.SourceType),
		payloadKeyPriority:   integerValue(int64(e.Priority)),
		payloadKeyChecksum:   stringValue(strconv.FormatUint(e.Checksum, 10)),
	}
	if !e.CreatedAt.IsZero() {
		payload[payloadKeyCreatedAt] = integerValue(e.CreatedAt.UnixNano())
	}
	if len(e.Metadata) > 0 {
		fields := make(map[string]*qdrant.Value, len(e.Metadata))
		for k, v := range e.Metadata {
			fields[k] = stringValue(v)
		}
		payload[payloadKeyMetadata] = &qdrant.Value{
			Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: fields}},
		}
	}
	return payload
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func integerValue(i int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}}
}
