package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/config"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

// 定义Qdrant的专用tracer
var qdrantTracer = otel.Tracer("resume-match-go/storage/qdrant")

// QdrantPointIDNamespace 是生成确定性Qdrant点ID的专用命名空间。
// 相同的外部键永远映射到相同的点ID，重复摄取同一实体时覆盖而不是重复建点。
// UUID generated via `uuidgen`
var QdrantPointIDNamespace = uuid.Must(uuid.FromString("b1f8a6de-4c11-47e9-9f3a-52c0d4f8b9a2"))

// PointIDForKey 把外部向量键（如 job-<id>、res-<id>-<i>）映射为Qdrant点ID
func PointIDForKey(key string) string {
	return uuid.NewV5(QdrantPointIDNamespace, key).String()
}

// payloadKeyField 点载荷里存外部键的字段名
const payloadKeyField = "key"

// Qdrant 提供向量数据库功能。每个命名空间对应一个独立集合，
// 集合名为 collectionPrefix + 命名空间。
type Qdrant struct {
	endpoint         string
	collectionPrefix string
	vectorSize       int
	distanceMetric   string
	httpClient       *http.Client
}

// QdrantOption 定义Qdrant构造函数选项
type QdrantOption func(*Qdrant)

// WithDistanceMetric 设置距离度量
func WithDistanceMetric(metric string) QdrantOption {
	return func(q *Qdrant) {
		q.distanceMetric = metric
	}
}

// WithHTTPTimeout 设置HTTP客户端超时
func WithHTTPTimeout(timeout time.Duration) QdrantOption {
	return func(q *Qdrant) {
		q.httpClient = &http.Client{Timeout: timeout}
	}
}

// NewQdrant 创建Qdrant客户端，并确保指定命名空间的集合存在
func NewQdrant(cfg *config.QdrantConfig, namespaces []string, opts ...QdrantOption) (*Qdrant, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant配置不能为空")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:6333"
	}

	vectorSize := cfg.Dimension
	if vectorSize <= 0 {
		vectorSize = 1024 // 与阿里云Embedding缺省维度一致
	}

	timeout := 30 * time.Second
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	q := &Qdrant{
		endpoint:         endpoint,
		collectionPrefix: cfg.CollectionPrefix,
		vectorSize:       vectorSize,
		distanceMetric:   "Cosine",
		httpClient:       &http.Client{Timeout: timeout},
	}

	for _, opt := range opts {
		opt(q)
	}

	for _, ns := range namespaces {
		if err := q.ensureCollectionExists(context.Background(), ns); err != nil {
			return nil, fmt.Errorf("确保集合 '%s' 存在失败: %w", q.collectionName(ns), err)
		}
	}

	return q, nil
}

// collectionName 命名空间到集合名
func (q *Qdrant) collectionName(namespace string) string {
	return q.collectionPrefix + namespace
}

// doRequest 向Qdrant发送一个JSON请求并返回响应体。
// 追踪上下文通过HTTP头传播。
func (q *Qdrant) doRequest(ctx context.Context, method, path string, reqBody interface{}) ([]byte, int, error) {
	span := trace.SpanFromContext(ctx)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, 0, fmt.Errorf("序列化请求失败: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	url := q.endpoint + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("创建请求对象失败: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", url),
	)

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("读取响应失败: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// ensureCollectionExists 确保向量集合存在，不存在则创建
func (q *Qdrant) ensureCollectionExists(ctx context.Context, namespace string) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.EnsureCollectionExists",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	collection := q.collectionName(namespace)
	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "check_collection"),
		attribute.String("db.collection", collection),
		attribute.Int("db.vector_size", q.vectorSize),
	)

	body, status, err := q.doRequest(ctx, http.MethodGet, "/collections/"+collection, nil)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}

	if status == http.StatusNotFound {
		span.AddEvent("collection_not_found", trace.WithAttributes(
			attribute.String("action", "create_collection"),
		))
		return q.createCollection(ctx, namespace)
	}
	if status != http.StatusOK {
		err := fmt.Errorf("检查集合失败，状态码: %d, 响应: %s", status, tracing.TruncateString(string(body), 200))
		tracing.RecordHTTPError(span, err, status)
		return err
	}

	var collectionInfo struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &collectionInfo); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("解析集合信息失败: %w", err)
	}

	existingSize := collectionInfo.Result.Config.Params.Vectors.Size
	existingDistance := collectionInfo.Result.Config.Params.Vectors.Distance
	if existingSize != q.vectorSize || existingDistance != q.distanceMetric {
		span.AddEvent("collection_config_mismatch", trace.WithAttributes(
			attribute.Int("expected_vector_size", q.vectorSize),
			attribute.String("expected_distance", q.distanceMetric),
			attribute.Int("existing_vector_size", existingSize),
			attribute.String("existing_distance", existingDistance),
		))
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// createCollection 创建新的向量集合
func (q *Qdrant) createCollection(ctx context.Context, namespace string) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.CreateCollection",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	collection := q.collectionName(namespace)
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "create_collection"),
		attribute.String("db.collection", collection),
		attribute.Int("db.vector_size", q.vectorSize),
		attribute.String("db.vector.distance", q.distanceMetric),
	)

	createReqBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.vectorSize,
			"distance": q.distanceMetric,
		},
		"optimizers_config": map[string]interface{}{
			"default_segment_number": 2,
		},
	}

	body, status, err := q.doRequest(ctx, http.MethodPut, "/collections/"+collection, createReqBody)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}
	if status != http.StatusOK {
		err := fmt.Errorf("创建集合失败，状态码: %d, 响应: %s", status, tracing.TruncateString(string(body), 200))
		tracing.RecordHTTPError(span, err, status)
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Upsert 写入或覆盖一批向量点。点ID由外部键确定性生成，
// 外部键本身连同元数据一起写入载荷。
func (q *Qdrant) Upsert(ctx context.Context, namespace string, records []types.VectorRecord) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Upsert",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	collection := q.collectionName(namespace)
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "upsert_points"),
		attribute.String("db.collection", collection),
		attribute.Int("vectors.count", len(records)),
	)

	if len(records) == 0 {
		span.SetStatus(codes.Ok, "no vectors to store")
		return nil
	}

	points := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		if len(record.Vector) != q.vectorSize {
			err := fmt.Errorf("向量维度不匹配: 期望%d, 实际%d (key=%s)", q.vectorSize, len(record.Vector), record.Key)
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			return err
		}
		payload := map[string]interface{}{
			payloadKeyField: record.Key,
		}
		for k, v := range record.Metadata {
			payload[k] = v
		}
		points = append(points, map[string]interface{}{
			"id":      PointIDForKey(record.Key),
			"vector":  record.Vector,
			"payload": payload,
		})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", collection)
	body, status, err := q.doRequest(ctx, http.MethodPut, path, map[string]interface{}{"points": points})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}
	if status != http.StatusOK {
		err := fmt.Errorf("写入向量失败，状态码: %d, 响应: %s", status, tracing.TruncateString(string(body), 200))
		tracing.RecordHTTPError(span, err, status)
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Search 在命名空间内检索与查询向量最相似的topK个点。
// filter非空时按载荷字段精确匹配过滤。
func (q *Qdrant) Search(ctx context.Context, namespace string, queryVector []float64, topK int, filter map[string]interface{}) ([]types.SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Search",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	collection := q.collectionName(namespace)
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "search_points"),
		attribute.String("db.collection", collection),
		attribute.Int("search.top_k", topK),
	)

	if len(queryVector) != q.vectorSize {
		err := fmt.Errorf("查询向量维度不匹配: 期望%d, 实际%d", q.vectorSize, len(queryVector))
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}

	searchReq := map[string]interface{}{
		"vector":       queryVector,
		"limit":        topK,
		"with_payload": true,
	}
	if len(filter) > 0 {
		must := make([]map[string]interface{}, 0, len(filter))
		for field, value := range filter {
			must = append(must, map[string]interface{}{
				"key":   field,
				"match": map[string]interface{}{"value": value},
			})
		}
		searchReq["filter"] = map[string]interface{}{"must": must}
	}

	path := fmt.Sprintf("/collections/%s/points/search", collection)
	body, status, err := q.doRequest(ctx, http.MethodPost, path, searchReq)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, err
	}
	if status != http.StatusOK {
		err := fmt.Errorf("向量检索失败，状态码: %d, 响应: %s", status, tracing.TruncateString(string(body), 200))
		tracing.RecordHTTPError(span, err, status)
		return nil, err
	}

	var searchResp struct {
		Result []struct {
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}

	results := make([]types.SearchResult, 0, len(searchResp.Result))
	for _, hit := range searchResp.Result {
		key, _ := hit.Payload[payloadKeyField].(string)
		metadata := make(map[string]interface{}, len(hit.Payload))
		for k, v := range hit.Payload {
			if k == payloadKeyField {
				continue
			}
			metadata[k] = v
		}
		results = append(results, types.SearchResult{
			Key:      key,
			Score:    hit.Score,
			Metadata: metadata,
		})
	}

	span.SetAttributes(attribute.Int("search.hits", len(results)))
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// FetchByKeys 按外部键取回向量点（含向量本身）。不存在的键被跳过。
func (q *Qdrant) FetchByKeys(ctx context.Context, namespace string, keys []string) ([]types.VectorRecord, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.FetchByKeys",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	collection := q.collectionName(namespace)
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "retrieve_points"),
		attribute.String("db.collection", collection),
		attribute.Int("keys.count", len(keys)),
	)

	if len(keys) == 0 {
		span.SetStatus(codes.Ok, "")
		return []types.VectorRecord{}, nil
	}

	pointIDs := make([]string, len(keys))
	for i, key := range keys {
		pointIDs[i] = PointIDForKey(key)
	}

	retrieveReq := map[string]interface{}{
		"ids":          pointIDs,
		"with_payload": true,
		"with_vector":  true,
	}

	path := fmt.Sprintf("/collections/%s/points", collection)
	body, status, err := q.doRequest(ctx, http.MethodPost, path, retrieveReq)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, err
	}
	if status != http.StatusOK {
		err := fmt.Errorf("取回向量点失败，状态码: %d, 响应: %s", status, tracing.TruncateString(string(body), 200))
		tracing.RecordHTTPError(span, err, status)
		return nil, err
	}

	var retrieveResp struct {
		Result []struct {
			Vector  []float64              `json:"vector"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &retrieveResp); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, fmt.Errorf("解析取回响应失败: %w", err)
	}

	records := make([]types.VectorRecord, 0, len(retrieveResp.Result))
	for _, point := range retrieveResp.Result {
		key, _ := point.Payload[payloadKeyField].(string)
		metadata := make(map[string]interface{}, len(point.Payload))
		for k, v := range point.Payload {
			if k == payloadKeyField {
				continue
			}
			metadata[k] = v
		}
		records = append(records, types.VectorRecord{
			Key:      key,
			Vector:   point.Vector,
			Metadata: metadata,
		})
	}

	span.SetAttributes(attribute.Int("points.found", len(records)))
	span.SetStatus(codes.Ok, "")
	return records, nil
}

// DeleteByKeys 按外部键删除向量点
func (q *Qdrant) DeleteByKeys(ctx context.Context, namespace string, keys []string) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.DeleteByKeys",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	collection := q.collectionName(namespace)
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "delete_points"),
		attribute.String("db.collection", collection),
		attribute.Int("keys.count", len(keys)),
	)

	if len(keys) == 0 {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	pointIDs := make([]string, len(keys))
	for i, key := range keys {
		pointIDs[i] = PointIDForKey(key)
	}

	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", collection)
	body, status, err := q.doRequest(ctx, http.MethodPost, path, map[string]interface{}{"points": pointIDs})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}
	if status != http.StatusOK {
		err := fmt.Errorf("删除向量点失败，状态码: %d, 响应: %s", status, tracing.TruncateString(string(body), 200))
		tracing.RecordHTTPError(span, err, status)
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// DeleteByFilter 按载荷字段精确匹配批量删除向量点
func (q *Qdrant) DeleteByFilter(ctx context.Context, namespace string, field string, value interface{}) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.DeleteByFilter",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	collection := q.collectionName(namespace)
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "delete_points_by_filter"),
		attribute.String("db.collection", collection),
		attribute.String("filter.field", field),
	)

	deleteReq := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{
					"key":   field,
					"match": map[string]interface{}{"value": value},
				},
			},
		},
	}

	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", collection)
	body, status, err := q.doRequest(ctx, http.MethodPost, path, deleteReq)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}
	if status != http.StatusOK {
		err := fmt.Errorf("按过滤条件删除向量点失败，状态码: %d, 响应: %s", status, tracing.TruncateString(string(body), 200))
		tracing.RecordHTTPError(span, err, status)
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CountPoints 统计命名空间内的点数
func (q *Qdrant) CountPoints(ctx context.Context, namespace string) (int64, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.CountPoints",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	collection := q.collectionName(namespace)
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "count_points"),
		attribute.String("db.collection", collection),
	)

	path := fmt.Sprintf("/collections/%s/points/count", collection)
	body, status, err := q.doRequest(ctx, http.MethodPost, path, map[string]interface{}{"exact": true})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return 0, err
	}
	if status != http.StatusOK {
		err := fmt.Errorf("统计向量点失败，状态码: %d, 响应: %s", status, tracing.TruncateString(string(body), 200))
		tracing.RecordHTTPError(span, err, status)
		return 0, err
	}

	var countResp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &countResp); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return 0, fmt.Errorf("解析统计响应失败: %w", err)
	}

	span.SetAttributes(attribute.Int64("points.count", countResp.Result.Count))
	span.SetStatus(codes.Ok, "")
	return countResp.Result.Count, nil
}
