package zilliz

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/casebot/backend/internal/vector"
	"github.com/casebot/backend/pkg/logger"
	"github.com/casebot/backend/pkg/retry"
)

const (
	fieldID        = "doc_id"
	fieldEmbedding = "embedding"
	fieldText      = "text"
	fieldSeq       = "seq"

	maxIDLength   = 512
	maxTextLength = 65535
)

var _ vector.Index = (*Client)(nil)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int

	// insertMu makes check-then-insert atomic within this process; Milvus
	// does not enforce primary key uniqueness on its own.
	insertMu sync.Mutex
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim, connectRetries int) (*Client, error) {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = connectRetries
	retryCfg.InitialDelay = 500 * time.Millisecond
	retryCfg.Logger = logger.GetLogger()

	c, err := retry.DoWithResult(ctx, retryCfg, func() (client.Client, error) {
		return client.NewClient(ctx, client.Config{
			Address: endpoint,
			APIKey:  apiKey,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) EnsureCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.client.LoadCollection(ctx, z.collectionName, false)
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "document embeddings keyed by source filename",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(maxIDLength),
				},
			},
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(z.vectorDim),
				},
			},
			{
				Name:     fieldText,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(maxTextLength),
				},
			},
			{
				Name:     fieldSeq,
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Vectors are unit-normalized on insert, so inner product is cosine.
	idx, err := entity.NewIndexFlat(entity.IP)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))

	return nil
}

func (z *Client) Exists(ctx context.Context, id string) (bool, error) {
	rs, err := z.client.Query(
		ctx,
		z.collectionName,
		nil,
		idFilter([]string{id}),
		[]string{fieldID},
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return false, fmt.Errorf("failed to query document %s: %w", id, err)
	}

	col := rs.GetColumn(fieldID)
	return col != nil && col.Len() > 0, nil
}

func (z *Client) Insert(ctx context.Context, rec vector.Record) error {
	if rec.ID == "" {
		return vector.ErrEmptyID
	}
	if len(rec.Embedding) != z.vectorDim {
		return fmt.Errorf("%w: got %d, collection has %d", vector.ErrDimensionMismatch, len(rec.Embedding), z.vectorDim)
	}

	z.insertMu.Lock()
	defer z.insertMu.Unlock()

	exists, err := z.Exists(ctx, rec.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", vector.ErrDuplicateID, rec.ID)
	}

	_, err = z.client.Insert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar(fieldID, []string{rec.ID}),
		entity.NewColumnFloatVector(fieldEmbedding, z.vectorDim, [][]float32{vector.Normalize(rec.Embedding)}),
		entity.NewColumnVarChar(fieldText, []string{truncateUTF8(rec.Text, maxTextLength)}),
		entity.NewColumnInt64(fieldSeq, []int64{time.Now().UnixNano()}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document %s: %w", rec.ID, err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Debug("Document inserted into vector DB", zap.String("doc_id", rec.ID))

	return nil
}

type scored struct {
	result vector.Result
	seq    int64
}

func (z *Client) QueryAll(ctx context.Context, query []float32, k int) ([]vector.Result, error) {
	if len(query) != z.vectorDim {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", vector.ErrDimensionMismatch, len(query), z.vectorDim)
	}

	sp, err := entity.NewIndexFlatSearchParam()
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		"",
		[]string{fieldID, fieldText, fieldSeq},
		[]entity.Vector{entity.FloatVector(vector.Normalize(query))},
		fieldEmbedding,
		entity.IP,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]scored, 0)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn(fieldID)
		textCol := sr.Fields.GetColumn(fieldText)
		seqCol := sr.Fields.GetColumn(fieldSeq)

		for i := 0; i < sr.ResultCount; i++ {
			hits = append(hits, scored{
				result: vector.Result{
					ID:         stringAt(idCol, i),
					Text:       stringAt(textCol, i),
					Similarity: float64(sr.Scores[i]),
				},
				seq: int64At(seqCol, i),
			})
		}
	}

	results := rankBySeq(hits)

	logger.Debug("Vector search completed",
		zap.Int("topK", k),
		zap.Int("results", len(results)),
	)

	return results, nil
}

func (z *Client) QuerySubset(ctx context.Context, ids []string, query []float32, threshold float64, k int) ([]vector.Result, error) {
	if len(ids) == 0 {
		return []vector.Result{}, nil
	}

	rs, err := z.client.Query(
		ctx,
		z.collectionName,
		nil,
		idFilter(ids),
		[]string{fieldID, fieldText, fieldEmbedding, fieldSeq},
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subset: %w", err)
	}

	idCol := rs.GetColumn(fieldID)
	if idCol == nil || idCol.Len() == 0 {
		return []vector.Result{}, nil
	}
	if len(query) != z.vectorDim {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", vector.ErrDimensionMismatch, len(query), z.vectorDim)
	}

	embCol, ok := rs.GetColumn(fieldEmbedding).(*entity.ColumnFloatVector)
	if !ok {
		return nil, fmt.Errorf("unexpected embedding column type %T", rs.GetColumn(fieldEmbedding))
	}
	textCol := rs.GetColumn(fieldText)
	seqCol := rs.GetColumn(fieldSeq)
	embeddings := embCol.Data()

	q := vector.Normalize(query)
	hits := make([]scored, 0, idCol.Len())
	for i := 0; i < idCol.Len(); i++ {
		hits = append(hits, scored{
			result: vector.Result{
				ID:         stringAt(idCol, i),
				Text:       stringAt(textCol, i),
				Similarity: vector.Dot(q, vector.Normalize(embeddings[i])),
			},
			seq: int64At(seqCol, i),
		})
	}

	ordered := rankBySeq(hits)
	return vector.RankThreshold(ordered, threshold, k), nil
}

func (z *Client) Count(ctx context.Context) (int, error) {
	stats, err := z.client.GetCollectionStatistics(ctx, z.collectionName)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection statistics: %w", err)
	}
	n, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return 0, fmt.Errorf("invalid row_count %q: %w", stats["row_count"], err)
	}
	return n, nil
}

// rankBySeq orders by insertion sequence first so the stable similarity sort
// that follows breaks ties by insertion order.
func rankBySeq(hits []scored) []vector.Result {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })
	out := make([]vector.Result, len(hits))
	for i, h := range hits {
		out[i] = h.result
	}
	return vector.Rank(out, 0)
}

func idFilter(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return fmt.Sprintf("%s in [%s]", fieldID, strings.Join(quoted, ", "))
}

func stringAt(col entity.Column, i int) string {
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func int64At(col entity.Column, i int) int64 {
	if col == nil {
		return 0
	}
	v, err := col.Get(i)
	if err != nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
