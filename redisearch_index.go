package searchbase

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RediSearchBackend stores index documents as hashes under
// <DocumentPrefix>:<index>:<id> and indexes them with FT.CREATE ON HASH.
// The server must have the search module loaded (Redis Stack or Redis 8).
type RediSearchBackend struct {
	DocumentPrefix string
}

func (b *RediSearchBackend) Name() string { return IndexBackendRediSearch }

func (b *RediSearchBackend) Open(name string, clients ClientSource) SearchIndex {
	prefix := b.DocumentPrefix
	if prefix == "" {
		prefix = DefaultDocumentPrefix
	}
	return &redisearchIndex{
		name:      name,
		docPrefix: prefix + KeySeparator + name + KeySeparator,
		clients:   clients,
	}
}

type redisearchIndex struct {
	name      string
	docPrefix string
	clients   ClientSource
}

func (r *redisearchIndex) Name() string { return r.name }

func (r *redisearchIndex) docKey(id string) string { return r.docPrefix + id }

func (r *redisearchIndex) Ensure(ctx context.Context, schema IndexSchema) error {
	client, err := r.clients.Client()
	if err != nil {
		return err
	}

	existing, err := client.FT_List(ctx).Result()
	if err != nil {
		return r.classify(err)
	}
	for _, name := range existing {
		if name == r.name {
			return WithContext(ErrIndexExists, map[string]interface{}{"index": r.name})
		}
	}

	fields := make([]*redis.FieldSchema, 0, len(schema))
	for _, f := range schema {
		fields = append(fields, &redis.FieldSchema{
			FieldName: f.Name,
			FieldType: searchFieldType(f.Kind),
			Sortable:  f.Sortable,
		})
	}
	err = client.FTCreate(ctx, r.name, &redis.FTCreateOptions{
		OnHash: true,
		Prefix: []interface{}{r.docPrefix},
	}, fields...).Err()
	return r.classify(err)
}

func searchFieldType(kind FieldKind) redis.SearchFieldType {
	switch kind {
	case FieldTag:
		return redis.SearchFieldTypeTag
	case FieldNumeric:
		return redis.SearchFieldTypeNumeric
	case FieldGeo:
		return redis.SearchFieldTypeGeo
	default:
		return redis.SearchFieldTypeText
	}
}

func (r *redisearchIndex) Add(ctx context.Context, id string, fields map[string]string) error {
	client, err := r.clients.Client()
	if err != nil {
		return err
	}
	key := r.docKey(id)
	err = client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return WithContext(ErrDocumentExists, map[string]interface{}{"index": r.name, "id": id})
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, documentValues(fields, 1))
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return WithContext(ErrDocumentExists, map[string]interface{}{"index": r.name, "id": id})
	}
	return err
}

func (r *redisearchIndex) Replace(ctx context.Context, id string, revision int, fields map[string]string) error {
	client, err := r.clients.Client()
	if err != nil {
		return err
	}
	key := r.docKey(id)
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, documentValues(fields, revision))
		return nil
	})
	return err
}

func documentValues(fields map[string]string, revision int) map[string]interface{} {
	values := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	values[revisionField] = revision
	return values
}

func (r *redisearchIndex) Delete(ctx context.Context, id string) error {
	client, err := r.clients.Client()
	if err != nil {
		return err
	}
	return client.Del(ctx, r.docKey(id)).Err()
}

func (r *redisearchIndex) Search(ctx context.Context, q *Query) (*SearchResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	client, err := r.clients.Client()
	if err != nil {
		return nil, err
	}

	opts := &redis.FTSearchOptions{
		LimitOffset:    q.Offset,
		Limit:          q.Num,
		DialectVersion: 2,
	}
	if q.Num == 0 {
		opts.CountOnly = true
	}
	if q.SortBy != "" {
		opts.SortBy = []redis.FTSearchSortBy{{FieldName: q.SortBy, Asc: !q.Descending, Desc: q.Descending}}
	}

	res, err := client.FTSearchWithArgs(ctx, r.name, q.Expression, opts).Result()
	if err != nil {
		return nil, r.classify(err)
	}

	result := &SearchResult{Total: int64(res.Total)}
	for _, doc := range res.Docs {
		result.Docs = append(result.Docs, Document{
			ID:     strings.TrimPrefix(doc.ID, r.docPrefix),
			Fields: stripRevision(doc.Fields),
		})
	}
	return result, nil
}

func (r *redisearchIndex) DocumentIDs(ctx context.Context) ([]string, error) {
	client, err := r.clients.Client()
	if err != nil {
		return nil, err
	}
	keys, err := scanKeys(ctx, client, escapeGlob(r.docPrefix)+"*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, r.docPrefix)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *redisearchIndex) Drop(ctx context.Context) error {
	client, err := r.clients.Client()
	if err != nil {
		return err
	}
	err = client.FTDropIndexWithArgs(ctx, r.name, &redis.FTDropIndexOptions{DeleteDocs: true}).Err()
	if err != nil && isUnknownIndex(err) {
		return nil
	}
	return r.classify(err)
}

func (r *redisearchIndex) Close() error { return nil }

// classify maps search module replies to sentinel errors
func (r *redisearchIndex) classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "index already exists"):
		return WithContext(wrap(ErrIndexExists, err), map[string]interface{}{"index": r.name})
	case isUnknownIndex(err), strings.Contains(msg, "unknown command"):
		return WithContext(wrap(ErrIndexUnavailable, err), map[string]interface{}{"index": r.name})
	case strings.Contains(msg, "syntax error"):
		return WithContext(wrap(ErrInvalidQuery, err), map[string]interface{}{"index": r.name})
	}
	return err
}

func isUnknownIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index name") || strings.Contains(msg, "no such index")
}
