package searchbase

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// SetIndexBackend keeps indexes as plain Redis sets, sorted sets, geo sets
// and hashes. It needs no server module, so it runs against any Redis
// including miniredis.
//
// Key layout for index "Event" under prefix "sidx":
//
//	sidx:Event:schema              schema definition (string, SETNX)
//	sidx:Event:docs                document ids (set)
//	sidx:Event:doc:<id>            document fields (hash)
//	sidx:Event:t:<field>:<token>   text postings (set)
//	sidx:Event:g:<field>:<tag>     tag postings (set)
//	sidx:Event:n:<field>           numeric values (sorted set)
//	sidx:Event:geo:<field>         coordinates (geo set)
type SetIndexBackend struct {
	KeyPrefix string
}

func (b *SetIndexBackend) Name() string { return IndexBackendSets }

func (b *SetIndexBackend) Open(name string, clients ClientSource) SearchIndex {
	prefix := b.KeyPrefix
	if prefix == "" {
		prefix = DefaultIndexKeyPrefix
	}
	return &setIndex{
		name:    name,
		prefix:  prefix + KeySeparator + name,
		clients: clients,
	}
}

type setIndex struct {
	name    string
	prefix  string
	clients ClientSource

	mu     sync.RWMutex
	schema IndexSchema
}

func (s *setIndex) Name() string { return s.name }

func (s *setIndex) schemaKey() string { return s.prefix + ":schema" }
func (s *setIndex) docsKey() string   { return s.prefix + ":docs" }

func (s *setIndex) docKey(id string) string { return s.prefix + ":doc:" + id }

func (s *setIndex) textKey(field, token string) string {
	return s.prefix + ":t:" + field + ":" + token
}

func (s *setIndex) tagKey(field, tag string) string {
	return s.prefix + ":g:" + field + ":" + tag
}

func (s *setIndex) numericKey(field string) string { return s.prefix + ":n:" + field }
func (s *setIndex) geoKey(field string) string     { return s.prefix + ":geo:" + field }

func (s *setIndex) Ensure(ctx context.Context, schema IndexSchema) error {
	client, err := s.clients.Client()
	if err != nil {
		return err
	}
	created, err := client.SetNX(ctx, s.schemaKey(), encodeSchema(schema), 0).Result()
	if err != nil {
		return err
	}
	if !created {
		s.setSchema(nil)
		return WithContext(ErrIndexExists, map[string]interface{}{"index": s.name})
	}
	s.setSchema(schema)
	return nil
}

func (s *setIndex) setSchema(schema IndexSchema) {
	s.mu.Lock()
	s.schema = schema
	s.mu.Unlock()
}

func (s *setIndex) loadSchema(ctx context.Context, client *redis.Client) (IndexSchema, error) {
	s.mu.RLock()
	schema := s.schema
	s.mu.RUnlock()
	if schema != nil {
		return schema, nil
	}

	raw, err := client.Get(ctx, s.schemaKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, WithContext(ErrIndexUnavailable, map[string]interface{}{
			"index":  s.name,
			"reason": "index does not exist",
		})
	}
	if err != nil {
		return nil, err
	}
	schema, err = decodeSchema(raw)
	if err != nil {
		return nil, WithContext(err, map[string]interface{}{"index": s.name})
	}
	s.setSchema(schema)
	return schema, nil
}

func (s *setIndex) Add(ctx context.Context, id string, fields map[string]string) error {
	client, err := s.clients.Client()
	if err != nil {
		return err
	}
	schema, err := s.loadSchema(ctx, client)
	if err != nil {
		return err
	}
	p, err := s.postings(schema, fields)
	if err != nil {
		return err
	}

	added, err := client.SAdd(ctx, s.docsKey(), id).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		return WithContext(ErrDocumentExists, map[string]interface{}{"index": s.name, "id": id})
	}

	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.writeDocument(ctx, pipe, id, 1, fields, p)
		return nil
	})
	if err != nil {
		client.SRem(ctx, s.docsKey(), id)
	}
	return err
}

func (s *setIndex) Replace(ctx context.Context, id string, revision int, fields map[string]string) error {
	client, err := s.clients.Client()
	if err != nil {
		return err
	}
	schema, err := s.loadSchema(ctx, client)
	if err != nil {
		return err
	}
	p, err := s.postings(schema, fields)
	if err != nil {
		return err
	}

	// WATCH keeps a concurrent replace of the same document from leaving
	// postings of both versions behind.
	docKey := s.docKey(id)
	err = client.Watch(ctx, func(tx *redis.Tx) error {
		old, err := tx.HGetAll(ctx, docKey).Result()
		if err != nil {
			return err
		}
		oldPostings, _ := s.postings(schema, old)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.removeDocument(ctx, pipe, id, oldPostings)
			pipe.SAdd(ctx, s.docsKey(), id)
			s.writeDocument(ctx, pipe, id, revision, fields, p)
			return nil
		})
		return err
	}, docKey)
	if errors.Is(err, redis.TxFailedErr) {
		return WithContext(ErrConflict, map[string]interface{}{"index": s.name, "id": id})
	}
	return err
}

func (s *setIndex) Delete(ctx context.Context, id string) error {
	client, err := s.clients.Client()
	if err != nil {
		return err
	}
	schema, err := s.loadSchema(ctx, client)
	if err != nil {
		return err
	}
	docKey := s.docKey(id)
	return client.Watch(ctx, func(tx *redis.Tx) error {
		old, err := tx.HGetAll(ctx, docKey).Result()
		if err != nil {
			return err
		}
		oldPostings, _ := s.postings(schema, old)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.removeDocument(ctx, pipe, id, oldPostings)
			pipe.SRem(ctx, s.docsKey(), id)
			return nil
		})
		return err
	}, docKey)
}

// postingSet lists the index entries derived from one document
type postingSet struct {
	sets    []string
	numbers map[string]float64
	points  map[string]GeoPoint
}

func (s *setIndex) postings(schema IndexSchema, fields map[string]string) (postingSet, error) {
	p := postingSet{numbers: map[string]float64{}, points: map[string]GeoPoint{}}
	for _, f := range schema {
		v, ok := fields[f.Name]
		if !ok || v == "" {
			continue
		}
		switch f.Kind {
		case FieldText:
			for _, tok := range Tokenize(v) {
				p.sets = append(p.sets, s.textKey(f.Name, tok))
			}
		case FieldTag:
			for _, tag := range splitTags(v) {
				p.sets = append(p.sets, s.tagKey(f.Name, tag))
			}
		case FieldNumeric:
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return p, WithContext(ErrInvalidData, map[string]interface{}{
					"index": s.name, "field": f.Name, "value": v, "reason": "not numeric",
				})
			}
			p.numbers[f.Name] = n
		case FieldGeo:
			pt, err := ParseGeoPoint(v)
			if err != nil {
				return p, WithContext(err, map[string]interface{}{"index": s.name, "field": f.Name})
			}
			p.points[f.Name] = pt
		}
	}
	return p, nil
}

func (s *setIndex) writeDocument(ctx context.Context, pipe redis.Pipeliner, id string, revision int, fields map[string]string, p postingSet) {
	values := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	values[revisionField] = revision
	pipe.HSet(ctx, s.docKey(id), values)

	for _, key := range p.sets {
		pipe.SAdd(ctx, key, id)
	}
	for field, n := range p.numbers {
		pipe.ZAdd(ctx, s.numericKey(field), redis.Z{Score: n, Member: id})
	}
	for field, pt := range p.points {
		pipe.GeoAdd(ctx, s.geoKey(field), &redis.GeoLocation{
			Name:      id,
			Longitude: pt.Longitude,
			Latitude:  pt.Latitude,
		})
	}
}

func (s *setIndex) removeDocument(ctx context.Context, pipe redis.Pipeliner, id string, p postingSet) {
	for _, key := range p.sets {
		pipe.SRem(ctx, key, id)
	}
	for field := range p.numbers {
		pipe.ZRem(ctx, s.numericKey(field), id)
	}
	for field := range p.points {
		pipe.ZRem(ctx, s.geoKey(field), id)
	}
	pipe.Del(ctx, s.docKey(id))
}

func (s *setIndex) Search(ctx context.Context, q *Query) (*SearchResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	expr, err := ParseExpression(q.Expression)
	if err != nil {
		return nil, err
	}
	client, err := s.clients.Client()
	if err != nil {
		return nil, err
	}
	schema, err := s.loadSchema(ctx, client)
	if err != nil {
		return nil, err
	}

	e := &setEvaluator{idx: s, client: client, schema: schema}
	hits, err := e.eval(ctx, expr)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	if err := s.sortIDs(ctx, client, schema, ids, q); err != nil {
		return nil, err
	}

	result := &SearchResult{Total: int64(len(ids))}
	if q.Offset >= len(ids) {
		return result, nil
	}
	end := q.Offset + q.Num
	if end > len(ids) || end < q.Offset {
		end = len(ids)
	}
	page := ids[q.Offset:end]
	if len(page) == 0 {
		return result, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(page))
	_, err = client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range page {
			cmds[i] = pipe.HGetAll(ctx, s.docKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		result.Docs = append(result.Docs, Document{ID: page[i], Fields: stripRevision(fields)})
	}
	return result, nil
}

// sortIDs orders hits by id, or by the query's sort field with id as the
// tie breaker. Documents without a value for the sort field come last.
func (s *setIndex) sortIDs(ctx context.Context, client *redis.Client, schema IndexSchema, ids []string, q *Query) error {
	if q.SortBy == "" {
		sort.Strings(ids)
		if q.Descending {
			reverse(ids)
		}
		return nil
	}
	field, ok := schema.Field(q.SortBy)
	if !ok {
		return WithContext(ErrInvalidQuery, map[string]interface{}{
			"index": s.name, "field": q.SortBy, "reason": "unknown sort field",
		})
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGet(ctx, s.docKey(id), field.Name)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	type sortKey struct {
		id      string
		present bool
		num     float64
		text    string
	}
	keys := make([]sortKey, len(ids))
	for i, id := range ids {
		k := sortKey{id: id}
		if v, err := cmds[i].Result(); err == nil {
			k.present = true
			k.text = strings.ToLower(v)
			if field.Kind == FieldNumeric {
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					k.num = n
				} else {
					k.present = false
				}
			}
		}
		keys[i] = k
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.present != b.present {
			return a.present
		}
		if a.present {
			var less, greater bool
			if field.Kind == FieldNumeric {
				less, greater = a.num < b.num, a.num > b.num
			} else {
				less, greater = a.text < b.text, a.text > b.text
			}
			if q.Descending {
				less, greater = greater, less
			}
			if less || greater {
				return less
			}
		}
		return a.id < b.id
	})
	for i := range keys {
		ids[i] = keys[i].id
	}
	return nil
}

func (s *setIndex) DocumentIDs(ctx context.Context) ([]string, error) {
	client, err := s.clients.Client()
	if err != nil {
		return nil, err
	}
	ids, err := client.SMembers(ctx, s.docsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *setIndex) Drop(ctx context.Context) error {
	client, err := s.clients.Client()
	if err != nil {
		return err
	}
	keys, err := scanKeys(ctx, client, escapeGlob(s.prefix)+":*")
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += DefaultPageSize {
		end := start + DefaultPageSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return err
		}
	}
	s.setSchema(nil)
	return nil
}

func (s *setIndex) Close() error {
	s.setSchema(nil)
	return nil
}

// setEvaluator resolves an expression to a set of document ids
type setEvaluator struct {
	idx    *setIndex
	client *redis.Client
	schema IndexSchema
	all    map[string]struct{}
}

type idSet map[string]struct{}

func (e *setEvaluator) eval(ctx context.Context, expr Expression) (idSet, error) {
	switch x := expr.(type) {
	case MatchAll:
		return e.universe(ctx)
	case Term:
		return e.evalTerm(ctx, x)
	case TagMatch:
		if err := e.requireKind(x.Field, FieldTag); err != nil {
			return nil, err
		}
		keys := make([]string, len(x.Values))
		for i, v := range x.Values {
			keys[i] = e.idx.tagKey(x.Field, v)
		}
		return e.union(ctx, keys)
	case NumericRange:
		if err := e.requireKind(x.Field, FieldNumeric); err != nil {
			return nil, err
		}
		ids, err := e.client.ZRangeByScore(ctx, e.idx.numericKey(x.Field), &redis.ZRangeBy{
			Min: scoreBound(x.Min, x.ExclusiveMin),
			Max: scoreBound(x.Max, x.ExclusiveMax),
		}).Result()
		if err != nil {
			return nil, err
		}
		return toSet(ids), nil
	case GeoRadius:
		if err := e.requireKind(x.Field, FieldGeo); err != nil {
			return nil, err
		}
		locs, err := e.client.GeoRadius(ctx, e.idx.geoKey(x.Field), x.Longitude, x.Latitude, &redis.GeoRadiusQuery{
			Radius: x.Radius,
			Unit:   x.Unit,
		}).Result()
		if err != nil {
			return nil, err
		}
		out := make(idSet, len(locs))
		for _, l := range locs {
			out[l.Name] = struct{}{}
		}
		return out, nil
	case Or:
		out := idSet{}
		for _, c := range x.Clauses {
			ids, err := e.eval(ctx, c)
			if err != nil {
				return nil, err
			}
			for id := range ids {
				out[id] = struct{}{}
			}
		}
		return out, nil
	case And:
		return e.evalAnd(ctx, x)
	case Not:
		return e.evalAnd(ctx, And{Clauses: []Expression{x}})
	}
	return nil, WithContext(ErrInvalidQuery, map[string]interface{}{"expression": expr.String()})
}

// evalAnd intersects the positive clauses and subtracts the negated ones.
// With only negated clauses the intersection starts from every document.
func (e *setEvaluator) evalAnd(ctx context.Context, a And) (idSet, error) {
	var (
		acc      idSet
		excluded []idSet
	)
	for _, c := range a.Clauses {
		if n, ok := c.(Not); ok {
			ids, err := e.eval(ctx, n.Clause)
			if err != nil {
				return nil, err
			}
			excluded = append(excluded, ids)
			continue
		}
		ids, err := e.eval(ctx, c)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = make(idSet, len(ids))
			for id := range ids {
				acc[id] = struct{}{}
			}
			continue
		}
		for id := range acc {
			if _, ok := ids[id]; !ok {
				delete(acc, id)
			}
		}
	}
	if acc == nil {
		all, err := e.universe(ctx)
		if err != nil {
			return nil, err
		}
		acc = make(idSet, len(all))
		for id := range all {
			acc[id] = struct{}{}
		}
	}
	for _, ex := range excluded {
		for id := range ex {
			delete(acc, id)
		}
	}
	return acc, nil
}

func (e *setEvaluator) evalTerm(ctx context.Context, t Term) (idSet, error) {
	var fields []string
	if t.Field != "" {
		if err := e.requireKind(t.Field, FieldText); err != nil {
			return nil, err
		}
		fields = []string{t.Field}
	} else {
		for _, f := range e.schema {
			if f.Kind == FieldText {
				fields = append(fields, f.Name)
			}
		}
	}

	var keys []string
	for _, f := range fields {
		if !t.Prefix {
			keys = append(keys, e.idx.textKey(f, t.Token))
			continue
		}
		matched, err := scanKeys(ctx, e.client, escapeGlob(e.idx.textKey(f, t.Token))+"*")
		if err != nil {
			return nil, err
		}
		keys = append(keys, matched...)
	}
	return e.union(ctx, keys)
}

func (e *setEvaluator) union(ctx context.Context, keys []string) (idSet, error) {
	if len(keys) == 0 {
		return idSet{}, nil
	}
	ids, err := e.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	return toSet(ids), nil
}

// universe returns every document id. The cached set is shared, so callers
// that mutate must copy.
func (e *setEvaluator) universe(ctx context.Context) (idSet, error) {
	if e.all != nil {
		return e.all, nil
	}
	ids, err := e.client.SMembers(ctx, e.idx.docsKey()).Result()
	if err != nil {
		return nil, err
	}
	e.all = toSet(ids)
	return e.all, nil
}

func (e *setEvaluator) requireKind(field string, kind FieldKind) error {
	f, ok := e.schema.Field(field)
	if !ok {
		return WithContext(ErrInvalidQuery, map[string]interface{}{
			"index": e.idx.name, "field": field, "reason": "unknown field",
		})
	}
	if f.Kind != kind {
		return WithContext(ErrInvalidQuery, map[string]interface{}{
			"index": e.idx.name, "field": field, "reason": "field is " + f.Kind.String() + ", not " + kind.String(),
		})
	}
	return nil
}

func toSet(ids []string) idSet {
	out := make(idSet, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func scoreBound(v float64, exclusive bool) string {
	if math.IsInf(v, 0) {
		return formatFloat(v)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if exclusive {
		s = "(" + s
	}
	return s
}

func splitTags(v string) []string {
	parts := strings.Split(v, TagSeparator)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func reverse(ids []string) {
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
}

func encodeSchema(schema IndexSchema) string {
	parts := make([]string, len(schema))
	for i, f := range schema {
		parts[i] = f.Name + KeySeparator + f.Kind.String()
		if f.Sortable {
			parts[i] += KeySeparator + "SORTABLE"
		}
	}
	return strings.Join(parts, ";")
}

func decodeSchema(raw string) (IndexSchema, error) {
	var schema IndexSchema
	for _, part := range strings.Split(raw, ";") {
		if part == "" {
			continue
		}
		fields := strings.Split(part, KeySeparator)
		if len(fields) < 2 {
			return nil, WithContext(ErrInvalidData, map[string]interface{}{"schema": raw})
		}
		kind, ok := ParseFieldKind(fields[1])
		if !ok {
			return nil, WithContext(ErrInvalidData, map[string]interface{}{"schema": raw, "kind": fields[1]})
		}
		schema = append(schema, IndexField{
			Name:     fields[0],
			Kind:     kind,
			Sortable: len(fields) > 2 && fields[2] == "SORTABLE",
		})
	}
	return schema, nil
}
