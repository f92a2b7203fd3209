package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/tidemark/keel/store"
)

// ObjectSink receives archived batches. The production sink is a GCS bucket;
// tests substitute an in-memory one.
type ObjectSink interface {
	Put(ctx context.Context, name string, data []byte) error
}

type gcsSink struct {
	bucket *storage.BucketHandle
	prefix string
}

func (s gcsSink) Put(ctx context.Context, name string, data []byte) error {
	var w = s.bucket.Object(s.prefix + name).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// NewGCSSink builds an ObjectSink over the bucket and prefix of a
// gs://bucket/prefix URL.
func NewGCSSink(ctx context.Context, bucketURL string, opts ...option.ClientOption) (ObjectSink, error) {
	var parsed, err = url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("parsing archive bucket URL: %w", err)
	} else if parsed.Scheme != "gs" {
		return nil, fmt.Errorf("unsupported archive scheme %q (expected gs://)", parsed.Scheme)
	}

	// Building the client will fail if application default credentials aren't located.
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("building google storage client: %w", err)
	}

	var prefix = strings.TrimPrefix(parsed.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return gcsSink{bucket: client.Bucket(parsed.Host), prefix: prefix}, nil
}

// Archiver ships old audit entries to an ObjectSink as NDJSON batches and
// trims the shipped rows. Rows are only removed after their batch is durably
// written.
type Archiver struct {
	db        *store.DB
	sink      ObjectSink
	batchSize int
}

// NewArchiver returns an Archiver writing batches of up to |batchSize|
// entries to |sink|.
func NewArchiver(db *store.DB, sink ObjectSink, batchSize int) *Archiver {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Archiver{db: db, sink: sink, batchSize: batchSize}
}

// ArchiveOnce ships one batch of entries created before |olderThan| and
// deletes them. It returns the number archived; zero means nothing left.
func (a *Archiver) ArchiveOnce(ctx context.Context, olderThan time.Time) (int, error) {
	var entries []Entry
	var err = a.db.SelectContext(ctx, &entries, a.db.Rebind(
		`SELECT * FROM inventory_audit_log WHERE created_at < ? ORDER BY created_at, id LIMIT ?`),
		olderThan.UTC(), a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("selecting archivable audit entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var name = fmt.Sprintf("audit-%s-%s.ndjson",
		olderThan.UTC().Format("20060102T150405Z"), uuid.NewString())
	if err = a.sink.Put(ctx, name, encodeNDJSON(entries)); err != nil {
		return 0, fmt.Errorf("writing archive object %s: %w", name, err)
	}

	var ids = make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	query, args, err := sqlx.In(`DELETE FROM inventory_audit_log WHERE id IN (?)`, ids)
	if err != nil {
		return 0, fmt.Errorf("expanding archive trim query: %w", err)
	}
	if _, err = a.db.ExecContext(ctx, a.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("trimming archived audit entries: %w", err)
	}

	log.WithFields(log.Fields{
		"object":  name,
		"entries": len(entries),
	}).Info("archived audit batch")
	return len(entries), nil
}

func encodeNDJSON(entries []Entry) []byte {
	var buf bytes.Buffer
	var enc = json.NewEncoder(&buf)
	for i := range entries {
		// Encode never fails for Entry; a panic here means a broken type.
		if err := enc.Encode(&entries[i]); err != nil {
			panic(err)
		}
	}
	return buf.Bytes()
}
