package mmu

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/mem/dimension"
	"github.com/lexlapax/dimmem/pkg/mem/knowledge"
)

// Archive entries produced by compression
const (
	ArchiveDomain     = "archive"
	ArchiveConfidence = 0.9
	ArchiveSource     = "memory-compression"
)

// CompressionResult reports a compression run.
type CompressionResult struct {
	// Archive is the knowledge entry summarizing the compressed events, nil when nothing was compressed
	Archive *knowledge.Entry

	// Compressed is the number of events selected
	Compressed int

	// Deleted is the number of events removed after archiving
	Deleted int
}

// CompressMemories folds every episodic event that occurred strictly before
// before into one archive knowledge entry, then deletes those events. Events
// are deleted only after the archive entry is persisted; if archiving fails
// no event is touched. With nothing to compress it does nothing.
func (o *Orchestrator) CompressMemories(ctx context.Context, before time.Time) (*CompressionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.CompressionTimeout)
	defer cancel()

	old := o.stores.Episodic.OccurredBefore(before)
	if len(old) == 0 {
		log.DebugContext(ctx, "Nothing to compress", "before", before)
		return &CompressionResult{}, nil
	}

	var b strings.Builder
	for _, e := range old {
		fmt.Fprintf(&b, "[%s] %s\n", e.OccurredAt.UTC().Format(time.RFC3339), e.Summary)
	}

	first, last := old[0].OccurredAt.UTC(), old[len(old)-1].OccurredAt.UTC()
	archive, err := o.stores.Knowledge.Create(ctx, &knowledge.Entry{
		Header: dimension.Header{Metadata: map[string]interface{}{
			"event_count": len(old),
			"before":      before.UTC().Format(time.RFC3339),
			"from":        first.Format(time.RFC3339),
			"to":          last.Format(time.RFC3339),
		}},
		Domain:     ArchiveDomain,
		Topic:      fmt.Sprintf("Archived %d events before %s", len(old), before.UTC().Format("2006-01-02")),
		Content:    strings.TrimRight(b.String(), "\n"),
		Source:     ArchiveSource,
		Confidence: ArchiveConfidence,
	})
	if err != nil {
		return nil, fmt.Errorf("archive %d events, nothing deleted: %w", len(old), err)
	}

	result := &CompressionResult{Archive: archive, Compressed: len(old)}
	var errs []error
	for _, e := range old {
		ok, err := o.stores.Episodic.Delete(ctx, e.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			result.Deleted++
		}
	}

	log.InfoContext(ctx, "Compressed episodic memories",
		"archive_id", archive.ID,
		"compressed", result.Compressed,
		"deleted", result.Deleted)
	return result, errors.Join(errs...)
}
