package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"deedstudio/internal/ffmpeg"
	"deedstudio/internal/media"
	"deedstudio/internal/model"
)

// sniffLen is how much of the stream mimetype needs to classify a file.
const sniffLen = 3072

// Prober is the subset of the ffmpeg toolkit the intake needs.
type Prober interface {
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
	CaptureFrame(ctx context.Context, path string, ts, duration time.Duration, width int) ([]byte, error)
}

// SelectInput is a file the user picked, still unread.
type SelectInput struct {
	AuthorID    string
	FileName    string
	ContentType string
	Size        int64 // -1 when unknown
	Body        io.Reader
}

type entry struct {
	owner      string
	sel        model.MediaSelection
	cover      *model.ThumbnailCandidate
	candidates []model.ThumbnailCandidate
	stripDone  bool
	stripStop  context.CancelFunc
	released   bool
	lastUsed   time.Time
}

// Intake holds the transient selections between picking a file and
// publishing it. Each selection owns one spooled temp file that is
// released exactly once.
type Intake struct {
	mu      sync.Mutex
	entries map[string]*entry

	prober   Prober
	policy   model.UploadPolicy
	spoolDir string
	log      *logrus.Entry

	now    func() time.Time
	remove func(path string) error
}

func New(prober Prober, policy model.UploadPolicy, spoolDir string, log *logrus.Entry) *Intake {
	return &Intake{
		entries:  make(map[string]*entry),
		prober:   prober,
		policy:   policy,
		spoolDir: spoolDir,
		log:      log,
		now:      time.Now,
		remove:   os.Remove,
	}
}

// Select validates, spools and probes a new file. Nothing is uploaded.
func (in *Intake) Select(ctx context.Context, input SelectInput) (*model.MediaSelection, error) {
	e, err := in.load(ctx, uuid.NewString(), input)
	if err != nil {
		return nil, err
	}

	in.mu.Lock()
	in.entries[e.sel.ID] = e
	in.mu.Unlock()

	in.startStrip(e)
	sel := e.sel
	return &sel, nil
}

// Replace swaps the file behind an existing selection id. The previous
// preview file is released exactly once, after the new one is accepted.
func (in *Intake) Replace(ctx context.Context, id string, input SelectInput) (*model.MediaSelection, error) {
	if _, err := in.touch(input.AuthorID, id); err != nil {
		return nil, err
	}

	e, err := in.load(ctx, id, input)
	if err != nil {
		return nil, err
	}

	in.mu.Lock()
	old := in.entries[id]
	in.entries[id] = e
	in.mu.Unlock()

	if old != nil {
		in.releaseEntry(old)
	}
	in.startStrip(e)

	sel := e.sel
	return &sel, nil
}

// load runs the size, type and probe checks in that order and builds an
// entry with its initial cover.
func (in *Intake) load(ctx context.Context, id string, input SelectInput) (*entry, error) {
	const op = "select media"

	if in.policy.MaxSizeBytes > 0 && input.Size > in.policy.MaxSizeBytes {
		return nil, model.NewError(model.KindTooLarge, op,
			fmt.Sprintf("file is %d bytes, limit is %d", input.Size, in.policy.MaxSizeBytes), nil)
	}
	if input.Body == nil {
		return nil, model.Validationf(op, "empty file")
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(input.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, model.Transport(op, err)
	}
	head = head[:n]
	if n == 0 {
		return nil, model.Validationf(op, "empty file")
	}

	contentType := resolveContentType(input.ContentType, head)
	kind, ok := model.KindFromMIME(contentType)
	if !ok {
		return nil, model.NewError(model.KindUnsupportedMedia, op,
			fmt.Sprintf("unsupported content type %q", contentType), nil)
	}

	path, size, err := in.spool(io.MultiReader(bytes.NewReader(head), input.Body))
	if err != nil {
		return nil, err
	}

	sel := model.MediaSelection{
		ID:          id,
		Kind:        kind,
		ContentType: contentType,
		FileName:    input.FileName,
		SizeBytes:   size,
		CreatedAt:   in.now(),
		PreviewPath: path,
	}

	e := &entry{owner: input.AuthorID, sel: sel, lastUsed: in.now()}
	if err := in.probe(ctx, e); err != nil {
		_ = in.remove(path)
		return nil, err
	}
	e.cover = in.initialCover(ctx, e)

	in.log.Infof("Select OK: id=%s kind=%s type=%s size=%d", id, kind, contentType, size)
	return e, nil
}

// resolveContentType trusts a specific declared type and sniffs generic
// or missing ones.
func resolveContentType(declared string, head []byte) string {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimetype.Detect(head).String()
}

// spool copies the body to a temp file, enforcing the size cap on the
// actual byte count.
func (in *Intake) spool(r io.Reader) (string, int64, error) {
	const op = "select media"

	f, err := os.CreateTemp(in.spoolDir, "selection-*")
	if err != nil {
		return "", 0, model.Transport(op, fmt.Errorf("create spool file: %w", err))
	}
	defer f.Close()

	limit := in.policy.MaxSizeBytes
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}

	n, err := io.Copy(f, src)
	if err != nil {
		_ = in.remove(f.Name())
		return "", 0, model.Transport(op, fmt.Errorf("spool file: %w", err))
	}
	if limit > 0 && n > limit {
		_ = in.remove(f.Name())
		return "", 0, model.NewError(model.KindTooLarge, op,
			fmt.Sprintf("file exceeds limit of %d bytes", limit), nil)
	}
	return f.Name(), n, nil
}

func (in *Intake) probe(ctx context.Context, e *entry) error {
	const op = "probe media"
	switch e.sel.Kind {
	case model.MediaVideo:
		info, err := in.prober.ProbeVideo(ctx, e.sel.PreviewPath)
		if err != nil {
			return model.NewError(model.KindDecodeFailure, op, "could not read video metadata", err)
		}
		secs := info.DurationSeconds()
		e.sel.DurationSeconds = &secs
		e.sel.Duration = info.Duration
		if info.Width > 0 && info.Height > 0 {
			w, h := info.Width, info.Height
			e.sel.Width, e.sel.Height = &w, &h
		}
	case model.MediaImage:
		f, err := os.Open(e.sel.PreviewPath)
		if err != nil {
			return model.NewError(model.KindDecodeFailure, op, "could not open image", err)
		}
		defer f.Close()
		w, h, err := media.Dimensions(f)
		if err != nil {
			return model.NewError(model.KindDecodeFailure, op, "could not read image dimensions", err)
		}
		e.sel.Width, e.sel.Height = &w, &h
	}
	return nil
}

// initialCover captures the default cover. Failure leaves the selection
// without a cover.
func (in *Intake) initialCover(ctx context.Context, e *entry) *model.ThumbnailCandidate {
	switch e.sel.Kind {
	case model.MediaVideo:
		ts := ffmpeg.ClampTimestamp(model.DefaultCoverOffset, e.sel.Duration)
		data, err := in.prober.CaptureFrame(ctx, e.sel.PreviewPath, ts, e.sel.Duration, model.CoverWidth)
		if err != nil {
			in.log.Warnf("Initial cover FAILED: id=%s err=%v", e.sel.ID, err)
			return nil
		}
		return &model.ThumbnailCandidate{TimestampMs: ts.Milliseconds(), ImageData: data}
	default:
		f, err := os.Open(e.sel.PreviewPath)
		if err != nil {
			in.log.Warnf("Initial cover FAILED: id=%s err=%v", e.sel.ID, err)
			return nil
		}
		defer f.Close()
		data, err := media.CoverJPEG(f, model.CoverWidth)
		if err != nil {
			in.log.Warnf("Initial cover FAILED: id=%s err=%v", e.sel.ID, err)
			return nil
		}
		return &model.ThumbnailCandidate{ImageData: data}
	}
}

// startStrip generates the candidate strip in the background. Images get
// their own cover as the only candidate.
func (in *Intake) startStrip(e *entry) {
	if e.sel.Kind != model.MediaVideo {
		in.mu.Lock()
		if e.cover != nil {
			e.candidates = []model.ThumbnailCandidate{*e.cover}
		}
		e.stripDone = true
		in.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	in.mu.Lock()
	e.stripStop = cancel
	in.mu.Unlock()

	go func() {
		defer cancel()
		candidates := in.generateStrip(ctx, e.sel)

		in.mu.Lock()
		defer in.mu.Unlock()
		// A replaced or released selection discards its strip.
		if e.released || in.entries[e.sel.ID] != e {
			return
		}
		e.candidates = candidates
		e.stripDone = true
	}()
}

// generateStrip captures CandidateCount evenly spaced frames. Any decode
// failure yields an empty strip.
func (in *Intake) generateStrip(ctx context.Context, sel model.MediaSelection) []model.ThumbnailCandidate {
	offsets := ffmpeg.StripOffsets(sel.Duration, model.CandidateCount)
	out := make([]model.ThumbnailCandidate, len(offsets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for i, ts := range offsets {
		i, ts := i, ts
		g.Go(func() error {
			data, err := in.prober.CaptureFrame(gctx, sel.PreviewPath, ts, sel.Duration, model.CoverWidth)
			if err != nil {
				return err
			}
			out[i] = model.ThumbnailCandidate{TimestampMs: ts.Milliseconds(), ImageData: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		in.log.Warnf("Candidate strip FAILED: id=%s err=%v", sel.ID, err)
		return []model.ThumbnailCandidate{}
	}
	return out
}

// Get returns a copy of the selection.
func (in *Intake) Get(authorID, id string) (*model.MediaSelection, error) {
	e, err := in.touch(authorID, id)
	if err != nil {
		return nil, err
	}
	in.mu.Lock()
	sel := e.sel
	in.mu.Unlock()
	return &sel, nil
}

// Capture renders a cover at an arbitrary timestamp and makes it active.
// Offsets past the end behave like the end.
func (in *Intake) Capture(ctx context.Context, authorID, id string, timestampMs int64) (*model.ThumbnailCandidate, error) {
	const op = "capture cover"
	e, err := in.touch(authorID, id)
	if err != nil {
		return nil, err
	}

	in.mu.Lock()
	sel := e.sel
	in.mu.Unlock()
	if sel.Kind != model.MediaVideo {
		return nil, model.Validationf(op, "only video selections support frame capture")
	}

	ts := ffmpeg.ClampTimestamp(time.Duration(timestampMs)*time.Millisecond, sel.Duration)
	data, err := in.prober.CaptureFrame(ctx, sel.PreviewPath, ts, sel.Duration, model.CoverWidth)
	if err != nil {
		return nil, model.NewError(model.KindDecodeFailure, op, "could not capture frame", err)
	}

	cover := &model.ThumbnailCandidate{TimestampMs: ts.Milliseconds(), ImageData: data}
	in.mu.Lock()
	if !e.released {
		e.cover = cover
	}
	in.mu.Unlock()
	return cover, nil
}

// Candidates returns the strip and whether generation has finished.
func (in *Intake) Candidates(authorID, id string) ([]model.ThumbnailCandidate, bool, error) {
	e, err := in.touch(authorID, id)
	if err != nil {
		return nil, false, err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]model.ThumbnailCandidate, len(e.candidates))
	copy(out, e.candidates)
	return out, e.stripDone, nil
}

// Candidate returns one strip entry.
func (in *Intake) Candidate(authorID, id string, index int) (*model.ThumbnailCandidate, error) {
	list, _, err := in.Candidates(authorID, id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(list) {
		return nil, model.Validationf("get candidate", "candidate %d out of range", index)
	}
	c := list[index]
	return &c, nil
}

// SetCover promotes a strip entry to the active cover.
func (in *Intake) SetCover(authorID, id string, index int) (*model.ThumbnailCandidate, error) {
	e, err := in.touch(authorID, id)
	if err != nil {
		return nil, err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if index < 0 || index >= len(e.candidates) {
		return nil, model.Validationf("set cover", "candidate %d out of range", index)
	}
	c := e.candidates[index]
	e.cover = &c
	return &c, nil
}

// Cover returns the active cover, or nil when none could be produced.
func (in *Intake) Cover(authorID, id string) (*model.ThumbnailCandidate, error) {
	e, err := in.touch(authorID, id)
	if err != nil {
		return nil, err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if e.cover == nil {
		return nil, nil
	}
	c := *e.cover
	return &c, nil
}

// Open opens the preview file for reading. The caller closes it.
func (in *Intake) Open(authorID, id string) (io.ReadCloser, error) {
	e, err := in.touch(authorID, id)
	if err != nil {
		return nil, err
	}
	in.mu.Lock()
	path := e.sel.PreviewPath
	in.mu.Unlock()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open selection %s: %w", id, err)
	}
	return f, nil
}

// Release drops a selection and its preview file. Releasing an unknown,
// foreign or already released selection is a no-op.
func (in *Intake) Release(authorID, id string) {
	in.mu.Lock()
	e, ok := in.entries[id]
	ok = ok && e.owner == authorID
	if ok {
		delete(in.entries, id)
	}
	in.mu.Unlock()

	if ok {
		in.releaseEntry(e)
	}
}

func (in *Intake) releaseEntry(e *entry) {
	in.mu.Lock()
	if e.released {
		in.mu.Unlock()
		return
	}
	e.released = true
	stop := e.stripStop
	path := e.sel.PreviewPath
	in.mu.Unlock()

	if stop != nil {
		stop()
	}
	if err := in.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		in.log.Warnf("Release FAILED: id=%s path=%s err=%v", e.sel.ID, path, err)
		return
	}
	in.log.Debugf("Release OK: id=%s", e.sel.ID)
}

// Sweep releases selections idle for longer than maxAge and returns how
// many were dropped.
func (in *Intake) Sweep(maxAge time.Duration) int {
	cutoff := in.now().Add(-maxAge)

	in.mu.Lock()
	var stale []*entry
	for id, e := range in.entries {
		if e.lastUsed.Before(cutoff) {
			stale = append(stale, e)
			delete(in.entries, id)
		}
	}
	in.mu.Unlock()

	for _, e := range stale {
		in.releaseEntry(e)
	}
	return len(stale)
}

// RunJanitor sweeps abandoned selections until ctx is done, then releases
// everything still held.
func (in *Intake) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			in.Close()
			return
		case <-ticker.C:
			if n := in.Sweep(maxAge); n > 0 {
				in.log.Infof("Sweep OK: released=%d", n)
			}
		}
	}
}

// Close releases every selection.
func (in *Intake) Close() {
	in.mu.Lock()
	all := make([]*entry, 0, len(in.entries))
	for id, e := range in.entries {
		all = append(all, e)
		delete(in.entries, id)
	}
	in.mu.Unlock()

	for _, e := range all {
		in.releaseEntry(e)
	}
}

// touch looks up a selection owned by authorID. Another author's
// selection reads as not found.
func (in *Intake) touch(authorID, id string) (*entry, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	e, ok := in.entries[id]
	if !ok || e.owner != authorID {
		return nil, model.ErrSelectionNotFound
	}
	e.lastUsed = in.now()
	return e, nil
}
