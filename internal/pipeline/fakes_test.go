package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"resume-ingest/internal/adapters"
	"resume-ingest/internal/credentials"
	"resume-ingest/internal/resumes"
)

const validStructured = `{"name":"Jane Doe","contact":{"email":"jane@example.com","phone":"","location":"","links":[]},"summary":"","workHistory":[{"company":"Acme","title":"Engineer","startDate":"2020-01","endDate":"present","highlights":[]}],"education":[],"skills":["Go"]}`

type fakeConverter struct {
	mu    sync.Mutex
	calls int
	pages map[string][]adapters.PageImage
	err   error
}

func (f *fakeConverter) ConvertToImages(_ context.Context, doc adapters.Document) ([]adapters.PageImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if pages, ok := f.pages[doc.Name]; ok {
		return pages, nil
	}
	return []adapters.PageImage{{PageNumber: 1, MimeType: adapters.MimePNG, Data: []byte(doc.Name + "#1")}}, nil
}

// fakeExtractor returns scripted errors per page payload, then the payload as text.
type fakeExtractor struct {
	mu      sync.Mutex
	calls   []string
	keys    []string
	script  map[string][]error
	onCall  func(page adapters.PageImage)
	respond func(page adapters.PageImage) string
}

func (f *fakeExtractor) ExtractText(ctx context.Context, page adapters.PageImage) (string, error) {
	f.mu.Lock()
	key := string(page.Data)
	f.calls = append(f.calls, key)
	if creds, ok := credentials.FromContext(ctx); ok {
		f.keys = append(f.keys, creds.ExtractionKey)
	}
	var err error
	if queue := f.script[key]; len(queue) > 0 {
		err = queue[0]
		f.script[key] = queue[1:]
	}
	onCall := f.onCall
	f.mu.Unlock()

	if onCall != nil {
		onCall(page)
	}
	if err != nil {
		return "", err
	}
	if f.respond != nil {
		return f.respond(page), nil
	}
	return "text of " + key, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// blockingExtractor holds its first `block` calls until their context ends,
// so only the engine's own per-call timeout can release them.
type blockingExtractor struct {
	mu      sync.Mutex
	calls   int
	block   int
	onBlock func()
}

func (b *blockingExtractor) ExtractText(ctx context.Context, page adapters.PageImage) (string, error) {
	b.mu.Lock()
	b.calls++
	n := b.calls
	onBlock := b.onBlock
	b.mu.Unlock()

	if n <= b.block {
		if onBlock != nil {
			onBlock()
		}
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "text of " + string(page.Data), nil
}

func (b *blockingExtractor) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type fakeStructurer struct {
	mu     sync.Mutex
	inputs []string
	out    string
	err    error
}

func (f *fakeStructurer) Structure(_ context.Context, text string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, text)
	if f.err != nil {
		return nil, f.err
	}
	out := f.out
	if out == "" {
		out = validStructured
	}
	return json.RawMessage(out), nil
}

type flakyStore struct {
	*resumes.MemoryRepo
	mu        sync.Mutex
	failures  int
	calls     int
	onPersist func()
}

func (s *flakyStore) Persist(ctx context.Context, userID string, r resumes.ProcessedResume) (resumes.Ack, error) {
	s.mu.Lock()
	s.calls++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	hook := s.onPersist
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail {
		return resumes.Ack{}, errors.New("connection reset by peer")
	}
	return s.MemoryRepo.Persist(ctx, userID, r)
}

type staticCreds struct {
	calls int
	err   error
}

func (s *staticCreds) GetProcessingCredentials(context.Context) (credentials.Credentials, error) {
	s.calls++
	if s.err != nil {
		return credentials.Credentials{}, s.err
	}
	return credentials.Credentials{ExtractionKey: "ext", StructuringKey: "str", ConversionKey: "conv"}, nil
}

type harness struct {
	conv   *fakeConverter
	ext    *fakeExtractor
	str    *fakeStructurer
	store  *flakyStore
	creds  *staticCreds
	engine *Engine
	coord  *Coordinator
}

func newHarness() *harness {
	h := &harness{
		conv:  &fakeConverter{pages: map[string][]adapters.PageImage{}},
		ext:   &fakeExtractor{script: map[string][]error{}},
		str:   &fakeStructurer{},
		store: &flakyStore{MemoryRepo: resumes.NewMemoryRepo()},
		creds: &staticCreds{},
	}
	h.engine = NewEngine(h.conv, h.ext, h.str, h.store, DefaultConfig())
	h.engine.sleep = func(time.Duration) {}
	h.coord = NewCoordinator(h.engine, h.creds, nil)
	return h
}

func pdfFile(n int) File {
	name := fmt.Sprintf("cv-%d.pdf", n)
	return File{ID: fmt.Sprintf("f%d", n), Name: name, MimeType: adapters.MimePDF, SizeBytes: 10, Data: []byte("%PDF-" + name)}
}

func pngFile(n int) File {
	name := fmt.Sprintf("scan-%d.png", n)
	return File{ID: fmt.Sprintf("f%d", n), Name: name, MimeType: adapters.MimePNG, SizeBytes: 10, Data: []byte("png-" + name)}
}

func timeoutErr() error {
	return adapters.Transient("extraction", adapters.CodeTimeout, context.DeadlineExceeded)
}
