package analysis

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VCBorges/automatizai-challenge/internal/extraction"
	"github.com/VCBorges/automatizai-challenge/internal/models"
	"github.com/VCBorges/automatizai-challenge/internal/retry"
	"github.com/VCBorges/automatizai-challenge/internal/storage"
	"github.com/VCBorges/automatizai-challenge/internal/store"
)

var createdAt = time.Date(2024, time.June, 15, 10, 0, 0, 0, time.UTC)

type fakeQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *fakeQueue) Enqueue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

type stubGateway struct {
	mu       sync.Mutex
	fields   map[models.DocumentType]models.Fields
	detected map[models.DocumentType]models.DocumentType
	calls    int
}

func (g *stubGateway) Classify(_ context.Context, t models.DocumentType, _ string) (extraction.Classification, error) {
	detected := t
	if d, ok := g.detected[t]; ok {
		detected = d
	}
	return extraction.Classification{IsMatch: detected == t, ExpectedType: t, DetectedType: detected, Confidence: 0.9}, nil
}

func (g *stubGateway) Extract(_ context.Context, t models.DocumentType, _ string) (extraction.Extraction, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	f, ok := g.fields[t]
	if !ok {
		return extraction.Extraction{}, &extraction.Failure{Kind: extraction.KindUpstreamError, Message: "status 400"}
	}
	return extraction.Extraction{Fields: f, Confidence: 0.9, Model: "stub"}, nil
}

type rawText struct{}

func (rawText) Text(_ context.Context, data []byte) (string, error) { return string(data), nil }

type fixture struct {
	c     *Coordinator
	store *store.Memory
	queue *fakeQueue
	gw    *stubGateway
}

func cleanFields() map[models.DocumentType]models.Fields {
	return map[models.DocumentType]models.Fields{
		models.DocContratoSocial: models.ContratoSocial{
			RazaoSocial:  "ACME Comércio LTDA",
			CNPJ:         "12.345.678/0001-99",
			DataRegistro: models.NewDate(2024, time.March, 1),
			Sede:         &models.Endereco{Cidade: "Campinas", UF: "SP"},
		},
		models.DocCartaoCNPJ: models.CartaoCNPJ{
			RazaoSocial:             "ACME COMÉRCIO LTDA",
			CNPJ:                    "12345678000199",
			DataSituacaoCadastral:   models.NewDate(2024, time.May, 2),
			EnderecoEstabelecimento: &models.Endereco{Municipio: "CAMPINAS", UF: "SP"},
		},
		models.DocCertidaoNegativa: models.CertidaoNegativa{
			RazaoSocial:  "Acme Comércio Ltda",
			CNPJ:         "12.345.678/0001-99",
			DataEmissao:  models.NewDate(2024, time.June, 1),
			DataValidade: models.NewDate(2024, time.November, 28),
		},
	}
}

func newFixture(t *testing.T, fields map[models.DocumentType]models.Fields) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	objects := storage.NewLocalStore(t.TempDir())
	gw := &stubGateway{fields: fields, detected: map[models.DocumentType]models.DocumentType{}}
	orch := extraction.NewOrchestrator(gw, objects, rawText{}, st, extraction.Options{
		CallTimeout: time.Second,
		Retry:       retry.Policy{MaxRetries: 0, Base: time.Millisecond},
	}, log)
	q := &fakeQueue{}
	c := NewCoordinator(st, q, objects, orch, Options{JobDeadline: 5 * time.Second, MaxUploadBytes: 1024}, log)
	c.now = func() time.Time { return createdAt }
	return &fixture{c: c, store: st, queue: q, gw: gw}
}

func pdf(body string) []byte {
	return []byte("%PDF-1.4\n" + body)
}

func allUploads() []Upload {
	return []Upload{
		{Type: models.DocContratoSocial, Filename: "contrato.pdf", Data: pdf("contrato social")},
		{Type: models.DocCartaoCNPJ, Filename: "cartao.pdf", Data: pdf("cartao cnpj")},
		{Type: models.DocCertidaoNegativa, Filename: "certidao.pdf", Data: pdf("certidao negativa")},
	}
}

func (f *fixture) createAndExecute(t *testing.T) models.JobView {
	t.Helper()
	ctx := context.Background()
	job, err := f.c.Create(ctx, CreateInput{CompanyName: " ACME ", Documents: allUploads()})
	require.NoError(t, err)
	require.NoError(t, f.c.Execute(ctx, job.ID))
	view, err := f.c.Get(ctx, job.ID)
	require.NoError(t, err)
	return view
}

func findingCodes(view models.JobView) []string {
	out := []string{}
	for _, inc := range view.Inconsistencies {
		out = append(out, inc.Code)
	}
	return out
}

func TestCreatePersistsPendingJobAndEnqueues(t *testing.T) {
	f := newFixture(t, cleanFields())
	job, err := f.c.Create(context.Background(), CreateInput{CompanyName: " ACME ", Documents: allUploads()})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, "ACME", job.CompanyName)
	assert.Equal(t, []string{job.ID}, f.queue.ids)

	view, err := f.c.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, view.Documents, 3)
	for _, d := range view.Documents {
		assert.Len(t, d.ChecksumSHA256, 64)
		assert.Positive(t, d.SizeBytes)
		assert.Nil(t, d.ExtractionStatus)
	}
	assert.Nil(t, view.Decision)
}

func TestCleanScenarioIsApproved(t *testing.T) {
	f := newFixture(t, cleanFields())
	view := f.createAndExecute(t)

	assert.Equal(t, models.StatusSucceeded, view.Status)
	require.NotNil(t, view.Decision)
	assert.Equal(t, models.DecisionApproved, *view.Decision)
	assert.Empty(t, view.Inconsistencies)
	assert.NotNil(t, view.FinishedAt)
	for _, d := range view.Documents {
		require.NotNil(t, d.ExtractionStatus)
		assert.Equal(t, models.ExtractionSucceeded, *d.ExtractionStatus)
		assert.NotEmpty(t, d.ExtractedData)
	}

	trail, _ := f.store.AuditTrail(context.Background(), view.ID)
	events := []string{}
	for _, a := range trail {
		events = append(events, a.Event)
	}
	assert.Equal(t, []string{store.EventCreated, store.EventRunning, store.EventSucceeded}, events)
}

func TestCNPJScenarioIsRejected(t *testing.T) {
	fields := cleanFields()
	fields[models.DocCartaoCNPJ] = models.CartaoCNPJ{
		RazaoSocial: "ACME COMÉRCIO LTDA",
		CNPJ:        "98.765.432/0001-11",
	}
	f := newFixture(t, fields)
	view := f.createAndExecute(t)

	require.NotNil(t, view.Decision)
	assert.Equal(t, models.DecisionRejected, *view.Decision)
	assert.Equal(t, []string{models.CodeCNPJMismatch}, findingCodes(view))
}

func TestExpiredCertificateIsRejected(t *testing.T) {
	fields := cleanFields()
	fields[models.DocCertidaoNegativa] = models.CertidaoNegativa{
		RazaoSocial:  "Acme Comércio Ltda",
		CNPJ:         "12.345.678/0001-99",
		DataEmissao:  models.NewDate(2024, time.May, 1),
		DataValidade: models.NewDate(2024, time.June, 14),
	}
	f := newFixture(t, fields)
	view := f.createAndExecute(t)

	require.NotNil(t, view.Decision)
	assert.Equal(t, models.DecisionRejected, *view.Decision)
	assert.Equal(t, []string{models.CodeCertificateExpired}, findingCodes(view))
	require.NotNil(t, view.Inconsistencies[0].DocumentID)
	assert.Equal(t, view.Documents[2].ID, *view.Inconsistencies[0].DocumentID)
}

func TestPartialExtractionStillSucceeds(t *testing.T) {
	f := newFixture(t, cleanFields())
	f.gw.detected[models.DocCartaoCNPJ] = models.DocCertidaoNegativa
	view := f.createAndExecute(t)

	assert.Equal(t, models.StatusSucceeded, view.Status)
	require.NotNil(t, view.Decision)
	cartao := view.Documents[1]
	require.NotNil(t, cartao.ExtractionStatus)
	assert.Equal(t, models.ExtractionFailed, *cartao.ExtractionStatus)
	require.NotNil(t, cartao.ExtractionError)
	assert.Equal(t, string(extraction.KindTypeMismatch), cartao.ExtractionError.Kind)
	assert.Equal(t, models.DocCertidaoNegativa, cartao.ExtractionError.DetectedType)
}

func TestNoExtractionFailsJob(t *testing.T) {
	f := newFixture(t, map[models.DocumentType]models.Fields{})
	view := f.createAndExecute(t)

	assert.Equal(t, models.StatusFailed, view.Status)
	assert.Nil(t, view.Decision)
	assert.Empty(t, view.Inconsistencies)
	require.NotNil(t, view.ErrorMessage)
	assert.Equal(t, "No document could be extracted", *view.ErrorMessage)
	assert.Equal(t, CodeExtractionFailed, view.ErrorDetails["error_code"])
	failures, ok := view.ErrorDetails["failures"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, failures, 3)
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, cleanFields())
	view := f.createAndExecute(t)
	calls := f.gw.calls

	err := f.c.Execute(context.Background(), view.ID)
	var already *AlreadyRunningError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, models.StatusSucceeded, already.Status)
	assert.Equal(t, calls, f.gw.calls)

	again, _ := f.c.Get(context.Background(), view.ID)
	assert.Equal(t, view.Inconsistencies, again.Inconsistencies)
	assert.Equal(t, *view.Decision, *again.Decision)
}

func TestConcurrentDeliveriesRunJobOnce(t *testing.T) {
	fields := cleanFields()
	fields[models.DocCartaoCNPJ] = models.CartaoCNPJ{
		RazaoSocial:             "ACME COMÉRCIO LTDA",
		CNPJ:                    "98.765.432/0001-11",
		DataSituacaoCadastral:   models.NewDate(2024, time.May, 2),
		EnderecoEstabelecimento: &models.Endereco{Municipio: "CAMPINAS", UF: "SP"},
	}
	f := newFixture(t, fields)
	ctx := context.Background()
	job, err := f.c.Create(ctx, CreateInput{CompanyName: "ACME", Documents: allUploads()})
	require.NoError(t, err)

	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = f.c.Execute(ctx, job.ID)
		}()
	}
	close(start)
	wg.Wait()

	var ok, duplicate int
	for _, err := range errs {
		var already *AlreadyRunningError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &already):
			duplicate++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, duplicate)
	assert.Equal(t, 3, f.gw.calls)

	view, err := f.c.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, view.Status)
	require.Len(t, view.Inconsistencies, 1)
	assert.Equal(t, models.CodeCNPJMismatch, view.Inconsistencies[0].Code)

	trail, err := f.store.AuditTrail(ctx, job.ID)
	require.NoError(t, err)
	succeeded := 0
	for _, e := range trail {
		if e.Event == store.EventSucceeded {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

type createFailsStore struct{ *store.Memory }

func (createFailsStore) CreateJob(context.Context, store.NewJob) (models.AnalysisJob, error) {
	return models.AnalysisJob{}, errors.New("connection reset")
}

type putFailsAfter struct {
	*storage.LocalStore
	ok int
}

func (p *putFailsAfter) Put(ctx context.Context, key, contentType string, body []byte) (storage.Object, error) {
	if p.ok == 0 {
		return storage.Object{}, errors.New("bucket unavailable")
	}
	p.ok--
	return p.LocalStore.Put(ctx, key, contentType, body)
}

func storedFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestCreateFailureRemovesStoredFiles(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("persist fails", func(t *testing.T) {
		dir := t.TempDir()
		q := &fakeQueue{}
		c := NewCoordinator(createFailsStore{store.NewMemory()}, q, storage.NewLocalStore(dir), nil, Options{MaxUploadBytes: 1024}, log)

		_, err := c.Create(context.Background(), CreateInput{CompanyName: "ACME", Documents: allUploads()})
		require.Error(t, err)
		assert.Empty(t, storedFiles(t, dir))
		assert.Empty(t, q.ids)
	})

	t.Run("upload fails midway", func(t *testing.T) {
		dir := t.TempDir()
		objects := &putFailsAfter{LocalStore: storage.NewLocalStore(dir), ok: 2}
		c := NewCoordinator(store.NewMemory(), &fakeQueue{}, objects, nil, Options{MaxUploadBytes: 1024}, log)

		_, err := c.Create(context.Background(), CreateInput{CompanyName: "ACME", Documents: allUploads()})
		require.Error(t, err)
		assert.Empty(t, storedFiles(t, dir))
	})
}

func TestExecuteUnknownJob(t *testing.T) {
	f := newFixture(t, cleanFields())
	assert.ErrorIs(t, f.c.Execute(context.Background(), "2b1f6a8e-0000-4000-8000-000000000000"), ErrNotFound)
	_, err := f.c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

type panicPipeline struct{}

func (panicPipeline) Run(context.Context, string, []models.Document) ([]models.ExtractionResult, error) {
	panic("rule table corrupted")
}

type slowPipeline struct{}

func (slowPipeline) Run(ctx context.Context, _ string, docs []models.Document) ([]models.ExtractionResult, error) {
	<-ctx.Done()
	failures := make([]models.ExtractionResult, 0, len(docs))
	for _, d := range docs {
		failures = append(failures, models.ExtractionResult{DocumentID: d.ID, DocumentType: d.DocumentType, Failure: &models.FailureInfo{Kind: "UpstreamTimeout", Message: "job deadline reached"}})
	}
	return failures, &extraction.NoDocumentsError{Failures: failures}
}

func TestPanicBecomesInternalError(t *testing.T) {
	f := newFixture(t, cleanFields())
	f.c.pipeline = panicPipeline{}
	view := f.createAndExecute(t)

	assert.Equal(t, models.StatusFailed, view.Status)
	assert.Nil(t, view.Decision)
	assert.Equal(t, CodeInternalError, view.ErrorDetails["error_code"])
	assert.Equal(t, "Internal error during analysis", *view.ErrorMessage)
}

func TestDeadlineExceeded(t *testing.T) {
	f := newFixture(t, cleanFields())
	f.c.pipeline = slowPipeline{}
	f.c.opts.JobDeadline = 20 * time.Millisecond
	view := f.createAndExecute(t)

	assert.Equal(t, models.StatusFailed, view.Status)
	assert.Equal(t, CodeDeadlineExceeded, view.ErrorDetails["error_code"])
	assert.Equal(t, "DeadlineExceeded", view.ErrorDetails["error_type"])
}

func TestCreateValidation(t *testing.T) {
	big := pdf(string(bytes.Repeat([]byte("x"), 2048)))
	tests := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{"blank company", CreateInput{CompanyName: "   ", Documents: allUploads()}, "company_name"},
		{"no documents", CreateInput{CompanyName: "ACME"}, "documents"},
		{"unknown type", CreateInput{CompanyName: "ACME", Documents: []Upload{{Type: "BOLETO", Data: pdf("x")}}}, "document_type"},
		{"duplicate type", CreateInput{CompanyName: "ACME", Documents: []Upload{
			{Type: models.DocCartaoCNPJ, Data: pdf("a")},
			{Type: models.DocCartaoCNPJ, Data: pdf("b")},
		}}, "cartao_cnpj"},
		{"empty file", CreateInput{CompanyName: "ACME", Documents: []Upload{{Type: models.DocCartaoCNPJ}}}, "cartao_cnpj"},
		{"not a pdf", CreateInput{CompanyName: "ACME", Documents: []Upload{{Type: models.DocCartaoCNPJ, Data: []byte("GIF89a....")}}}, "cartao_cnpj"},
		{"too large", CreateInput{CompanyName: "ACME", Documents: []Upload{{Type: models.DocCartaoCNPJ, Data: big}}}, "cartao_cnpj"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, cleanFields())
			_, err := f.c.Create(context.Background(), tt.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Empty(t, f.queue.ids, "nothing is enqueued on validation failure")
			ids, _ := f.store.StalePending(context.Background(), -time.Hour, 10)
			assert.Empty(t, ids, "nothing is persisted on validation failure")
		})
	}
}

func TestEnqueueFailureLeavesJobPendingForSweeper(t *testing.T) {
	f := newFixture(t, cleanFields())
	f.queue.err = errors.New("redis down")

	job, err := f.c.Create(context.Background(), CreateInput{CompanyName: "ACME", Documents: allUploads()})
	require.NoError(t, err)
	got, _ := f.c.Get(context.Background(), job.ID)
	assert.Equal(t, models.StatusPending, got.Status)

	f.queue.err = nil
	n, err := f.c.RequeueStale(context.Background(), -time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{job.ID}, f.queue.ids)
}

func TestFailAbandoned(t *testing.T) {
	f := newFixture(t, cleanFields())
	job, err := f.c.Create(context.Background(), CreateInput{CompanyName: "ACME", Documents: allUploads()})
	require.NoError(t, err)
	_, err = f.store.ClaimJob(context.Background(), job.ID)
	require.NoError(t, err)

	n, err := f.c.FailAbandoned(context.Background(), -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	view, _ := f.c.Get(context.Background(), job.ID)
	assert.Equal(t, models.StatusFailed, view.Status)
	assert.Equal(t, CodeExecutionAbandoned, view.ErrorDetails["error_code"])
	assert.Equal(t, "Analysis abandoned by worker", *view.ErrorMessage)
}

func TestSanitizeCapsAndCleans(t *testing.T) {
	assert.Equal(t, "a b c", sanitize("a\n\tb   c"))
	long := string(bytes.Repeat([]byte("é"), 600))
	assert.Equal(t, 500, len([]rune(sanitize(long))))
}
