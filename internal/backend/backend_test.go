package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatd/internal/bridge"
	"chatd/internal/download"
	"chatd/pkg/types"
)

func TestFeaturedMarksDownloadedFiles(t *testing.T) {
	fx := newFixture(t, &artifactServer{content: payload(8 << 10)})
	ctx := testCtx(t)

	models, err := fx.client.Featured(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.False(t, models[0].Files[0].Downloaded)

	_, err = fx.client.Download(ctx, testFileID, nil)
	require.NoError(t, err)

	models, err = fx.client.Featured(ctx)
	require.NoError(t, err)
	f := models[0].Files[0]
	assert.Equal(t, testFileID, f.ID)
	assert.True(t, f.Downloaded)
	assert.Equal(t, filepath.Join(fx.dir, "org", "repo", "model.Q4.gguf"), f.DownloadedPath)
	assert.False(t, models[0].Files[1].Downloaded)
}

func TestFeaturedFallsBackToCachedModels(t *testing.T) {
	fx := newFixture(t, &artifactServer{})
	ctx := testCtx(t)

	_, err := fx.client.Featured(ctx)
	require.NoError(t, err)

	fx.cat.down.Store(true)
	models, err := fx.client.Featured(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "org/repo", models[0].ID)
}

func TestFeaturedWithNothingCachedFails(t *testing.T) {
	fx := newFixture(t, &artifactServer{})
	fx.cat.down.Store(true)
	_, err := fx.client.Featured(testCtx(t))
	assert.ErrorIs(t, err, errCatalogDown)
}

func TestSearch(t *testing.T) {
	fx := newFixture(t, &artifactServer{})
	ctx := testCtx(t)

	models, err := fx.client.Search(ctx, "repo")
	require.NoError(t, err)
	assert.Len(t, models, 1)

	models, err = fx.client.Search(ctx, "nothing like it")
	require.NoError(t, err)
	assert.Empty(t, models)
}

func TestDownloadLoadChat(t *testing.T) {
	content := payload(64 << 10)
	fx := newFixture(t, &artifactServer{content: content})
	ctx := testCtx(t)

	var progress []float64
	f, err := fx.client.Download(ctx, testFileID, func(p float64) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, testFileID, f.File.ID)
	assert.Equal(t, "chatml", f.PromptTemplate)
	assert.NotEmpty(t, progress)
	got, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, content, got)

	loaded, err := fx.client.Load(ctx, testFileID, types.LoadModelOptions{GPULayers: types.GPULayersMax})
	require.NoError(t, err)
	assert.Equal(t, testFileID, loaded.FileID)
	assert.Equal(t, "org/repo", loaded.ModelID)

	res, err := fx.client.Complete(ctx, userRequest("hello there world", false))
	require.NoError(t, err)
	require.NotNil(t, res.Final)
	assert.Equal(t, "hello there world", res.Text())
	assert.Equal(t, openai.FinishReasonStop, res.FinishReason())

	var text string
	var last types.ChatResponse
	require.NoError(t, fx.client.Chat(ctx, userRequest("streamed reply", true), func(r types.ChatResponse) {
		text += r.Text()
		last = r
	}))
	assert.Equal(t, "streamed reply", text)
	assert.True(t, last.Terminal())

	st, err := fx.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, testFileID, st.LoadedFileID)
	assert.False(t, st.Busy)

	assert.ElementsMatch(t, []string{EventDownloadStarted, EventDownloadCompleted, EventModelLoaded}, fx.events.Names(testFileID))
}

func TestDownloadResolutionErrors(t *testing.T) {
	fx := newFixture(t, &artifactServer{})
	ctx := testCtx(t)

	_, err := fx.client.Download(ctx, "no-separator", nil)
	assert.True(t, IsInvalidFileID(err), "got %v", err)

	_, err = fx.client.Download(ctx, "org/repo#missing.gguf", nil)
	assert.True(t, IsFileNotFound(err), "got %v", err)

	_, err = fx.client.Download(ctx, "other/repo#model.gguf", nil)
	assert.True(t, IsModelNotFound(err), "got %v", err)

	require.Eventually(t, func() bool {
		st, err := fx.client.Status(ctx)
		return err == nil && st.ActiveDownloads == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{EventDownloadFailed}, fx.events.Names("org/repo#missing.gguf"))
}

func TestDownloadOfCompletedFileRepliesAtOnce(t *testing.T) {
	fx := newFixture(t, &artifactServer{content: payload(4 << 10)})
	ctx := testCtx(t)

	first, err := fx.client.Download(ctx, testFileID, nil)
	require.NoError(t, err)

	// Offline catalog: the stored row alone answers.
	fx.cat.down.Store(true)
	again, err := fx.client.Download(ctx, testFileID, nil)
	require.NoError(t, err)
	assert.Equal(t, first.File.ID, again.File.ID)
	assert.Equal(t, first.DownloadedAt.Unix(), again.DownloadedAt.Unix())
}

// startGated starts a download that stalls halfway and waits for progress.
func startGated(t *testing.T, fx *fixture) <-chan error {
	t.Helper()
	progressed := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		seen := false
		_, err := fx.client.Download(context.Background(), testFileID, func(p float64) {
			if p > 0 && !seen {
				seen = true
				close(progressed)
			}
		})
		errc <- err
	}()
	select {
	case <-progressed:
	case <-time.After(10 * time.Second):
		t.Fatal("download never progressed")
	}
	return errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("download did not end")
		return nil
	}
}

func TestPauseThenResume(t *testing.T) {
	content := payload(256 << 10)
	as := &artifactServer{content: content, gate: make(chan struct{})}
	fx := newFixture(t, as)
	ctx := testCtx(t)

	errc := startGated(t, fx)
	require.NoError(t, fx.client.Pause(ctx, testFileID))
	assert.ErrorIs(t, waitErr(t, errc), ErrDownloadStopped)

	pending, err := fx.client.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, types.PendingPaused, pending[0].Status)
	assert.Greater(t, pending[0].Progress, 0.0)
	assert.Less(t, pending[0].Progress, 100.0)

	// Resuming needs no catalog: the pending row carries the snapshot.
	fx.cat.down.Store(true)
	close(as.gate)
	f, err := fx.client.Download(ctx, testFileID, nil)
	require.NoError(t, err)
	got, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, content, got)

	pending, err = fx.client.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDuplicateDownloadIsRejected(t *testing.T) {
	as := &artifactServer{content: payload(256 << 10), gate: make(chan struct{})}
	fx := newFixture(t, as)
	ctx := testCtx(t)

	errc := startGated(t, fx)
	_, err := fx.client.Download(ctx, testFileID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	require.NoError(t, fx.client.Pause(ctx, testFileID))
	assert.ErrorIs(t, waitErr(t, errc), ErrDownloadStopped)
	close(as.gate)
}

func TestCancelInFlightRemovesRowAndPartial(t *testing.T) {
	as := &artifactServer{content: payload(256 << 10), gate: make(chan struct{})}
	fx := newFixture(t, as)
	ctx := testCtx(t)
	partial := filepath.Join(fx.dir, "org", "repo", "model.Q4.gguf")

	errc := startGated(t, fx)
	require.FileExists(t, partial)
	require.NoError(t, fx.client.Cancel(ctx, testFileID))
	assert.ErrorIs(t, waitErr(t, errc), ErrDownloadStopped)

	require.Eventually(t, func() bool {
		pending, err := fx.client.Pending(ctx)
		return err == nil && len(pending) == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.NoFileExists(t, partial)
	close(as.gate)
}

func TestCancelAckedAfterWorkerFinishedIsHonoured(t *testing.T) {
	var client *Client
	cancelled := make(chan error, 1)
	fx := newFixture(t, &artifactServer{content: payload(16 << 10)}, withEnqueuer(func(e Enqueuer) Enqueuer {
		return enqueueFunc(func(j download.Job) error {
			onExit := j.OnExit
			j.OnExit = func(id string, o download.Outcome) {
				if o == download.OutcomeCompleted {
					cancelled <- client.Cancel(context.Background(), id)
				}
				onExit(id, o)
			}
			return e.Enqueue(j)
		})
	}))
	client = fx.client
	ctx := testCtx(t)

	f, err := fx.client.Download(ctx, testFileID, nil)
	require.NoError(t, err)
	require.NoError(t, <-cancelled)

	require.Eventually(t, func() bool {
		files, err := fx.client.Downloaded(ctx)
		return err == nil && len(files) == 0
	}, 5*time.Second, 10*time.Millisecond)
	pending, err := fx.client.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.NoFileExists(t, f.Path())
	assert.Contains(t, fx.events.Names(testFileID), EventDownloadStopped)
}

func TestCancelPausedDownload(t *testing.T) {
	as := &artifactServer{content: payload(256 << 10), gate: make(chan struct{})}
	fx := newFixture(t, as)
	ctx := testCtx(t)

	errc := startGated(t, fx)
	require.NoError(t, fx.client.Pause(ctx, testFileID))
	require.ErrorIs(t, waitErr(t, errc), ErrDownloadStopped)
	close(as.gate)

	require.Eventually(t, func() bool {
		st, err := fx.client.Status(ctx)
		return err == nil && st.ActiveDownloads == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, fx.client.Cancel(ctx, testFileID))
	pending, err := fx.client.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.NoFileExists(t, filepath.Join(fx.dir, "org", "repo", "model.Q4.gguf"))
}

func TestPauseAndCancelUnknownAreNoops(t *testing.T) {
	fx := newFixture(t, &artifactServer{})
	ctx := testCtx(t)
	assert.NoError(t, fx.client.Pause(ctx, "org/repo#nothing.gguf"))
	assert.NoError(t, fx.client.Cancel(ctx, "org/repo#nothing.gguf"))
}

func TestChatWithoutModel(t *testing.T) {
	fx := newFixture(t, &artifactServer{})
	ctx := testCtx(t)

	err := fx.client.Chat(ctx, userRequest("hi", true), nil)
	assert.True(t, IsModelNotLoaded(err), "got %v", err)
	assert.True(t, IsModelNotLoaded(fx.client.StopChat(ctx)))
}

func TestChatRejectsInvalidRequest(t *testing.T) {
	fx := newFixture(t, &artifactServer{})
	err := fx.client.Chat(testCtx(t), types.ChatRequest{Model: testFileID}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid chat request")
}

func TestLoadUnknownOrMissingFile(t *testing.T) {
	fx := newFixture(t, &artifactServer{content: payload(4 << 10)})
	ctx := testCtx(t)

	_, err := fx.client.Load(ctx, testFileID, types.LoadModelOptions{})
	assert.True(t, IsFileNotFound(err), "got %v", err)

	f, err := fx.client.Download(ctx, testFileID, nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.Path()))
	_, err = fx.client.Load(ctx, testFileID, types.LoadModelOptions{})
	assert.True(t, IsFileNotFound(err), "got %v", err)
	assert.Contains(t, fx.events.Names(testFileID), EventFileMissing)
}

func TestLoadSameFileTwiceKeepsBridge(t *testing.T) {
	fx := newFixture(t, &artifactServer{content: payload(4 << 10)})
	ctx := testCtx(t)
	_, err := fx.client.Download(ctx, testFileID, nil)
	require.NoError(t, err)

	_, err = fx.client.Load(ctx, testFileID, types.LoadModelOptions{})
	require.NoError(t, err)
	_, err = fx.client.Load(ctx, testFileID, types.LoadModelOptions{})
	require.NoError(t, err)

	names := fx.events.Names(testFileID)
	assert.NotContains(t, names, EventModelEjected)
}

func TestLoadOtherFileReplacesBridge(t *testing.T) {
	rt := &countingRuntime{}
	fx := newFixture(t, &artifactServer{content: payload(4 << 10)}, withRuntime(rt))
	ctx := testCtx(t)
	other := "org/repo#model.Q8.gguf"
	for _, id := range []string{testFileID, other} {
		_, err := fx.client.Download(ctx, id, nil)
		require.NoError(t, err)
	}

	_, err := fx.client.Load(ctx, testFileID, types.LoadModelOptions{GPULayers: types.GPULayersMax})
	require.NoError(t, err)
	_, err = fx.client.Load(ctx, other, types.LoadModelOptions{GPULayers: types.GPULayersMax})
	require.NoError(t, err)

	st, err := fx.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, other, st.LoadedFileID)
	assert.Contains(t, fx.events.Names(testFileID), EventModelEjected)
	assert.Equal(t, int32(1), rt.peak.Load(), "the first module must exit before the second starts")
	assert.Equal(t, int32(1), rt.live.Load())
}

func TestEjectIsIdempotent(t *testing.T) {
	fx := newFixture(t, &artifactServer{content: payload(4 << 10)})
	ctx := testCtx(t)
	require.NoError(t, fx.client.Eject(ctx))

	_, err := fx.client.Download(ctx, testFileID, nil)
	require.NoError(t, err)
	_, err = fx.client.Load(ctx, testFileID, types.LoadModelOptions{})
	require.NoError(t, err)
	require.NoError(t, fx.client.Eject(ctx))
	require.NoError(t, fx.client.Eject(ctx))

	err = fx.client.Chat(ctx, userRequest("hi", false), nil)
	assert.True(t, IsModelNotLoaded(err), "got %v", err)
}

func TestDeleteLoadedFileEjectsIt(t *testing.T) {
	fx := newFixture(t, &artifactServer{content: payload(4 << 10)})
	ctx := testCtx(t)
	f, err := fx.client.Download(ctx, testFileID, nil)
	require.NoError(t, err)
	_, err = fx.client.Load(ctx, testFileID, types.LoadModelOptions{})
	require.NoError(t, err)

	require.NoError(t, fx.client.Delete(ctx, testFileID))
	assert.NoFileExists(t, f.Path())
	files, err := fx.client.Downloaded(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
	st, err := fx.client.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.LoadedFileID)

	err = fx.client.Delete(ctx, testFileID)
	assert.True(t, IsFileNotFound(err), "got %v", err)
}

func TestLocalServerLifecycle(t *testing.T) {
	srv := &fakeServer{port: 18080, done: make(chan struct{})}
	var gotCfg types.LocalServerConfig
	fx := newFixture(t, &artifactServer{content: payload(4 << 10)}, withOption(WithServerFactory(
		func(cfg types.LocalServerConfig, c *Client) (LocalServer, error) {
			gotCfg = cfg
			assert.NotNil(t, c)
			return srv, nil
		})))
	ctx := testCtx(t)

	assert.True(t, IsServerNotRunning(fx.client.StopServer(ctx)))

	resp, err := fx.client.StartServer(ctx, types.LocalServerConfig{Port: 18080, RequestQueuing: true})
	require.NoError(t, err)
	assert.Equal(t, 18080, resp.Port)
	assert.True(t, gotCfg.RequestQueuing)

	again, err := fx.client.StartServer(ctx, types.LocalServerConfig{Port: 9})
	require.NoError(t, err)
	assert.Equal(t, 18080, again.Port)

	_, err = fx.client.Download(ctx, testFileID, nil)
	require.NoError(t, err)
	loaded, err := fx.client.Load(ctx, testFileID, types.LoadModelOptions{})
	require.NoError(t, err)
	assert.Equal(t, 18080, loaded.ListenPort)

	require.NoError(t, fx.client.StopServer(ctx))
	<-srv.Done()
	assert.True(t, IsServerNotRunning(fx.client.StopServer(ctx)))
}

func TestStartServerWithoutFactory(t *testing.T) {
	fx := newFixture(t, &artifactServer{})
	_, err := fx.client.StartServer(testCtx(t), types.LocalServerConfig{Port: 8000})
	assert.ErrorIs(t, err, errNoServerFactory)
}

func TestFactoryErrorIsReported(t *testing.T) {
	boom := errors.New("address in use")
	fx := newFixture(t, &artifactServer{}, withOption(WithServerFactory(
		func(types.LocalServerConfig, *Client) (LocalServer, error) { return nil, boom })))
	_, err := fx.client.StartServer(testCtx(t), types.LocalServerConfig{Port: 8000})
	assert.ErrorIs(t, err, boom)
}

func TestChangeModelsDir(t *testing.T) {
	fx := newFixture(t, &artifactServer{content: payload(4 << 10)})
	ctx := testCtx(t)
	next := filepath.Join(t.TempDir(), "elsewhere")

	require.Error(t, fx.client.ChangeModelsDir(ctx, ""))
	require.NoError(t, fx.client.ChangeModelsDir(ctx, next))
	st, err := fx.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, st.ModelsDir)

	f, err := fx.client.Download(ctx, testFileID, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(next, "org", "repo", "model.Q4.gguf"), f.Path())
	assert.FileExists(t, f.Path())
}

func TestWatchPublishesFileMissing(t *testing.T) {
	fx := newFixture(t, &artifactServer{content: payload(4 << 10)}, withConfig(func(c *Config) { c.WatchModels = true }))
	ctx := testCtx(t)
	f, err := fx.client.Download(ctx, testFileID, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(f.Path()))
	require.Eventually(t, func() bool {
		for _, n := range fx.events.Names(testFileID) {
			if n == EventFileMissing {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestClientAfterStop(t *testing.T) {
	fx := newFixture(t, &artifactServer{})
	fx.stop()
	_, err := fx.client.Featured(testCtx(t))
	assert.ErrorIs(t, err, ErrBackendStopped)
}

func TestClosingSenderStopsRun(t *testing.T) {
	fx := newFixture(t, &artifactServer{})
	close(fx.backend.Sender())
	select {
	case err := <-fx.runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	// runDone is consumed; keep cleanup from waiting on it.
	fx.stopped.Do(func() {})
	fx.cancel()
}

func TestTooBusy(t *testing.T) {
	assert.True(t, IsTooBusy(ErrTooBusy("x")))
	assert.True(t, IsTooBusy(fmt.Errorf("chat: %w", bridge.ErrQueueFull)))
	assert.False(t, IsTooBusy(errors.New("other")))
}
