package runner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jakopako/goverify/internal/artifact"
	"github.com/jakopako/goverify/internal/browser"
	"github.com/jakopako/goverify/internal/scenario"
	"github.com/jakopako/goverify/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// idle keep-alive connections of the static driver's http client
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

func galleryScenario() scenario.Scenario {
	return scenario.Scenario{
		Name: "gallery",
		Steps: scenario.Steps{
			&scenario.Navigate{Path: "/gallery"},
			&scenario.WaitForSelector{Target: scenario.Target{Selector: ".gallery-card"}, TimeoutMS: 300},
			&scenario.Screenshot{Path: "out/gallery.png"},
		},
	}
}

func statuses(r types.Result) []types.Status {
	s := []types.Status{}
	for _, o := range r.Steps {
		s = append(s, o.Status)
	}
	return s
}

func newFakeRunner(t *testing.T, d *fakeDriver) *Runner {
	t.Helper()
	return New(d, Options{
		BaseURL:        "http://frontend.test",
		DefaultTimeout: time.Second,
		Artifacts:      artifact.Store{Dir: t.TempDir()},
	})
}

func TestRunClosesSessionOnce(t *testing.T) {
	tests := []struct {
		name string
		page fakePage
		want types.Status
	}{
		{"success", fakePage{elements: map[string]int{".gallery-card": 3}}, types.StatusPassed},
		{"failure", fakePage{}, types.StatusFailed},
		{"panic", fakePage{elements: map[string]int{".gallery-card": 3}, panicOn: "wait"}, types.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDriver{page: tt.page}
			res, err := newFakeRunner(t, d).Run(context.Background(), galleryScenario())
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			require.Len(t, d.allSessions(), 1)
			assert.Equal(t, int32(1), d.allSessions()[0].closes.Load())
		})
	}
}

func TestRunRecoversPanic(t *testing.T) {
	d := &fakeDriver{page: fakePage{elements: map[string]int{".gallery-card": 3}, panicOn: "wait"}}
	res, err := newFakeRunner(t, d).Run(context.Background(), galleryScenario())
	require.NoError(t, err)

	assert.Equal(t, []types.Status{types.StatusPassed, types.StatusFailed, types.StatusPassed}, statuses(res))
	assert.Equal(t, types.Panic, res.Steps[1].ErrorKind)
	assert.Contains(t, res.Steps[1].Message, "boom in wait")
	assert.Len(t, res.Artifacts, 1)
}

func TestRunLaunchFailure(t *testing.T) {
	d := &fakeDriver{launchErr: errNoChrome}
	res, err := newFakeRunner(t, d).Run(context.Background(), galleryScenario())
	require.ErrorIs(t, err, errNoChrome)
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Empty(t, res.Steps)
}

func TestRunGalleryProducesOneArtifact(t *testing.T) {
	d := &fakeDriver{page: fakePage{elements: map[string]int{".gallery-card": 3}}}
	dir := t.TempDir()
	r := New(d, Options{BaseURL: "http://frontend.test/", Artifacts: artifact.Store{Dir: dir}})

	res, err := r.Run(context.Background(), galleryScenario())
	require.NoError(t, err)
	assert.True(t, res.Passed())
	assert.Equal(t, []types.Status{types.StatusPassed, types.StatusPassed, types.StatusPassed}, statuses(res))
	want := filepath.Join(dir, "out", "gallery.png")
	assert.Equal(t, []string{want}, res.Artifacts)
	assert.FileExists(t, want)
	assert.Equal(t, []string{"http://frontend.test/gallery"}, d.allSessions()[0].navigated)
	assert.NoError(t, res.Err())
}

func TestRunNotFoundStillCaptures(t *testing.T) {
	d := &fakeDriver{page: fakePage{status: map[string]int{"http://frontend.test/gallery": 404}}}
	res, err := newFakeRunner(t, d).Run(context.Background(), galleryScenario())
	require.NoError(t, err)

	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Equal(t, types.NavigationFailed, res.Steps[0].ErrorKind)
	assert.Contains(t, res.Steps[0].Message, "404")
	assert.Equal(t, types.WaitTimeout, res.Steps[1].ErrorKind)
	assert.Equal(t, types.StatusPassed, res.Steps[2].Status)
	assert.Len(t, res.Artifacts, 1)
	assert.Equal(t, int32(1), d.allSessions()[0].closes.Load())

	err = res.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0 (navigate): NavigationFailed")
}

func TestRunAllowHTTPErrors(t *testing.T) {
	d := &fakeDriver{page: fakePage{
		elements: map[string]int{"body": 1},
		status:   map[string]int{"http://frontend.test/nope": 404},
	}}
	sc := scenario.Scenario{Name: "not-found", Steps: scenario.Steps{
		&scenario.Navigate{Path: "/nope", AllowHTTPErrors: true},
		&scenario.WaitForSelector{Target: scenario.Target{Selector: "body"}},
	}}
	res, err := newFakeRunner(t, d).Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, res.Passed())
}

func TestRunAssertVisible(t *testing.T) {
	d := &fakeDriver{page: fakePage{elements: map[string]int{"button[aria-label='Toggle Global Chat']": 1}}}
	sc := scenario.Scenario{Name: "chat", Steps: scenario.Steps{
		&scenario.Navigate{Path: "/"},
		&scenario.AssertVisible{Target: scenario.Target{Selector: "button[aria-label='Toggle Global Chat']"}},
		&scenario.AssertVisible{Target: scenario.Target{Selector: "input[aria-label='Chat message']"}},
		&scenario.AssertVisible{Target: scenario.Target{Selector: ".missing"}, TimeoutMS: 100},
	}}
	res, err := newFakeRunner(t, d).Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, []types.Status{types.StatusPassed, types.StatusPassed, types.StatusFailed, types.StatusFailed}, statuses(res))
	assert.Equal(t, types.AssertionFailed, res.Steps[2].ErrorKind)
	assert.Equal(t, "expected input[aria-label='Chat message'] to be visible", res.Steps[2].Message)
	assert.Equal(t, types.AssertionFailed, res.Steps[3].ErrorKind)
	assert.Equal(t, "expected .missing to be visible within 100ms", res.Steps[3].Message)
}

func TestRunAssertCountAndAttribute(t *testing.T) {
	equals := "50%"
	wrong := "10%"
	d := &fakeDriver{page: fakePage{
		elements: map[string]int{"svg.text-red-500": 2, "input[type=range]": 1},
		attrs:    map[string]map[string]string{"input[type=range]": {"aria-valuetext": "50%"}},
	}}
	sc := scenario.Scenario{Name: "lobby", Steps: scenario.Steps{
		&scenario.AssertCount{Target: scenario.Target{Selector: "svg.text-red-500"}, Min: 1},
		&scenario.AssertCount{Target: scenario.Target{Selector: "svg.text-red-500"}, Min: 3, Max: 5},
		&scenario.AssertAttribute{Target: scenario.Target{Selector: "input[type=range]"}, Name: "aria-valuetext", Equals: &equals},
		&scenario.AssertAttribute{Target: scenario.Target{Selector: "input[type=range]"}, Name: "aria-valuetext", Equals: &wrong},
		&scenario.AssertAttribute{Target: scenario.Target{Selector: "input[type=range]"}, Name: "aria-label"},
		&scenario.AssertAttribute{Target: scenario.Target{Selector: ".slider"}, Name: "aria-label"},
	}}
	res, err := newFakeRunner(t, d).Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, []types.Status{
		types.StatusPassed, types.StatusFailed, types.StatusPassed, types.StatusFailed, types.StatusFailed, types.StatusFailed,
	}, statuses(res))
	assert.Equal(t, "expected 3 to 5 elements matching svg.text-red-500, found 2", res.Steps[1].Message)
	assert.Equal(t, `expected aria-valuetext="10%" on input[type=range], got "50%"`, res.Steps[3].Message)
	assert.Equal(t, "expected input[type=range] to have attribute aria-label", res.Steps[4].Message)
	assert.Equal(t, "expected an element matching .slider", res.Steps[5].Message)
}

func TestRunClickAndFocus(t *testing.T) {
	d := &fakeDriver{page: fakePage{elements: map[string]int{"button": 1, "input": 1}}}
	sc := scenario.Scenario{Name: "chat", Steps: scenario.Steps{
		&scenario.Click{Target: scenario.Target{Selector: "button"}},
		&scenario.Focus{Target: scenario.Target{Selector: "input"}},
		&scenario.Click{Target: scenario.Target{Selector: ".gone"}, TimeoutMS: 50},
		&scenario.Focus{Target: scenario.Target{Selector: ".gone"}},
	}}
	res, err := newFakeRunner(t, d).Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, []types.Status{types.StatusPassed, types.StatusPassed, types.StatusFailed, types.StatusFailed}, statuses(res))
	assert.Equal(t, types.WaitTimeout, res.Steps[2].ErrorKind)
	assert.Equal(t, types.ActionFailed, res.Steps[3].ErrorKind)
}

func TestRunFailFast(t *testing.T) {
	d := &fakeDriver{}
	sc := galleryScenario()
	sc.Steps = append(sc.Steps, &scenario.AssertVisible{Target: scenario.Target{Selector: ".gallery-card"}})
	failFast := true
	sc.FailFast = &failFast

	res, err := newFakeRunner(t, d).Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, []types.Status{types.StatusPassed, types.StatusFailed, types.StatusPassed, types.StatusSkipped}, statuses(res))
	assert.Len(t, res.Artifacts, 1)
}

func TestRunCancelled(t *testing.T) {
	d := &fakeDriver{}
	sc := scenario.Scenario{Name: "home", Steps: scenario.Steps{
		&scenario.Navigate{Path: "/"},
		&scenario.WaitForTimeout{MS: 5000, Reason: "intro animation"},
		&scenario.Screenshot{Path: "home.png"},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := newFakeRunner(t, d).Run(ctx, sc)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []types.Status{types.StatusPassed, types.StatusFailed, types.StatusSkipped}, statuses(res))
	assert.Equal(t, types.Aborted, res.Steps[1].ErrorKind)
	assert.Equal(t, int32(1), d.allSessions()[0].closes.Load())
}

func TestRunScenarioOverrides(t *testing.T) {
	d := &fakeDriver{page: fakePage{elements: map[string]int{".lobby-container": 1}}}
	r := New(d, Options{
		BaseURL:   "http://frontend.test",
		UserAgent: "global-agent",
		Viewport:  scenario.Viewport{Width: 1920, Height: 1080},
	})
	sc := scenario.Scenario{
		Name:      "lobby",
		BaseURL:   "http://other.test:5173",
		UserAgent: "lobby-agent",
		Viewport:  &scenario.Viewport{Width: 800, Height: 600},
		Steps:     scenario.Steps{&scenario.Navigate{Path: "experience/abyss"}},
	}
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, "http://other.test:5173", res.BaseURL)
	s := d.allSessions()[0]
	assert.Equal(t, "lobby-agent", s.opts.UserAgent)
	assert.Equal(t, browser.Viewport{Width: 800, Height: 600}, s.opts.Viewport)
	assert.Equal(t, []string{"http://other.test:5173/experience/abyss"}, s.navigated)
}

func TestRunGlobalDefaults(t *testing.T) {
	d := &fakeDriver{page: fakePage{}}
	r := New(d, Options{
		BaseURL:   "http://frontend.test",
		UserAgent: "global-agent",
		Viewport:  scenario.Viewport{Width: 1280, Height: 720},
		FailFast:  true,
	})
	sc := scenario.Scenario{Name: "defaults", Steps: scenario.Steps{
		&scenario.AssertVisible{Target: scenario.Target{Selector: ".missing"}},
		&scenario.Navigate{Path: "/"},
	}}
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, "http://frontend.test", res.BaseURL)
	assert.Equal(t, []types.Status{types.StatusFailed, types.StatusSkipped}, statuses(res))
	s := d.allSessions()[0]
	assert.Equal(t, "global-agent", s.opts.UserAgent)
	assert.Equal(t, browser.Viewport{Width: 1280, Height: 720}, s.opts.Viewport)

	failFast := false
	sc.FailFast = &failFast
	res, err = r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, []types.Status{types.StatusFailed, types.StatusPassed}, statuses(res))
}

func TestRunsAreIndependent(t *testing.T) {
	d := &fakeDriver{page: fakePage{elements: map[string]int{".gallery-card": 1}}}
	r := newFakeRunner(t, d)
	first, err := r.Run(context.Background(), galleryScenario())
	require.NoError(t, err)
	second, err := r.Run(context.Background(), galleryScenario())
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	first.Steps[0].Message = "changed"
	first.Artifacts[0] = "changed"
	assert.Empty(t, second.Steps[0].Message)
	assert.NotEqual(t, "changed", second.Artifacts[0])
	assert.Len(t, d.allSessions(), 2)
}

func TestRunUniqueArtifacts(t *testing.T) {
	d := &fakeDriver{page: fakePage{elements: map[string]int{".gallery-card": 1}}}
	r := New(d, Options{BaseURL: "http://frontend.test", Artifacts: artifact.Store{Dir: t.TempDir(), Unique: true}})
	first, err := r.Run(context.Background(), galleryScenario())
	require.NoError(t, err)
	second, err := r.Run(context.Background(), galleryScenario())
	require.NoError(t, err)
	assert.NotEqual(t, first.Artifacts, second.Artifacts)
}

type recordingObserver struct {
	events []string
}

func (o *recordingObserver) ScenarioStarted(sc, runID string) {
	o.events = append(o.events, "start "+sc)
}

func (o *recordingObserver) StepFinished(sc string, out types.StepOutcome) {
	o.events = append(o.events, fmt.Sprintf("step %d %s", out.Index, out.Status))
}

func (o *recordingObserver) ScenarioFinished(r types.Result) {
	o.events = append(o.events, "done "+string(r.Status))
}

func TestRunNotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	d := &fakeDriver{page: fakePage{elements: map[string]int{".gallery-card": 1}}}
	r := New(d, Options{BaseURL: "http://frontend.test", Artifacts: artifact.Store{Dir: t.TempDir()}, Observer: obs})
	_, err := r.Run(context.Background(), galleryScenario())
	require.NoError(t, err)
	assert.Equal(t, []string{"start gallery", "step 0 passed", "step 1 passed", "step 2 passed", "done passed"}, obs.events)
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"http://localhost:5173", "/gallery", "http://localhost:5173/gallery"},
		{"http://localhost:5173/", "/gallery", "http://localhost:5173/gallery"},
		{"http://localhost:5173", "gallery", "http://localhost:5173/gallery"},
		{"http://localhost:5173/app", "/", "http://localhost:5173/app/"},
		{"http://localhost:5173", "https://example.com/x", "https://example.com/x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveURL(tt.base, tt.path))
	}
}

// The following tests run against a real http server with the static driver.

const galleryPage = `<html><head><title>Gallery</title></head>
<body><h1>Gallery</h1><div class="gallery-card">Mandelbulb</div><div class="gallery-card">Abyss</div></body></html>`

func newFrontend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/gallery", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, galleryPage)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><body><p>home</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func staticRunner(t *testing.T, baseURL, dir string) *Runner {
	t.Helper()
	d, err := browser.NewDriver("static", browser.Config{Headless: true})
	require.NoError(t, err)
	return New(d, Options{BaseURL: baseURL, DefaultTimeout: 2 * time.Second, Artifacts: artifact.Store{Dir: dir}})
}

func TestStaticGallery(t *testing.T) {
	srv := newFrontend(t)
	dir := t.TempDir()
	res, err := staticRunner(t, srv.URL, dir).Run(context.Background(), galleryScenario())
	require.NoError(t, err)

	assert.True(t, res.Passed(), "%v", res.Err())
	want := filepath.Join(dir, "out", "gallery.png")
	assert.Equal(t, []string{want}, res.Artifacts)
	info, err := os.Stat(want)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestStaticNotFound(t *testing.T) {
	srv := newFrontend(t)
	sc := galleryScenario()
	sc.Steps[0] = &scenario.Navigate{Path: "/does-not-exist"}
	res, err := staticRunner(t, srv.URL, t.TempDir()).Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, types.NavigationFailed, res.Steps[0].ErrorKind)
	assert.Equal(t, types.WaitTimeout, res.Steps[1].ErrorKind)
	assert.Equal(t, types.StatusPassed, res.Steps[2].Status)
	assert.Len(t, res.Artifacts, 1)
}

func TestStaticUnreachableDropsPreviousPage(t *testing.T) {
	srv := newFrontend(t)
	sc := scenario.Scenario{Name: "unreachable", Steps: scenario.Steps{
		&scenario.Navigate{Path: "/gallery"},
		&scenario.Navigate{Path: "http://127.0.0.1:1/gallery"},
		&scenario.WaitForSelector{Target: scenario.Target{Selector: ".gallery-card"}, TimeoutMS: 300},
		&scenario.AssertVisible{Target: scenario.Target{Selector: ".gallery-card"}},
	}}
	res, err := staticRunner(t, srv.URL, t.TempDir()).Run(context.Background(), sc)
	require.NoError(t, err)

	assert.Equal(t, []types.Status{types.StatusPassed, types.StatusFailed, types.StatusFailed, types.StatusFailed}, statuses(res))
	assert.Equal(t, types.NavigationFailed, res.Steps[1].ErrorKind)
	assert.Equal(t, types.WaitTimeout, res.Steps[2].ErrorKind)
	assert.Equal(t, types.AssertionFailed, res.Steps[3].ErrorKind)
	assert.False(t, res.Passed())
}

func TestStaticWaitForSelectorBound(t *testing.T) {
	srv := newFrontend(t)
	const bound = 500 * time.Millisecond
	sc := scenario.Scenario{Name: "bound", Steps: scenario.Steps{
		&scenario.Navigate{Path: "/gallery"},
		&scenario.WaitForSelector{Target: scenario.Target{Selector: ".never"}, TimeoutMS: int(bound / time.Millisecond)},
	}}
	res, err := staticRunner(t, srv.URL, t.TempDir()).Run(context.Background(), sc)
	require.NoError(t, err)

	o := res.Steps[1]
	assert.Equal(t, types.WaitTimeout, o.ErrorKind)
	assert.Contains(t, o.Message, ".never")
	assert.GreaterOrEqual(t, o.Duration, bound)
	assert.LessOrEqual(t, o.Duration, bound+200*time.Millisecond)
}

func TestWaitForServer(t *testing.T) {
	srv := newFrontend(t)
	require.NoError(t, waitForServer(context.Background(), srv.URL, time.Second))

	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()
	start := time.Now()
	err := waitForServer(context.Background(), url, 300*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunWaitForServerFailure(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()

	d := &fakeDriver{}
	r := New(d, Options{BaseURL: url, WaitForServer: 200 * time.Millisecond})
	_, err := r.Run(context.Background(), galleryScenario())
	require.Error(t, err)
	assert.Empty(t, d.allSessions())
}
