package scenario

const desktopChromeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Builtin returns the catalog of scenarios for the experience frontend
// (gallery, global chat, experience lobbies). They run against the global base
// url. A new scenario is an addition to this list or to a config file.
func Builtin() []Scenario {
	return []Scenario{
		{
			Name:        "home",
			Description: "home page renders anything at all",
			Steps: Steps{
				&Navigate{Path: "/"},
				&WaitForSelector{Target: Target{Selector: "body *"}, State: StateVisible, TimeoutMS: 10000},
				&WaitForTimeout{MS: 2000, Reason: "intro animation"},
				&Screenshot{Path: "home.png"},
			},
		},
		{
			Name:        "gallery",
			Description: "gallery cards are rendered",
			Steps: Steps{
				&Navigate{Path: "/gallery"},
				&WaitForSelector{Target: Target{Selector: ".gallery-card"}},
				&Screenshot{Path: "gallery_with_memo.png", FullPage: true},
			},
		},
		{
			Name:        "gallery-votes",
			Description: "gallery cards show their vote hearts",
			Steps: Steps{
				&Navigate{Path: "/gallery"},
				&WaitForSelector{Target: Target{Selector: ".gallery-card"}, State: StateVisible, TimeoutMS: 10000},
				&WaitForTimeout{MS: 3000, Reason: "GSAP card animations"},
				&Screenshot{Path: "gallery_votes_view.png", FullPage: true},
				&AssertCount{Target: Target{Selector: "svg.text-red-500"}, Min: 1},
			},
		},
		{
			Name:        "global-chat",
			Description: "global chat toggle, input and send button are accessible",
			Viewport:    &Viewport{Width: 1280, Height: 720},
			Steps: Steps{
				&Navigate{Path: "/"},
				&AssertVisible{Target: Target{Selector: "button[aria-label='Toggle Global Chat']"}, TimeoutMS: 10000},
				&Click{Target: Target{Selector: "button[aria-label='Toggle Global Chat']"}},
				&AssertVisible{Target: Target{Selector: "input[aria-label='Chat message']"}, TimeoutMS: 5000},
				&AssertVisible{Target: Target{Selector: "button[aria-label='Send message']"}, TimeoutMS: 5000},
				&Focus{Target: Target{Selector: "input[aria-label='Chat message']"}},
				&Screenshot{Path: "global_chat_a11y.png"},
			},
		},
		{
			Name:        "lobby",
			Description: "experience lobby loads with a desktop user agent",
			UserAgent:   desktopChromeUserAgent,
			Steps: Steps{
				&Navigate{Path: "/experience/mandelbulb"},
				&WaitForSelector{Target: Target{Selector: ".lobby-container"}, TimeoutMS: 10000},
				&Screenshot{Path: "lobby.png"},
			},
		},
		{
			Name:        "lobby-labels",
			Description: "lobby sliders carry accessible labels and value texts",
			Steps: Steps{
				&Navigate{Path: "/experience/abyss"},
				&WaitForSelector{Target: Target{Selector: ".lobby-container"}, TimeoutMS: 10000},
				&AssertAttribute{Target: Target{Selector: `input[type="range"][aria-label="Intensity"]`}, Name: "aria-valuetext"},
				&AssertAttribute{Target: Target{Selector: `input[type="range"][aria-label="Glitch"]`}, Name: "aria-valuetext"},
				&Screenshot{Path: "lobby_sliders.png"},
			},
		},
		{
			Name:        "ui-tour",
			Description: "home, gallery and a lobby in one session",
			Steps: Steps{
				&Navigate{Path: "/"},
				&WaitForTimeout{MS: 2000, Reason: "intro animation"},
				&Screenshot{Path: "home.png"},
				&Navigate{Path: "/gallery"},
				&WaitForSelector{Target: Target{Selector: ".gallery-card"}, TimeoutMS: 10000},
				&Screenshot{Path: "gallery.png"},
				&Navigate{Path: "/experience/classic_mandelbrot"},
				&WaitForSelector{Target: Target{Selector: ".lobby-container"}, TimeoutMS: 10000},
				&Screenshot{Path: "lobby.png"},
			},
		},
		{
			Name:        "unified-engine",
			Description: "fractal and particles experiences start from their lobby",
			Steps: Steps{
				&Navigate{Path: "/"},
				&WaitForTimeout{MS: 2000, Reason: "intro animation"},
				&Screenshot{Path: "01_home.png"},
				&Navigate{Path: "/experience/fractal"},
				&WaitForSelector{Target: Target{Selector: "button", HasText: "INITIALIZE SYSTEM"}, TimeoutMS: 10000},
				&Screenshot{Path: "02_fractal_lobby.png"},
				&Click{Target: Target{Selector: "button", HasText: "INITIALIZE SYSTEM"}},
				&WaitForTimeout{MS: 3000, Reason: "shader transition and briefing"},
				&Screenshot{Path: "03_fractal_active.png"},
				&Navigate{Path: "/experience/particles"},
				&WaitForSelector{Target: Target{Selector: "button", HasText: "INITIALIZE SYSTEM"}, TimeoutMS: 10000},
				&Click{Target: Target{Selector: "button", HasText: "INITIALIZE SYSTEM"}},
				&WaitForTimeout{MS: 3000, Reason: "shader transition and briefing"},
				&Screenshot{Path: "04_particles_active.png"},
			},
		},
		{
			Name:        "not-found",
			Description: "unknown routes render the 404 page",
			Steps: Steps{
				&Navigate{Path: "/random-page-that-does-not-exist", AllowHTTPErrors: true},
				&WaitForSelector{Target: Target{Selector: "body", HasText: "404"}, TimeoutMS: 10000},
				&Screenshot{Path: "404.png"},
			},
		},
		{
			Name:        "chat-toggle",
			Description: "floating chat button opens the chat panel",
			Steps: Steps{
				&Navigate{Path: "/"},
				&WaitForSelector{Target: Target{Selector: "button[class*='fixed bottom-6 right-6']"}, TimeoutMS: 10000},
				// the button slides in with a transition that intercepts pointer events
				&Click{Target: Target{Selector: "button[class*='fixed bottom-6 right-6']"}, Force: true},
				&WaitForTimeout{MS: 1000, Reason: "chat panel animation"},
				&Screenshot{Path: "chat.png"},
			},
		},
	}
}
