package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"smart-meal-manager/internal/analysis"
	"smart-meal-manager/internal/capture"
	"smart-meal-manager/internal/handoff"
	"smart-meal-manager/internal/metrics"
	"smart-meal-manager/internal/poller"
	"smart-meal-manager/internal/presenter"
	"smart-meal-manager/internal/session"
	"smart-meal-manager/internal/settings"
	"smart-meal-manager/internal/upload"
	"smart-meal-manager/internal/voice"
)

// App is the terminal front-end: it drives one session at a time.
type App struct {
	svc    *Services
	logger *zap.Logger
	out    io.Writer
	in     *bufio.Reader
	outMu  sync.Mutex

	sessions *session.Provider
	settings settings.Settings
	renderer *presenter.Renderer
	guide    *voice.Guide
	stock    *presenter.Stock
}

// New creates the terminal front-end on top of svc. Saved settings are
// loaded once here.
func New(svc *Services, out io.Writer, in io.Reader) *App {
	s, err := settings.Load(svc.LocalStore)
	if err != nil {
		svc.Logger.Warn("using default settings", zap.Error(err))
	}
	return &App{
		svc:      svc,
		logger:   svc.Logger,
		out:      out,
		in:       bufio.NewReader(in),
		sessions: session.NewProvider(svc.SessionStore, svc.SessionCreator(), svc.Logger),
		settings: s,
		renderer: presenter.NewRenderer(out, s),
		guide:    voice.NewGuide(svc.Narrator(), s.VoiceEnabled, svc.Logger),
		stock:    presenter.NewStock(),
	}
}

func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

// Session returns the active session id, creating one when needed.
func (a *App) Session(ctx context.Context) (string, error) {
	return a.sessions.Resolve(ctx)
}

// ScanOptions select the image sources of a scan.
type ScanOptions struct {
	Files      []string
	UseCamera  bool
	Device     string
	WaitCamera bool
}

// Scan collects images, uploads them to the active session and follows the
// analysis until it finishes.
func (a *App) Scan(ctx context.Context, opts ScanOptions) (poller.Update, error) {
	sessionID, err := a.Session(ctx)
	if err != nil {
		return poller.Update{}, err
	}
	a.guide.Welcome(ctx)
	a.printf("Session: %s\n", sessionID)

	images, err := a.collect(ctx, opts)
	if err != nil {
		return poller.Update{}, err
	}

	a.printf("Uploading %d image(s)...\n", len(images))
	started, err := a.svc.Gateway.Submit(ctx, sessionID, images)
	if err != nil {
		return poller.Update{}, err
	}

	// Polling runs while the analyze request is still open.
	reported := make(chan struct{})
	go func() {
		defer close(reported)
		var startErr *upload.AnalyzeStartError
		if err := <-started; errors.As(err, &startErr) && ctx.Err() == nil {
			// The images are stored; the poller can still trigger analysis.
			a.printf("%v\n", err)
		}
	}()

	final, err := a.Watch(ctx, sessionID)
	<-reported
	return final, err
}

func (a *App) collect(ctx context.Context, opts ScanOptions) ([]string, error) {
	var camera capture.Camera
	if opts.UseCamera {
		device := opts.Device
		if opts.WaitCamera {
			dev, err := capture.WaitForCamera(ctx, a.logger)
			if err != nil {
				a.logger.Warn("camera detection failed", zap.Error(err))
			} else {
				device = dev
			}
		}
		camera = a.svc.Camera(device)
	}

	c := capture.NewCollector(camera, a.logger)
	defer c.Close()

	for _, path := range opts.Files {
		n, err := c.AddFile(path)
		if err != nil {
			return nil, err
		}
		a.printf("Added %s (%d)\n", path, n)
	}

	if camera != nil && c.Start(ctx) == capture.ModeCamera {
		if err := a.shutterLoop(ctx, c); err != nil {
			return nil, err
		}
	} else if camera != nil {
		a.printf("Camera unavailable. Pass image files instead.\n")
	}

	if c.Len() == 0 {
		return nil, upload.ErrNoImages
	}
	return c.Images(), nil
}

func (a *App) shutterLoop(ctx context.Context, c *capture.Collector) error {
	for {
		a.printf("[Enter] take photo (%d taken)  [d] done  [q] cancel: ", c.Len())
		line, err := a.in.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch strings.TrimSpace(strings.ToLower(line)) {
		case "":
			if _, err := c.Shutter(ctx); err != nil {
				a.printf("Capture failed: %v\n", err)
			}
		case "d", "done":
			return nil
		case "q", "quit":
			return context.Canceled
		}
	}
}

// Watch polls sessionID until the analysis finishes, rendering every change.
// A finished session is saved to the history.
func (a *App) Watch(ctx context.Context, sessionID string) (poller.Update, error) {
	if sessionID == "" {
		id, err := a.Session(ctx)
		if err != nil {
			return poller.Update{}, err
		}
		sessionID = id
	}

	task := a.svc.Poller.Start(ctx, sessionID, func(u poller.Update) {
		a.printf("Status: %s\n", u.Status)
		a.printf("%s", a.renderer.Render(presenter.Present(u.Status, u.Result), a.stock))
		a.guide.Announce(ctx, u.Status, u.Result)
	})
	final, err := task.Wait()
	if err != nil {
		return final, err
	}

	if final.Status == analysis.StatusDone {
		if _, err := a.svc.History.Save(ctx, sessionID, final.Result.Ingredients); err != nil {
			a.logger.Error("failed to save history", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return final, nil
}

// Replay loads a past session from the backend and renders it.
func (a *App) Replay(ctx context.Context, sessionID string) (analysis.Result, error) {
	result, err := a.svc.Loader.Load(ctx, sessionID, func(s analysis.Status) {
		if s == analysis.StatusLoading {
			a.printf("Loading %s...\n", sessionID)
		}
	})
	if err != nil {
		return analysis.Result{}, err
	}
	a.printf("%s", a.renderer.Render(presenter.Present(analysis.StatusDone, result), a.stock))
	return result, nil
}

// History prints the saved sessions, newest first.
func (a *App) History(ctx context.Context) error {
	entries, err := a.svc.History.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.printf("No history yet.\n")
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for i, e := range entries {
		names := make([]string, 0, len(e.Ingredients))
		for _, ing := range e.Ingredients {
			names = append(names, ing.Name)
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), e.Date, e.ID, strings.Join(names, ", ")})
	}
	a.printf("%s\n", a.renderer.Table("History", []string{"#", "Date", "Session", "Ingredients"}, rows))
	return nil
}

// Suggest prints recipes that use ingredient.
func (a *App) Suggest(ctx context.Context, ingredient string) error {
	ingredient = presenter.NormalizeName(ingredient)
	s := presenter.Suggest(ctx, a.svc.Client, ingredient, func(s presenter.Suggestion) {
		if s.Loading {
			a.printf("Looking up recipes with %s...\n", s.Ingredient)
		}
	})
	if s.Err != nil {
		return fmt.Errorf("recipe suggestions failed: %w", s.Err)
	}
	if len(s.Recipes) == 0 {
		a.printf("No recipes found.\n")
		return nil
	}
	for i, r := range s.Recipes {
		a.printf("%d. %s\n", i+1, r)
	}
	return nil
}

// Interact runs the after-result prompt: stock toggles, need-to-buy list and
// recipe suggestions. It returns when input ends or the user quits.
func (a *App) Interact(ctx context.Context, result analysis.Result) error {
	a.printf("Commands: stock <item>, need, suggest <ingredient>, show, quit\n")
	for {
		a.printf("> ")
		line, err := a.in.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "":
		case "stock":
			if arg == "" {
				a.printf("usage: stock <item>\n")
				continue
			}
			if a.stock.Toggle(arg) {
				a.printf("%s marked as in stock\n", arg)
			} else {
				a.printf("%s unmarked\n", arg)
			}
		case "need":
			need := a.stock.NeedToBuy(result.ShoppingList)
			if len(need) == 0 {
				a.printf("Nothing left to buy.\n")
			}
			for _, item := range need {
				a.printf("- %s\n", item.Item)
			}
		case "suggest":
			if arg == "" {
				a.printf("usage: suggest <ingredient>\n")
				continue
			}
			if err := a.Suggest(ctx, arg); err != nil {
				a.printf("%v\n", err)
			}
		case "show":
			a.printf("%s", a.renderer.Render(presenter.Present(analysis.StatusDone, result), a.stock))
		case "quit", "q", "exit":
			return nil
		default:
			a.printf("unknown command %q\n", cmd)
		}
	}
}

// QR prints the phone URL for the active session as a terminal QR code, or
// writes it as PNG when pngPath is set.
func (a *App) QR(ctx context.Context, pngPath string) error {
	sessionID, err := a.Session(ctx)
	if err != nil {
		return err
	}
	url := a.svc.Handoff.URL(ctx, sessionID)

	if pngPath != "" {
		png, err := handoff.PNG(url, 512)
		if err != nil {
			return err
		}
		if err := os.WriteFile(pngPath, png, 0644); err != nil {
			return fmt.Errorf("failed to write QR code: %w", err)
		}
		a.printf("Wrote QR code for %s to %s\n", url, pngPath)
	} else {
		text, err := handoff.Terminal(url)
		if err != nil {
			return err
		}
		a.printf("%s\n%s\n", text, url)
	}
	a.guide.QRShown(ctx)
	return nil
}

// Settings returns the settings loaded at start-up.
func (a *App) Settings() settings.Settings {
	return a.settings
}

// ShowSettings prints the current settings.
func (a *App) ShowSettings() {
	s := a.settings
	a.printf("%s\n", a.renderer.Table("Settings", []string{"Name", "Value"}, [][]string{
		{"fontSize", string(s.FontSize)},
		{"highContrast", strconv.FormatBool(s.HighContrast)},
		{"voiceEnabled", strconv.FormatBool(s.VoiceEnabled)},
	}))
}

// SetSetting updates and saves one setting.
func (a *App) SetSetting(name, value string) error {
	s := a.settings
	if err := s.Set(name, value); err != nil {
		return err
	}
	if err := settings.Save(a.svc.LocalStore, s); err != nil {
		return err
	}
	a.settings = s
	a.renderer = presenter.NewRenderer(a.out, s)
	a.guide.SetEnabled(s.VoiceEnabled)
	return nil
}

// Reset forgets the active session; the next command starts a new one.
func (a *App) Reset() error {
	if err := a.sessions.Reset(); err != nil {
		return err
	}
	a.stock.Reset()
	a.printf("Session cleared.\n")
	return nil
}

// Metrics prints backend call statistics for the last days.
func (a *App) Metrics(days int) error {
	usage, err := a.svc.Metrics.GetEndpointUsage(days)
	if err != nil {
		return err
	}
	if len(usage) == 0 {
		a.printf("No backend calls recorded in the last %d days.\n", days)
	} else {
		rows := make([][]string, 0, len(usage))
		for _, u := range usage {
			rows = append(rows, []string{
				u.Endpoint,
				strconv.Itoa(u.Calls),
				strconv.Itoa(u.Failures),
				fmt.Sprintf("%d ms", u.AvgLatencyMS),
				fmt.Sprintf("%d ms", u.MaxLatencyMS),
			})
		}
		a.printf("%s\n", a.renderer.Table(fmt.Sprintf("Backend calls (last %d days)", days),
			[]string{"Endpoint", "Calls", "Failures", "Avg", "Max"}, rows))
	}

	health := metrics.GetSysHealth(a.svc.Config.DataDir)
	a.printf("Memory: %d MB alloc / %d MB sys, goroutines: %d, started %s\n",
		health.AllocMB, health.SysMB, health.Goroutines, health.Started)
	a.printf("Data: %d files, %s\n", health.DataFiles, health.DataDiskSize)
	if version, _, err := a.svc.DB.SchemaVersion(); err == nil {
		a.printf("Schema version: %d\n", version)
	}
	return nil
}

// CleanupMetrics deletes call records older than days.
func (a *App) CleanupMetrics(days int) error {
	removed, err := a.svc.Metrics.Cleanup(days)
	if err != nil {
		return err
	}
	a.printf("Successfully removed %d old metric records.\n", removed)
	return nil
}
