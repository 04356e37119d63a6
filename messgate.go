// messgate is the hostel mess entry terminal: students tap their NFC ID
// card, the card's identity is read and gated against the meal session
// rules, the entry is persisted, and the browser UI is notified live. The
// same binary enrolls and permanently locks new cards in enroll mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"messgate/indicator"
	"messgate/monitor"
	"messgate/mqtt"
	"messgate/pcsc"
	"messgate/server"
	"messgate/session"
	"messgate/store"
	"messgate/turnstile"
	"messgate/wedge"
)

var myBuild string

// App holds the application state and dependencies.
type App struct {
	cfg       *Config
	store     *store.Store
	gate      *session.Gate
	bridge    *monitor.Bridge
	hub       *server.Hub
	mqtt      *mqtt.Publisher
	indicator indicator.Indicator
	barrier   turnstile.Gate
	ctx       context.Context
	cancel    context.CancelFunc

	now func() time.Time
}

func main() {
	fmt.Printf("messgate build %s\n", myBuild)

	cfgfile := flag.String("cfg", "messgate.cfg", "Config file")
	modeflag := flag.String("mode", "", "Override monitor mode (mess, enroll, clear)")
	flag.Parse()

	cfg, err := loadConfig(*cfgfile)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}
	if *modeflag != "" {
		cfg.Monitor.Mode = *modeflag
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}

	// Persistence
	app.store, err = store.Open(cfg.Store)
	if err != nil {
		log.Fatalf("Open store: %v", err)
	}

	// Session gate
	sched := session.NewSchedule(cfg.Sessions, cfg.Relaxed)
	app.gate = session.NewGate(sched)
	if cfg.GuestID != "" {
		app.gate.GuestID = cfg.GuestID
	}

	// Indicator (LEDs, neopixels)
	app.indicator, err = indicator.New(cfg.Indicator)
	if err != nil {
		log.Fatalf("Init indicator: %v", err)
	}
	app.indicator.ConnectionLost()

	// Turnstile barrier
	app.barrier, err = turnstile.New(cfg.Turnstile)
	if err != nil {
		log.Fatalf("Init turnstile: %v", err)
	}

	// Cross-thread bridge and its consumer
	app.bridge = monitor.NewBridge(cfg.BridgeTimeout)
	go app.bridge.Serve(ctx, app.decide)

	// Websocket hub + HTTP API
	app.hub = server.NewHub()
	srv := server.New(cfg.Server, app.store, sched, app.gate.GuestID, app.hub, app.processManual)
	go func() {
		if err := srv.ListenAndServe(); err != nil && ctx.Err() == nil {
			log.Fatalf("HTTP server: %v", err)
		}
	}()

	// MQTT fan-out
	app.mqtt, err = mqtt.New(cfg.MQTT, cfg.ClientID, mqtt.Handlers{
		OnConnect:    app.indicator.Idle,
		OnDisconnect: app.indicator.ConnectionLost,
	})
	if err != nil {
		log.Fatalf("Init MQTT: %v", err)
	}
	go func() {
		if err := app.mqtt.Connect(); err != nil {
			log.Printf("MQTT connect: %v", err)
		}
	}()
	go app.pingSender()

	// NFC presence monitor. A terminal without a reader still serves the
	// manual-entry API, so this is a warning, not a fatal.
	var watcher *pcsc.Watcher
	watcher, err = pcsc.NewWatcher()
	if err != nil {
		log.Printf("Warning: NFC unavailable: %v", err)
		watcher = nil
	}
	if watcher != nil {
		mon, err := monitor.New(cfg.Monitor, watcher, app.bridge)
		if err != nil {
			log.Fatalf("Init monitor: %v", err)
		}
		go mon.Run(ctx)
	}

	// Optional wedge scanner
	src, err := wedge.New(cfg.Wedge)
	if err != nil {
		log.Fatalf("Init wedge: %v", err)
	}
	if src != nil {
		go app.wedgeListener(src)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	srv.Shutdown(shutdownCtx)
	shutdownCancel()

	if watcher != nil {
		watcher.Close()
	}
	if src != nil {
		src.Close()
	}
	app.mqtt.Disconnect()
	app.indicator.Shutdown()
	app.indicator.Release()
	app.barrier.Release()
	app.store.Close()

	fmt.Println("Shutdown complete")
}

// decide is the bridge consumer: the single goroutine allowed to touch
// persisted state. It turns a tap into an outcome, publishes it, drives the
// side effects, and answers the reader thread.
func (app *App) decide(ctx context.Context, tap monitor.Tap) monitor.Result {
	if tap.Unreadable {
		outcome := app.outcome("error", "Unreadable Card", tap.UID, "Unknown", "")
		app.publish(outcome)
		log.Printf("Unreadable card uid %s on %s", tap.UID, tap.Reader)
		return monitor.Result{Decision: monitor.Failed, Message: outcome.Message}
	}

	if tap.Enroll {
		return app.enroll(tap)
	}

	outcome, decision := app.processEntry(ctx, tap.Identity)
	app.signal(decision)

	return monitor.Result{
		Decision: decision,
		Session:  outcome.Session,
		Name:     outcome.Name,
		Message:  outcome.Message,
	}
}

// enroll records the identity/UID pair of a freshly locked card.
func (app *App) enroll(tap monitor.Tap) monitor.Result {
	added, err := app.store.RecordCard(tap.Identity, tap.UID)
	if err != nil {
		log.Printf("Enroll %s uid %s: %v", tap.Identity, tap.UID, err)
		app.store.Log("ERROR", "enroll failed: "+err.Error(), tap.Identity)
		return monitor.Result{Decision: monitor.Failed, Message: "Database Error"}
	}

	msg := "Card enrolled"
	if !added {
		msg = "Card already enrolled"
	}
	log.Printf("Enrolled %s uid %s (lock: static %s, dynamic %s, config %s)",
		tap.Identity, tap.UID, tap.Lock.Static, tap.Lock.Dynamic, tap.Lock.Config)

	outcome := app.outcome("success", msg, tap.Identity, app.displayName(tap.Identity), "")
	outcome.Type = "enroll_response"
	app.publish(outcome)
	return monitor.Result{Decision: monitor.Allowed, Name: outcome.Name, Message: msg}
}

// processEntry is the core mess entry logic. It only ever runs on the
// bridge consumer goroutine, so the duplicate check and the entry record
// cannot interleave with another tap. Publishes the outcome itself.
func (app *App) processEntry(_ context.Context, identity string) (server.Outcome, monitor.Decision) {
	name := app.displayName(identity)
	now := app.now()

	dec, gateErr := app.gate.Decide(identity, now, func(id, sess string) (bool, error) {
		return app.store.HasConsumed(id, sess, now)
	})
	if gateErr != nil {
		log.Printf("Gate %s: %v", identity, gateErr)
	}

	var out server.Outcome
	var res monitor.Decision
	switch {
	case dec.Verdict == session.NoSession:
		out = app.outcome("error", "No Active Session", identity, name, "")
		res = monitor.NoSession
	case dec.Verdict == session.Deny && gateErr != nil:
		out = app.outcome("error", "Database Error", identity, name, dec.Session)
		res = monitor.Failed
	case dec.Verdict == session.Deny:
		out = app.outcome("denied", "Already taken "+dec.Session, identity, name, dec.Session)
		res = monitor.Denied
	default: // Allow
		if err := app.store.RecordEntry(dec.Session, identity); err != nil {
			log.Printf("Record entry %s: %v", identity, err)
			out = app.outcome("error", "Database Error", identity, name, dec.Session)
			res = monitor.Failed
		} else {
			out = app.outcome("success", "Enjoy your "+dec.Session+"!", identity, name, dec.Session)
			res = monitor.Allowed
		}
	}

	app.publish(out)
	return out, res
}

// processManual feeds a manual identity through the same bridge the readers
// use, so every entry decision is serialized on the consumer goroutine.
// Called from HTTP handler goroutines.
func (app *App) processManual(ctx context.Context, identity string) server.Outcome {
	tap := monitor.Tap{Identity: identity, Reader: "manual", Time: app.now()}
	res, err := app.bridge.Deliver(ctx, tap)
	if err != nil {
		log.Printf("Manual entry %s: %v", identity, err)
		return app.outcome("error", "Entry processing failed", identity, app.displayName(identity), "")
	}
	return app.outcome(statusOf(res.Decision), res.Message, identity, res.Name, res.Session)
}

// statusOf maps a decision to the wire status the UI consumes.
func statusOf(d monitor.Decision) string {
	switch d {
	case monitor.Allowed:
		return "success"
	case monitor.Denied:
		return "denied"
	default:
		return "error"
	}
}

// outcome assembles the wire shape the UI consumes.
func (app *App) outcome(status, message, identity, name, sess string) server.Outcome {
	return server.Outcome{
		Type:      "mess_response",
		Status:    status,
		Message:   message,
		StudentID: identity,
		Name:      name,
		ImagePath: server.ImagePath(identity, app.gate.GuestID),
		Session:   sess,
		Timestamp: app.now().Format(time.RFC3339),
	}
}

func (app *App) displayName(identity string) string {
	if identity == app.gate.GuestID {
		return "Guest User"
	}
	st, found, err := app.store.Student(identity)
	if err != nil {
		log.Printf("Lookup %s: %v", identity, err)
	}
	if found {
		return st.Name
	}
	return "Unknown"
}

// publish fans the outcome out to every listener. Must never block or fail
// the pipeline; both sinks guarantee that.
func (app *App) publish(out server.Outcome) {
	app.hub.Broadcast(out)
	app.mqtt.PublishOutcome(out)
}

// signal drives the lane hardware for a mess decision.
func (app *App) signal(d monitor.Decision) {
	if d == monitor.Allowed {
		app.indicator.Granted()
		go app.pulseBarrier()
	} else {
		app.indicator.Denied()
	}
	time.AfterFunc(3*time.Second, app.indicator.Idle)
}

// pulseBarrier releases the turnstile arm for the configured hold time.
func (app *App) pulseBarrier() {
	if err := app.barrier.Open(); err != nil {
		log.Printf("Barrier open: %v", err)
		return
	}
	time.Sleep(time.Duration(app.cfg.Turnstile.Hold()) * time.Second)
	if err := app.barrier.Close(); err != nil {
		log.Printf("Barrier close: %v", err)
	}
}

// wedgeListener feeds scans from a wedge reader through the same bridge
// the NFC path uses. No page access and no tone on this path.
func (app *App) wedgeListener(src wedge.Source) {
	for {
		identity, err := src.Read(app.ctx)
		if err != nil {
			if app.ctx.Err() != nil {
				return
			}
			log.Printf("Wedge read: %v", err)
			time.Sleep(time.Second)
			continue
		}

		tap := monitor.Tap{Identity: identity, Reader: "wedge", Time: time.Now()}
		res, err := app.bridge.Deliver(app.ctx, tap)
		if err != nil {
			log.Printf("Wedge %s: %v", identity, err)
			continue
		}
		log.Printf("Wedge %s: %s", identity, res.Decision)
	}
}

func (app *App) pingSender() {
	ticker := time.NewTicker(120 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			app.mqtt.Ping()
		}
	}
}
