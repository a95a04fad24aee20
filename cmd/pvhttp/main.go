package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-chi/chi"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/pvbridge/bridge"
	"github.jpl.nasa.gov/bdube/pvbridge/generichttp"
	"github.jpl.nasa.gov/bdube/pvbridge/generichttp/camera"
	"github.jpl.nasa.gov/bdube/pvbridge/imgrec"
	"github.jpl.nasa.gov/bdube/pvbridge/param"
	"github.jpl.nasa.gov/bdube/pvbridge/pvcam"
	"github.jpl.nasa.gov/bdube/pvbridge/server/middleware/locker"
	"github.jpl.nasa.gov/bdube/pvbridge/telemetry"
	"github.jpl.nasa.gov/bdube/pvbridge/util"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "pvhttp.yml"
	k              = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`

	// Enabled turns recording of FITS frames on at boot
	Enabled bool `yaml:"Enabled"`
}

type roi struct {
	S1   uint16 `yaml:"S1"`
	S2   uint16 `yaml:"S2"`
	SBin uint16 `yaml:"SBin"`
	P1   uint16 `yaml:"P1"`
	P2   uint16 `yaml:"P2"`
	PBin uint16 `yaml:"PBin"`
}

type acquisition struct {
	ROI          roi    `yaml:"ROI"`
	Exposure     uint32 `yaml:"Exposure"`
	ExposureMode int32  `yaml:"ExposureMode"`
	Mode         string `yaml:"Mode"`
	Frames       int    `yaml:"Frames"`
}

type retry struct {
	// MaxElapsed is how long to keep trying to open the camera, seconds
	MaxElapsed float64 `yaml:"MaxElapsed"`
}

type config struct {
	Addr          string           `yaml:"Addr"`
	Root          string           `yaml:"Root"`
	Camera        string           `yaml:"Camera"`
	Acquisition   acquisition      `yaml:"Acquisition"`
	PollInterval  float64          `yaml:"PollInterval"`
	FrameTimeout  float64          `yaml:"FrameTimeout"`
	RingFrames    int              `yaml:"RingFrames"`
	LiveRateLimit float64          `yaml:"LiveRateLimit"`
	Recorder      recorder         `yaml:"Recorder"`
	MQTT          telemetry.Config `yaml:"MQTT"`
	OpenRetry     retry            `yaml:"OpenRetry"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:   ":8000",
		Root:   "/",
		Camera: "auto",
		Acquisition: acquisition{
			ROI:      roi{S1: 0, S2: 511, SBin: 1, P1: 0, P2: 511, PBin: 1},
			Exposure: 10,
			Mode:     "continuous",
			Frames:   1},
		PollInterval:  0.2,
		FrameTimeout:  5,
		RingFrames:    bridge.DefaultRingFrames,
		LiveRateLimit: 10,
		Recorder:      recorder{},
		MQTT: telemetry.Config{
			Broker:   "localhost:1883",
			Topic:    "pvbridge",
			ClientID: "pvhttp"},
		OpenRetry: retry{MaxElapsed: 30}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `pvhttp exposes control of PVCAM cameras over HTTP
This enables a server-client architecture,
and the clients can leverage the excellent HTTP
libraries for any programming language,
instead of custom socket logic.

Usage:
	pvhttp <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `pvhttp is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.
There is no need to do this unless you want to start from the prepopulated defaults when making
a config file.

Camera 'auto' opens the first camera PVCAM reports.

Acquisition holds the defaults used by POST /configure with an empty body, and by
GET /frame when no acquisition is running.  Mode is continuous or sequence.  Exposure
is in the camera's exposure resolution, milliseconds unless changed.

PollInterval is how often, in seconds, a frame wait re-checks the camera's readout status.
FrameTimeout is the longest a frame request waits, in seconds, unless the request says
otherwise with ?timeout=.

LiveRateLimit caps the frame rate of GET /live.

MQTT.Enabled publishes acquisition events (start, stop, throughput, faults) to
MQTT.Topic/<handle>/<kind> on MQTT.Broker.

POST /lock {"bool": true} locks every route but GETs, so one client can own the
acquisition.

pvhttp must be built with -tags pvcam to talk to a camera.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("pvhttp version %v\n", Version)
}

func (a acquisition) config() (bridge.AcquisitionConfig, error) {
	mode, err := bridge.ParseMode(a.Mode)
	if err != nil {
		return bridge.AcquisitionConfig{}, err
	}
	r := a.ROI
	return bridge.AcquisitionConfig{
		ROI:          bridge.ROI{S1: r.S1, S2: r.S2, SBin: r.SBin, P1: r.P1, P2: r.P2, PBin: r.PBin},
		ExposureTime: a.Exposure,
		ExposureMode: a.ExposureMode,
		Mode:         mode,
		Frames:       a.Frames,
	}, nil
}

// open opens the named camera, or the first one for "auto", retrying while
// the camera enumerates
func open(reg *bridge.Registry, name string, maxElapsed time.Duration) (bridge.Handle, error) {
	var h bridge.Handle
	op := func() error {
		n := name
		if strings.EqualFold(n, "auto") {
			names, err := reg.Names()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				return errors.New("no cameras found")
			}
			n = names[0]
		}
		var err error
		h, err = reg.Open(n)
		if err != nil {
			log.Printf("opening camera %q: %v", n, err)
		}
		return err
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     250 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      maxElapsed,
		Clock:               backoff.SystemClock})
	return h, err
}

func run() {
	cfg := config{}
	k.Unmarshal("", &cfg)
	defaults, err := cfg.Acquisition.config()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drv, err := pvcam.Init()
	if err != nil {
		log.Fatal(err)
	}
	defer drv.Uninit()
	if v, err := drv.Version(); err == nil {
		log.Printf("PVCAM library version %s", param.FormatVersion(v))
	}

	opts := []bridge.Option{
		bridge.WithPollInterval(util.SecsToDuration(cfg.PollInterval)),
		bridge.WithRingFrames(cfg.RingFrames),
	}
	var pump *telemetry.Pump
	if cfg.MQTT.Enabled {
		pub, err := telemetry.Dial(cfg.MQTT)
		if err != nil {
			log.Fatal(err)
		}
		defer pub.Close()
		pump = telemetry.NewPump(pub, cfg.MQTT.Topic, 256, nil)
		opts = append(opts, bridge.WithObserver(pump))
	}
	reg := bridge.New(drv, opts...)
	defer func() {
		if err := reg.Shutdown(); err != nil {
			log.Println(err)
		}
	}()

	h, err := open(reg, cfg.Camera, util.SecsToDuration(cfg.OpenRetry.MaxElapsed))
	if err != nil {
		log.Println(err)
		return
	}
	if fw, err := reg.FirmwareVersion(h); err == nil {
		log.Printf("connected to camera %d, firmware %s", h, fw)
	}

	args := cfg.Recorder
	rec := &imgrec.Recorder{Root: args.Root, Prefix: args.Prefix, Enabled: args.Enabled}
	w := camera.NewHTTPCamera(reg, h, rec)
	w.Defaults = defaults
	w.Timeout = util.SecsToDuration(cfg.FrameTimeout)
	w.LiveRate = rate.Limit(util.Clamp(cfg.LiveRateLimit, 0.1, 1000))
	lock := locker.New()
	lock.ReadOnly = true
	locker.Inject(w, lock)

	// clean up the submux string
	hndlrS := generichttp.SubMuxSanitize(cfg.Root)
	root := chi.NewRouter()
	mux := chi.NewRouter()
	mux.Use(lock.Check)
	root.Mount(hndlrS, mux)
	w.RT().Bind(mux)

	srv := &http.Server{Addr: cfg.Addr, Handler: root}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Println("now listening for requests at ", cfg.Addr+hndlrS)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if pump != nil {
		g.Go(func() error {
			return pump.Run(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Println("shutting down")
		// unblock frame waits before draining connections
		if err := reg.Abort(h); err != nil {
			log.Println(err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Println(err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
