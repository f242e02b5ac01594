package main

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"syscall"
	"time"

	"deedles.dev/sc"
	"deedles.dev/sc/buffer"
	"deedles.dev/sc/compositor"
	"deedles.dev/sc/fence"
	"deedles.dev/sc/internal/debug"
	"deedles.dev/sc/internal/xslices"
	"deedles.dev/sc/wire"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func serve(ctx context.Context, opts options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := debug.Named("scdemo")

	reg := prometheus.NewRegistry()
	comp := compositor.New(compositor.Config{
		Level:           opts.Level,
		Registerer:      reg,
		NoPresentFences: opts.NoPresentFences,
	})
	defer comp.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		return animate(ctx, log, comp, opts)
	}, func(error) {
		cancel()
	})

	if opts.MetricsAddr != "" {
		server := http.Server{
			Addr:    opts.MetricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		g.Add(func() error {
			log.Info().Str("addr", opts.MetricsAddr).Msg("serving metrics")
			err := server.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}, func(error) {
			server.Close()
		})
	}

	err := g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		log.Info().Stringer("signal", sigErr.Signal).Msg("interrupted")
		return nil
	}
	return err
}

type scene struct {
	log     zerolog.Logger
	opts    options
	session *sc.Session

	bg, fg *sc.Surface
	bufs   [2]*buffer.Buffer
}

func animate(ctx context.Context, log zerolog.Logger, comp *compositor.Compositor, opts options) error {
	session, err := sc.Open(comp)
	if err != nil {
		return err
	}
	caps := session.Capabilities()
	log.Info().
		Stringer("level", caps.Level()).
		Strs("features", xslices.Map(caps.Features(), sc.Feature.String)).
		Msg("session opened")

	win := comp.CreateWindow("scdemo", opts.Width, opts.Height)
	if win == 0 {
		return fmt.Errorf("create %vx%v window", opts.Width, opts.Height)
	}

	s := scene{log: log, opts: opts, session: session}
	err = s.init(win)
	if err != nil {
		return err
	}
	defer s.close()

	for i := range opts.Frames {
		if ctx.Err() != nil {
			break
		}

		done, err := s.frame(i)
		if err != nil {
			return fmt.Errorf("frame %v: %w", i, err)
		}

		select {
		case <-ctx.Done():
		case <-done:
		}
	}

	if opts.Output != "" {
		return writePNG(opts.Output, comp, win)
	}
	return nil
}

func (s *scene) init(win wire.Window) (err error) {
	s.bg, err = s.session.CreateFromWindow(win, "background")
	if err != nil {
		return err
	}
	s.fg, err = s.session.Create(s.bg, "foreground")
	if err != nil {
		return err
	}

	for i := range s.bufs {
		s.bufs[i], err = newBuffer(s.opts.Width/4, s.opts.Height/4, i)
		if err != nil {
			return err
		}
	}

	tx, err := s.session.NewTransaction()
	if err != nil {
		return err
	}
	defer tx.Close()

	err = errors.Join(
		tx.SetColor(s.bg, 0.1, 0.1, 0.15, 1, sc.DataSpaceSRGB),
		tx.SetZOrder(s.fg, 1),
		tx.SetVisibility(s.fg, sc.VisibilityShow),
		tx.SetBufferAlpha(s.fg, 0.8),
	)
	if err != nil {
		return err
	}
	if s.session.Capabilities().Has(sc.FeatureBackPressure) {
		err = tx.SetEnableBackPressure(s.fg, s.opts.BackPressure)
		if err != nil {
			return err
		}
	}
	return tx.Submit()
}

// frame submits a transaction that moves the foreground surface and
// flips its buffer. The returned channel is closed when the
// transaction completes.
func (s *scene) frame(i int) (<-chan struct{}, error) {
	tx, err := s.session.NewTransaction()
	if err != nil {
		return nil, err
	}
	defer tx.Close()

	acquire, sig, err := fence.New()
	if err != nil {
		return nil, err
	}
	time.AfterFunc(s.opts.AcquireDelay, func() {
		err := errors.Join(sig.Signal(), sig.Close())
		if err != nil {
			s.log.Error().Err(err).Msg("signal acquire fence")
		}
	})

	err = tx.SetBuffer(s.fg, s.bufs[i%len(s.bufs)], acquire)
	if err != nil {
		return nil, err
	}

	if s.session.Capabilities().Has(sc.FeaturePosition) {
		w := int32(s.opts.Width - s.opts.Width/4)
		err = tx.SetPosition(s.fg, int32(i*4)%max(w, 1), int32(i*2)%max(w, 1))
		if err != nil {
			return nil, err
		}
	}
	err = tx.SetDesiredPresentTime(time.Now().Add(s.opts.Interval))
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	if s.session.Capabilities().Has(sc.FeatureOnCommit) {
		err = tx.OnCommit(func(stats *sc.Stats) {
			s.log.Debug().Int("frame", i).Stringer("stats", stats).Msg("frame committed")
		})
		if err != nil {
			return nil, err
		}
	}
	err = tx.OnComplete(func(stats *sc.Stats) {
		defer close(done)
		s.report(i, stats)
	})
	if err != nil {
		return nil, err
	}

	return done, tx.Submit()
}

func (s *scene) report(i int, stats *sc.Stats) {
	ev := s.log.Info().Int("frame", i)

	latch, err := stats.LatchTime()
	if err == nil {
		ev = ev.Time("latch", latch)
	}

	list, err := stats.Surfaces()
	if err == nil {
		defer list.Release()
		ev = ev.Strs("surfaces", xslices.Map(list.All(), (*sc.Surface).Name))
	}

	present, err := stats.PresentFence()
	if err == nil {
		ev = ev.Bool("present_fence", present.Valid())
		present.Close()
	}
	release, err := stats.PreviousReleaseFence(s.fg)
	if err == nil {
		ev = ev.Bool("release_fence", release.Valid())
		release.Close()
	}

	ev.Msg("frame complete")
}

func (s *scene) close() {
	for _, surface := range []*sc.Surface{s.fg, s.bg} {
		if surface != nil {
			surface.Release()
		}
	}
	for _, buf := range s.bufs {
		if buf != nil {
			buf.Close()
		}
	}
}

// newBuffer allocates a buffer filled with a diagonal gradient whose
// hue depends on variant.
func newBuffer(w, h, variant int) (*buffer.Buffer, error) {
	buf, err := buffer.New(max(w, 1), max(h, 1))
	if err != nil {
		return nil, err
	}
	img, err := buf.Image()
	if err != nil {
		buf.Close()
		return nil, err
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			t := uint8(255 * (x + y) / max(b.Dx()+b.Dy()-2, 1))
			c := color.NRGBA{R: t, G: 255 - t, B: 128, A: 255}
			if variant%2 == 1 {
				c.R, c.B = c.B, c.R
			}
			img.Set(x, y, c)
		}
	}
	return buf, nil
}

func writePNG(path string, comp *compositor.Compositor, win wire.Window) error {
	img := comp.Render(win)
	if img == nil {
		return fmt.Errorf("render window %v: no such window", win)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	err = png.Encode(file, img)
	if err != nil {
		return fmt.Errorf("encode %v: %w", path, err)
	}
	return file.Close()
}
