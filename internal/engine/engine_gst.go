//go:build gst

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"pipelined/internal/errs"
)

var gstInit sync.Once

// Default returns the GStreamer engine.
func Default() Engine { return gstEngine{} }

type gstEngine struct{}

func (gstEngine) Name() string { return "gstreamer" }

func (gstEngine) Build(template string, params map[string]any) (Session, error) {
	gstInit.Do(func() { gst.Init(nil) })
	launch, err := Render(template, params)
	if err != nil {
		return nil, err
	}
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, errs.Engine("parse launch line", err)
	}
	return &gstSession{pipeline: pipeline, quit: make(chan struct{})}, nil
}

type gstSession struct {
	Lifecycle
	pipeline *gst.Pipeline
	quit     chan struct{}
	quitOnce sync.Once
}

func (s *gstSession) Start() error {
	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		s.Finish(StatusError, err)
		return errs.Engine("set playing", err)
	}
	s.MarkRunning()
	go s.monitorBus()
	return nil
}

func (s *gstSession) Quit() { s.quitOnce.Do(func() { close(s.quit) }) }

// monitorBus is the session main loop: it polls the bus until end of stream,
// an error, or Quit.
func (s *gstSession) monitorBus() {
	bus := s.pipeline.GetPipelineBus()
	defer s.pipeline.SetState(gst.StateNull)
	for {
		select {
		case <-s.quit:
			s.Finish(StatusAborted, nil)
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			s.Finish(StatusCompleted, nil)
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			s.Finish(StatusError, fmt.Errorf("%s: %s", gerr.Error(), gerr.DebugString()))
			return
		}
	}
}

func (s *gstSession) element(name string) (*gst.Element, error) {
	el, err := s.pipeline.GetElementByName(name)
	if err != nil || el == nil {
		return nil, errs.NotFound("element", name)
	}
	return el, nil
}

func (s *gstSession) AppSource(name string) (InjectionPoint, error) {
	el, err := s.element(name)
	if err != nil {
		return nil, err
	}
	return &gstSource{src: app.SrcFromElement(el)}, nil
}

func (s *gstSession) AppSink(name string) (Tap, error) {
	el, err := s.element(name)
	if err != nil {
		return nil, err
	}
	return &gstSink{sink: app.SinkFromElement(el), done: s.Done()}, nil
}

type gstSource struct {
	src *app.Source
}

func (g *gstSource) Inject(f Frame) error {
	buf := gst.NewBufferFromBytes(f.Data)
	buf.SetPresentationTimestamp(f.PTS)
	buf.SetDuration(f.Duration)
	// go-gst v0.2.33 exposes no DTS setter; appsrc derives DTS from PTS for
	// raw frames.
	if ret := g.src.PushBuffer(buf); ret != gst.FlowOK {
		return errs.Engine("push buffer", errors.New(ret.String()))
	}
	return nil
}

func (g *gstSource) SetCaps(caps string) error {
	c := gst.NewCapsFromString(caps)
	if c == nil {
		return errs.Configuration("invalid caps: " + caps)
	}
	g.src.SetCaps(c)
	return nil
}

func (g *gstSource) SetMaxBytes(n uint64) { g.src.SetMaxBytes(n) }

func (g *gstSource) SetBackpressureCallbacks(needData, enoughData func()) {
	g.src.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc: func(*app.Source, uint) {
			if needData != nil {
				needData()
			}
		},
		EnoughDataFunc: func(*app.Source) {
			if enoughData != nil {
				enoughData()
			}
		},
	})
}

func (g *gstSource) EndOfStream() error {
	if ret := g.src.EndStream(); ret != gst.FlowOK {
		return errs.Engine("end stream", errors.New(ret.String()))
	}
	return nil
}

type gstSink struct {
	sink *app.Sink
	done <-chan struct{}
}

// Pull blocks in the appsink; a cancelled ctx is observed between samples.
func (g *gstSink) Pull(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		select {
		case <-g.done:
			return Frame{}, io.EOF
		default:
		}
		sample := g.sink.TryPullSample(100 * time.Millisecond)
		if sample == nil {
			if g.sink.IsEOS() {
				return Frame{}, io.EOF
			}
			continue
		}
		buffer := sample.GetBuffer()
		if buffer == nil {
			continue
		}
		mapInfo := buffer.Map(gst.MapRead)
		data := mapInfo.Bytes()
		out := make([]byte, len(data))
		copy(out, data)
		buffer.Unmap()
		f := Frame{Data: out, PTS: buffer.PresentationTimestamp(), Duration: buffer.Duration()}
		if caps := sample.GetCaps(); caps != nil {
			f.Caps = caps.String()
		}
		return f, nil
	}
}
