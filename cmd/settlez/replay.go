package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"go.uber.org/zap"

	"github.com/zoobzio/settlez"
)

type replayConfig struct {
	*rootConfig

	definitions string
	spans       string
	hold        time.Duration
	drain       bool
}

func (cfg *replayConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'd', LongName: "definitions" /* */, Value: ffval.NewValue(&cfg.definitions) /*          */, Usage: "trace definitions JSON file", Placeholder: "FILE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 's', LongName: "spans" /*       */, Value: ffval.NewValueDefault(&cfg.spans, "-") /*    */, Usage: "NDJSON spans file, - for stdin", Placeholder: "FILE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "hold" /*        */, Value: ffval.NewValueDefault(&cfg.hold, 0) /*       */, Usage: "reorder window: hold spans this long past their end"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "drain" /*       */, Value: ffval.NewValue(&cfg.drain) /*                */, Usage: "fire pending deadlines at end of input instead of aborting", NoDefault: true})
}

// starter begins a trace whenever a span matches a definition's startOn
// matcher, then forwards the span.
type starter struct {
	tracers []startable
	next    settlez.SpanProcessor
	logger  *zap.Logger
}

type startable struct {
	tracer  *settlez.Tracer
	startOn settlez.SpanMatcher
}

func (s *starter) ProcessSpan(span settlez.Span) {
	for _, t := range s.tracers {
		if !t.startOn.Match(span, nil) {
			continue
		}
		start := span.StartTime
		id, err := t.tracer.Start(settlez.StartInput{
			RelatedTo: bindRelations(t.tracer.Definition().Relation, span.RelatedTo),
			StartTime: &start,
		})
		if err != nil {
			s.logger.Warn("start trace", zap.String("trace", t.tracer.Definition().Name), zap.Error(err))
			continue
		}
		s.logger.Debug("started trace", zap.String("trace", t.tracer.Definition().Name), zap.String("id", id), zap.String("span", span.Name))
		break
	}
	s.next.ProcessSpan(span)
}

// bindRelations keeps the span relations the schema accepts.
func bindRelations(schema settlez.RelationSchema, rel settlez.RelatedTo) settlez.RelatedTo {
	out := settlez.RelatedTo{}
	for k, v := range rel {
		if schema.Validate(settlez.RelatedTo{k: v}) == nil {
			out[k] = v
		}
	}
	return out
}

func (cfg *replayConfig) Exec(ctx context.Context, args []string) error {
	if cfg.definitions == "" {
		return errors.New("--definitions is required")
	}
	if cfg.hold < 0 {
		return fmt.Errorf("--hold %s is negative", cfg.hold)
	}

	defs, err := cfg.loadDefinitions()
	if err != nil {
		return err
	}

	collector := settlez.NewCollector("replay", 1024)
	collector.SetSyncMode(true)
	defer collector.Close()

	manager := settlez.NewManager(settlez.Config{
		ReportFn: collector.Report,
		Logger:   cfg.logger,
	})

	s := &starter{next: manager, logger: cfg.logger}
	for _, d := range defs {
		tracer, err := manager.CreateTracer(d.def)
		if err != nil {
			return fmt.Errorf("%s: %w", d.def.Name, err)
		}
		s.tracers = append(s.tracers, startable{tracer: tracer, startOn: d.startOn})
	}

	var (
		sink   settlez.SpanProcessor = s
		buffer *settlez.SpanBuffer
	)
	if cfg.hold > 0 {
		buffer = settlez.NewSpanBuffer(cfg.hold, s)
		sink = buffer
	}

	input, closeInput, err := cfg.openSpans()
	if err != nil {
		return err
	}
	defer closeInput()

	at := func(ms float64) settlez.Timestamp { return manager.TimestampAt(millis(ms)) }

	var g run.Group
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			n, err := readSpans(ctx, input, at, func(span settlez.Span) {
				sink.ProcessSpan(span)
				if buffer != nil {
					buffer.Flush(span.End())
				}
			})
			if err != nil {
				return err
			}
			if buffer != nil {
				buffer.FlushAll()
			}
			if cfg.drain {
				drain(manager)
			}
			manager.Close()
			cfg.logger.Info("replay finished",
				zap.Int("spans", n),
				zap.Int("recordings", collector.Count()),
				zap.Int64("dropped", collector.DroppedCount()),
			)
			return cfg.write(collector.Export())
		}, func(error) {
			cancel()
		})
	}
	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}
	return g.Run()
}

// drain fires deadlines until no trace is waiting on one.
func drain(m *settlez.Manager) {
	for {
		info, ok := m.ActiveTrace()
		if !ok || len(info.Deadlines) == 0 {
			return
		}
		m.AdvanceTo(info.Deadlines[0].DueAt)
	}
}

func (cfg *replayConfig) loadDefinitions() ([]tracerDefinition, error) {
	f, err := os.Open(cfg.definitions)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return loadDefinitions(f)
}

func (cfg *replayConfig) openSpans() (io.Reader, func(), error) {
	if cfg.spans == "" || cfg.spans == "-" {
		return cfg.stdin, func() {}, nil
	}
	f, err := os.Open(cfg.spans)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func (cfg *replayConfig) write(recs []settlez.TraceRecording) error {
	enc := json.NewEncoder(cfg.stdout)
	if cfg.Output == "prettyjson" {
		enc.SetIndent("", "    ")
	}
	for _, rec := range recs {
		if err := enc.Encode(newRecordingOutput(rec)); err != nil {
			return err
		}
	}
	return nil
}
