package main

import (
	"context"
	"log"

	"github.com/katasec/mssql-fixture/config"
	"github.com/katasec/mssql-fixture/events"
	"github.com/katasec/mssql-fixture/fixture"
	"github.com/katasec/mssql-fixture/manifest"
	"github.com/katasec/mssql-fixture/natshelper"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/samber/lo"
)

// Runner wires fixture operations to their progress events and run manifests
type Runner struct {
	cfg        *config.Config
	natsServer *server.Server
	natsConn   *nats.Conn
	publisher  *events.NATSReporter
	reporter   events.Reporter
	sinks      manifest.Multi
}

// NewRunner creates a runner for cfg, connecting to NATS and the manifest store when configured
func NewRunner(cfg *config.Config) (*Runner, error) {
	r := &Runner{cfg: cfg}
	reporters := events.Multi{events.NewLogReporter(nil)}

	if cfg.Events != nil {
		url := cfg.Events.URL
		if url == config.EmbeddedNATS {
			log.Println("[Runner] Starting embedded NATS server...")
			r.natsServer = test.RunDefaultServer()
			url = r.natsServer.ClientURL()
		}

		conn, err := natshelper.Connect("Runner", url)
		if err != nil {
			r.Shutdown()
			return nil, err
		}
		r.natsConn = conn
		r.publisher = events.NewNATSReporter(conn, cfg.Events.SubjectPrefix)
		reporters = append(reporters, r.publisher)
	}
	r.reporter = reporters

	if cfg.Manifest != nil {
		if cfg.Manifest.Path != "" {
			r.sinks = append(r.sinks, manifest.FileSink{Path: cfg.Manifest.Path})
		}
		if blob := cfg.Manifest.AzureBlob; blob != nil {
			sink, err := manifest.NewBlobSink(blob.ConnectionString, blob.ContainerName)
			if err != nil {
				r.Shutdown()
				return nil, err
			}
			r.sinks = append(r.sinks, sink)
		}
	}

	return r, nil
}

// Load provisions and populates the fixture database
func (r *Runner) Load(ctx context.Context) (*fixture.LoadResult, error) {
	connector, err := fixture.NewConnector(r.cfg)
	if err != nil {
		return nil, err
	}
	writer, err := fixture.NewRowWriter(r.cfg.InsertMode)
	if err != nil {
		return nil, err
	}
	generator := fixture.NewGenerator(fixture.GeneratorOptions{
		Seed:      r.cfg.Seed,
		NameStyle: r.cfg.NameStyle,
	})

	result, err := fixture.NewLoader(r.cfg, connector, generator, writer, r.reporter).Load(ctx)
	if err != nil {
		return nil, err
	}
	return result, r.writeManifest(ctx, loadManifest(result))
}

// Remove deletes a random sample of rows from every fixture table
func (r *Runner) Remove(ctx context.Context) (*fixture.RemoveResult, error) {
	connector, err := fixture.NewConnector(r.cfg)
	if err != nil {
		return nil, err
	}

	result, err := fixture.NewRemover(r.cfg, connector, fixture.NewFaker(r.cfg.Seed), r.reporter).Remove(ctx)
	if err != nil {
		return nil, err
	}
	return result, r.writeManifest(ctx, removeManifest(result))
}

// Verify checks the fixture tables against the configured tier
func (r *Runner) Verify(ctx context.Context, allowRemovals bool) (*fixture.VerifyReport, error) {
	connector, err := fixture.NewConnector(r.cfg)
	if err != nil {
		return nil, err
	}
	return fixture.NewVerifier(r.cfg, connector).Verify(ctx, allowRemovals)
}

func (r *Runner) writeManifest(ctx context.Context, m manifest.Manifest) error {
	if len(r.sinks) == 0 {
		return nil
	}
	return r.sinks.Write(ctx, m)
}

// Shutdown flushes pending events and releases the NATS connection and server
func (r *Runner) Shutdown() {
	if r.publisher != nil {
		if err := r.publisher.Flush(); err != nil {
			log.Printf("[Runner] Error flushing events: %v", err)
		}
	}
	natshelper.Close("Runner", r.natsConn)

	if r.natsServer != nil {
		log.Println("[Runner] Shutting down embedded NATS server...")
		r.natsServer.Shutdown()
	}
}

func loadManifest(result *fixture.LoadResult) manifest.Manifest {
	return manifest.Manifest{
		RunID:      result.RunID,
		Operation:  "load",
		Tier:       result.Tier,
		Database:   result.Database,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Tables: lo.Map(result.Tables, func(t fixture.TableLoad, _ int) manifest.Table {
			return manifest.Table{Name: t.Name, RowsInserted: t.Rows}
		}),
	}
}

func removeManifest(result *fixture.RemoveResult) manifest.Manifest {
	return manifest.Manifest{
		RunID:      result.RunID,
		Operation:  "remove",
		Tier:       result.Tier,
		Database:   result.Database,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Tables: lo.Map(result.Tables, func(t fixture.TableRemoval, _ int) manifest.Table {
			return manifest.Table{Name: t.Name, DeleteCandidates: t.Candidates, RowsDeleted: t.Deleted}
		}),
	}
}
